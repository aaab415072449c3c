package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/diewo77/go-signatures/internal/auth"
	"github.com/diewo77/go-signatures/internal/httpx"
	"github.com/diewo77/go-signatures/internal/models"
	"github.com/diewo77/go-signatures/internal/validation"
	"github.com/diewo77/go-signatures/internal/workflow"
	"gorm.io/gorm"
)

type SignatureHandler struct {
	DB  *gorm.DB
	Svc *workflow.Service
}

func NewSignatureHandler(db *gorm.DB, svc *workflow.Service) *SignatureHandler {
	return &SignatureHandler{DB: db, Svc: svc}
}

// Place : POST /documents/{id}/signature – placement d'une signature aux
// coordonnées capturées par l'interface (pourcentages, origine en haut à
// gauche). Signature immédiate pour un signataire autorisé, demande
// d'approbation sinon.
func (h *SignatureHandler) Place(w http.ResponseWriter, r *http.Request) {
	uid, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	id, ok := pathID(r)
	if !ok {
		httpx.JSONError(w, http.StatusBadRequest, "identifiant_invalide", nil)
		return
	}
	var req struct {
		PosXPct float64 `json:"pos_x_pct"`
		PosYPct float64 `json:"pos_y_pct"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	v := validation.Violations{}
	validation.RangeFloat("pos_x_pct", req.PosXPct, 0, 100, v)
	validation.RangeFloat("pos_y_pct", req.PosYPct, 0, 100, v)
	if !v.Empty() {
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", v)
		return
	}

	res, err := h.Svc.PlaceSignature(r.Context(), id, uid, req.PosXPct, req.PosYPct)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	if res.Signed {
		httpx.JSON(w, http.StatusOK, map[string]any{"signe": true, "statut": models.StatutSigne})
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"signe":      false,
		"statut":     models.StatutEnAttente,
		"demande_id": res.Request.ID,
	})
}

// Review : GET /signatures/requests/{token} – détail d'une demande pour
// l'approbateur qui a reçu le lien.
func (h *SignatureHandler) Review(w http.ResponseWriter, r *http.Request) {
	uid, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	var req models.SignatureRequest
	err := h.DB.WithContext(r.Context()).
		Preload("Document").Preload("RequestedBy").
		Where("token = ?", r.PathValue("token")).
		First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		httpx.JSONError(w, http.StatusNotFound, workflow.ErrRequestNotFound.Error(), nil)
		return
	}
	if err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "erreur_interne", nil)
		return
	}
	if req.ApproverID != uid {
		httpx.JSONError(w, http.StatusForbidden, workflow.ErrNotRequestApprover.Error(), nil)
		return
	}

	payload := map[string]any{
		"document_id":    req.DocumentID,
		"document_titre": req.Document.Titre,
		"demandeur":      req.RequestedBy.FullName(),
		"pos_x_pct":      req.PosXPct,
		"pos_y_pct":      req.PosYPct,
		"statut":         req.Statut,
		"date_demande":   req.CreatedAt,
	}
	if req.Decided() {
		payload["date_decision"] = req.DecidedAt
		payload["commentaire_approbateur"] = req.CommentaireApprobateur
	}
	httpx.JSON(w, http.StatusOK, payload)
}

// Decide : POST /signatures/requests/{token} – {"action": "approve"|"refuse",
// "commentaire": "..."}. Une demande déjà traitée renvoie 409 avec son
// statut terminal, jamais de seconde génération de PDF.
func (h *SignatureHandler) Decide(w http.ResponseWriter, r *http.Request) {
	uid, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	var body struct {
		Action      string `json:"action"`
		Commentaire string `json:"commentaire"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	if body.Action != "approve" && body.Action != "refuse" {
		httpx.JSONError(w, http.StatusBadRequest, "action_invalide", nil)
		return
	}

	req, err := h.Svc.Decide(r.Context(), r.PathValue("token"), uid, body.Action == "approve", body.Commentaire)
	if errors.Is(err, workflow.ErrRequestAlreadyDecided) && req != nil {
		httpx.JSONError(w, http.StatusConflict, workflow.ErrRequestAlreadyDecided.Error(),
			map[string]string{"statut": req.Statut})
		return
	}
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"statut":      req.Statut,
		"document_id": req.DocumentID,
	})
}

// Dashboard : GET /signatures/dashboard – demandes en attente adressées à
// l'utilisateur courant et activité récente des documents.
func (h *SignatureHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	uid, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	reqs, err := h.Svc.PendingRequestsFor(r.Context(), uid)
	if err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "erreur_interne", nil)
		return
	}
	demandes := make([]map[string]any, 0, len(reqs))
	for _, req := range reqs {
		demandes = append(demandes, map[string]any{
			"token":          req.Token,
			"document_id":    req.DocumentID,
			"document_titre": req.Document.Titre,
			"demandeur":      req.RequestedBy.FullName(),
			"date_demande":   req.CreatedAt,
		})
	}

	type activite struct {
		DocumentID  uint      `json:"document_id"`
		Titre       string    `json:"titre"`
		Statut      string    `json:"statut"`
		DateAction  time.Time `json:"date_action"`
		Commentaire string    `json:"commentaire"`
	}
	var recent []activite
	err = h.DB.WithContext(r.Context()).
		Model(&models.HistoriqueSignature{}).
		Select("historique_signatures.document_id, documents.titre, historique_signatures.statut, historique_signatures.date_action, historique_signatures.commentaire").
		Joins("JOIN documents ON documents.id = historique_signatures.document_id").
		Order("historique_signatures.date_action DESC, historique_signatures.id DESC").
		Limit(20).
		Scan(&recent).Error
	if err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "erreur_interne", nil)
		return
	}
	if recent == nil {
		recent = []activite{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"demandes": demandes,
		"activite": recent,
	})
}
