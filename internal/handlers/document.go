package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/diewo77/go-signatures/internal/httpx"
	"github.com/diewo77/go-signatures/internal/models"
	"github.com/diewo77/go-signatures/internal/storage"
	"github.com/diewo77/go-signatures/internal/validation"
	"github.com/diewo77/go-signatures/internal/workflow"
	"gorm.io/gorm"
)

// Taille maximale d'un PDF uploadé.
const maxUploadBytes = 20 << 20

type DocumentHandler struct {
	DB    *gorm.DB
	Svc   *workflow.Service
	Store *storage.Store
}

func NewDocumentHandler(db *gorm.DB, svc *workflow.Service, store *storage.Store) *DocumentHandler {
	return &DocumentHandler{DB: db, Svc: svc, Store: store}
}

// Upload : POST /documents – multipart (titre, fichier).
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "formulaire_invalide", nil)
		return
	}
	titre := r.FormValue("titre")
	v := validation.Violations{}
	validation.Required("titre", titre, v)

	file, _, err := r.FormFile("fichier")
	if err != nil {
		v["fichier"] = "required"
	} else {
		defer file.Close()
	}
	if !v.Empty() {
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", v)
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "lecture_fichier_impossible", nil)
		return
	}
	if len(data) > maxUploadBytes {
		httpx.JSONError(w, http.StatusRequestEntityTooLarge, "fichier_trop_volumineux", nil)
		return
	}
	// seul un PDF est accepté ; on vérifie le contenu, pas l'extension
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		httpx.JSONError(w, http.StatusBadRequest, "fichier_non_pdf", nil)
		return
	}

	doc, err := h.Svc.CreateDocument(r.Context(), titre, data)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"id":     doc.ID,
		"titre":  doc.Titre,
		"statut": models.StatutUpload,
	})
}

// List : GET /documents – tous les documents avec leur statut dérivé.
func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	var docs []models.Document
	if err := h.DB.WithContext(r.Context()).Order("date_upload DESC, id DESC").Find(&docs).Error; err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "erreur_interne", nil)
		return
	}
	if len(docs) == 0 {
		httpx.JSON(w, http.StatusOK, map[string]any{"items": []any{}, "total": 0})
		return
	}

	ids := make([]uint, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}

	// demandes pending et dernière ligne d'historique, en deux requêtes
	var pendings []models.SignatureRequest
	if err := h.DB.WithContext(r.Context()).
		Where("document_id IN ? AND statut = ?", ids, models.RequestPending).
		Find(&pendings).Error; err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "erreur_interne", nil)
		return
	}
	hasPending := map[uint]bool{}
	for _, p := range pendings {
		hasPending[p.DocumentID] = true
	}

	var hist []models.HistoriqueSignature
	if err := h.DB.WithContext(r.Context()).
		Where("document_id IN ?", ids).
		Order("date_action DESC, id DESC").
		Find(&hist).Error; err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "erreur_interne", nil)
		return
	}
	latest := map[uint]*models.HistoriqueSignature{}
	for i := range hist {
		if _, ok := latest[hist[i].DocumentID]; !ok {
			latest[hist[i].DocumentID] = &hist[i]
		}
	}

	items := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		statut := models.DeriveStatus(d.Signe(), hasPending[d.ID], latest[d.ID])
		items = append(items, map[string]any{
			"id":             d.ID,
			"titre":          d.Titre,
			"date_upload":    d.DateUpload,
			"signe":          d.Signe(),
			"statut":         statut,
			"statut_libelle": models.StatusLabel(statut),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

// Detail : GET /documents/{id} – statut dérivé + historique complet.
func (h *DocumentHandler) Detail(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.JSONError(w, http.StatusBadRequest, "identifiant_invalide", nil)
		return
	}
	state, err := h.Svc.DocumentStatus(r.Context(), id)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}

	historique := make([]map[string]any, 0, len(state.Historique))
	for _, hrow := range state.Historique {
		historique = append(historique, map[string]any{
			"statut":         hrow.Statut,
			"statut_libelle": models.StatusLabel(hrow.Statut),
			"date_action":    hrow.DateAction,
			"commentaire":    hrow.Commentaire,
		})
	}
	payload := map[string]any{
		"id":             state.Document.ID,
		"titre":          state.Document.Titre,
		"date_upload":    state.Document.DateUpload,
		"signe":          state.Document.Signe(),
		"statut":         state.Statut,
		"statut_libelle": models.StatusLabel(state.Statut),
		"historique":     historique,
	}
	if state.PendingRequest != nil {
		payload["demande_en_attente"] = map[string]any{
			"id":           state.PendingRequest.ID,
			"demandeur":    state.PendingRequest.RequestedBy.FullName(),
			"pos_x_pct":    state.PendingRequest.PosXPct,
			"pos_y_pct":    state.PendingRequest.PosYPct,
			"date_demande": state.PendingRequest.CreatedAt,
		}
	}
	httpx.JSON(w, http.StatusOK, payload)
}

// Download : GET /documents/{id}/fichier – PDF original, ou signé avec
// ?signe=1 quand il existe.
func (h *DocumentHandler) Download(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.JSONError(w, http.StatusBadRequest, "identifiant_invalide", nil)
		return
	}
	var doc models.Document
	if err := h.DB.WithContext(r.Context()).First(&doc, id).Error; err != nil {
		httpx.JSONError(w, http.StatusNotFound, workflow.ErrDocumentNotFound.Error(), nil)
		return
	}
	rel := doc.Fichier
	name := doc.Titre + ".pdf"
	if r.URL.Query().Get("signe") == "1" {
		if !doc.Signe() {
			httpx.JSONError(w, http.StatusNotFound, "fichier_signe_absent", nil)
			return
		}
		rel = doc.FichierSigne
		name = doc.Titre + "_signe.pdf"
	}
	data, err := h.Store.Read(rel)
	if err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "lecture_fichier_impossible", nil)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// BulkDelete : POST /documents/delete – {"ids": [1, 2]}.
func (h *DocumentHandler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []uint `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	if len(req.IDs) == 0 {
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", map[string]string{"ids": "required"})
		return
	}
	n, err := h.Svc.DeleteDocuments(r.Context(), req.IDs)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"deleted": n})
}

// Positions : POST /documents/{id}/positions – réglage manuel des positions
// historiques (tampon et signature), conservé pour les anciens écrans.
// Sans effet sur le workflow : le placement d'une signature passe par
// /documents/{id}/signature.
func (h *DocumentHandler) Positions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.JSONError(w, http.StatusBadRequest, "identifiant_invalide", nil)
		return
	}
	var req struct {
		StampX float64 `json:"stamp_x"`
		StampY float64 `json:"stamp_y"`
		SigX   float64 `json:"sig_x"`
		SigY   float64 `json:"sig_y"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	v := validation.Violations{}
	validation.RangeFloat("stamp_x", req.StampX, 0, 100, v)
	validation.RangeFloat("stamp_y", req.StampY, 0, 100, v)
	validation.RangeFloat("sig_x", req.SigX, 0, 100, v)
	validation.RangeFloat("sig_y", req.SigY, 0, 100, v)
	if !v.Empty() {
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", v)
		return
	}

	var doc models.Document
	if err := h.DB.WithContext(r.Context()).First(&doc, id).Error; err != nil {
		httpx.JSONError(w, http.StatusNotFound, workflow.ErrDocumentNotFound.Error(), nil)
		return
	}
	if doc.Signe() {
		httpx.JSONError(w, http.StatusConflict, workflow.ErrAlreadySigned.Error(), nil)
		return
	}
	err := h.DB.WithContext(r.Context()).Model(&doc).Updates(map[string]any{
		"stamp_x": req.StampX,
		"stamp_y": req.StampY,
		"sig_x":   req.SigX,
		"sig_y":   req.SigY,
	}).Error
	if err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "erreur_interne", nil)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"stamp_x": req.StampX,
		"stamp_y": req.StampY,
		"sig_x":   req.SigX,
		"sig_y":   req.SigY,
	})
}

// Envoyer : POST /documents/{id}/envoyer – passage manuel en attente.
func (h *DocumentHandler) Envoyer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.JSONError(w, http.StatusBadRequest, "identifiant_invalide", nil)
		return
	}
	if err := h.Svc.MarkAwaiting(r.Context(), id); err != nil {
		writeWorkflowError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"statut": models.StatutEnAttente})
}

func pathID(r *http.Request) (uint, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		return 0, false
	}
	return uint(id), true
}
