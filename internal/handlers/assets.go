package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/diewo77/go-signatures/internal/auth"
	"github.com/diewo77/go-signatures/internal/httpx"
	"github.com/diewo77/go-signatures/internal/models"
	"github.com/diewo77/go-signatures/internal/storage"
	"github.com/diewo77/go-signatures/internal/workflow"
	"gorm.io/gorm"
)

const maxImageBytes = 5 << 20

// AssetHandler gère les images du workflow : signature personnelle d'un
// utilisateur et tampon de l'entreprise.
type AssetHandler struct {
	DB    *gorm.DB
	Store *storage.Store
	Roles workflow.RoleResolver
}

func NewAssetHandler(db *gorm.DB, store *storage.Store, roles workflow.RoleResolver) *AssetHandler {
	return &AssetHandler{DB: db, Store: store, Roles: roles}
}

// MaSignature : POST /signatures/ma-signature – upload de l'image de
// signature de l'utilisateur courant (remplace l'existante).
func (h *AssetHandler) MaSignature(w http.ResponseWriter, r *http.Request) {
	uid, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	data, ext, ok := readImage(w, r)
	if !ok {
		return
	}

	rel, err := h.Store.Save(storage.DirSignatures, fmt.Sprintf("signature_%d%s", uid, ext), data)
	if err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "ecriture_fichier_impossible", nil)
		return
	}

	var profile models.SignatureUser
	err = h.DB.WithContext(r.Context()).Where("user_id = ?", uid).First(&profile).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		profile = models.SignatureUser{UserID: uid, Image: rel}
		err = h.DB.WithContext(r.Context()).Create(&profile).Error
	case err == nil:
		old := profile.Image
		err = h.DB.WithContext(r.Context()).Model(&profile).Update("image", rel).Error
		if err == nil && old != rel {
			if rmErr := h.Store.Remove(old); rmErr != nil {
				log.Printf("[Signatures] suppression de l'ancienne signature impossible : %v", rmErr)
			}
		}
	}
	if err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "erreur_interne", nil)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"image": rel})
}

// Tampon : POST /signatures/tampon – upload du tampon officiel, réservé aux
// signataires autorisés. Un seul tampon existe ; l'upload remplace.
func (h *AssetHandler) Tampon(w http.ResponseWriter, r *http.Request) {
	uid, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	isSigner, err := h.Roles.IsAuthorizedSigner(r.Context(), uid)
	if err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "erreur_interne", nil)
		return
	}
	if !isSigner {
		httpx.JSONError(w, http.StatusForbidden, "reserve_au_signataire", nil)
		return
	}
	data, ext, ok := readImage(w, r)
	if !ok {
		return
	}
	nom := r.FormValue("nom")
	if nom == "" {
		nom = "Tampon officiel"
	}

	rel, err := h.Store.Save(storage.DirTampons, "tampon"+ext, data)
	if err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "ecriture_fichier_impossible", nil)
		return
	}

	var tampon models.Tampon
	err = h.DB.WithContext(r.Context()).Order("id").First(&tampon).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		tampon = models.Tampon{Nom: nom, Image: rel}
		err = h.DB.WithContext(r.Context()).Create(&tampon).Error
	case err == nil:
		err = h.DB.WithContext(r.Context()).Model(&tampon).
			Updates(map[string]any{"nom": nom, "image": rel}).Error
	}
	if err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "erreur_interne", nil)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"nom": nom, "image": rel})
}

// readImage lit le champ multipart "image" et vérifie qu'il s'agit d'un
// PNG ou d'un JPEG (contenu, pas extension). Écrit la réponse d'erreur
// elle-même et retourne ok=false le cas échéant.
func readImage(w http.ResponseWriter, r *http.Request) (data []byte, ext string, ok bool) {
	if err := r.ParseMultipartForm(maxImageBytes); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "formulaire_invalide", nil)
		return nil, "", false
	}
	file, _, err := r.FormFile("image")
	if err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", map[string]string{"image": "required"})
		return nil, "", false
	}
	defer file.Close()

	data, err = io.ReadAll(io.LimitReader(file, maxImageBytes+1))
	if err != nil || len(data) > maxImageBytes {
		httpx.JSONError(w, http.StatusBadRequest, "image_invalide", nil)
		return nil, "", false
	}
	switch {
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		ext = ".png"
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		ext = ".jpg"
	default:
		httpx.JSONError(w, http.StatusBadRequest, "image_invalide", nil)
		return nil, "", false
	}
	return data, ext, true
}
