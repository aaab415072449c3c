package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/diewo77/go-signatures/internal/httpx"
	"github.com/diewo77/go-signatures/internal/overlay"
	"github.com/diewo77/go-signatures/internal/workflow"
)

// writeWorkflowError traduit une erreur du workflow en réponse JSON. Le
// message snake_case de l'erreur sentinelle sert de code client ; toute
// erreur non répertoriée sort en 500 générique, jamais en clair.
func writeWorkflowError(w http.ResponseWriter, err error) {
	for _, m := range workflowErrorMap {
		if errors.Is(err, m.sentinel) {
			httpx.JSONError(w, m.status, m.sentinel.Error(), nil)
			return
		}
	}
	log.Printf("[Signatures] erreur interne: %v", err)
	httpx.JSONError(w, http.StatusInternalServerError, "erreur_interne", nil)
}

var workflowErrorMap = []struct {
	sentinel error
	status   int
}{
	{workflow.ErrInvalidPosition, http.StatusBadRequest},
	{workflow.ErrDocumentNotFound, http.StatusNotFound},
	{workflow.ErrRequestNotFound, http.StatusNotFound},
	{workflow.ErrNotRequestApprover, http.StatusForbidden},
	{workflow.ErrAlreadySigned, http.StatusConflict},
	{workflow.ErrRequestPending, http.StatusConflict},
	{workflow.ErrRequestAlreadyDecided, http.StatusConflict},
	{workflow.ErrNoSignatureConfigured, http.StatusUnprocessableEntity},
	{workflow.ErrNoStampConfigured, http.StatusUnprocessableEntity},
	{workflow.ErrNoApproverConfigured, http.StatusUnprocessableEntity},
	{overlay.ErrSourceUnreadable, http.StatusUnprocessableEntity},
	{overlay.ErrImageUnreadable, http.StatusUnprocessableEntity},
}
