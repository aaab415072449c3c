// Package httpx écrit les réponses JSON du module. Le contrat d'erreur est
// fixe et consommé tel quel par les écrans : un code snake_case dans
// "error", les violations de champ éventuelles dans "details".
package httpx

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse est le corps de toute réponse d'erreur du module.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// JSON sérialise payload avec le statut donné. Le corps n'est écrit
// qu'après un encodage réussi, jamais de JSON partiel sur le fil.
func JSON(w http.ResponseWriter, status int, payload any) {
	if payload == nil {
		payload = struct{}{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"erreur_interne"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// JSONError écrit une réponse d'erreur au contrat du module. code est un
// code snake_case stable (jamais un message d'erreur interne) ; details
// porte typiquement une validation.Violations.
func JSONError(w http.ResponseWriter, status int, code string, details any) {
	JSON(w, status, ErrorResponse{Error: code, Details: details})
}
