// Package handlers expose le workflow de signature en JSON. Les handlers
// restent minces : parsing et validation des entrées, appel du service,
// traduction des erreurs en statuts HTTP.
package handlers

import "net/http"

// Mount enregistre toutes les routes du module sur mux. L'authentification
// est appliquée par l'appelant, autour du mux.
func Mount(mux *http.ServeMux, dh *DocumentHandler, sh *SignatureHandler, ah *AssetHandler) {
	mux.HandleFunc("POST /documents", dh.Upload)
	mux.HandleFunc("GET /documents", dh.List)
	mux.HandleFunc("GET /documents/{id}", dh.Detail)
	mux.HandleFunc("GET /documents/{id}/fichier", dh.Download)
	mux.HandleFunc("POST /documents/delete", dh.BulkDelete)
	mux.HandleFunc("POST /documents/{id}/envoyer", dh.Envoyer)
	mux.HandleFunc("POST /documents/{id}/positions", dh.Positions)

	mux.HandleFunc("POST /documents/{id}/signature", sh.Place)
	mux.HandleFunc("GET /signatures/requests/{token}", sh.Review)
	mux.HandleFunc("POST /signatures/requests/{token}", sh.Decide)
	mux.HandleFunc("GET /signatures/dashboard", sh.Dashboard)

	mux.HandleFunc("POST /signatures/ma-signature", ah.MaSignature)
	mux.HandleFunc("POST /signatures/tampon", ah.Tampon)
}
