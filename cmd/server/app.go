package main

import (
	"net/http"

	"github.com/diewo77/go-signatures/internal/auth"
	"github.com/diewo77/go-signatures/internal/handlers"
	"github.com/diewo77/go-signatures/internal/httpx"
)

// App assemble la surface HTTP du module signatures : toutes les routes
// métier derrière la session, /healthz ouvert pour la supervision.
type App struct {
	mux *http.ServeMux
}

func NewApp(dh *handlers.DocumentHandler, sh *handlers.SignatureHandler, ah *handlers.AssetHandler) *App {
	app := &App{mux: http.NewServeMux()}
	handlers.Mount(app.mux, dh, sh, ah)
	app.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return app
}

// ServeHTTP implements http.Handler.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	auth.Middleware(a.requireAuth(a.mux)).ServeHTTP(w, r)
}

// requireAuth rejette toute requête sans session valide. La vérification
// fine (signataire, approbateur de la demande) reste dans les handlers.
func (a *App) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}
		if _, ok := auth.UserIDFromContext(r.Context()); !ok {
			httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
