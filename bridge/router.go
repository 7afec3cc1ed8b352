package bridge

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes constructs the HTTP router for the sign-in surface and provider callbacks.
func (a *App) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(a.Logger))
	r.Use(RecoveryMiddleware(a.Logger))
	if !a.Config.Server.DevMode {
		r.Use(SecurityHeadersMiddleware(a.Config.Server.TLS.HSTSMaxAge))
	}

	r.Get("/healthz", a.handleHealth)
	r.Get("/signin", a.handleSignin)

	r.Get("/mount/{container}", a.handleMountGet)
	r.Post("/mount/{container}", a.handleMountRender)

	r.Get("/oauth2/start", a.handleOAuthStart)
	r.Post("/oauth2/start", a.handleOAuthStart)

	r.Post(credentialPath, a.handleCredential)
	r.Get(redirectPath, a.handleRedirect)

	return r
}
