package rest

import (
	"crypto/rsa"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter returns a configured chi.Router for the sentinel dashboard API.
//
// Route layout:
//
//	GET  /healthz                   – liveness probe (no authentication)
//	GET  /api/alerts?limit=N        – last N alerts (JWT required if pubKey set)
//	GET  /api/stats/{name}?interval=S – last interval seconds of a metric
//	POST /api/set_email             – set the alert-email recipient
//	POST /set_threshold             – update a detector's live threshold
//
// pubKey is the RSA public key used to verify RS256 Bearer tokens on the
// /api routes. Pass nil to disable JWT validation.
func NewRouter(srv *Server, pubKey *rsa.PublicKey) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", srv.handleHealthz)
	r.Post("/set_threshold", srv.handleSetThreshold)

	r.Route("/api", func(r chi.Router) {
		if pubKey != nil {
			r.Use(JWTMiddleware(pubKey))
		}

		r.Get("/alerts", srv.handleGetAlerts)
		r.Get("/stats/{name}", srv.handleGetStats)
		r.Post("/set_email", srv.handleSetEmail)
	})

	return r
}
