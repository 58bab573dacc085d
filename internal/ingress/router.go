// Package ingress implements the HTTP surface visits arrive through
// (spec §4.1): POST /visit decodes, validates, and enqueues a Visit
// without blocking on downstream processing; GET /status reports queue
// depth for readiness checks. The router assembly — global middleware
// order, CORS, structured request logging — follows the teacher's
// internal/api/router.go, trimmed to this spec's two routes.
package ingress

import (
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/crjfisher/bergamot/internal/ingress/middleware"
	"github.com/crjfisher/bergamot/internal/queue"
)

// NewRouter builds the HTTP router. version is reported by GET /status
// for operators comparing a running instance against a release.
func NewRouter(q *queue.Queue, version string) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   parseCORSOrigins(),
		AllowedMethods:   []string{"POST", "GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := &Handlers{queue: q, version: version}

	r.Post("/visit", h.handleVisit)
	r.Get("/status", h.handleStatus)

	return r
}

// parseCORSOrigins reads allowed CORS origins from the environment.
// Default: wildcard — the extension runs as a local subprocess but its
// requests may still carry a moz-extension:// origin header.
func parseCORSOrigins() []string {
	originsEnv := os.Getenv("BERGAMOT_CORS_ORIGINS")
	if originsEnv == "" {
		return []string{"*"}
	}

	var origins []string
	for _, o := range strings.Split(originsEnv, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
