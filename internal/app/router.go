// Package app assembles routers and process-level plumbing shared by the
// collector and analysis binaries.
package app

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/loglens/loglens/internal/adapter/httpserver"
	"github.com/loglens/loglens/internal/adapter/observability"
	"github.com/loglens/loglens/internal/config"
)

func baseRouter(cfg config.Config, requestTimeout time.Duration) chi.Router {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	if requestTimeout > 0 {
		r.Use(httpserver.TimeoutMiddleware(requestTimeout))
	}
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   httpserver.ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	return r
}

// BuildCollectorRouter constructs the ingest surface's HTTP handler.
func BuildCollectorRouter(cfg config.Config, srv *httpserver.CollectorServer) http.Handler {
	r := baseRouter(cfg, 30*time.Second)

	r.Group(func(wr chi.Router) {
		wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, 1*time.Minute))
		wr.Post("/logs", srv.IngestHandler())
	})
	r.Get("/", srv.RootHandler())
	r.Get("/stats", srv.StatsHandler())

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", srv.ReadyzHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })

	return httpserver.SecurityHeaders(r)
}

// BuildAnalysisRouter constructs the analysis surface's HTTP handler. The
// WebSocket stream bypasses the request timeout; long runs are bounded by
// the workflow itself.
func BuildAnalysisRouter(cfg config.Config, srv *httpserver.AnalysisServer) http.Handler {
	r := baseRouter(cfg, 0)

	r.Group(func(wr chi.Router) {
		wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, 1*time.Minute))
		wr.Use(httpserver.TimeoutMiddleware(120 * time.Second))
		wr.Post("/query", srv.QueryHandler())
		wr.Post("/summarize", srv.SummarizeHandler())
	})
	r.Get("/ws/stream", srv.StreamHandler())

	r.Get("/", srv.RootHandler())
	r.Get("/services", srv.ServicesHandler())
	r.Get("/stats", srv.StatsHandler())
	r.Get("/alerts/history", srv.AlertHistoryHandler())
	r.Post("/alerts/check", srv.AlertCheckHandler())
	r.Post("/invalidate_cache", srv.InvalidateCacheHandler())

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", srv.ReadyzHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })

	return httpserver.SecurityHeaders(r)
}
