package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// defaultMetricsPath is used when metrics are enabled without a path.
const defaultMetricsPath = "/metrics"

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	if s.registry != nil && s.metricCfg.Enabled {
		path := s.metricCfg.Path
		if path == "" {
			path = defaultMetricsPath
		}
		r.Handle(path, s.registry.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		// Catalog
		r.Route("/beam-paths", func(r chi.Router) {
			r.Get("/", s.handleListBeamPaths)
			r.Get("/{path}/screens", s.handleListScreens)
		})
		r.Get("/devices/{name}", s.handleGetDevice)

		// Screen control
		r.Route("/screens", func(r chi.Router) {
			r.Get("/", s.handleListOpenScreens)
			r.Route("/{name}", func(r chi.Router) {
				r.Post("/open", s.handleOpenScreen)
				r.Post("/target", s.handleMoveTarget)
				r.Delete("/", s.handleCloseScreen)
			})
		})

		if s.audit != nil {
			r.Get("/audit", s.handleListAudit)
		}

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"version": s.version,
	}
	if s.mqtt != nil {
		resp["mqtt_connected"] = s.mqtt.IsConnected()
	}
	writeJSON(w, http.StatusOK, resp)
}
