package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eblock12/HomeNet/internal/device"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeBadRequest, "method not allowed")
	})

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Unauthenticated
		r.Get("/health", s.handleHealth)
		r.Post("/auth/login", s.handleLogin)
		r.Get("/metrics", s.handleMetrics)

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)
				r.Post("/", s.handleCreateDevice)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Patch("/", s.handleUpdateDevice)
					r.Delete("/", s.handleDeleteDevice)

					r.Get("/values", s.handleGetValues)
					r.Get("/values/{name}", s.handleGetValue)
					r.Post("/values/{name}", s.handleSetValue)
				})
			})

			r.Post("/system/save", s.handleSave)
			r.Get("/nodes", s.handleListNodes)
			r.Get("/audit", s.handleListAuditLogs)
		})
	})

	return r
}

// handleHealth reports the server version and device database state.
// It answers 503 once the database is unavailable.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	state := s.store.State()

	status, code := "ok", http.StatusOK
	switch state {
	case device.StateLoading:
		status = "starting"
	case device.StateUnavailable:
		status, code = "degraded", http.StatusServiceUnavailable
	}

	resp := map[string]any{
		"status":  status,
		"version": s.version,
		"store":   state.String(),
	}
	if s.driver != nil {
		resp["zwave_ready"] = s.driver.Ready()
	}
	writeJSON(w, code, resp)
}
