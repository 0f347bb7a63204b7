package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Tasks
	mux.Handle("POST /api/v1/tasks", chain(http.HandlerFunc(h.CreateTask)))
	mux.Handle("GET /api/v1/tasks", chain(http.HandlerFunc(h.ListTasks)))
	mux.Handle("GET /api/v1/tasks/{id}", chain(http.HandlerFunc(h.GetTask)))
	mux.Handle("GET /api/v1/tasks/{id}/result", chain(http.HandlerFunc(h.GetTaskResult)))
	mux.Handle("DELETE /api/v1/tasks/{id}", chain(http.HandlerFunc(h.CancelTask)))
	mux.Handle("GET /api/v1/tasks/{id}/logs", chain(http.HandlerFunc(h.GetTaskLogs)))

	// Service
	mux.Handle("GET /api/v1/stats", chain(http.HandlerFunc(h.GetStats)))
	mux.Handle("GET /api/v1/health", chain(http.HandlerFunc(h.Health)))
}
