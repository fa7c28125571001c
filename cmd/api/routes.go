package main

import "net/http"

func (a *app) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.Handle("GET /metrics", a.registry.Handler())

	mux.HandleFunc("POST /api/v1/memories", a.handleAdd)
	mux.HandleFunc("POST /api/v1/memories/batch", a.handleAddBatch)
	mux.HandleFunc("GET /api/v1/memories/search", a.handleSearch)
	mux.HandleFunc("GET /api/v1/memories/{id}", a.handleGet)
	mux.HandleFunc("PATCH /api/v1/memories/{id}", a.handleUpdate)
	mux.HandleFunc("DELETE /api/v1/memories/{id}", a.handleDelete)
	mux.HandleFunc("GET /api/v1/stats", a.handleStats)

	mux.HandleFunc("POST /api/v1/hierarchy/memories", a.handleHierarchyAdd)
	mux.HandleFunc("GET /api/v1/hierarchy/search", a.handleHierarchySearch)
	mux.HandleFunc("POST /api/v1/hierarchy/sessions/{sessionId}/end", a.handleHierarchyEndSession)
}

func (a *app) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
