package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/memkit/memkit/engine/domain"
	"github.com/memkit/memkit/engine/pipeline"
)

type memoryRequest struct {
	Content    string         `json:"content"`
	UserID     string         `json:"userId"`
	SessionID  string         `json:"sessionId,omitempty"`
	AgentID    string         `json:"agentId,omitempty"`
	Type       string         `json:"type,omitempty"`
	Importance int            `json:"importance,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func (r memoryRequest) toCreateRequest() pipeline.CreateRequest {
	return pipeline.CreateRequest{
		Content:    r.Content,
		UserID:     r.UserID,
		SessionID:  r.SessionID,
		AgentID:    r.AgentID,
		Type:       domain.MemoryType(r.Type),
		Importance: domain.Importance(r.Importance),
		Tags:       r.Tags,
		Metadata:   r.Metadata,
	}
}

// handleAdd implements the `add` public operation (spec §6).
func (a *app) handleAdd(w http.ResponseWriter, r *http.Request) {
	var req memoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body", Kind: "INVALID_INPUT"})
		return
	}

	id, err := a.pipeline.Create(r.Context(), req.toCreateRequest())
	if err != nil {
		writeError(w, err)
		return
	}

	if mem, err := a.pipeline.Get(r.Context(), id); err == nil && mem != nil {
		a.live.put(mem)
		a.reindexAsync()
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// handleAddBatch implements `addBatch`: per-item failures surface as a
// null id slot rather than failing the whole request.
func (a *app) handleAddBatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Items []memoryRequest `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body", Kind: "INVALID_INPUT"})
		return
	}

	reqs := make([]pipeline.CreateRequest, len(body.Items))
	for i, item := range body.Items {
		reqs[i] = item.toCreateRequest()
	}

	ids, errs := a.pipeline.CreateBatch(r.Context(), reqs)

	idsOut := make([]*string, len(ids))
	errsOut := make([]string, len(errs))
	for i, id := range ids {
		idsOut[i] = id
		if id != nil {
			if mem, err := a.pipeline.Get(r.Context(), *id); err == nil && mem != nil {
				a.live.put(mem)
			}
		}
	}
	for i, err := range errs {
		if err != nil {
			errsOut[i] = err.Error()
		}
	}
	a.reindexAsync()

	writeJSON(w, http.StatusOK, map[string]any{"ids": idsOut, "errors": errsOut})
}

// handleSearch implements `search`. When `hybrid=true`, the pipeline's
// vector-search candidates are re-ranked by engine/hybrid's fused
// semantic/keyword/fuzzy score instead of raw cosine similarity.
func (a *app) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("query")
	userID := q.Get("userId")
	limit := atoiOr(q.Get("limit"), 10)
	threshold := atofOr(q.Get("threshold"), 0.3)

	if q.Get("hybrid") != "true" {
		memories, err := a.pipeline.Search(r.Context(), query, userID, limit, threshold)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, memories)
		return
	}

	candidates, err := a.pipeline.Search(r.Context(), query, userID, limit*3+10, 0)
	if err != nil {
		writeError(w, err)
		return
	}

	ranked, err := a.hybrid.Search(r.Context(), query, candidates, nil)
	if err != nil {
		writeError(w, err)
		return
	}

	byID := make(map[string]*domain.Memory, len(candidates))
	for _, m := range candidates {
		byID[m.ID] = m
	}

	out := make([]hybridResult, 0, len(ranked.Items))
	for _, item := range ranked.Items {
		if mem, ok := byID[item.ID]; ok {
			out = append(out, hybridResult{Memory: mem, Score: item.Score})
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	writeJSON(w, http.StatusOK, map[string]any{"results": out, "stats": ranked.Stats})
}

type hybridResult struct {
	Memory *domain.Memory `json:"memory"`
	Score  float64        `json:"score"`
}

// handleGet implements `get`.
func (a *app) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	mem, err := a.pipeline.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if mem == nil {
		writeJSON(w, http.StatusNotFound, nil)
		return
	}
	writeJSON(w, http.StatusOK, mem)
}

// handleUpdate implements `update`.
func (a *app) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body struct {
		Content  *string        `json:"content,omitempty"`
		Metadata map[string]any `json:"metadata,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body", Kind: "INVALID_INPUT"})
		return
	}

	ok, err := a.pipeline.Update(r.Context(), id, body.Content, body.Metadata)
	if err != nil {
		writeError(w, err)
		return
	}
	if ok {
		if mem, err := a.pipeline.Get(r.Context(), id); err == nil && mem != nil {
			a.live.put(mem)
			a.reindexAsync()
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"updated": ok})
}

// handleDelete implements `delete`.
func (a *app) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ok, err := a.pipeline.Delete(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if ok {
		a.live.delete(id)
		a.reindexAsync()
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": ok})
}

// handleStats implements `stats`.
func (a *app) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.pipeline.Stats())
}

func atoiOr(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

func atofOr(s string, fallback float64) float64 {
	if s == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fallback
	}
	return f
}
