package main

import (
	"encoding/json"
	"net/http"

	"github.com/memkit/memkit/engine/domain"
	"github.com/memkit/memkit/engine/hierarchy"
)

type scopeOutcomeView struct {
	Scope      string `json:"scope"`
	Resolution string `json:"resolution,omitempty"`
	Error      string `json:"error,omitempty"`
}

// handleHierarchyAdd implements addWithRouting (spec §4.7): places one
// memory into every scope the routing policy names.
func (a *app) handleHierarchyAdd(w http.ResponseWriter, r *http.Request) {
	var req memoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body", Kind: "INVALID_INPUT"})
		return
	}

	result, err := a.hierarchy.AddWithRouting(hierarchy.AddRequest{
		Content:    req.Content,
		UserID:     req.UserID,
		SessionID:  req.SessionID,
		AgentID:    req.AgentID,
		Type:       domain.MemoryType(req.Type),
		Importance: domain.Importance(req.Importance),
		Tags:       req.Tags,
		Metadata:   req.Metadata,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	outcomes := make([]scopeOutcomeView, len(result.Outcomes))
	for i, o := range result.Outcomes {
		view := scopeOutcomeView{Scope: string(o.Scope)}
		if o.Err != nil {
			view.Error = o.Err.Error()
		} else {
			view.Resolution = o.Resolution.String()
		}
		outcomes[i] = view
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":       result.Memory.ID,
		"outcomes": outcomes,
	})
}

// handleHierarchySearch implements searchAcrossHierarchy (spec §4.7).
func (a *app) handleHierarchySearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	results := a.hierarchy.SearchAcrossHierarchy(
		q.Get("userId"), q.Get("sessionId"), q.Get("agentId"),
		q.Get("query"), atoiOr(q.Get("limit"), 10),
	)

	out := make([]hybridResult, len(results))
	for i, r := range results {
		out[i] = hybridResult{Memory: r.Memory, Score: r.Score}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleHierarchyEndSession implements endSessionWithTransfer (spec §4.7).
func (a *app) handleHierarchyEndSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionId")
	q := r.URL.Query()
	userID := q.Get("userId")
	threshold := domain.Importance(atoiOr(q.Get("importanceThreshold"), int(domain.ImportanceMedium)))

	promoted, err := a.hierarchy.EndSessionWithTransfer(sessionID, userID, threshold)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"promoted": promoted})
}
