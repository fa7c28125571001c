// Package hierarchy implements the Hierarchy Manager (spec §4.7): three
// structurally identical scopes (user, session, agent), each a §4.1-lite
// store with in-process search and no vector backend, composed by a
// routing policy, a cross-scope fused search, and session-to-user
// promotion on session end.
package hierarchy

import (
	"sort"
	"strings"
	"sync"

	"github.com/memkit/memkit/engine/domain"
)

// ScoredMemory pairs a memory with a relevance score, mirroring
// engine/hybrid's result shape so callers can treat hierarchy search
// output uniformly with top-level hybrid search output.
type ScoredMemory struct {
	Memory *domain.Memory
	Score  float64
}

// Scope is one node of the hierarchy: an in-process set of memories
// keyed by owner id, searched by token overlap rather than a vector
// index (spec §4.7: "no vector backend of its own").
type Scope struct {
	kind domain.ScopeKind

	mu      sync.RWMutex
	records map[string]*domain.Memory // id -> memory
}

func newScope(kind domain.ScopeKind) *Scope {
	return &Scope{kind: kind, records: make(map[string]*domain.Memory)}
}

// Kind reports which of the three scopes this is.
func (s *Scope) Kind() domain.ScopeKind { return s.kind }

// Put inserts or replaces a memory by id.
func (s *Scope) Put(mem *domain.Memory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[mem.ID] = mem
}

// Get fetches a memory by id.
func (s *Scope) Get(id string) (*domain.Memory, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.records[id]
	return m, ok
}

// Delete removes a memory by id.
func (s *Scope) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
}

// All returns a snapshot of every memory currently in the scope.
func (s *Scope) All() []*domain.Memory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Memory, 0, len(s.records))
	for _, m := range s.records {
		out = append(out, m)
	}
	return out
}

// Clear empties the scope, removing every record it holds.
func (s *Scope) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]*domain.Memory)
}

// Search ranks the scope's own records against query by token-overlap
// ratio. This is deliberately simpler than engine/hybrid's fused search:
// a scope has no vector backend, so it falls back to the same lexical
// signal engine/hybrid uses for its keyword strategy.
func (s *Scope) Search(query string, limit int) []ScoredMemory {
	qTokens := tokenSet(query)
	if len(qTokens) == 0 {
		return nil
	}

	s.mu.RLock()
	candidates := make([]*domain.Memory, 0, len(s.records))
	for _, m := range s.records {
		candidates = append(candidates, m)
	}
	s.mu.RUnlock()

	out := make([]ScoredMemory, 0, len(candidates))
	for _, m := range candidates {
		score := tokenOverlap(qTokens, tokenSet(m.Content))
		if score <= 0 {
			continue
		}
		out = append(out, ScoredMemory{Memory: m, Score: score})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Memory.ID < out[j].Memory.ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func tokenSet(s string) map[string]bool {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}

func tokenOverlap(query, content map[string]bool) float64 {
	if len(query) == 0 {
		return 0
	}
	matched := 0
	for t := range query {
		if content[t] {
			matched++
		}
	}
	return float64(matched) / float64(len(query))
}
