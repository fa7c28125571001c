// Package filter implements SearchFilter predicate composition and the
// operation Monitor (spec's Filter/Monitor component): equality-map and
// boolean-combinator predicates over memories, plus counters/timings for
// every pipeline operation.
package filter

import (
	"github.com/memkit/memkit/engine/domain"
)

// Predicate reports whether a memory matches a filter condition.
type Predicate func(*domain.Memory) bool

// And combines predicates; a memory matches only if every predicate does.
// An empty predicate list always matches.
func And(preds ...Predicate) Predicate {
	return func(m *domain.Memory) bool {
		for _, p := range preds {
			if !p(m) {
				return false
			}
		}
		return true
	}
}

// Or combines predicates; a memory matches if any predicate does. An empty
// predicate list never matches.
func Or(preds ...Predicate) Predicate {
	return func(m *domain.Memory) bool {
		for _, p := range preds {
			if p(m) {
				return true
			}
		}
		return false
	}
}

// Not negates a predicate.
func Not(p Predicate) Predicate {
	return func(m *domain.Memory) bool {
		return !p(m)
	}
}

// ByUser matches memories scoped to a user.
func ByUser(userID string) Predicate {
	return func(m *domain.Memory) bool { return m.UserID == userID }
}

// BySession matches memories scoped to a session.
func BySession(sessionID string) Predicate {
	return func(m *domain.Memory) bool { return m.SessionID == sessionID }
}

// ByAgent matches memories scoped to an agent.
func ByAgent(agentID string) Predicate {
	return func(m *domain.Memory) bool { return m.AgentID == agentID }
}

// ByType matches a memory type.
func ByType(t domain.MemoryType) Predicate {
	return func(m *domain.Memory) bool { return m.Type == t }
}

// MinImportance matches memories at or above an importance level.
func MinImportance(min domain.Importance) Predicate {
	return func(m *domain.Memory) bool { return m.Importance >= min }
}

// HasTag matches memories carrying a given tag.
func HasTag(tag string) Predicate {
	return func(m *domain.Memory) bool { return m.HasTag(tag) }
}

// Metadata matches an equality-mapping against a memory's metadata, same
// floor semantics as VectorStore's client-side filter (spec §4.5):
// every key in want must be present in the memory's metadata with an
// equal value.
func Metadata(want map[string]any) Predicate {
	return func(m *domain.Memory) bool {
		for k, v := range want {
			mv, ok := m.Metadata[k]
			if !ok || mv != v {
				return false
			}
		}
		return true
	}
}

// Apply returns the subset of memories matching p, preserving order.
func Apply(memories []*domain.Memory, p Predicate) []*domain.Memory {
	if p == nil {
		return memories
	}
	out := make([]*domain.Memory, 0, len(memories))
	for _, m := range memories {
		if p(m) {
			out = append(out, m)
		}
	}
	return out
}
