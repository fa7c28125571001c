package hierarchy

import (
	"sort"
	"sync"
	"time"

	"github.com/memkit/memkit/engine/domain"
	"github.com/memkit/memkit/pkg/fn"
)

const (
	weightUser    = 0.4
	weightSession = 0.3
	weightAgent   = 0.3
)

// AddRequest carries the fields needed to construct and route a new
// memory across the hierarchy.
type AddRequest struct {
	Content    string
	UserID     string
	SessionID  string
	AgentID    string
	Type       domain.MemoryType
	Importance domain.Importance
	Tags       []string
	Metadata   map[string]any
}

// ScopeOutcome records what happened when addWithRouting tried to place
// a memory into one target scope.
type ScopeOutcome struct {
	Scope      domain.ScopeKind
	Resolution Resolution
	Err        error
}

// RoutingResult is the outcome of addWithRouting: the created memory,
// which scopes it was routed to, and a per-scope outcome so that a
// partial failure in one scope does not obscure the others (spec §4.7:
// routing is "partial-failure tolerant").
type RoutingResult struct {
	Memory   *domain.Memory
	Outcomes []ScopeOutcome
}

// Manager is the Hierarchy Manager: three scope families (keyed by
// owner id within each kind) plus the routing and conflict-resolution
// policy that composes them.
type Manager struct {
	mu       sync.Mutex
	byUser   map[string]*Scope
	bySess   map[string]*Scope
	byAgent  map[string]*Scope
	resolver Resolver
	cmp      Comparator
}

// New constructs a Manager with the default last-write-wins resolver
// and same-user/same-type/same-content comparator. Use WithResolver /
// WithComparator to override either.
func New() *Manager {
	return &Manager{
		byUser:   make(map[string]*Scope),
		bySess:   make(map[string]*Scope),
		byAgent:  make(map[string]*Scope),
		resolver: lastWriteWins,
		cmp:      defaultComparator,
	}
}

// WithResolver overrides the conflict resolution policy.
func (m *Manager) WithResolver(r Resolver) *Manager {
	m.resolver = r
	return m
}

// WithComparator overrides the conflict detection policy.
func (m *Manager) WithComparator(c Comparator) *Manager {
	m.cmp = c
	return m
}

func (m *Manager) scopeFor(kind domain.ScopeKind, ownerID string) *Scope {
	m.mu.Lock()
	defer m.mu.Unlock()

	var table map[string]*Scope
	switch kind {
	case domain.ScopeUser:
		table = m.byUser
	case domain.ScopeSession:
		table = m.bySess
	case domain.ScopeAgent:
		table = m.byAgent
	default:
		return nil
	}

	s, ok := table[ownerID]
	if !ok {
		s = newScope(kind)
		table[ownerID] = s
	}
	return s
}

// routingTargets implements spec §4.7's routing policy table.
func routingTargets(req AddRequest) []domain.ScopeKind {
	switch {
	case req.Type == domain.TypePreference:
		return []domain.ScopeKind{domain.ScopeUser, domain.ScopeSession}
	case req.Importance >= domain.ImportanceMedium:
		return []domain.ScopeKind{domain.ScopeUser, domain.ScopeSession}
	case req.Type == domain.TypeSemantic || req.Type == domain.TypeFactual || req.Type == domain.TypeProcedural:
		return []domain.ScopeKind{domain.ScopeAgent, domain.ScopeSession}
	default:
		return []domain.ScopeKind{domain.ScopeSession}
	}
}

func (m *Manager) ownerFor(kind domain.ScopeKind, req AddRequest) string {
	switch kind {
	case domain.ScopeUser:
		return req.UserID
	case domain.ScopeSession:
		return req.SessionID
	case domain.ScopeAgent:
		return req.AgentID
	default:
		return ""
	}
}

// AddWithRouting constructs a memory from req and places it into every
// scope the routing policy names, resolving conflicts against records
// already present in each target scope independently.
func (m *Manager) AddWithRouting(req AddRequest) (*RoutingResult, error) {
	if err := domain.ValidateContent(req.Content); err != nil {
		return nil, err
	}
	if err := domain.ValidateUserID(req.UserID); err != nil {
		return nil, err
	}

	now := time.Now()
	mem := &domain.Memory{
		ID:         domain.NewID(),
		Content:    req.Content,
		UserID:     req.UserID,
		SessionID:  req.SessionID,
		AgentID:    req.AgentID,
		Type:       req.Type,
		Importance: req.Importance,
		Tags:       req.Tags,
		Metadata:   req.Metadata,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	targets := routingTargets(req)
	result := &RoutingResult{Memory: mem, Outcomes: make([]ScopeOutcome, 0, len(targets))}

	for _, kind := range targets {
		owner := m.ownerFor(kind, req)
		if owner == "" {
			result.Outcomes = append(result.Outcomes, ScopeOutcome{
				Scope: kind,
				Err:   domain.NewValidationError(string(kind)+"OwnerID", owner, domain.ErrInvalidUserID),
			})
			continue
		}
		scope := m.scopeFor(kind, owner)
		resolution := m.placeInScope(scope, mem)
		result.Outcomes = append(result.Outcomes, ScopeOutcome{Scope: kind, Resolution: resolution})
	}

	return result, nil
}

// placeInScope applies conflict detection + resolution then writes mem
// (or a merge of mem and the conflicting record) into scope.
func (m *Manager) placeInScope(scope *Scope, mem *domain.Memory) Resolution {
	for _, existing := range scope.All() {
		if existing.ID == mem.ID {
			continue
		}
		if !m.cmp.Conflicts(existing, mem) {
			continue
		}
		switch m.resolver.Resolve(existing, mem) {
		case KeepOld:
			return KeepOld
		case Merge:
			merged := mergeMemories(existing, mem)
			scope.Put(merged)
			return Merge
		case Supersede, KeepNew:
			scope.Delete(existing.ID)
			scope.Put(mem)
			return KeepNew
		}
	}
	scope.Put(mem)
	return KeepNew
}

// mergeMemories combines two conflicting records under the existing
// record's id, concatenating tags and preferring the candidate's
// content as the more recent observation.
func mergeMemories(existing, candidate *domain.Memory) *domain.Memory {
	merged := *existing
	merged.Content = candidate.Content
	merged.UpdatedAt = candidate.UpdatedAt
	if candidate.Importance > merged.Importance {
		merged.Importance = candidate.Importance
	}
	tagSet := make(map[string]bool)
	var tags []string
	for _, t := range append(append([]string{}, existing.Tags...), candidate.Tags...) {
		if !tagSet[t] {
			tagSet[t] = true
			tags = append(tags, t)
		}
	}
	merged.Tags = tags
	return &merged
}

// SearchAcrossHierarchy fans a query out across the user, session, and
// agent scopes identified by the given owner ids (any of which may be
// empty, meaning that scope is skipped), then fuses the three ranked
// lists by weighted max-merge per memory id (spec §4.7).
func (m *Manager) SearchAcrossHierarchy(userID, sessionID, agentID, query string, limit int) []ScoredMemory {
	type namedSearch struct {
		kind   domain.ScopeKind
		owner  string
		weight float64
	}
	searches := []namedSearch{
		{domain.ScopeUser, userID, weightUser},
		{domain.ScopeSession, sessionID, weightSession},
		{domain.ScopeAgent, agentID, weightAgent},
	}

	fns := make([]func() []ScoredMemory, 0, 3)
	weights := make([]float64, 0, 3)
	for _, s := range searches {
		if s.owner == "" {
			continue
		}
		scope := m.scopeFor(s.kind, s.owner)
		fns = append(fns, func() []ScoredMemory { return scope.Search(query, 0) })
		weights = append(weights, s.weight)
	}

	perScope := fn.FanOut(fns...)

	fused := make(map[string]float64)
	byID := make(map[string]*domain.Memory)
	for i, results := range perScope {
		w := weights[i]
		for _, r := range results {
			weighted := r.Score * w
			if cur, ok := fused[r.Memory.ID]; !ok || weighted > cur {
				fused[r.Memory.ID] = weighted
			}
			byID[r.Memory.ID] = r.Memory
		}
	}

	out := make([]ScoredMemory, 0, len(fused))
	for id, score := range fused {
		out = append(out, ScoredMemory{Memory: byID[id], Score: score})
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

// qualifiesForTransfer decides whether a session memory survives the
// session boundary into user scope (spec §4.7).
func qualifiesForTransfer(mem *domain.Memory, importanceThreshold domain.Importance) bool {
	if mem.Importance >= importanceThreshold {
		return true
	}
	switch mem.Type {
	case domain.TypePreference, domain.TypeFactual, domain.TypeSemantic:
		return true
	default:
		return false
	}
}

// EndSessionWithTransfer promotes qualifying memories from the session
// scope into the user scope, then discards the session scope entirely.
// importanceThreshold is typically domain.ImportanceMedium.
func (m *Manager) EndSessionWithTransfer(sessionID, userID string, importanceThreshold domain.Importance) (promoted int, err error) {
	if err := domain.ValidateUserID(userID); err != nil {
		return 0, err
	}

	m.mu.Lock()
	session, ok := m.bySess[sessionID]
	m.mu.Unlock()
	if !ok {
		return 0, nil
	}

	userScope := m.scopeFor(domain.ScopeUser, userID)
	for _, mem := range session.All() {
		if !qualifiesForTransfer(mem, importanceThreshold) {
			continue
		}
		m.placeInScope(userScope, mem)
		promoted++
	}

	m.mu.Lock()
	delete(m.bySess, sessionID)
	m.mu.Unlock()

	return promoted, nil
}
