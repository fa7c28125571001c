package hierarchy

import (
	"testing"

	"github.com/memkit/memkit/engine/domain"
	"github.com/stretchr/testify/require"
)

func TestAddWithRoutingPreferenceGoesToUserAndSession(t *testing.T) {
	m := New()
	res, err := m.AddWithRouting(AddRequest{
		Content: "likes dark mode", UserID: "u1", SessionID: "s1", AgentID: "a1",
		Type: domain.TypePreference, Importance: domain.ImportanceLow,
	})
	require.NoError(t, err)
	kinds := outcomeKinds(res)
	require.True(t, kinds[domain.ScopeUser])
	require.True(t, kinds[domain.ScopeSession])
	require.False(t, kinds[domain.ScopeAgent])
}

func TestAddWithRoutingHighImportanceGoesToUserAndSession(t *testing.T) {
	m := New()
	res, err := m.AddWithRouting(AddRequest{
		Content: "critical fact", UserID: "u1", SessionID: "s1", AgentID: "a1",
		Type: domain.TypeContextual, Importance: domain.ImportanceHigh,
	})
	require.NoError(t, err)
	kinds := outcomeKinds(res)
	require.True(t, kinds[domain.ScopeUser])
	require.True(t, kinds[domain.ScopeSession])
	require.False(t, kinds[domain.ScopeAgent])
}

func TestAddWithRoutingKnowledgeTypeGoesToAgentAndSession(t *testing.T) {
	m := New()
	res, err := m.AddWithRouting(AddRequest{
		Content: "paris is the capital of france", UserID: "u1", SessionID: "s1", AgentID: "a1",
		Type: domain.TypeFactual, Importance: domain.ImportanceLow,
	})
	require.NoError(t, err)
	kinds := outcomeKinds(res)
	require.True(t, kinds[domain.ScopeAgent])
	require.True(t, kinds[domain.ScopeSession])
	require.False(t, kinds[domain.ScopeUser])
}

func TestAddWithRoutingDefaultGoesToSessionOnly(t *testing.T) {
	m := New()
	res, err := m.AddWithRouting(AddRequest{
		Content: "passing chit-chat", UserID: "u1", SessionID: "s1", AgentID: "a1",
		Type: domain.TypeEpisodic, Importance: domain.ImportanceLow,
	})
	require.NoError(t, err)
	kinds := outcomeKinds(res)
	require.False(t, kinds[domain.ScopeUser])
	require.False(t, kinds[domain.ScopeAgent])
	require.True(t, kinds[domain.ScopeSession])
}

func TestAddWithRoutingPartialFailureToleratesMissingOwner(t *testing.T) {
	m := New()
	res, err := m.AddWithRouting(AddRequest{
		Content: "likes dark mode", UserID: "u1", SessionID: "", AgentID: "a1",
		Type: domain.TypePreference, Importance: domain.ImportanceLow,
	})
	require.NoError(t, err)
	var sawErr, sawOK bool
	for _, o := range res.Outcomes {
		if o.Scope == domain.ScopeSession {
			require.Error(t, o.Err, "expected session outcome to fail on empty sessionId")
			sawErr = true
		}
		if o.Scope == domain.ScopeUser && o.Err == nil {
			sawOK = true
		}
	}
	require.True(t, sawErr)
	require.True(t, sawOK)
}

func TestSearchAcrossHierarchyFusesByWeightedMax(t *testing.T) {
	m := New()
	mustAdd(t, m, AddRequest{Content: "cats and dogs are pets", UserID: "u1", SessionID: "s1", AgentID: "a1", Type: domain.TypeContextual, Importance: domain.ImportanceHigh})
	mustAdd(t, m, AddRequest{Content: "cats purr when happy", UserID: "u1", SessionID: "s1", AgentID: "a1", Type: domain.TypeEpisodic, Importance: domain.ImportanceLow})

	results := m.SearchAcrossHierarchy("u1", "s1", "a1", "cats", 10)
	require.NotEmpty(t, results)
	for _, r := range results {
		require.Greater(t, r.Score, 0.0)
	}
}

func TestSearchAcrossHierarchySkipsEmptyOwnerIDs(t *testing.T) {
	m := New()
	mustAdd(t, m, AddRequest{Content: "only session scoped chit-chat", UserID: "u1", SessionID: "s1", AgentID: "a1", Type: domain.TypeEpisodic, Importance: domain.ImportanceLow})

	results := m.SearchAcrossHierarchy("", "s1", "", "chit-chat", 10)
	require.Len(t, results, 1)
}

func TestEndSessionWithTransferPromotesQualifyingMemories(t *testing.T) {
	m := New()
	mustAdd(t, m, AddRequest{Content: "user prefers dark mode", UserID: "u1", SessionID: "s1", AgentID: "a1", Type: domain.TypePreference, Importance: domain.ImportanceLow})
	mustAdd(t, m, AddRequest{Content: "small talk about weather", UserID: "u1", SessionID: "s1", AgentID: "a1", Type: domain.TypeEpisodic, Importance: domain.ImportanceLow})

	promoted, err := m.EndSessionWithTransfer("s1", "u1", domain.ImportanceMedium)
	require.NoError(t, err)
	require.Equal(t, 1, promoted, "expected exactly 1 promoted memory (the preference)")

	userScope := m.scopeFor(domain.ScopeUser, "u1")
	require.NotEmpty(t, userScope.All())

	m.mu.Lock()
	_, stillExists := m.bySess["s1"]
	m.mu.Unlock()
	require.False(t, stillExists, "expected session scope to be discarded after transfer")
}

func TestEndSessionWithTransferUnknownSessionIsNoop(t *testing.T) {
	m := New()
	promoted, err := m.EndSessionWithTransfer("missing", "u1", domain.ImportanceMedium)
	require.NoError(t, err)
	require.Equal(t, 0, promoted)
}

func TestPlaceInScopeResolvesConflictViaCustomResolver(t *testing.T) {
	m := New().WithResolver(ResolverFunc(func(existing, candidate *domain.Memory) Resolution {
		return KeepOld
	}))
	req := AddRequest{Content: "same content", UserID: "u1", SessionID: "s1", AgentID: "a1", Type: domain.TypeFactual, Importance: domain.ImportanceLow}
	first := mustAdd(t, m, req)
	mustAdd(t, m, req)

	agentScope := m.scopeFor(domain.ScopeAgent, "a1")
	records := agentScope.All()
	require.Len(t, records, 1, "expected KeepOld to prevent duplicate")
	require.Equal(t, first.Memory.ID, records[0].ID, "expected original record to survive KeepOld resolution")
}

func TestMergeResolverCombinesTags(t *testing.T) {
	m := New().WithResolver(ResolverFunc(func(existing, candidate *domain.Memory) Resolution {
		return Merge
	}))
	req1 := AddRequest{Content: "same fact", UserID: "u1", SessionID: "s1", AgentID: "a1", Type: domain.TypeFactual, Importance: domain.ImportanceLow, Tags: []string{"alpha"}}
	req2 := AddRequest{Content: "same fact", UserID: "u1", SessionID: "s1", AgentID: "a1", Type: domain.TypeFactual, Importance: domain.ImportanceLow, Tags: []string{"beta"}}

	mustAdd(t, m, req1)
	mustAdd(t, m, req2)

	agentScope := m.scopeFor(domain.ScopeAgent, "a1")
	records := agentScope.All()
	require.Len(t, records, 1, "expected merge to collapse into 1 record")
	require.True(t, records[0].HasTag("alpha"))
	require.True(t, records[0].HasTag("beta"))
}

func TestAddWithRoutingRejectsEmptyContent(t *testing.T) {
	m := New()
	_, err := m.AddWithRouting(AddRequest{Content: "   ", UserID: "u1", SessionID: "s1", Type: domain.TypeEpisodic})
	require.Error(t, err)
}

func mustAdd(t *testing.T, m *Manager, req AddRequest) *RoutingResult {
	t.Helper()
	res, err := m.AddWithRouting(req)
	require.NoError(t, err)
	return res
}

func outcomeKinds(res *RoutingResult) map[domain.ScopeKind]bool {
	out := make(map[domain.ScopeKind]bool)
	for _, o := range res.Outcomes {
		if o.Err == nil {
			out[o.Scope] = true
		}
	}
	return out
}
