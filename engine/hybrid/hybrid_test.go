package hybrid

import (
	"context"
	"testing"

	"github.com/memkit/memkit/engine/domain"
	"github.com/stretchr/testify/require"
)

type fakeScorer struct {
	scores map[string]float64
	err    error
}

func (f *fakeScorer) CosineScores(_ context.Context, _ string) (map[string]float64, error) {
	return f.scores, f.err
}

func sampleMemories() []*domain.Memory {
	return []*domain.Memory{
		{ID: "m1", Content: "the quick brown fox jumps"},
		{ID: "m2", Content: "a lazy dog sleeps all day"},
		{ID: "m3", Content: "foxes are quick and clever"},
	}
}

func TestSearchFusesStrategiesByWeightedMax(t *testing.T) {
	scorer := &fakeScorer{scores: map[string]float64{"m1": 0.9, "m2": 0.1, "m3": 0.5}}
	eng := New(scorer, DefaultOptions())

	result, err := eng.Search(context.Background(), "quick fox", sampleMemories(), nil)
	require.NoError(t, err)
	require.NotEmpty(t, result.Items)
	require.Equal(t, "m1", result.Items[0].ID, "expected m1 to rank first")
}

func TestSearchRelevanceThresholdFiltersLowScores(t *testing.T) {
	scorer := &fakeScorer{scores: map[string]float64{"m1": 0.9, "m2": 0.01, "m3": 0.01}}
	opts := DefaultOptions()
	opts.RelevanceThreshold = 0.2
	eng := New(scorer, opts)

	result, err := eng.Search(context.Background(), "quick", sampleMemories(), nil)
	require.NoError(t, err)
	for _, it := range result.Items {
		require.GreaterOrEqual(t, it.Score, 0.2, "expected all items above threshold")
	}
}

func TestSearchMaxResultsTruncates(t *testing.T) {
	scorer := &fakeScorer{scores: map[string]float64{"m1": 0.9, "m2": 0.8, "m3": 0.7}}
	opts := DefaultOptions()
	opts.MaxResults = 2
	eng := New(scorer, opts)

	result, err := eng.Search(context.Background(), "quick", sampleMemories(), nil)
	require.NoError(t, err)
	require.Len(t, result.Items, 2)
}

func TestSearchTieBreaksAscendingID(t *testing.T) {
	scorer := &fakeScorer{scores: map[string]float64{"m1": 0.5, "m2": 0.5, "m3": 0.5}}
	eng := New(scorer, DefaultOptions())

	result, err := eng.Search(context.Background(), "same", sampleMemories(), nil)
	require.NoError(t, err)
	for i := 1; i < len(result.Items); i++ {
		if result.Items[i-1].Score == result.Items[i].Score {
			require.LessOrEqual(t, result.Items[i-1].ID, result.Items[i].ID, "expected ascending id tiebreak")
		}
	}
}

func TestSearchContextOverridesWeightsWithoutPersisting(t *testing.T) {
	scorer := &fakeScorer{scores: map[string]float64{"m1": 0.5}}
	eng := New(scorer, DefaultOptions())

	before := eng.weights["keyword"]
	sctx := &SearchContext{KeywordMultiplier: 5}
	_, err := eng.Search(context.Background(), "quick", sampleMemories(), sctx)
	require.NoError(t, err)
	after := eng.weights["keyword"]
	require.Equal(t, before, after, "expected per-search override not to persist")
}

func TestSearchSemanticErrorPropagates(t *testing.T) {
	scorer := &fakeScorer{err: context.DeadlineExceeded}
	eng := New(scorer, DefaultOptions())

	_, err := eng.Search(context.Background(), "quick", sampleMemories(), nil)
	require.Error(t, err, "expected semantic scorer error to propagate")
}

func TestAdaptiveWeightsUpdateAfterSearch(t *testing.T) {
	scorer := &fakeScorer{scores: map[string]float64{"m1": 0.9, "m2": 0.9, "m3": 0.9}}
	opts := DefaultOptions()
	opts.AdaptiveWeights = true
	eng := New(scorer, opts)

	before := map[string]float64{"semantic": eng.weights["semantic"]}
	_, err := eng.Search(context.Background(), "quick", sampleMemories(), nil)
	require.NoError(t, err)
	require.NotEqual(t, before["semantic"], eng.weights["semantic"], "expected adaptive weight update to change weights")
	require.GreaterOrEqual(t, eng.weights["semantic"], 0.1)
	require.LessOrEqual(t, eng.weights["semantic"], 1.0)
}

func TestScoreKeywordMatchesTokenRatio(t *testing.T) {
	scores := scoreKeyword("quick fox", sampleMemories())
	require.Greater(t, scores["m1"], scores["m2"], "expected m1 (contains both tokens) to outscore m2")
}

func TestScoreFuzzyFloorsAtMinimum(t *testing.T) {
	memories := []*domain.Memory{{ID: "m1", Content: "zzzzzzzzzzzzzzzzzzzzzzzzzzzzzz"}}
	scores := scoreFuzzy("quick", memories)
	require.GreaterOrEqual(t, scores["m1"], fuzzyTokenFloor)
}

func TestLevenshteinExactAndEmpty(t *testing.T) {
	require.Equal(t, 3, levenshtein("kitten", "sitting"))
	require.Equal(t, 3, levenshtein("", "abc"))
	require.Equal(t, 0, levenshtein("same", "same"))
}

func TestNilSemanticScorerDegradesGracefully(t *testing.T) {
	eng := New(nil, DefaultOptions())
	result, err := eng.Search(context.Background(), "quick", sampleMemories(), nil)
	require.NoError(t, err, "expected no error with nil semantic scorer")
	require.NotEmpty(t, result.Items, "expected keyword/fuzzy strategies to still produce results")
}

func TestStatsReportContributionFractionsSumToOne(t *testing.T) {
	scorer := &fakeScorer{scores: map[string]float64{"m1": 0.9, "m2": 0.5, "m3": 0.2}}
	eng := New(scorer, DefaultOptions())

	result, err := eng.Search(context.Background(), "quick fox", sampleMemories(), nil)
	require.NoError(t, err)
	var sum float64
	for _, s := range result.Stats {
		sum += s.ContributionFraction
	}
	if sum != 0 {
		require.InDelta(t, 1.0, sum, 0.01, "expected contribution fractions to sum to ~1")
	}
}
