// Package hybrid implements the Hybrid Search engine (spec §4.2): a
// semantic/keyword/fuzzy strategy fan-out fused by per-strategy weighted
// max, with adaptive weight tuning.
package hybrid

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/memkit/memkit/engine/domain"
	"github.com/memkit/memkit/pkg/fn"
)

// Default strategy weights (spec §4.2).
const (
	defaultWeightSemantic = 0.6
	defaultWeightKeyword  = 0.3
	defaultWeightFuzzy    = 0.1

	fuzzyTokenFloor = 0.3
)

// SemanticScorer is the subset of engine/semantic.Index the semantic
// strategy delegates to.
type SemanticScorer interface {
	CosineScores(ctx context.Context, query string) (map[string]float64, error)
}

// SearchContext lets a caller raise/lower per-strategy weights for a single
// search (spec §4.2 "Context"). Zero values mean "no override".
type SearchContext struct {
	SemanticMultiplier float64
	KeywordMultiplier  float64
	FuzzyMultiplier    float64
}

// Options configures a Search engine instance.
type Options struct {
	SemanticThreshold  float64
	RelevanceThreshold float64
	MaxResults         int
	AdaptiveWeights    bool
}

// DefaultOptions mirrors spec §4.2's defaults.
func DefaultOptions() Options {
	return Options{
		SemanticThreshold:  0.7,
		RelevanceThreshold: 0.3,
		MaxResults:         10,
		AdaptiveWeights:    false,
	}
}

// StrategyStats reports one strategy's contribution fraction and timing.
type StrategyStats struct {
	ContributionFraction float64
	Duration             time.Duration
}

// RankedResult is the engine's output: fused ranked memories plus
// per-strategy telemetry.
type RankedResult struct {
	Items []ScoredMemory
	Stats map[string]StrategyStats
}

// ScoredMemory pairs a memory id with its fused score.
type ScoredMemory struct {
	ID    string
	Score float64
}

// Engine is the Hybrid Search engine.
type Engine struct {
	semantic SemanticScorer
	opts     Options

	mu      sync.Mutex
	weights map[string]float64
}

// New creates an Engine backed by a SemanticScorer (typically
// *semantic.Index).
func New(semantic SemanticScorer, opts Options) *Engine {
	return &Engine{
		semantic: semantic,
		opts:     opts,
		weights: map[string]float64{
			"semantic": defaultWeightSemantic,
			"keyword":  defaultWeightKeyword,
			"fuzzy":    defaultWeightFuzzy,
		},
	}
}

// Search runs the three strategies in parallel over memories, fuses scores
// by weighted max, and returns results above RelevanceThreshold, truncated
// to MaxResults.
func (e *Engine) Search(ctx context.Context, query string, memories []*domain.Memory, sctx *SearchContext) (RankedResult, error) {
	weights := e.effectiveWeights(sctx)

	var semErr error
	durations := make([]time.Duration, 3)
	scores := fn.FanOut(
		func() map[string]float64 {
			start := time.Now()
			defer func() { durations[0] = time.Since(start) }()
			s, err := e.scoreSemantic(ctx, query)
			if err != nil {
				semErr = err
			}
			return s
		},
		func() map[string]float64 {
			start := time.Now()
			defer func() { durations[1] = time.Since(start) }()
			return scoreKeyword(query, memories)
		},
		func() map[string]float64 {
			start := time.Now()
			defer func() { durations[2] = time.Since(start) }()
			return scoreFuzzy(query, memories)
		},
	)
	if semErr != nil {
		return RankedResult{}, semErr
	}

	semScores, keywordScores, fuzzyScores := scores[0], scores[1], scores[2]

	fused := make(map[string]float64)
	contribution := map[string]float64{"semantic": 0, "keyword": 0, "fuzzy": 0}
	for id, s := range semScores {
		if s < e.opts.SemanticThreshold {
			continue
		}
		weighted := s * weights["semantic"]
		if weighted > fused[id] {
			fused[id] = weighted
			contribution["semantic"]++
		}
	}
	applyStrategy(fused, contribution, keywordScores, weights["keyword"], "keyword")
	applyStrategy(fused, contribution, fuzzyScores, weights["fuzzy"], "fuzzy")

	items := make([]ScoredMemory, 0, len(fused))
	for id, s := range fused {
		if s < e.opts.RelevanceThreshold {
			continue
		}
		items = append(items, ScoredMemory{ID: id, Score: s})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].ID < items[j].ID
	})
	if e.opts.MaxResults > 0 && len(items) > e.opts.MaxResults {
		items = items[:e.opts.MaxResults]
	}

	total := contribution["semantic"] + contribution["keyword"] + contribution["fuzzy"]
	stats := make(map[string]StrategyStats, 3)
	names := []string{"semantic", "keyword", "fuzzy"}
	for i, name := range names {
		frac := 0.0
		if total > 0 {
			frac = contribution[name] / total
		}
		stats[name] = StrategyStats{ContributionFraction: frac, Duration: durations[i]}
	}

	if e.opts.AdaptiveWeights {
		e.updateWeights(items, durations)
	}

	return RankedResult{Items: items, Stats: stats}, nil
}

func applyStrategy(fused, contribution map[string]float64, scores map[string]float64, weight float64, name string) {
	for id, s := range scores {
		weighted := s * weight
		if weighted > fused[id] {
			fused[id] = weighted
			contribution[name]++
		}
	}
}

func (e *Engine) scoreSemantic(ctx context.Context, query string) (map[string]float64, error) {
	if e.semantic == nil {
		return nil, nil
	}
	return e.semantic.CosineScores(ctx, query)
}

// scoreKeyword scores each memory by the fraction of query tokens it
// contains.
func scoreKeyword(query string, memories []*domain.Memory) map[string]float64 {
	qTokens := tokenize(query)
	out := make(map[string]float64, len(memories))
	if len(qTokens) == 0 {
		return out
	}
	for _, m := range memories {
		cTokens := tokenSet(m.Content)
		matched := 0
		for _, qt := range qTokens {
			if cTokens[qt] {
				matched++
			}
		}
		out[m.ID] = float64(matched) / float64(len(qTokens))
	}
	return out
}

// scoreFuzzy scores each memory by the max normalized-Levenshtein
// similarity between any query token and any content token, floored at
// fuzzyTokenFloor.
func scoreFuzzy(query string, memories []*domain.Memory) map[string]float64 {
	qTokens := tokenize(query)
	out := make(map[string]float64, len(memories))
	for _, m := range memories {
		cTokens := tokenize(m.Content)
		best := 0.0
		for _, qt := range qTokens {
			for _, ct := range cTokens {
				sim := 1 - levenshteinRatio(qt, ct)
				if sim < fuzzyTokenFloor {
					sim = fuzzyTokenFloor
				}
				if sim > best {
					best = sim
				}
			}
		}
		out[m.ID] = best
	}
	return out
}

func tokenize(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

func tokenSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, t := range tokenize(s) {
		out[t] = true
	}
	return out
}

// levenshteinRatio returns Levenshtein(a, b) / max(len(a), len(b)).
func levenshteinRatio(a, b string) float64 {
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 0
	}
	return float64(levenshtein(a, b)) / float64(maxLen)
}

// levenshtein computes classic edit distance via a two-row dynamic
// programming table. No pack repo ships a Levenshtein library with this
// exact normalized-ratio shape, so this is a justified stdlib build.
func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			curr[j] = min3(del, ins, sub)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

// effectiveWeights applies SearchContext multipliers on top of the engine's
// current persisted weights, without mutating them.
func (e *Engine) effectiveWeights(sctx *SearchContext) map[string]float64 {
	e.mu.Lock()
	base := map[string]float64{
		"semantic": e.weights["semantic"],
		"keyword":  e.weights["keyword"],
		"fuzzy":    e.weights["fuzzy"],
	}
	e.mu.Unlock()

	if sctx == nil {
		return base
	}
	if sctx.SemanticMultiplier > 0 {
		base["semantic"] *= sctx.SemanticMultiplier
	}
	if sctx.KeywordMultiplier > 0 {
		base["keyword"] *= sctx.KeywordMultiplier
	}
	if sctx.FuzzyMultiplier > 0 {
		base["fuzzy"] *= sctx.FuzzyMultiplier
	}
	return base
}

// updateWeights applies spec §4.2's adaptive-weight rule using this
// search's average relevance and response time as the performance signal.
func (e *Engine) updateWeights(items []ScoredMemory, durations []time.Duration) {
	if len(items) == 0 {
		return
	}
	var sumScore float64
	for _, it := range items {
		sumScore += it.Score
	}
	avgRelevance := sumScore / float64(len(items))

	var total time.Duration
	for _, d := range durations {
		total += d
	}
	avgSeconds := total.Seconds() / float64(len(durations))
	if avgSeconds < 0.1 {
		avgSeconds = 0.1
	}
	perfScore := avgRelevance / avgSeconds

	e.mu.Lock()
	defer e.mu.Unlock()
	for name, w := range e.weights {
		w *= 1 + perfScore*0.1
		if w < 0.1 {
			w = 0.1
		}
		if w > 1.0 {
			w = 1.0
		}
		e.weights[name] = w
	}
}
