package semantic

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/memkit/memkit/engine/cache"
	"github.com/memkit/memkit/engine/domain"
	"github.com/memkit/memkit/engine/mathx"
)

const (
	batchSize          = 50
	queryEmbedCacheCap = 1000
	maxExpansions      = 5
)

// Default score-composition weights (spec §4.3.1).
const (
	defaultWeightSemantic = 0.5
	defaultWeightImportance = 0.3
	defaultWeightRecency  = 0.2
	defaultContextWeight  = 0.1
)

// EmbeddingProvider is the subset of the embedder contract the index needs.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SearchConfig tunes one call to Search.
type SearchConfig struct {
	Threshold  float64
	MaxResults int
	Context    float64 // external contextual boost, added at 0.1x weight
	Rerank     bool
}

// Result is one scored memory returned by Search.
type Result struct {
	ID    string
	Score float64
}

// indexed is the state kept per memory.
type indexed struct {
	embedding      []float32
	importance     float64
	createdAt      time.Time
	content        string
	tags           []string
	accessCount    int64
}

// Index is the in-process Semantic Index (spec §4.3): id->embedding plus a
// reverse keyword index, rebuilt atomically and scanned linearly on search.
type Index struct {
	embedder EmbeddingProvider
	synonyms map[string][]string

	mu      sync.RWMutex
	records map[string]indexed
	terms   map[string]map[string]bool // term -> {id}
	termFreq map[string]int            // term -> corpus frequency, for suggestions

	queryCache *cache.TTLCache[string, []float32]
}

// New creates an Index backed by embedder, with an optional synonym table
// (nil is fine — query expansion then only returns the original query).
func New(embedder EmbeddingProvider, synonyms map[string][]string) *Index {
	return &Index{
		embedder:   embedder,
		synonyms:   synonyms,
		records:    make(map[string]indexed),
		terms:      make(map[string]map[string]bool),
		termFreq:   make(map[string]int),
		queryCache: cache.New[string, []float32](queryEmbedCacheCap, 30*time.Minute),
	}
}

// RebuildIndex re-embeds memories in sub-batches of 50 and swaps state
// atomically: readers during rebuild observe either the old or the new
// state, never a partial mix.
func (idx *Index) RebuildIndex(ctx context.Context, memories []*domain.Memory) error {
	newRecords := make(map[string]indexed, len(memories))
	newTerms := make(map[string]map[string]bool)
	newFreq := make(map[string]int)

	for start := 0; start < len(memories); start += batchSize {
		end := start + batchSize
		if end > len(memories) {
			end = len(memories)
		}
		batch := memories[start:end]

		for _, m := range batch {
			emb, err := idx.embedder.Embed(ctx, m.Content)
			if err != nil {
				return err
			}
			newRecords[m.ID] = indexed{
				embedding:   emb,
				importance:  m.Importance.Score(),
				createdAt:   m.CreatedAt,
				content:     m.Content,
				tags:        append([]string(nil), m.Tags...),
				accessCount: m.AccessCount,
			}
			for _, tok := range uniqueTokens(m.Content) {
				if newTerms[tok] == nil {
					newTerms[tok] = make(map[string]bool)
				}
				newTerms[tok][m.ID] = true
				newFreq[tok]++
			}
		}
	}

	idx.mu.Lock()
	idx.records = newRecords
	idx.terms = newTerms
	idx.termFreq = newFreq
	idx.mu.Unlock()

	idx.queryCache.Clear()
	return nil
}

// Search runs query expansion, embeds the (possibly expanded) query,
// linearly scans every indexed embedding, scores by §4.3.1, and cuts to
// cfg.MaxResults.
func (idx *Index) Search(ctx context.Context, query string, cfg SearchConfig) ([]Result, error) {
	best, err := idx.CosineScores(ctx, query)
	if err != nil {
		return nil, err
	}

	idx.mu.RLock()
	records := idx.records
	idx.mu.RUnlock()

	lowered := strings.ToLower(query)
	results := make([]Result, 0, len(best))
	for id, cos := range best {
		if cos < cfg.Threshold {
			continue
		}
		rec := records[id]
		final := score(cos, rec, cfg.Context)
		if cfg.Rerank {
			final = rerank(final, lowered, rec)
		}
		results = append(results, Result{ID: id, Score: final})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if cfg.MaxResults > 0 && len(results) > cfg.MaxResults {
		results = results[:cfg.MaxResults]
	}
	return results, nil
}

// CosineScores embeds query (and its bounded synonym expansions), then
// returns the best cosine similarity against every indexed embedding,
// keyed by memory id. This is the raw semantic-similarity primitive engine
// §4.2's hybrid search strategy delegates to.
func (idx *Index) CosineScores(ctx context.Context, query string) (map[string]float64, error) {
	queries := idx.expand(query)

	idx.mu.RLock()
	records := idx.records
	idx.mu.RUnlock()

	best := make(map[string]float64, len(records))
	for _, q := range queries {
		qEmb, err := idx.embedQuery(ctx, q)
		if err != nil {
			return nil, err
		}
		for id, rec := range records {
			cos := mathx.Cosine(qEmb, rec.embedding)
			if v, ok := best[id]; !ok || cos > v {
				best[id] = cos
			}
		}
	}
	return best, nil
}

// score implements spec §4.3.1's composition formula.
func score(cosine float64, rec indexed, contextBoost float64) float64 {
	daysOld := time.Since(rec.createdAt).Hours() / 24
	recency := 1 / (daysOld + 1)
	if recency < 0.1 {
		recency = 0.1
	}
	return defaultWeightSemantic*cosine +
		defaultWeightImportance*rec.importance +
		defaultWeightRecency*recency +
		defaultContextWeight*contextBoost
}

// rerank applies the optional substring/tag/access-count boosts.
func rerank(final float64, loweredQuery string, rec indexed) float64 {
	if strings.Contains(strings.ToLower(rec.content), loweredQuery) {
		final *= 1.10
	}
	for _, tag := range rec.tags {
		if strings.Contains(loweredQuery, strings.ToLower(tag)) {
			final *= 1.05
		}
	}
	if rec.accessCount > 5 {
		final *= 1.02
	}
	return final
}

// embedQuery embeds text with an LRU cache of queryEmbedCacheCap entries.
func (idx *Index) embedQuery(ctx context.Context, text string) ([]float32, error) {
	if v, ok := idx.queryCache.Get(text); ok {
		return v, nil
	}
	v, err := idx.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	idx.queryCache.Set(text, v)
	return v, nil
}

// expand returns up to maxExpansions queries (including the original) via a
// bounded synonym table lookup on each query token.
func (idx *Index) expand(query string) []string {
	out := []string{query}
	if idx.synonyms == nil {
		return out
	}
	for _, tok := range uniqueTokens(query) {
		for _, syn := range idx.synonyms[tok] {
			if len(out) >= maxExpansions {
				return out
			}
			out = append(out, strings.Replace(query, tok, syn, 1))
		}
	}
	return out
}

// Suggestions returns prefix matches on the indexed term vocabulary, sorted
// by corpus term frequency descending, capped at k.
func (idx *Index) Suggestions(prefix string, k int) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	prefix = strings.ToLower(prefix)
	type scored struct {
		term string
		freq int
	}
	var matches []scored
	for term, freq := range idx.termFreq {
		if strings.HasPrefix(term, prefix) {
			matches = append(matches, scored{term, freq})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].freq != matches[j].freq {
			return matches[i].freq > matches[j].freq
		}
		return matches[i].term < matches[j].term
	})
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.term
	}
	return out
}

func uniqueTokens(text string) []string {
	lower := strings.ToLower(text)
	fields := strings.Fields(lower)
	seen := make(map[string]bool, len(fields))
	var out []string
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}
