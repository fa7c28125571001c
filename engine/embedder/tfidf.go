// Package embedder implements the in-process TF-IDF embedding provider
// (spec §4.6): lazy vocabulary growth, IDF weighting, deterministic hashed
// projection into a fixed dimension, pooled buffers, and a query cache.
package embedder

import (
	"context"
	"hash/fnv"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/memkit/memkit/engine/cache"
	"github.com/memkit/memkit/engine/mathx"
	"github.com/memkit/memkit/engine/pool"
)

// Config tunes the embedder. Zero values fall back to spec defaults.
type Config struct {
	Dimension         int
	MaxVocabularySize int
	QueryCacheSize    int
	QueryCacheTTL     time.Duration
	VectorPoolSize    int
	TermFreqPoolSize  int
}

// DefaultConfig mirrors spec §6: embedder.dimension=300, maxVocabularySize=10000.
func DefaultConfig() Config {
	return Config{
		Dimension:         300,
		MaxVocabularySize: 10000,
		QueryCacheSize:    5000,
		QueryCacheTTL:     10 * time.Minute,
		VectorPoolSize:    200,
		TermFreqPoolSize:  100,
	}
}

// Embedder is the in-process TF-IDF EmbeddingProvider.
type Embedder struct {
	cfg Config

	mu         sync.RWMutex
	vocabulary map[string]int
	idf        map[string]float64
	trained    bool

	vectors *pool.VectorPool
	termFreq *pool.TermFreqPool
	queryCache *cache.TTLCache[string, []float32]
}

// New creates an Embedder with cfg, filling in zero fields from DefaultConfig.
func New(cfg Config) *Embedder {
	d := DefaultConfig()
	if cfg.Dimension <= 0 {
		cfg.Dimension = d.Dimension
	}
	if cfg.MaxVocabularySize <= 0 {
		cfg.MaxVocabularySize = d.MaxVocabularySize
	}
	if cfg.QueryCacheSize <= 0 {
		cfg.QueryCacheSize = d.QueryCacheSize
	}
	if cfg.QueryCacheTTL <= 0 {
		cfg.QueryCacheTTL = d.QueryCacheTTL
	}
	if cfg.VectorPoolSize <= 0 {
		cfg.VectorPoolSize = d.VectorPoolSize
	}
	if cfg.TermFreqPoolSize <= 0 {
		cfg.TermFreqPoolSize = d.TermFreqPoolSize
	}

	return &Embedder{
		cfg:        cfg,
		vocabulary: make(map[string]int, cfg.MaxVocabularySize),
		idf:        make(map[string]float64),
		vectors:    pool.NewVectorPool(cfg.Dimension, cfg.VectorPoolSize),
		termFreq:   pool.NewTermFreqPool(cfg.TermFreqPoolSize),
		queryCache: cache.New[string, []float32](cfg.QueryCacheSize, cfg.QueryCacheTTL),
	}
}

// Dimension implements the EmbeddingProvider contract (spec §6).
func (e *Embedder) Dimension() int { return e.cfg.Dimension }

// IsHealthy implements EmbeddingProvider; the in-process embedder is always
// healthy once constructed.
func (e *Embedder) IsHealthy(context.Context) bool { return true }

// Close implements EmbeddingProvider; nothing to release.
func (e *Embedder) Close() error { return nil }

// Embed turns text into a dimension-length, L2-normalized vector.
func (e *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := e.queryCache.Get(text); ok {
		out := make([]float32, len(v))
		copy(out, v)
		return out, nil
	}

	tf := e.termFreq.Get()
	for _, tok := range Tokenize(text) {
		tf[tok]++
	}

	scratch := e.vectors.Get()
	e.accumulate(scratch, tf)
	mathx.L2Normalize(scratch)

	out := make([]float32, len(scratch))
	copy(out, scratch)

	e.vectors.Release(scratch)
	e.termFreq.Release(tf)

	e.queryCache.Set(text, out)
	return out, nil
}

// EmbedBatch embeds each text independently.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// accumulate projects each term's TF-IDF weight into scratch. Must not be
// called concurrently with a vocabulary swap (trainOnCorpus) without the
// term already resolved — it takes its own lock per term lookup/insert.
func (e *Embedder) accumulate(scratch []float32, tf map[string]int) {
	for term, count := range tf {
		idx, idfVal, ok := e.resolveTerm(term)
		if !ok {
			continue // vocabulary at capacity: drop the new term silently
		}
		weight := float64(count) * idfVal
		dims := projectDims(idx, len(scratch))
		share := float32(weight / float64(len(dims)))
		for _, d := range dims {
			scratch[d] += share
		}
	}
}

// resolveTerm returns the vocabulary index and idf weight for term, growing
// the vocabulary lazily up to MaxVocabularySize (spec §4.6 "Vocabulary").
func (e *Embedder) resolveTerm(term string) (idx int, idfVal float64, ok bool) {
	e.mu.RLock()
	if i, found := e.vocabulary[term]; found {
		v := e.termIDF(term)
		e.mu.RUnlock()
		return i, v, true
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if i, found := e.vocabulary[term]; found {
		return i, e.termIDF(term), true
	}
	if len(e.vocabulary) >= e.cfg.MaxVocabularySize {
		return 0, 0, false
	}
	i := len(e.vocabulary)
	e.vocabulary[term] = i
	return i, e.termIDF(term), true
}

// termIDF looks up idf(term), falling back to 1.0 for un-trained queries
// (spec §4.6 "Queries that use un-trained embed fall back to idf(t)=1.0").
// Must be called with mu held (read or write).
func (e *Embedder) termIDF(term string) float64 {
	if !e.trained {
		return 1.0
	}
	if v, ok := e.idf[term]; ok {
		return v
	}
	return 1.0
}

// TrainOnCorpus rebuilds the vocabulary in lexicographic order, truncates it
// to MaxVocabularySize, and computes IDF from document frequency (spec
// §4.6 "trainOnCorpus"). The source sorts lexicographically rather than by
// frequency — documented as an open question in spec §9; this
// implementation keeps lexicographic order to preserve that behavior.
func (e *Embedder) TrainOnCorpus(corpus []string) {
	terms := make(map[string]struct{})
	docFreq := make(map[string]int)

	for _, doc := range corpus {
		seen := make(map[string]struct{})
		for _, tok := range Tokenize(doc) {
			terms[tok] = struct{}{}
			if _, already := seen[tok]; !already {
				docFreq[tok]++
				seen[tok] = struct{}{}
			}
		}
	}

	sorted := make([]string, 0, len(terms))
	for t := range terms {
		sorted = append(sorted, t)
	}
	sort.Strings(sorted)
	if len(sorted) > e.cfg.MaxVocabularySize {
		sorted = sorted[:e.cfg.MaxVocabularySize]
	}

	newVocab := make(map[string]int, len(sorted))
	newIDF := make(map[string]float64, len(sorted))
	n := float64(len(corpus))
	for i, t := range sorted {
		newVocab[t] = i
		df := float64(docFreq[t])
		newIDF[t] = math.Log(n / (1 + df))
	}

	e.mu.Lock()
	e.vocabulary = newVocab
	e.idf = newIDF
	e.trained = true
	e.mu.Unlock()

	e.queryCache.Clear()
}

// FindSimilarWords returns the k vocabulary terms whose TF-IDF projection is
// most similar to word's, excluding word itself.
func (e *Embedder) FindSimilarWords(ctx context.Context, word string, k int) ([]WordScore, error) {
	if k <= 0 {
		return nil, nil
	}
	target, err := e.Embed(ctx, word)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	terms := make([]string, 0, len(e.vocabulary))
	for t := range e.vocabulary {
		if t != word {
			terms = append(terms, t)
		}
	}
	e.mu.RUnlock()

	scored := make([]WordScore, 0, len(terms))
	for _, t := range terms {
		v, err := e.Embed(ctx, t)
		if err != nil {
			continue
		}
		scored = append(scored, WordScore{Word: t, Score: mathx.Cosine(target, v)})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Word < scored[j].Word
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// WordScore pairs a vocabulary term with a similarity score.
type WordScore struct {
	Word  string
	Score float64
}

// projectDims deterministically derives up to min(5, dim/10) target
// dimensions for vocabulary index idx, seeded by idx (spec §4.6
// "Projection"). At least one dimension is always returned.
func projectDims(idx, dim int) []int {
	numDims := dim / 10
	if numDims > 5 {
		numDims = 5
	}
	if numDims < 1 {
		numDims = 1
	}

	h := fnv.New64a()
	var seed [8]byte
	for i := 0; i < 8; i++ {
		seed[i] = byte(idx >> (8 * i))
	}
	h.Write(seed[:])
	state := h.Sum64()

	seen := make(map[int]bool, numDims)
	dims := make([]int, 0, numDims)
	for len(dims) < numDims && len(seen) < dim {
		state = xorshift64(state)
		d := int(state % uint64(dim))
		if !seen[d] {
			seen[d] = true
			dims = append(dims, d)
		}
	}
	return dims
}

func xorshift64(x uint64) uint64 {
	x ^= x << 13
	x ^= x >> 7
	x ^= x << 17
	return x
}
