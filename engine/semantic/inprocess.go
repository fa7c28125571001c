package semantic

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/memkit/memkit/engine/domain"
	"github.com/memkit/memkit/engine/mathx"
)

// InProcessVectorStore is the in-process milvus-like shim mentioned in spec
// §4.5 — suitable for tests and single-node deployments with no external
// vector database.
type InProcessVectorStore struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

type collection struct {
	dim    int
	points map[string]point
}

type point struct {
	embedding []float32
	metadata  map[string]any
}

// NewInProcessVectorStore creates an empty shim.
func NewInProcessVectorStore() *InProcessVectorStore {
	return &InProcessVectorStore{collections: make(map[string]*collection)}
}

func (s *InProcessVectorStore) CreateCollection(_ context.Context, name string, dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; ok {
		return nil
	}
	s.collections[name] = &collection{dim: dim, points: make(map[string]point)}
	return nil
}

func (s *InProcessVectorStore) CollectionExists(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.collections[name]
	return ok, nil
}

func (s *InProcessVectorStore) Insert(_ context.Context, coll, id string, embedding []float32, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[coll]
	if !ok {
		return fmt.Errorf("semantic: collection %s does not exist", coll)
	}
	if len(embedding) != c.dim {
		return domain.ErrDimensionMismatch
	}

	c.points[id] = point{embedding: embedding, metadata: copyMeta(metadata)}
	return nil
}

func (s *InProcessVectorStore) Delete(_ context.Context, coll, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collections[coll]; ok {
		delete(c.points, id)
	}
	return nil
}

func (s *InProcessVectorStore) Search(_ context.Context, coll string, query []float32, limit int, filter map[string]any) ([]ScoredHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[coll]
	if !ok {
		return nil, nil
	}

	hits := make([]ScoredHit, 0, len(c.points))
	for id, p := range c.points {
		if !matchesFilter(p.metadata, filter) {
			continue
		}
		hits = append(hits, ScoredHit{
			ID:       id,
			Score:    mathx.Cosine(query, p.embedding),
			Metadata: copyMeta(p.metadata),
		})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// matchesFilter implements client-side equality filtering — the floor
// behavior spec §4.5 requires for backends that cannot enforce filters
// server-side.
func matchesFilter(metadata, filter map[string]any) bool {
	for k, v := range filter {
		if metadata[k] != v {
			return false
		}
	}
	return true
}

func copyMeta(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
