// Package semantic implements the Semantic Index (spec §4.3) and the
// VectorStore adapter contract (spec §4.5): a narrow interface over either
// an in-process shim or a real Qdrant collection.
package semantic

import "context"

// ScoredHit is one similarity-search result from a VectorStore.
type ScoredHit struct {
	ID       string
	Score    float64
	Metadata map[string]any
}

// VectorStore is the pipeline-facing adapter contract (spec §4.5). All
// methods are pure-async; the embedding dimension is fixed per collection.
// Insert takes an explicit id rather than generating one, so the vector
// record can share its identity with the originating Memory (spec §3:
// "every Memory has at most one vector record").
type VectorStore interface {
	CreateCollection(ctx context.Context, name string, dim int) error
	CollectionExists(ctx context.Context, name string) (bool, error)
	Insert(ctx context.Context, coll, id string, embedding []float32, metadata map[string]any) error
	Delete(ctx context.Context, coll, id string) error
	Search(ctx context.Context, coll string, query []float32, limit int, filter map[string]any) ([]ScoredHit, error)
}

var (
	_ VectorStore = (*InProcessVectorStore)(nil)
	_ VectorStore = (*QdrantVectorStore)(nil)
)
