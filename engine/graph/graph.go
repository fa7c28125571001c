package graph

import (
	"context"

	"github.com/memkit/memkit/engine/domain"
)

// GraphStore is the contract both the in-process Store and the Neo4j-backed
// implementation satisfy (spec §4.4).
type GraphStore interface {
	CreateNode(ctx context.Context, label string, props map[string]any) string
	CreateNodeWithID(ctx context.Context, id, label string, props map[string]any) error
	GetNode(ctx context.Context, id string) (*domain.Node, error)
	UpdateNode(ctx context.Context, id string, props map[string]any) error
	DeleteNode(ctx context.Context, id string) (bool, error)
	CreateRelationship(ctx context.Context, src, dst, typ string, props map[string]any) (string, error)
	GetRelationships(ctx context.Context, id string, typ string) ([]domain.Relationship, error)
	FindConnectedNodes(ctx context.Context, id string, typ string, maxDepth int) ([]*domain.Node, error)
	DepthFirstTraversal(ctx context.Context, id string, typ string, maxDepth int) ([]*domain.Node, error)
}

var (
	_ GraphStore = (*Store)(nil)
	_ GraphStore = (*Neo4jGraphStore)(nil)
)
