package graph

import (
	"context"
	"fmt"

	"github.com/memkit/memkit/engine/domain"
	"github.com/memkit/memkit/pkg/repo"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// Neo4jGraphStore is a durable GraphStore backed by a Neo4j driver,
// implementing the same contract as the in-process Store. Adjacency (Node's
// Out/In sets) is not maintained here — Neo4j relationships are queried
// live, so GetNode returns a node with empty Out/In; callers that need
// adjacency should use GetRelationships or the traversal methods directly.
type Neo4jGraphStore struct {
	driver neo4j.DriverWithContext
	nodes  *repo.Neo4jRepo[*domain.Node, string]
}

// NewNeo4jGraphStore wraps driver behind the GraphStore contract.
func NewNeo4jGraphStore(driver neo4j.DriverWithContext) *Neo4jGraphStore {
	return &Neo4jGraphStore{
		driver: driver,
		nodes: repo.NewNeo4jRepo[*domain.Node, string](
			driver,
			"MemoryNode",
			nodeToMap,
			nodeFromRecord,
		),
	}
}

// CreateNode generates an id and stores a node.
func (g *Neo4jGraphStore) CreateNode(ctx context.Context, label string, props map[string]any) string {
	id := domain.NewID()
	_ = g.CreateNodeWithID(ctx, id, label, props)
	return id
}

// CreateNodeWithID stores a node under a caller-supplied id.
func (g *Neo4jGraphStore) CreateNodeWithID(ctx context.Context, id, label string, props map[string]any) error {
	n := &domain.Node{ID: id, Label: label, Properties: copyProps(props)}
	_, err := g.nodes.Create(ctx, n)
	return err
}

// GetNode returns the node for id, or nil if it does not exist.
func (g *Neo4jGraphStore) GetNode(ctx context.Context, id string) (*domain.Node, error) {
	n, err := g.nodes.Get(ctx, id)
	if err != nil {
		return nil, nil //nolint:nilerr // not-found is not an error in this contract
	}
	return n, nil
}

// UpdateNode merges props into the existing node.
func (g *Neo4jGraphStore) UpdateNode(ctx context.Context, id string, props map[string]any) error {
	existing, err := g.nodes.Get(ctx, id)
	if err != nil {
		return ErrNoSuchNode
	}
	merged := copyProps(existing.Properties)
	for k, v := range props {
		merged[k] = v
	}
	n := &domain.Node{ID: id, Label: existing.Label, Properties: merged}
	_, err = g.nodes.Update(ctx, n)
	return err
}

// DeleteNode removes the node and cascade-deletes incident relationships via
// Cypher's DETACH DELETE.
func (g *Neo4jGraphStore) DeleteNode(ctx context.Context, id string) (bool, error) {
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	result, err := sess.Run(ctx, `MATCH (n:MemoryNode {id: $id}) DETACH DELETE n RETURN count(n) AS deleted`, map[string]any{"id": id})
	if err != nil {
		return false, err
	}
	if !result.Next(ctx) {
		return false, nil
	}
	count, _, err := neo4j.GetRecordValue[int64](result.Record(), "deleted")
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// CreateRelationship requires both endpoints to exist, failing with
// ErrNoSuchNode otherwise.
func (g *Neo4jGraphStore) CreateRelationship(ctx context.Context, src, dst, typ string, props map[string]any) (string, error) {
	id := domain.NewID()
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	cypher := fmt.Sprintf(
		`MATCH (a:MemoryNode {id: $src}), (b:MemoryNode {id: $dst})
		 MERGE (a)-[r:%s {id: $id}]->(b)
		 SET r += $props
		 RETURN r`,
		sanitizeRelType(typ),
	)
	result, err := sess.Run(ctx, cypher, map[string]any{
		"src": src, "dst": dst, "id": id, "props": props,
	})
	if err != nil {
		return "", err
	}
	if !result.Next(ctx) {
		return "", fmt.Errorf("%w: %s or %s", ErrNoSuchNode, src, dst)
	}
	return id, nil
}

// GetRelationships returns both in- and out-edges of id; when typ is empty,
// returns all relationship types.
func (g *Neo4jGraphStore) GetRelationships(ctx context.Context, id string, typ string) ([]domain.Relationship, error) {
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	pattern := "[r]"
	if typ != "" {
		pattern = fmt.Sprintf("[r:%s]", sanitizeRelType(typ))
	}
	cypher := fmt.Sprintf(
		`MATCH (n:MemoryNode {id: $id})-%s-(m:MemoryNode)
		 RETURN r, startNode(r).id AS src, endNode(r).id AS dst, type(r) AS type`, pattern)
	result, err := sess.Run(ctx, cypher, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}

	var out []domain.Relationship
	for result.Next(ctx) {
		rec := result.Record()
		rel, _, err := neo4j.GetRecordValue[dbtype.Relationship](rec, "r")
		if err != nil {
			return nil, err
		}
		src, _, _ := neo4j.GetRecordValue[string](rec, "src")
		dst, _, _ := neo4j.GetRecordValue[string](rec, "dst")
		relType, _, _ := neo4j.GetRecordValue[string](rec, "type")
		out = append(out, domain.Relationship{
			ID:         strProp(rel.Props, "id"),
			Src:        src,
			Dst:        dst,
			Type:       relType,
			Properties: rel.Props,
		})
	}
	return out, nil
}

// FindConnectedNodes runs a bounded variable-length match out to maxDepth,
// any direction, optionally filtered by relationship type.
func (g *Neo4jGraphStore) FindConnectedNodes(ctx context.Context, id string, typ string, maxDepth int) ([]*domain.Node, error) {
	return g.traverse(ctx, id, typ, maxDepth)
}

// DepthFirstTraversal has the same reachability as FindConnectedNodes for
// the Neo4j backend: Cypher's variable-length match does not distinguish
// BFS/DFS order, so both return the same reachable-node set.
func (g *Neo4jGraphStore) DepthFirstTraversal(ctx context.Context, id string, typ string, maxDepth int) ([]*domain.Node, error) {
	return g.traverse(ctx, id, typ, maxDepth)
}

func (g *Neo4jGraphStore) traverse(ctx context.Context, id string, typ string, maxDepth int) ([]*domain.Node, error) {
	if maxDepth <= 0 {
		return nil, nil
	}
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	rel := "*1..%d"
	if typ != "" {
		rel = ":" + sanitizeRelType(typ) + "*1..%d"
	}
	cypher := fmt.Sprintf(
		`MATCH (start:MemoryNode {id: $id})-[%s]-(n:MemoryNode)
		 WHERE n.id <> $id
		 RETURN DISTINCT n`, fmt.Sprintf(rel, maxDepth))
	result, err := sess.Run(ctx, cypher, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}

	var out []*domain.Node
	for result.Next(ctx) {
		node, _, err := neo4j.GetRecordValue[dbtype.Node](result.Record(), "n")
		if err != nil {
			return nil, err
		}
		out = append(out, nodeFromProps(node.Props))
	}
	return out, nil
}

func nodeToMap(n *domain.Node) map[string]any {
	m := map[string]any{"id": n.ID, "label": n.Label}
	for k, v := range n.Properties {
		m["prop_"+k] = v
	}
	return m
}

func nodeFromRecord(rec *neo4j.Record) (*domain.Node, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
	if err != nil {
		return nil, err
	}
	return nodeFromProps(node.Props), nil
}

func nodeFromProps(props map[string]any) *domain.Node {
	n := &domain.Node{
		ID:         strProp(props, "id"),
		Label:      strProp(props, "label"),
		Properties: make(map[string]any),
		Out:        make(map[string]bool),
		In:         make(map[string]bool),
	}
	for k, v := range props {
		if len(k) > 5 && k[:5] == "prop_" {
			n.Properties[k[5:]] = v
		}
	}
	return n
}

func strProp(props map[string]any, key string) string {
	if v, ok := props[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// sanitizeRelType ensures the relationship type is a valid Cypher identifier.
func sanitizeRelType(t string) string {
	safe := make([]byte, 0, len(t))
	for i := range t {
		c := t[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			safe = append(safe, c)
		}
	}
	if len(safe) == 0 {
		return "RELATED_TO"
	}
	for i := range safe {
		if safe[i] >= 'a' && safe[i] <= 'z' {
			safe[i] -= 32
		}
	}
	return string(safe)
}
