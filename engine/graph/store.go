// Package graph implements the in-process property graph (spec §4.4):
// nodes and relationships with user, property and relationship-type
// indices (there is no index by node label) and bounded BFS/DFS
// traversal, plus a Neo4j-backed GraphStore implementation for durable
// deployments.
package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/memkit/memkit/engine/domain"
)

// ErrNoSuchNode is returned when an operation references a node id that
// does not exist.
var ErrNoSuchNode = fmt.Errorf("graph: no such node")

// edge is the internal relationship record.
type edge struct {
	id         string
	src, dst   string
	typ        string
	properties map[string]any
}

// Store is the in-process GraphStore. All exported methods are safe for
// concurrent use.
type Store struct {
	mu sync.RWMutex

	nodes     map[string]*domain.Node
	edges     map[string]*edge
	userIndex map[string]map[string]bool
	propIndex map[string]map[string]map[string]bool // propName -> value -> {nodeId}
	typeIndex map[string]map[string]bool             // relType -> {edgeId}

	nodeLocks sync.Map // nodeId -> *sync.Mutex, serializes per-node mutation
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		nodes:     make(map[string]*domain.Node),
		edges:     make(map[string]*edge),
		userIndex: make(map[string]map[string]bool),
		propIndex: make(map[string]map[string]map[string]bool),
		typeIndex: make(map[string]map[string]bool),
	}
}

func (s *Store) lockFor(id string) *sync.Mutex {
	l, _ := s.nodeLocks.LoadOrStore(id, &sync.Mutex{})
	return l.(*sync.Mutex)
}

// CreateNode generates an id, stores a node with label and props, and
// indexes userId if present in props.
func (s *Store) CreateNode(ctx context.Context, label string, props map[string]any) string {
	id := domain.NewID()
	s.CreateNodeWithID(ctx, id, label, props)
	return id
}

// CreateNodeWithID stores a node under a caller-supplied id, used by the
// memory pipeline so that memoryId == nodeId.
func (s *Store) CreateNodeWithID(_ context.Context, id, label string, props map[string]any) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	n := &domain.Node{
		ID:         id,
		Label:      label,
		Properties: copyProps(props),
		Out:        make(map[string]bool),
		In:         make(map[string]bool),
	}

	s.mu.Lock()
	s.nodes[id] = n
	s.indexProps(id, n.Properties)
	if userID, ok := stringProp(n.Properties, "userId"); ok {
		s.indexUser(userID, id)
	}
	s.mu.Unlock()
	return nil
}

// GetNode returns the node for id, or nil if it does not exist (or was
// deleted). It holds the store's read lock, so it waits for a write in
// progress and a write waits for it.
func (s *Store) GetNode(_ context.Context, id string) (*domain.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, nil
	}
	return cloneNode(n), nil
}

// UpdateNode merges props into the existing node's properties, rebuilding
// affected property-index entries.
func (s *Store) UpdateNode(_ context.Context, id string, props map[string]any) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[id]
	if !ok {
		return ErrNoSuchNode
	}

	s.unindexProps(id, n.Properties)
	for k, v := range props {
		n.Properties[k] = v
	}
	s.indexProps(id, n.Properties)
	return nil
}

// DeleteNode removes the node, cascade-deletes every incident edge, and
// removes it from the property/user indices. Returns false if id is
// unknown.
func (s *Store) DeleteNode(_ context.Context, id string) (bool, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[id]
	if !ok {
		return false, nil
	}

	incident := make(map[string]bool, len(n.Out)+len(n.In))
	for eid := range n.Out {
		incident[eid] = true
	}
	for eid := range n.In {
		incident[eid] = true
	}
	for eid := range incident {
		s.removeEdgeLocked(eid)
	}

	s.unindexProps(id, n.Properties)
	if userID, ok := stringProp(n.Properties, "userId"); ok {
		if set := s.userIndex[userID]; set != nil {
			delete(set, id)
		}
	}
	delete(s.nodes, id)
	return true, nil
}

// CreateRelationship requires both endpoints to exist, failing with
// ErrNoSuchNode otherwise.
func (s *Store) CreateRelationship(_ context.Context, src, dst, typ string, props map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	srcNode, ok := s.nodes[src]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoSuchNode, src)
	}
	dstNode, ok := s.nodes[dst]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoSuchNode, dst)
	}

	id := domain.NewID()
	s.edges[id] = &edge{id: id, src: src, dst: dst, typ: typ, properties: copyProps(props)}
	srcNode.Out[id] = true
	dstNode.In[id] = true

	if s.typeIndex[typ] == nil {
		s.typeIndex[typ] = make(map[string]bool)
	}
	s.typeIndex[typ][id] = true

	return id, nil
}

// GetRelationships returns both in- and out-edges of id; when typ is empty,
// returns all relationship types.
func (s *Store) GetRelationships(_ context.Context, id string, typ string) ([]domain.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[id]
	if !ok {
		return nil, nil
	}

	var out []domain.Relationship
	for eid := range n.Out {
		if e, ok := s.edges[eid]; ok && (typ == "" || e.typ == typ) {
			out = append(out, toRelationship(e))
		}
	}
	for eid := range n.In {
		if e, ok := s.edges[eid]; ok && (typ == "" || e.typ == typ) {
			out = append(out, toRelationship(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// FindConnectedNodes runs BFS from id out to maxDepth across edges of
// matching type (any direction), returning visited nodes excluding the
// start, in BFS layer order with ties broken by ascending id.
func (s *Store) FindConnectedNodes(_ context.Context, id string, typ string, maxDepth int) ([]*domain.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.nodes[id]; !ok {
		return nil, nil
	}
	if maxDepth <= 0 {
		return nil, nil
	}

	visited := map[string]bool{id: true}
	frontier := []string{id}
	var result []*domain.Node

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		next := make(map[string]bool)
		for _, cur := range frontier {
			for _, nb := range s.neighborsLocked(cur, typ) {
				if !visited[nb] {
					next[nb] = true
				}
			}
		}
		layer := make([]string, 0, len(next))
		for nb := range next {
			layer = append(layer, nb)
		}
		sort.Strings(layer)
		for _, nb := range layer {
			visited[nb] = true
			if n := s.nodes[nb]; n != nil {
				result = append(result, cloneNode(n))
			}
		}
		frontier = layer
	}
	return result, nil
}

// DepthFirstTraversal runs pre-order DFS from id out to maxDepth, same
// cycle handling as FindConnectedNodes, excluding the start node.
func (s *Store) DepthFirstTraversal(_ context.Context, id string, typ string, maxDepth int) ([]*domain.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.nodes[id]; !ok {
		return nil, nil
	}
	if maxDepth <= 0 {
		return nil, nil
	}

	visited := map[string]bool{id: true}
	var result []*domain.Node
	var walk func(cur string, depth int)
	walk = func(cur string, depth int) {
		if depth >= maxDepth {
			return
		}
		nbs := s.neighborsLocked(cur, typ)
		sort.Strings(nbs)
		for _, nb := range nbs {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			if n := s.nodes[nb]; n != nil {
				result = append(result, cloneNode(n))
			}
			walk(nb, depth+1)
		}
	}
	walk(id, 0)
	return result, nil
}

// FindByProperty returns node ids indexed under propName=value.
func (s *Store) FindByProperty(propName string, value any) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vals, ok := s.propIndex[propName]
	if !ok {
		return nil
	}
	set, ok := vals[fmt.Sprint(value)]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// neighborsLocked returns ids reachable in one hop from cur across edges of
// matching type, any direction. Caller must hold s.mu (read or write).
func (s *Store) neighborsLocked(cur, typ string) []string {
	n, ok := s.nodes[cur]
	if !ok {
		return nil
	}
	var out []string
	for eid := range n.Out {
		if e, ok := s.edges[eid]; ok && (typ == "" || e.typ == typ) {
			out = append(out, e.dst)
		}
	}
	for eid := range n.In {
		if e, ok := s.edges[eid]; ok && (typ == "" || e.typ == typ) {
			out = append(out, e.src)
		}
	}
	return out
}

// removeEdgeLocked deletes an edge and unlinks it from both endpoints and
// the type index. Caller must hold s.mu.
func (s *Store) removeEdgeLocked(eid string) {
	e, ok := s.edges[eid]
	if !ok {
		return
	}
	if srcNode, ok := s.nodes[e.src]; ok {
		delete(srcNode.Out, eid)
	}
	if dstNode, ok := s.nodes[e.dst]; ok {
		delete(dstNode.In, eid)
	}
	if set := s.typeIndex[e.typ]; set != nil {
		delete(set, eid)
	}
	delete(s.edges, eid)
}

// indexProps adds id into propIndex for each scalar property. Caller must
// hold s.mu.
func (s *Store) indexProps(id string, props map[string]any) {
	for k, v := range props {
		val := fmt.Sprint(v)
		if s.propIndex[k] == nil {
			s.propIndex[k] = make(map[string]map[string]bool)
		}
		if s.propIndex[k][val] == nil {
			s.propIndex[k][val] = make(map[string]bool)
		}
		s.propIndex[k][val][id] = true
	}
}

// unindexProps removes id from propIndex for each scalar property. Caller
// must hold s.mu.
func (s *Store) unindexProps(id string, props map[string]any) {
	for k, v := range props {
		val := fmt.Sprint(v)
		if set := s.propIndex[k][val]; set != nil {
			delete(set, id)
		}
	}
}

// indexUser adds id into userIndex[userID]. Caller must hold s.mu.
func (s *Store) indexUser(userID, id string) {
	if s.userIndex[userID] == nil {
		s.userIndex[userID] = make(map[string]bool)
	}
	s.userIndex[userID][id] = true
}

func stringProp(props map[string]any, key string) (string, bool) {
	v, ok := props[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func copyProps(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}

func cloneNode(n *domain.Node) *domain.Node {
	out := &domain.Node{
		ID:         n.ID,
		Label:      n.Label,
		Properties: copyProps(n.Properties),
		Out:        make(map[string]bool, len(n.Out)),
		In:         make(map[string]bool, len(n.In)),
	}
	for k := range n.Out {
		out.Out[k] = true
	}
	for k := range n.In {
		out.In[k] = true
	}
	return out
}

func toRelationship(e *edge) domain.Relationship {
	return domain.Relationship{
		ID:         e.id,
		Src:        e.src,
		Dst:        e.dst,
		Type:       e.typ,
		Properties: copyProps(e.properties),
	}
}
