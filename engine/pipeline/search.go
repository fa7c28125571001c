package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/memkit/memkit/engine/domain"
)

// Search implements the `search` public operation: consult the query
// cache, else embed the query, vector-search, fetch graph properties by
// id, threshold/limit, and cache the result (spec §4.1 read dataflow).
func (p *Pipeline) Search(ctx context.Context, query, userID string, limit int, threshold float64) ([]*domain.Memory, error) {
	if err := domain.ValidateUserID(userID); err != nil {
		return nil, err
	}
	if limit == 0 {
		return nil, nil
	}
	if err := p.acquirePermit(ctx); err != nil {
		return nil, err
	}
	defer p.releasePermit()

	obs := p.monitor.Start("pipeline_search")
	defer func() { obs.Done(nil) }()

	key := queryCacheKey(query, userID, limit, threshold)
	if cached, ok := p.queryCache.Get(key); ok {
		p.monitor.Count("pipeline_query_cache_hits_total", "query cache hits")
		return cached, nil
	}
	p.monitor.Count("pipeline_query_cache_misses_total", "query cache misses")

	qEmbedding, err := p.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := p.vectors.Search(ctx, p.cfg.Collection, qEmbedding, limit*2+10, map[string]any{"userId": userID})
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	memories := make([]*domain.Memory, 0, len(hits))
	for _, hit := range hits {
		if hit.Score < threshold {
			continue
		}
		mem, err := p.fetchMemory(ctx, hit.ID)
		if err != nil {
			p.log.Warn("pipeline: fetch memory for hit failed", "id", hit.ID, "error", err)
			continue
		}
		if mem == nil || mem.UserID != userID {
			continue
		}
		memories = append(memories, mem)
	}

	// hits arrive from VectorStore.Search already ordered by descending
	// score; the filtering above preserves that relative order.
	if limit > 0 && len(memories) > limit {
		memories = memories[:limit]
	}

	p.queryCache.Set(key, memories)
	return memories, nil
}

// fetchMemory consults the memory cache, else loads graph properties and
// rehydrates a Memory, caching the result.
func (p *Pipeline) fetchMemory(ctx context.Context, id string) (*domain.Memory, error) {
	if mem, ok := p.memCache.Get(id); ok {
		return mem, nil
	}
	node, err := p.graphs.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, nil
	}
	mem := memoryFromNode(node)
	p.memCache.Set(mem.ID, mem)
	return mem, nil
}

// Get implements the `get` public operation. A successful get bumps the
// memory's AccessCount and LastAccessedAt, feeding the semantic re-rank
// boost (spec §4.3.1).
func (p *Pipeline) Get(ctx context.Context, id string) (*domain.Memory, error) {
	if err := p.acquirePermit(ctx); err != nil {
		return nil, err
	}
	defer p.releasePermit()

	mem, err := p.fetchMemory(ctx, id)
	if err != nil || mem == nil {
		return mem, err
	}
	p.bumpAccess(ctx, mem)
	return mem, nil
}

// bumpAccess increments a memory's access counters and persists them to the
// graph store and memory cache, best-effort: a persistence failure is logged
// but never fails the get that triggered it.
func (p *Pipeline) bumpAccess(ctx context.Context, mem *domain.Memory) {
	mem.AccessCount++
	mem.LastAccessedAt = time.Now()
	p.memCache.Set(mem.ID, mem)
	if err := p.graphs.UpdateNode(ctx, mem.ID, memoryProps(mem)); err != nil {
		p.log.Warn("pipeline: bump access count failed", "id", mem.ID, "error", err)
	}
}

// Update implements the `update` public operation: re-embeds on content
// change, preserves createdAt, bumps updatedAt, re-writes both stores.
func (p *Pipeline) Update(ctx context.Context, id string, newContent *string, newMetadata map[string]any) (bool, error) {
	if err := p.acquirePermit(ctx); err != nil {
		return false, err
	}
	defer p.releasePermit()

	obs := p.monitor.Start("pipeline_update")
	var opErr error
	defer func() { obs.Done(opErr) }()

	mem, err := p.fetchMemory(ctx, id)
	if err != nil {
		opErr = err
		return false, err
	}
	if mem == nil {
		return false, nil
	}
	// Work on a copy so records returned by earlier calls are not changed
	// and a failed update leaves the cached record as it was.
	updated := *mem
	mem = &updated

	if newContent != nil {
		mem.Content = *newContent
	}
	if newMetadata != nil {
		mem.Metadata = newMetadata
	}
	mem.UpdatedAt = time.Now()

	if newContent != nil {
		embedding, err := p.embedder.Embed(ctx, mem.Content)
		if err != nil {
			opErr = fmt.Errorf("embed update: %w", err)
			return false, opErr
		}
		vecMeta := map[string]any{"userId": mem.UserID, "memoryId": mem.ID}
		if err := p.retry(ctx, func(ctx context.Context) error {
			return p.vectors.Insert(ctx, p.cfg.Collection, mem.ID, embedding, vecMeta)
		}); err != nil {
			opErr = fmt.Errorf("vector update: %w", err)
			return false, opErr
		}
	}

	if err := p.retry(ctx, func(ctx context.Context) error {
		return p.graphs.UpdateNode(ctx, mem.ID, memoryProps(mem))
	}); err != nil {
		opErr = fmt.Errorf("graph update: %w", err)
		return false, opErr
	}

	p.memCache.Set(mem.ID, mem)
	p.invalidateQueriesFor(mem.UserID)
	return true, nil
}

// Delete implements the `delete` public operation, cascading to both
// stores.
func (p *Pipeline) Delete(ctx context.Context, id string) (bool, error) {
	if err := p.acquirePermit(ctx); err != nil {
		return false, err
	}
	defer p.releasePermit()

	obs := p.monitor.Start("pipeline_delete")
	var opErr error
	defer func() { obs.Done(opErr) }()

	mem, err := p.fetchMemory(ctx, id)
	if err != nil {
		opErr = err
		return false, err
	}
	if mem == nil {
		return false, nil
	}

	if err := p.vectors.Delete(ctx, p.cfg.Collection, id); err != nil {
		opErr = fmt.Errorf("vector delete: %w", err)
		return false, opErr
	}
	deleted, err := p.graphs.DeleteNode(ctx, id)
	if err != nil {
		opErr = fmt.Errorf("graph delete: %w", err)
		return false, opErr
	}

	p.memCache.Delete(id)
	p.invalidateQueriesFor(mem.UserID)
	return deleted, nil
}

// Stats is the `stats` public operation's output snapshot.
type Stats struct {
	MemoryCache cacheStats
	QueryCache  cacheStats
}

type cacheStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
	Capacity  int
}

// Stats returns a snapshot of pipeline cache counters.
func (p *Pipeline) Stats() Stats {
	ms := p.memCache.Stats()
	qs := p.queryCache.Stats()
	return Stats{
		MemoryCache: cacheStats(ms),
		QueryCache:  cacheStats(qs),
	}
}

func queryCacheKey(query, userID string, limit int, threshold float64) string {
	var b strings.Builder
	b.WriteString(userID)
	b.WriteByte('\x00')
	b.WriteString(query)
	b.WriteByte('\x00')
	b.WriteString(strconv.Itoa(limit))
	b.WriteByte('\x00')
	b.WriteString(strconv.FormatFloat(threshold, 'f', -1, 64))
	return b.String()
}

// keyUserID extracts the userID prefix encoded by queryCacheKey.
func keyUserID(key string) string {
	idx := strings.IndexByte(key, '\x00')
	if idx < 0 {
		return key
	}
	return key[:idx]
}

func memoryFromNode(n *domain.Node) *domain.Memory {
	mem := &domain.Memory{
		ID:    n.ID,
		Type:  domain.MemoryType(n.Label),
	}
	if v, ok := n.Properties["userId"].(string); ok {
		mem.UserID = v
	}
	if v, ok := n.Properties["sessionId"].(string); ok {
		mem.SessionID = v
	}
	if v, ok := n.Properties["agentId"].(string); ok {
		mem.AgentID = v
	}
	if v, ok := n.Properties["content"].(string); ok {
		mem.Content = v
	}
	if v, ok := n.Properties["importance"].(int); ok {
		mem.Importance = domain.Importance(v)
	}
	if v, ok := n.Properties["tags"].([]string); ok {
		mem.Tags = v
	}
	if v, ok := n.Properties["createdAt"].(time.Time); ok {
		mem.CreatedAt = v
	}
	if v, ok := n.Properties["updatedAt"].(time.Time); ok {
		mem.UpdatedAt = v
	}
	if v, ok := n.Properties["accessCount"].(int64); ok {
		mem.AccessCount = v
	}
	if v, ok := n.Properties["lastAccessedAt"].(time.Time); ok {
		mem.LastAccessedAt = v
	}

	metadata := make(map[string]any)
	for k, v := range n.Properties {
		if strings.HasPrefix(k, "meta_") {
			metadata[strings.TrimPrefix(k, "meta_")] = v
		}
	}
	mem.Metadata = metadata

	return mem
}
