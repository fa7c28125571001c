// Package pipeline implements the Memory Pipeline (spec §4.1): the
// orchestration layer that embeds, dual-writes to the vector and graph
// stores, retrieves, and ranks, with batching, back-pressure, retries, and
// caching.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/memkit/memkit/engine/cache"
	"github.com/memkit/memkit/engine/domain"
	"github.com/memkit/memkit/engine/filter"
	"github.com/memkit/memkit/engine/graph"
	"github.com/memkit/memkit/engine/semantic"
	"github.com/memkit/memkit/pkg/fn"
	"github.com/memkit/memkit/pkg/metrics"
)

// Config tunes pipeline behavior; field names follow spec §6's
// configuration table.
type Config struct {
	MaxBatchSize            int
	MaxRetries              int
	RetryDelay              time.Duration
	MaxConcurrentOperations int

	MemoryCacheCapacity int
	MemoryCacheTTL      time.Duration
	QueryCacheCapacity  int
	QueryCacheTTL       time.Duration

	SchedulerInterval    time.Duration
	ShutdownDrainTimeout time.Duration

	Collection string
}

// DefaultConfig mirrors spec §6's defaults.
func DefaultConfig() Config {
	return Config{
		MaxBatchSize:            50,
		MaxRetries:              3,
		RetryDelay:              time.Second,
		MaxConcurrentOperations: 100,
		MemoryCacheCapacity:     10_000,
		MemoryCacheTTL:          30 * time.Minute,
		QueryCacheCapacity:      5_000,
		QueryCacheTTL:           10 * time.Minute,
		SchedulerInterval:       100 * time.Millisecond,
		ShutdownDrainTimeout:    10 * time.Second,
		Collection:              "memories",
	}
}

// EmbeddingProvider is the subset of the embedder contract the pipeline
// needs (spec §6: embed/embedBatch/dimension/isHealthy/close).
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// CreateRequest is one `add` call's input (spec §6 Public API).
type CreateRequest struct {
	Content    string
	UserID     string
	SessionID  string
	AgentID    string
	Type       domain.MemoryType
	Importance domain.Importance
	Tags       []string
	Metadata   map[string]any
}

type pendingCreate struct {
	ctx      context.Context
	req      CreateRequest
	resultCh chan createResult
}

type createResult struct {
	id  string
	err error
}

// Pipeline is the Memory Pipeline.
type Pipeline struct {
	cfg      Config
	embedder EmbeddingProvider
	vectors  semantic.VectorStore
	graphs   graph.GraphStore
	monitor  *filter.Monitor
	log      *slog.Logger

	memCache   *cache.TTLCache[string, *domain.Memory]
	queryCache *cache.TTLCache[string, []*domain.Memory]

	permits chan struct{}

	mu           sync.Mutex
	queue        []*pendingCreate
	shuttingDown bool
	stopSched    chan struct{}
	inFlight     sync.WaitGroup
	schedDone    chan struct{}
}

// New wires a Pipeline and starts its background batch scheduler.
func New(cfg Config, embedder EmbeddingProvider, vectors semantic.VectorStore, graphs graph.GraphStore, monitor *filter.Monitor, log *slog.Logger) *Pipeline {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultConfig().MaxBatchSize
	}
	if cfg.MaxConcurrentOperations <= 0 {
		cfg.MaxConcurrentOperations = DefaultConfig().MaxConcurrentOperations
	}
	if cfg.SchedulerInterval <= 0 {
		cfg.SchedulerInterval = DefaultConfig().SchedulerInterval
	}
	if log == nil {
		log = slog.Default()
	}
	if monitor == nil {
		monitor = filter.NewMonitor(metrics.New())
	}

	p := &Pipeline{
		cfg:        cfg,
		embedder:   embedder,
		vectors:    vectors,
		graphs:     graphs,
		monitor:    monitor,
		log:        log,
		memCache:   cache.New[string, *domain.Memory](cfg.MemoryCacheCapacity, cfg.MemoryCacheTTL),
		queryCache: cache.New[string, []*domain.Memory](cfg.QueryCacheCapacity, cfg.QueryCacheTTL),
		permits:    make(chan struct{}, cfg.MaxConcurrentOperations),
		stopSched:  make(chan struct{}),
		schedDone:  make(chan struct{}),
	}
	go p.runScheduler()
	return p
}

// acquirePermit blocks until a permit is free, ctx is done, or the pipeline
// is shutting down.
func (p *Pipeline) acquirePermit(ctx context.Context) error {
	p.mu.Lock()
	down := p.shuttingDown
	p.mu.Unlock()
	if down {
		return domain.ErrShutdown
	}

	select {
	case p.permits <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopSched:
		return domain.ErrShutdown
	}
}

func (p *Pipeline) releasePermit() {
	<-p.permits
}

// Create implements the `add` public operation. It enqueues onto the
// background batch scheduler and blocks until that batch is processed.
func (p *Pipeline) Create(ctx context.Context, req CreateRequest) (string, error) {
	if err := domain.ValidateContent(req.Content); err != nil {
		return "", err
	}
	if err := domain.ValidateUserID(req.UserID); err != nil {
		return "", err
	}

	if err := p.acquirePermit(ctx); err != nil {
		return "", err
	}
	defer p.releasePermit()

	obs := p.monitor.Start("pipeline_create")
	p.inFlight.Add(1)
	defer p.inFlight.Done()

	resultCh := make(chan createResult, 1)
	p.mu.Lock()
	if p.shuttingDown {
		p.mu.Unlock()
		obs.Done(domain.ErrShutdown)
		return "", domain.ErrShutdown
	}
	p.queue = append(p.queue, &pendingCreate{ctx: ctx, req: req, resultCh: resultCh})
	p.mu.Unlock()

	select {
	case res := <-resultCh:
		obs.Done(res.err)
		return res.id, res.err
	case <-ctx.Done():
		obs.Done(ctx.Err())
		return "", ctx.Err()
	}
}

// CreateBatch implements `addBatch`: splits into sub-batches of
// cfg.MaxBatchSize, embeds each sub-batch in one call, writes records in
// parallel, and reports per-item failures as nil entries rather than
// aborting the whole call.
func (p *Pipeline) CreateBatch(ctx context.Context, reqs []CreateRequest) ([]*string, []error) {
	ids := make([]*string, len(reqs))
	errs := make([]error, len(reqs))

	for start := 0; start < len(reqs); start += p.cfg.MaxBatchSize {
		end := start + p.cfg.MaxBatchSize
		if end > len(reqs) {
			end = len(reqs)
		}
		sub := reqs[start:end]

		texts := make([]string, len(sub))
		for i, r := range sub {
			texts[i] = r.Content
		}
		embeddings, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			for i := range sub {
				errs[start+i] = err
			}
			continue
		}

		type outcome struct {
			idx int
			id  string
			err error
		}
		outcomes := fn.ParMap(indexRange(len(sub)), p.cfg.MaxConcurrentOperations, func(i int) outcome {
			if perr := p.acquirePermit(ctx); perr != nil {
				return outcome{idx: i, err: perr}
			}
			defer p.releasePermit()
			id, err := p.writeOne(ctx, sub[i], embeddings[i])
			return outcome{idx: i, id: id, err: err}
		})
		for _, o := range outcomes {
			if o.err != nil {
				errs[start+o.idx] = o.err
				continue
			}
			id := o.id
			ids[start+o.idx] = &id
		}
	}
	return ids, errs
}

func indexRange(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// runScheduler drains the create queue every cfg.SchedulerInterval,
// grouping pending creates into sub-batches of up to cfg.MaxBatchSize to
// amortize embedding calls (spec §4.1 "background batch scheduler").
func (p *Pipeline) runScheduler() {
	defer close(p.schedDone)
	ticker := time.NewTicker(p.cfg.SchedulerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopSched:
			p.drainQueue()
			return
		case <-ticker.C:
			p.drainQueue()
		}
	}
}

func (p *Pipeline) drainQueue() {
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		n := p.cfg.MaxBatchSize
		if n > len(p.queue) {
			n = len(p.queue)
		}
		batch := p.queue[:n]
		p.queue = p.queue[n:]
		p.mu.Unlock()

		p.processBatch(batch)
	}
}

func (p *Pipeline) processBatch(batch []*pendingCreate) {
	texts := make([]string, len(batch))
	for i, item := range batch {
		texts[i] = item.req.Content
	}

	ctx := context.Background()
	embeddings, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		for _, item := range batch {
			item.resultCh <- createResult{err: fmt.Errorf("embed batch: %w", err)}
		}
		return
	}

	fn.ParMap(indexRange(len(batch)), 0, func(i int) struct{} {
		item := batch[i]
		id, werr := p.writeOne(item.ctx, item.req, embeddings[i])
		item.resultCh <- createResult{id: id, err: werr}
		return struct{}{}
	})
}

// writeOne stores one already-embedded request: the vector write, then the
// graph write, each under retry. The two writes run one after the other,
// not in parallel; a graph-write failure triggers a compensating vector
// delete.
func (p *Pipeline) writeOne(ctx context.Context, req CreateRequest, embedding []float32) (string, error) {
	id := domain.NewID()
	now := time.Now()
	mem := &domain.Memory{
		ID:         id,
		Content:    req.Content,
		UserID:     req.UserID,
		SessionID:  req.SessionID,
		AgentID:    req.AgentID,
		Type:       domain.ValidateType(req.Type),
		Importance: domain.ValidateImportance(req.Importance),
		Tags:       req.Tags,
		Metadata:   req.Metadata,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	vecMeta := map[string]any{"userId": mem.UserID, "memoryId": mem.ID}

	vectorErr := p.retry(ctx, func(ctx context.Context) error {
		return p.vectors.Insert(ctx, p.cfg.Collection, mem.ID, embedding, vecMeta)
	})
	if vectorErr != nil {
		return "", fmt.Errorf("vector write: %w", vectorErr)
	}

	graphErr := p.retry(ctx, func(ctx context.Context) error {
		return p.graphs.CreateNodeWithID(ctx, mem.ID, string(mem.Type), memoryProps(mem))
	})
	if graphErr != nil {
		// Compensate: best-effort delete of the vector insert, per §4.1's
		// "must attempt compensating delete before reporting failure".
		if cerr := p.vectors.Delete(ctx, p.cfg.Collection, mem.ID); cerr != nil {
			p.log.Error("pipeline: compensation delete failed", "id", mem.ID, "error", cerr)
		}
		return "", fmt.Errorf("graph write: %w", graphErr)
	}

	p.memCache.Set(mem.ID, mem)
	p.invalidateQueriesFor(mem.UserID)

	return mem.ID, nil
}

// retry runs f under pkg/fn.Retry with MaxRetries attempts in total and
// exponential backoff: the first wait is RetryDelay, each later wait
// doubles, capped at RetryDelay × (MaxRetries+1).
func (p *Pipeline) retry(ctx context.Context, f func(context.Context) error) error {
	opts := fn.RetryOpts{
		MaxAttempts: p.cfg.MaxRetries,
		InitialWait: p.cfg.RetryDelay,
		MaxWait:     p.cfg.RetryDelay * time.Duration(p.cfg.MaxRetries+1),
		Jitter:      false,
	}
	result := fn.Retry(ctx, opts, func(ctx context.Context) fn.Result[struct{}] {
		if err := f(ctx); err != nil {
			return fn.Err[struct{}](err)
		}
		return fn.Ok(struct{}{})
	})
	_, err := result.Unwrap()
	return err
}

func memoryProps(mem *domain.Memory) map[string]any {
	props := map[string]any{
		"userId":      mem.UserID,
		"sessionId":   mem.SessionID,
		"agentId":     mem.AgentID,
		"content":     mem.Content,
		"importance":  int(mem.Importance),
		"tags":        mem.Tags,
		"createdAt":      mem.CreatedAt,
		"updatedAt":      mem.UpdatedAt,
		"accessCount":    mem.AccessCount,
		"lastAccessedAt": mem.LastAccessedAt,
	}
	for k, v := range mem.Metadata {
		props["meta_"+k] = v
	}
	return props
}

// invalidateQueriesFor drops every cached query result scoped to userID
// (spec §4.1's "fully invalidated for a userId on any write" rule).
func (p *Pipeline) invalidateQueriesFor(userID string) {
	p.queryCache.DeleteFunc(func(key string, _ []*domain.Memory) bool {
		return keyUserID(key) == userID
	})
}

// Shutdown stops accepting new operations, signals the scheduler to process
// what is already queued and exit, waits (bounded) for in-flight operations
// to drain and for the scheduler to exit, then clears caches.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.shuttingDown {
		p.mu.Unlock()
		return nil
	}
	p.shuttingDown = true
	p.mu.Unlock()

	close(p.stopSched)

	drained := make(chan struct{})
	go func() {
		p.inFlight.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(p.cfg.ShutdownDrainTimeout):
		p.log.Warn("pipeline: shutdown drain timeout exceeded")
	case <-ctx.Done():
	}

	<-p.schedDone
	p.memCache.Clear()
	p.queryCache.Clear()
	return nil
}
