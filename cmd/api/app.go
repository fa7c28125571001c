package main

import (
	"context"
	"sync"

	"github.com/memkit/memkit/engine/domain"
	"github.com/memkit/memkit/engine/exec"
)

// liveIndex tracks the set of memories the process has observed, purely to
// give the in-process semantic.Index (spec §4.3) something to rebuild
// from — it has no persistent corpus of its own, unlike the pipeline's
// vector/graph stores.
type liveIndex struct {
	mu    sync.Mutex
	byID  map[string]*domain.Memory
}

func newLiveIndex() *liveIndex {
	return &liveIndex{byID: make(map[string]*domain.Memory)}
}

func (l *liveIndex) put(mem *domain.Memory) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byID[mem.ID] = mem
}

func (l *liveIndex) delete(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.byID, id)
}

func (l *liveIndex) snapshot() []*domain.Memory {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*domain.Memory, 0, len(l.byID))
	for _, m := range l.byID {
		out = append(out, m)
	}
	return out
}

// reindexAsync submits a semantic.Index rebuild to the memory-management
// worker pool (spec §5) so that a write's HTTP response doesn't block on
// re-embedding the whole live corpus.
func (a *app) reindexAsync() {
	snapshot := a.live.snapshot()
	_ = a.exec.Submit(context.Background(), exec.ClassMemoryManagement, func(ctx context.Context) error {
		return a.index.RebuildIndex(ctx, snapshot)
	})
}
