package cache

import (
	"context"
	"runtime"
	"time"

	"go.uber.org/zap"
)

// PressureWatcher shrinks a MemoryCache while the Go heap is above a limit
// and restores it once the heap has fallen below half the limit.
type PressureWatcher struct {
	cache    *MemoryCache
	limit    uint64
	interval time.Duration
	log      *zap.Logger
	readHeap func() uint64
}

func NewPressureWatcher(c *MemoryCache, limitBytes uint64, interval time.Duration, log *zap.Logger) *PressureWatcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &PressureWatcher{
		cache:    c,
		limit:    limitBytes,
		interval: interval,
		log:      log,
		readHeap: heapInUse,
	}
}

func heapInUse() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapInuse
}

// Check samples the heap once and adjusts the cache budget.
func (w *PressureWatcher) Check() {
	if w.limit == 0 {
		return
	}
	heap := w.readHeap()
	switch {
	case heap > w.limit:
		if w.cache.Shrink() {
			w.log.Warn("Memory pressure, shrinking tile cache",
				zap.Uint64("heap_bytes", heap),
				zap.Uint64("limit_bytes", w.limit))
		}
	case heap < w.limit/2:
		if w.cache.Restore() {
			w.log.Info("Memory pressure relieved, restoring tile cache",
				zap.Uint64("heap_bytes", heap))
		}
	}
}

// Run checks periodically until ctx is done.
func (w *PressureWatcher) Run(ctx context.Context) {
	if w.limit == 0 {
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Check()
		}
	}
}
