package catalog

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ViewCounter applies view-count increments asynchronously. Increments are
// best-effort: when the queue is full or a write fails, the bump is dropped
// and only logged. A lost view count never fails a page request.
type ViewCounter struct {
	store  Store
	ch     chan string
	logger *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewViewCounter creates a ViewCounter with a buffered queue of the given
// size and starts its worker.
func NewViewCounter(store Store, queueSize int, logger *slog.Logger) *ViewCounter {
	v := &ViewCounter{
		store:  store,
		ch:     make(chan string, queueSize),
		logger: logger.With("component", "view_counter"),
		done:   make(chan struct{}),
	}
	go v.run()
	return v
}

// Bump enqueues a view-count increment for the series. Never blocks.
func (v *ViewCounter) Bump(pageSlug string) {
	select {
	case v.ch <- pageSlug:
	default:
		v.logger.Debug("view queue full, increment dropped", "slug", pageSlug)
	}
}

// Close stops the worker after draining queued increments.
func (v *ViewCounter) Close() {
	v.closeOnce.Do(func() {
		close(v.ch)
		<-v.done
	})
}

func (v *ViewCounter) run() {
	defer close(v.done)
	for pageSlug := range v.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := v.store.IncrementViews(ctx, pageSlug); err != nil {
			v.logger.Debug("view increment failed", "slug", pageSlug, "err", err)
		}
		cancel()
	}
}
