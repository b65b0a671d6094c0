package search

import (
	"context"
	"sync"
	"time"

	"github.com/notedrop/notedrop/internal/storage"
)

// Result is the outcome of one debounced search.
type Result struct {
	Query string
	Notes []storage.Note
	Err   error
}

// Debouncer coalesces a stream of live-typed queries. Each new query
// cancels the in-flight one; only the result of the most recent query
// is ever delivered, so stale results cannot overwrite fresh ones.
type Debouncer struct {
	engine *Engine
	delay  time.Duration
	apply  func(Result)

	mu     sync.Mutex
	cancel context.CancelFunc
	seq    uint64
}

// NewDebouncer creates a debouncer that waits delay after the last
// keystroke before searching and hands completed results to apply.
// apply is called from a background goroutine.
func NewDebouncer(engine *Engine, delay time.Duration, apply func(Result)) *Debouncer {
	return &Debouncer{engine: engine, delay: delay, apply: apply}
}

// Search supersedes any pending or in-flight search with query.
func (d *Debouncer) Search(ctx context.Context, query string) {
	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.seq++
	seq := d.seq
	d.mu.Unlock()

	go func() {
		defer cancel()

		select {
		case <-runCtx.Done():
			return
		case <-time.After(d.delay):
		}

		notes, err := d.engine.Search(runCtx, query)

		// A newer query may have been issued while this one ran; its
		// cancel fired but the store call can still have returned.
		d.mu.Lock()
		superseded := seq != d.seq
		d.mu.Unlock()
		if superseded || runCtx.Err() != nil {
			return
		}

		d.apply(Result{Query: query, Notes: notes, Err: err})
	}()
}

// Stop cancels any pending search.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.seq++
}
