package gc

import (
	"context"
	"sync"
	"time"
)

// worker runs one background loop with the Start/Stop contract shared by
// the scheduler and the consumer.
type worker struct {
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	doneCh  chan struct{}
}

// start launches fn unless a loop is already running. fn must return once
// its context is cancelled.
func (w *worker) start(ctx context.Context, fn func(context.Context)) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return false
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.running = true
	w.cancel = cancel
	w.doneCh = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		fn(runCtx)
	}(w.doneCh)
	return true
}

// stop cancels the loop and waits for it to return.
func (w *worker) stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.cancel()
	done := w.doneCh
	w.mu.Unlock()

	<-done

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
}

func (w *worker) isRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// sleep waits for d or until ctx is done. It reports false when ctx ended
// first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
