package biz

import (
	"context"
	"sync"
	"time"
)

// LoadStatus is the lifecycle position of one service load.
type LoadStatus string

const (
	LoadPending  LoadStatus = "pending"
	LoadLoading  LoadStatus = "loading"
	LoadLoaded   LoadStatus = "loaded"
	LoadFailed   LoadStatus = "failed"
	LoadFallback LoadStatus = "fallback"
)

// Terminal reports whether the status is a settled outcome.
func (s LoadStatus) Terminal() bool {
	return s == LoadLoaded || s == LoadFailed || s == LoadFallback
}

// LoadingState is the progress record of one service load. Progression is
// monotonic: pending -> loading -> terminal, with failed -> loading allowed
// only on manual retry.
type LoadingState struct {
	ServiceName string     `json:"service_name"`
	Status      LoadStatus `json:"status"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     time.Time  `json:"end_time"`
	DurationMs  int64      `json:"duration_ms"`
	Error       string     `json:"error,omitempty"`
	RetryCount  int        `json:"retry_count"`
}

type loadEntry struct {
	state LoadingState
	done  chan struct{} // closed on terminal state, replaced on retry
}

// LoadTracker owns the LoadingState of every registered service. Dependents
// wait on per-service completion channels instead of polling, so a dependent
// wakes the moment its dependency settles.
type LoadTracker struct {
	mu      sync.Mutex
	entries map[string]*loadEntry
}

// NewLoadTracker creates an empty tracker.
func NewLoadTracker() *LoadTracker {
	return &LoadTracker{entries: make(map[string]*loadEntry)}
}

// Register creates a pending entry for name. Re-registering is a no-op.
func (t *LoadTracker) Register(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[name]; ok {
		return
	}
	t.entries[name] = &loadEntry{
		state: LoadingState{ServiceName: name, Status: LoadPending},
		done:  make(chan struct{}),
	}
}

// MarkLoading moves name into loading and stamps the start time. Moving out
// of failed counts as a retry and re-arms the completion channel.
func (t *LoadTracker) MarkLoading(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[name]
	if !ok {
		return
	}
	if e.state.Status == LoadFailed {
		e.state.RetryCount++
		e.done = make(chan struct{})
	}
	e.state.Status = LoadLoading
	e.state.StartTime = time.Now()
	e.state.EndTime = time.Time{}
	e.state.DurationMs = 0
	e.state.Error = ""
}

// Complete settles name with a terminal status and closes its completion
// channel, waking every dependent. Completing an already terminal entry is
// ignored.
func (t *LoadTracker) Complete(name string, status LoadStatus, loadErr error) {
	if !status.Terminal() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[name]
	if !ok || e.state.Status.Terminal() {
		return
	}
	now := time.Now()
	e.state.Status = status
	e.state.EndTime = now
	if !e.state.StartTime.IsZero() {
		e.state.DurationMs = now.Sub(e.state.StartTime).Milliseconds()
	}
	if loadErr != nil {
		e.state.Error = loadErr.Error()
	}
	close(e.done)
}

// State returns a copy of the LoadingState for name.
func (t *LoadTracker) State(name string) (LoadingState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[name]
	if !ok {
		return LoadingState{}, false
	}
	return e.state, true
}

// All returns a copy of every LoadingState keyed by service name.
func (t *LoadTracker) All() map[string]LoadingState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]LoadingState, len(t.entries))
	for name, e := range t.entries {
		out[name] = e.state
	}
	return out
}

// AwaitTerminal blocks until name settles and returns its terminal state.
// It loops because a retry can re-arm an entry between wakeup and read.
func (t *LoadTracker) AwaitTerminal(ctx context.Context, name string) (LoadingState, error) {
	for {
		t.mu.Lock()
		e, ok := t.entries[name]
		if !ok {
			t.mu.Unlock()
			return LoadingState{}, &UnknownServiceError{Name: name}
		}
		if e.state.Status.Terminal() {
			st := e.state
			t.mu.Unlock()
			return st, nil
		}
		done := e.done
		t.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return LoadingState{}, ctx.Err()
		}
	}
}
