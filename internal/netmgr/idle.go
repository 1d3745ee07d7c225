package netmgr

import (
	"context"
	"sync"
	"time"
)

// IdleOptions tune when the network counts as idle.
type IdleOptions struct {
	// GlobalWait caps the whole wait; when it elapses the watcher declares
	// idle regardless of traffic.
	GlobalWait time.Duration
	// InflightIdle is how long the in-flight count must stay at or below
	// NumInflight before idle is declared.
	InflightIdle time.Duration
	// NumInflight is the number of in-flight requests tolerated while idle.
	NumInflight int
}

// DefaultIdleOptions mirror the configuration defaults.
func DefaultIdleOptions() IdleOptions {
	return IdleOptions{
		GlobalWait:   40 * time.Second,
		InflightIdle: 1500 * time.Millisecond,
		NumInflight:  2,
	}
}

// IdleWatcher declares the network idle exactly once: either the in-flight
// request count stays at or below the threshold for the quiet period, or the
// global deadline expires. New requests above the threshold reset the quiet
// period.
type IdleWatcher struct {
	mgr  *Manager
	opts IdleOptions
	ch   chan struct{}

	mu       sync.Mutex
	fired    bool
	stopped  bool
	debounce *time.Timer
	global   *time.Timer
	subs     []string
}

// NewIdleWatcher starts watching. The watcher observes traffic from the
// moment it is created; the returned watcher must be released with Stop
// unless it fires.
func NewIdleWatcher(m *Manager, opts IdleOptions) *IdleWatcher {
	w := &IdleWatcher{mgr: m, opts: opts, ch: make(chan struct{})}
	w.subs = append(w.subs,
		m.On(EventRequest, func(any) { w.onChange() }),
		m.On(EventRequestFinished, func(any) { w.onChange() }),
		m.On(EventRequestFailed, func(any) { w.onChange() }),
	)
	w.mu.Lock()
	w.global = time.AfterFunc(opts.GlobalWait, w.fire)
	if m.InflightCount() <= opts.NumInflight {
		w.debounce = time.AfterFunc(opts.InflightIdle, w.fire)
	}
	w.mu.Unlock()
	return w
}

// Done is closed when idle has been declared.
func (w *IdleWatcher) Done() <-chan struct{} { return w.ch }

// Stop abandons the watch without declaring idle. Safe to call after the
// watcher fired.
func (w *IdleWatcher) Stop() {
	w.mu.Lock()
	if w.fired || w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.stopTimersLocked()
	w.mu.Unlock()
	w.unsubscribe()
}

func (w *IdleWatcher) onChange() {
	n := w.mgr.InflightCount()
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fired || w.stopped {
		return
	}
	if n > w.opts.NumInflight {
		if w.debounce != nil {
			w.debounce.Stop()
			w.debounce = nil
		}
		return
	}
	if w.debounce == nil {
		w.debounce = time.AfterFunc(w.opts.InflightIdle, w.fire)
	}
}

func (w *IdleWatcher) fire() {
	w.mu.Lock()
	if w.fired || w.stopped {
		w.mu.Unlock()
		return
	}
	w.fired = true
	w.stopTimersLocked()
	w.mu.Unlock()

	w.unsubscribe()
	w.mgr.bus.emit(EventIdle, w)
	close(w.ch)
}

func (w *IdleWatcher) stopTimersLocked() {
	if w.debounce != nil {
		w.debounce.Stop()
		w.debounce = nil
	}
	if w.global != nil {
		w.global.Stop()
		w.global = nil
	}
}

func (w *IdleWatcher) unsubscribe() {
	for _, id := range w.subs {
		w.mgr.Off(id)
	}
}

// WaitForIdle blocks until the network is idle per opts or ctx is done.
func (m *Manager) WaitForIdle(ctx context.Context, opts IdleOptions) error {
	w := NewIdleWatcher(m, opts)
	defer w.Stop()
	select {
	case <-w.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
