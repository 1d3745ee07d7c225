package netmgr

import (
	"context"
	"time"
)

// WaitForRequest blocks until a request matching pred starts. A timeout of
// zero falls back to the manager's process timeout. The listener is removed
// on every exit path, including timeout.
func (m *Manager) WaitForRequest(ctx context.Context, pred func(*Request) bool, timeout time.Duration) (*Request, error) {
	if timeout <= 0 {
		timeout = m.processTimeout
	}
	ch := make(chan *Request, 1)
	id := m.OnRequest(func(r *Request) {
		if pred(r) {
			select {
			case ch <- r:
			default:
			}
		}
	})
	defer m.Off(id)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		return r, nil
	case <-timer.C:
		return nil, &TimeoutError{Op: "wait for request", Timeout: timeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WaitForRequestURL waits for a request whose URL matches the glob or
// regular expression pattern.
func (m *Manager) WaitForRequestURL(ctx context.Context, pattern string, timeout time.Duration) (*Request, error) {
	return m.WaitForRequest(ctx, func(r *Request) bool {
		return MatchURL(r.URL(), pattern)
	}, timeout)
}

// WaitForResponse blocks until a response matching pred arrives. A timeout
// of zero falls back to the manager's process timeout.
func (m *Manager) WaitForResponse(ctx context.Context, pred func(*Response) bool, timeout time.Duration) (*Response, error) {
	if timeout <= 0 {
		timeout = m.processTimeout
	}
	ch := make(chan *Response, 1)
	id := m.OnResponse(func(r *Response) {
		if pred(r) {
			select {
			case ch <- r:
			default:
			}
		}
	})
	defer m.Off(id)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		return r, nil
	case <-timer.C:
		return nil, &TimeoutError{Op: "wait for response", Timeout: timeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WaitForResponseURL waits for a response whose URL matches the glob or
// regular expression pattern.
func (m *Manager) WaitForResponseURL(ctx context.Context, pattern string, timeout time.Duration) (*Response, error) {
	return m.WaitForResponse(ctx, func(r *Response) bool {
		return MatchURL(r.URL(), pattern)
	}, timeout)
}
