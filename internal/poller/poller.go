// Package poller runs fixed-interval status re-reads as cancellable tasks
// bound to a lifecycle scope. Closing the scope stops every task it started,
// so no loop outlives the view or operation that created it.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Maxxit-ai/maxxit-latest-sub005/internal/observability/metrics"
	"github.com/Maxxit-ai/maxxit-latest-sub005/pkg/logger"
)

// Func is one poll. Returning done stops the task; an error is logged and the
// task keeps polling.
type Func func(ctx context.Context) (done bool, err error)

// Until polls fn immediately and then every interval until it reports done
// or ctx ends.
func Until(ctx context.Context, name string, interval time.Duration, fn Func) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := fn(ctx)
		switch {
		case err != nil:
			metrics.PollTicks.WithLabelValues(name, "error").Inc()
			if ctx.Err() == nil {
				logger.Named("poller").Debug("poll failed", slog.String("task", name), slog.Any("error", err))
			}
		case done:
			metrics.PollTicks.WithLabelValues(name, "done").Inc()
			return nil
		default:
			metrics.PollTicks.WithLabelValues(name, "pending").Inc()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Scope owns a set of named polling tasks.
type Scope struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	tasks  map[string]*task
	closed bool
	wg     sync.WaitGroup
}

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScope creates a scope whose tasks also stop when parent ends.
func NewScope(parent context.Context) *Scope {
	ctx, cancel := context.WithCancel(parent)
	return &Scope{ctx: ctx, cancel: cancel, tasks: make(map[string]*task)}
}

// Start launches a named task, replacing any task running under that name.
// It returns false when the scope is already closed.
func (s *Scope) Start(name string, interval time.Duration, fn Func) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if prev, ok := s.tasks[name]; ok {
		prev.cancel()
	}
	ctx, cancel := context.WithCancel(s.ctx)
	t := &task{cancel: cancel, done: make(chan struct{})}
	s.tasks[name] = t
	s.wg.Add(1)
	s.mu.Unlock()

	metrics.ActivePollers.WithLabelValues(name).Inc()
	go func() {
		defer s.wg.Done()
		defer close(t.done)
		defer metrics.ActivePollers.WithLabelValues(name).Dec()
		defer s.forget(name, t)
		_ = Until(ctx, name, interval, fn)
	}()
	return true
}

func (s *Scope) forget(name string, t *task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tasks[name] == t {
		delete(s.tasks, name)
	}
	t.cancel()
}

// Stop cancels the named task and waits for it to exit.
func (s *Scope) Stop(name string) {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return
	}
	t.cancel()
	<-t.done
}

// Running reports whether the named task is still polling.
func (s *Scope) Running(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[name]
	return ok
}

// Close stops every task and waits for them to exit.
func (s *Scope) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}
