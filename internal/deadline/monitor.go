package deadline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Submitter forces completion of a session whose time is up.
type Submitter interface {
	AutoSubmit(ctx context.Context, sessionID string) error
}

// SubmitFunc adapts a function to Submitter.
type SubmitFunc func(ctx context.Context, sessionID string) error

func (f SubmitFunc) AutoSubmit(ctx context.Context, sessionID string) error {
	return f(ctx, sessionID)
}

type Option func(*Registry)

func WithInterval(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithSubmitTimeout bounds a single auto submission.
func WithSubmitTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.submitTimeout = d
		}
	}
}

// Registry keeps at most one monitor per in-progress session.
type Registry struct {
	submitter     Submitter
	interval      time.Duration
	submitTimeout time.Duration
	now           func() time.Time
	logger        *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	monitors map[string]*monitor
	closed   bool
}

type monitor struct {
	sessionID string
	startedAt time.Time
	duration  time.Duration
	cancel    context.CancelFunc
	fired     atomic.Bool
}

func NewRegistry(submitter Submitter, opts ...Option) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		submitter:     submitter,
		interval:      time.Second,
		submitTimeout: 10 * time.Second,
		now:           time.Now,
		logger:        slog.Default(),
		ctx:           ctx,
		cancel:        cancel,
		monitors:      make(map[string]*monitor),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Watch arms a monitor for the session. Watching a session that already has a
// monitor is a no-op.
func (r *Registry) Watch(sessionID string, startedAt time.Time, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if _, ok := r.monitors[sessionID]; ok {
		return
	}

	ctx, cancel := context.WithCancel(r.ctx)
	m := &monitor{
		sessionID: sessionID,
		startedAt: startedAt,
		duration:  duration,
		cancel:    cancel,
	}
	r.monitors[sessionID] = m
	r.wg.Add(1)
	go r.run(ctx, m)
}

// Stop cancels the session's monitor, if any.
func (r *Registry) Stop(sessionID string) {
	r.mu.Lock()
	m, ok := r.monitors[sessionID]
	if ok {
		delete(r.monitors, sessionID)
	}
	r.mu.Unlock()
	if ok {
		m.cancel()
	}
}

// Active returns the number of armed monitors.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.monitors)
}

// Close cancels every monitor and waits for them to exit.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()
	r.wg.Wait()
}

func (r *Registry) run(ctx context.Context, m *monitor) {
	defer r.wg.Done()
	defer r.forget(m)

	if r.check(ctx, m) {
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r.check(ctx, m) {
				return
			}
		}
	}
}

// check reports whether the monitor has nothing left to do.
func (r *Registry) check(ctx context.Context, m *monitor) bool {
	if ctx.Err() != nil {
		return true
	}
	if Remaining(m.startedAt, m.duration, r.now()) > 0 {
		return false
	}
	if !m.fired.CompareAndSwap(false, true) {
		return true
	}

	// The completion path stops this monitor, so the submission must not
	// inherit its cancellation.
	submitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.submitTimeout)
	defer cancel()
	if err := r.submitter.AutoSubmit(submitCtx, m.sessionID); err != nil {
		r.logger.Error("auto submit failed", "session_id", m.sessionID, "error", err)
		return true
	}
	r.logger.Info("session auto submitted", "session_id", m.sessionID)
	return true
}

func (r *Registry) forget(m *monitor) {
	r.mu.Lock()
	if cur, ok := r.monitors[m.sessionID]; ok && cur == m {
		delete(r.monitors, m.sessionID)
	}
	r.mu.Unlock()
	m.cancel()
}
