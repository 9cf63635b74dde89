package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/deixis/mdpilot/internal/session"
	"golang.org/x/sync/errgroup"
)

// Manager runs one status poller per session. Pollers are independent
// and cancellable; they share nothing beyond each session's own job
// handle and metadata file.
type Manager struct {
	Monitor  *Monitor
	Interval time.Duration

	ctx     context.Context
	g       *errgroup.Group
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewManager creates a poller manager. ctx bounds the lifetime of all
// pollers; Close cancels and drains them.
func NewManager(ctx context.Context, m *Monitor, interval time.Duration) *Manager {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	g, gctx := errgroup.WithContext(ctx)
	return &Manager{
		Monitor:  m,
		Interval: interval,
		ctx:      gctx,
		g:        g,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Watch starts a periodic status poller for the session. The poller
// stops on its own once a terminal status is observed. Watching an
// already-watched session is a no-op.
func (mg *Manager) Watch(s *session.Session) {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	if _, ok := mg.cancels[s.ID]; ok {
		return
	}
	ctx, cancel := context.WithCancel(mg.ctx)
	mg.cancels[s.ID] = cancel
	mg.g.Go(func() error {
		defer mg.unwatch(s.ID)
		mg.poll(ctx, s)
		return nil
	})
}

// Unwatch cancels the session's poller, if any.
func (mg *Manager) Unwatch(id string) {
	mg.mu.Lock()
	cancel := mg.cancels[id]
	mg.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close cancels every poller and waits for them to drain.
func (mg *Manager) Close() {
	mg.mu.Lock()
	for _, cancel := range mg.cancels {
		cancel()
	}
	mg.mu.Unlock()
	_ = mg.g.Wait()
}

func (mg *Manager) unwatch(id string) {
	mg.mu.Lock()
	if cancel, ok := mg.cancels[id]; ok {
		cancel()
		delete(mg.cancels, id)
	}
	mg.mu.Unlock()
}

// poll evaluates the session's status on a constant interval until a
// terminal state is reached or the context is cancelled. The ticker
// channel closes when the context does.
func (mg *Manager) poll(ctx context.Context, s *session.Session) {
	ticker := backoff.NewTicker(backoff.WithContext(backoff.NewConstantBackOff(mg.Interval), ctx))
	defer ticker.Stop()
	for range ticker.C {
		if mg.Monitor.Status(s).Status.Terminal() {
			return
		}
	}
}
