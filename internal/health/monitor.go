// Package health runs the widget's advisory connectivity probe.
package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"giftcard-overlay/internal/errcode"
	"giftcard-overlay/internal/models"
)

// Status is the probe state.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusChecking Status = "checking"
	StatusOK       Status = "ok"
	StatusError    Status = "error"
)

// DefaultTimeout bounds a single probe.
const DefaultTimeout = 4 * time.Second

// Snapshot is a copy of the monitor state.
type Snapshot struct {
	Status      Status    `json:"status"`
	Code        string    `json:"code,omitempty"`
	LastChecked time.Time `json:"lastChecked"`
}

// Prober issues the catalog read used as a probe.
type Prober interface {
	ReadCatalog(ctx context.Context, merchantID string) (*models.Catalog, error)
}

// Monitor owns the health status. At most one probe is in flight; a new
// trigger cancels and supersedes the previous one.
type Monitor struct {
	prober     Prober
	merchantID string
	timeout    time.Duration
	logger     *zap.Logger
	now        func() time.Time

	mu        sync.Mutex
	state     Snapshot
	gen       uint64
	cancel    context.CancelFunc
	listeners []func(Snapshot)
	stopped   bool
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithTimeout overrides the probe deadline.
func WithTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock overrides the time source used for LastChecked.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMonitor creates an idle monitor.
func NewMonitor(prober Prober, merchantID string, opts ...Option) *Monitor {
	m := &Monitor{
		prober:     prober,
		merchantID: merchantID,
		timeout:    DefaultTimeout,
		logger:     zap.NewNop(),
		now:        time.Now,
		state:      Snapshot{Status: StatusIdle},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe registers fn to be called after every status change. Listeners
// run on their own goroutine and should read the snapshot they are given.
func (m *Monitor) Subscribe(fn func(Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Snapshot returns the current state.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Trigger starts a fresh probe, superseding any probe in flight.
func (m *Monitor) Trigger() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.gen++
	gen := m.gen
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	m.cancel = cancel
	m.state.Status = StatusChecking
	m.state.Code = ""
	snap := m.state
	listeners := m.listeners
	m.mu.Unlock()

	m.notify(listeners, snap)
	go m.probe(ctx, gen)
}

// Stop cancels any probe in flight and ignores later triggers.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

func (m *Monitor) probe(ctx context.Context, gen uint64) {
	_, err := m.prober.ReadCatalog(ctx, m.merchantID)
	timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)

	m.mu.Lock()
	if gen != m.gen || m.stopped {
		m.mu.Unlock()
		return
	}
	m.cancel()
	m.cancel = nil

	m.state.LastChecked = m.now()
	switch {
	case timedOut:
		m.state.Status = StatusError
		m.state.Code = errcode.Network
	case err != nil:
		m.state.Status = StatusError
		m.state.Code = errcode.CodeOf(err)
	default:
		m.state.Status = StatusOK
		m.state.Code = ""
	}
	snap := m.state
	listeners := m.listeners
	m.mu.Unlock()

	m.logger.Debug("health probe settled",
		zap.String("status", string(snap.Status)),
		zap.String("code", snap.Code),
	)
	m.notify(listeners, snap)
}

func (m *Monitor) notify(listeners []func(Snapshot), snap Snapshot) {
	for _, fn := range listeners {
		go fn(snap)
	}
}
