// Package connectivity tracks whether the remote ledger is reachable.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Prober checks the remote ledger once.
type Prober interface {
	Health(ctx context.Context) error
}

// Monitor probes the remote ledger periodically and signals each
// offline->online transition.
type Monitor struct {
	prober   Prober
	interval time.Duration
	timeout  time.Duration

	mu     sync.RWMutex
	online bool

	transitions chan struct{}
}

// NewMonitor creates a monitor starting in the given state.
func NewMonitor(prober Prober, interval time.Duration, initialOnline bool) *Monitor {
	timeout := interval / 2
	if timeout <= 0 || timeout > 5*time.Second {
		timeout = 5 * time.Second
	}
	return &Monitor{
		prober:      prober,
		interval:    interval,
		timeout:     timeout,
		online:      initialOnline,
		transitions: make(chan struct{}, 1),
	}
}

// Online reports the last known state.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Transitions delivers a value whenever the monitor goes from offline to
// online. Signals coalesce when nobody is reading.
func (m *Monitor) Transitions() <-chan struct{} {
	return m.transitions
}

// SetOnline records a state change, e.g. from a platform network callback.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	was := m.online
	m.online = online
	m.mu.Unlock()

	if was == online {
		return
	}
	slog.Info("Connectivity changed", "online", online)
	if online {
		select {
		case m.transitions <- struct{}{}:
		default:
		}
	}
}

// Check probes once and updates the state.
func (m *Monitor) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.prober.Health(ctx)
	if err != nil {
		slog.Debug("Connectivity probe failed", "error", err)
	}
	m.SetOnline(err == nil)
	return err == nil
}

// Run probes every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	m.Check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
