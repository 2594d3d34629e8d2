// Package reachability polls the API server and reports when the network
// path to it becomes satisfied or unsatisfied.
package reachability

import (
	"context"
	"sync"
	"time"

	"github.com/tobyspark/ORBIT-Camera-sub000/internal/logging"
)

// Pinger probes the server. Any answer counts as reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor polls a Pinger and publishes transitions.
type Monitor struct {
	pinger   Pinger
	interval time.Duration
	timeout  time.Duration
	log      logging.Logger

	mu        sync.Mutex
	known     bool
	satisfied bool

	changes chan bool
}

// New creates a monitor polling every interval. Each probe gets at most
// three seconds.
func New(p Pinger, interval time.Duration, log logging.Logger) *Monitor {
	if log == nil {
		log = logging.Nop()
	}
	return &Monitor{
		pinger:   p,
		interval: interval,
		timeout:  3 * time.Second,
		log:      log.With("component", "reachability"),
		changes:  make(chan bool, 1),
	}
}

// Changes delivers the new state after each transition. Only the latest
// undelivered state is kept.
func (m *Monitor) Changes() <-chan bool { return m.changes }

// Satisfied reports the last observed state.
func (m *Monitor) Satisfied() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.satisfied
}

// Run probes immediately and then on every tick until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ticker.C:
			m.Check(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// Check runs one probe and publishes a transition if the state changed.
func (m *Monitor) Check(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	err := m.pinger.Ping(probeCtx)
	cancel()
	if ctx.Err() != nil {
		return
	}
	m.set(ctx, err == nil)
}

func (m *Monitor) set(ctx context.Context, satisfied bool) {
	m.mu.Lock()
	if m.known && m.satisfied == satisfied {
		m.mu.Unlock()
		return
	}
	m.known = true
	m.satisfied = satisfied
	m.mu.Unlock()

	if satisfied {
		m.log.Info(ctx, "network path satisfied")
	} else {
		m.log.Info(ctx, "network path unsatisfied")
	}

	select {
	case m.changes <- satisfied:
	default:
		// replace the stale undelivered state
		select {
		case <-m.changes:
		default:
		}
		m.changes <- satisfied
	}
}
