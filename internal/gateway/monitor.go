package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Health poll interval bounds. Polling is clamped into this range so a bad
// config value can neither hammer the gateway nor leave status stale for
// minutes.
const (
	MinHealthInterval = 2 * time.Second
	MaxHealthInterval = 60 * time.Second
)

// ClampHealthInterval applies the poll interval bounds, defaulting to 5s.
func ClampHealthInterval(d time.Duration) time.Duration {
	if d <= 0 {
		return 5 * time.Second
	}
	if d < MinHealthInterval {
		return MinHealthInterval
	}
	if d > MaxHealthInterval {
		return MaxHealthInterval
	}
	return d
}

// Monitor polls the gateway health endpoint on a fixed interval and keeps
// the last observed status. A transition callback fires only when the ok
// flag flips, never on every poll.
type Monitor struct {
	client   *Client
	interval time.Duration
	logger   *logrus.Logger

	mu           sync.RWMutex
	last         HealthStatus
	onTransition func(HealthStatus)

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewMonitor creates a monitor for the given client. interval is clamped.
func NewMonitor(client *Client, interval time.Duration, logger *logrus.Logger) *Monitor {
	return &Monitor{
		client:   client,
		interval: ClampHealthInterval(interval),
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// OnTransition registers the status-flip callback. Must be called before
// Start.
func (m *Monitor) OnTransition(fn func(HealthStatus)) {
	m.mu.Lock()
	m.onTransition = fn
	m.mu.Unlock()
}

// Start begins polling. Idempotent.
func (m *Monitor) Start() {
	m.startOnce.Do(func() {
		go m.run()
	})
}

// Stop halts polling and waits for the loop to exit. Idempotent.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
	m.startOnce.Do(func() {
		close(m.done)
	})
	<-m.done
}

// Status returns the most recent health observation. The zero status (not
// ok) is returned before the first poll completes.
func (m *Monitor) Status() HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// CalibratedThreshold returns the gateway-calibrated score cutoff, if the
// gateway is healthy and exposes one.
func (m *Monitor) CalibratedThreshold() (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.last.OK || m.last.Threshold == nil {
		return 0, false
	}
	return *m.last.Threshold, true
}

func (m *Monitor) run() {
	defer close(m.done)

	// Poll immediately so status is available right after startup.
	m.poll()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.poll()
		}
	}
}

func (m *Monitor) poll() {
	status, err := m.client.Health(context.Background())
	if err != nil {
		status.OK = false
	}

	// The gateway starts out assumed not-ok, so a first poll that also
	// fails is not a transition.
	m.mu.Lock()
	flipped := m.last.OK != status.OK
	m.last = status
	fn := m.onTransition
	m.mu.Unlock()

	if !flipped {
		return
	}

	if status.OK {
		m.logger.Infof("Scoring gateway is healthy (modelLoaded=%v)", status.ModelLoaded)
	} else {
		m.logger.Warnf("Scoring gateway is unreachable or unhealthy: %v", err)
	}
	if fn != nil {
		fn(status)
	}
}
