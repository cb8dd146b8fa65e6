package manager

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/simeonmiteff/go-utcp/pkg/metrics"
	"github.com/simeonmiteff/go-utcp/pkg/timer"
)

// Option configures a Manager at construction time: each Option sets
// one field, composed via New's variadic list.
type Option func(*Manager)

// WithInitialWindow overrides the default 1024-byte host window
// advertised on every new connection.
func WithInitialWindow(w uint16) Option {
	return func(m *Manager) { m.initialWindow = w }
}

// WithRetransmitTimeout overrides the default 5s retransmission period.
func WithRetransmitTimeout(d time.Duration) Option {
	return func(m *Manager) { m.retransmitTimeout = d }
}

// WithTimeWaitDuration overrides the default 5s TIME-WAIT expiry.
func WithTimeWaitDuration(d time.Duration) Option {
	return func(m *Manager) { m.timeWaitDuration = d }
}

// WithFlushInterval overrides the default 200ms periodic flush period.
func WithFlushInterval(d time.Duration) Option {
	return func(m *Manager) { m.flushInterval = d }
}

// WithLogger attaches a base logrus.Entry; connection- and
// manager-level log lines are built from it via WithField.
func WithLogger(log *logrus.Entry) Option {
	return func(m *Manager) { m.log = log }
}

// WithMetrics attaches a *metrics.Collector; if omitted, no metrics are
// recorded.
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Manager) { m.metrics = c }
}

// WithTimerWorkers overrides the timer service's worker-pool size
// (default 4).
func WithTimerWorkers(n int) Option {
	return func(m *Manager) {
		m.timers.Stop()
		m.timers = timer.New(n)
	}
}
