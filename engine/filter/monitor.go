package filter

import (
	"time"

	"github.com/memkit/memkit/pkg/metrics"
)

// Monitor records per-operation counters and timings over a metrics
// registry, one Counter/Histogram pair per operation name, created lazily
// on first use.
type Monitor struct {
	reg *metrics.Registry
}

// NewMonitor wraps reg. Pass metrics.New() for a fresh registry, or an
// existing one to share it with other components.
func NewMonitor(reg *metrics.Registry) *Monitor {
	return &Monitor{reg: reg}
}

// Observation is returned by Start; call Done to record the outcome.
type Observation struct {
	mon   *Monitor
	op    string
	start time.Time
}

// Start begins timing op. Call Done(err) when it completes.
func (m *Monitor) Start(op string) *Observation {
	return &Observation{mon: m, op: op, start: time.Now()}
}

// Done records the operation's duration and outcome.
func (o *Observation) Done(err error) {
	o.mon.reg.Histogram(o.op+"_duration_seconds", o.op+" duration in seconds", metrics.DefaultBuckets).
		Since(o.start)
	if err != nil {
		o.mon.reg.Counter(o.op+"_failures_total", o.op+" failures").Inc()
		return
	}
	o.mon.reg.Counter(o.op+"_success_total", o.op+" successes").Inc()
}

// Count increments a named counter without timing (e.g. cache hit/miss).
func (m *Monitor) Count(name, help string) {
	m.reg.Counter(name, help).Inc()
}

// Registry exposes the underlying registry, e.g. to mount its HTTP handler.
func (m *Monitor) Registry() *metrics.Registry {
	return m.reg
}
