package metrics

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// Counter names exposed by Runtime, in display order.
const (
	Runs               = "runs"
	Cycles             = "cycles"
	Delegations        = "delegations"
	DelegationFailures = "delegationFailures"
	Fallbacks          = "fallbacks"
	Commands           = "commands"
	Replays            = "replays"
	HealthChecks       = "healthChecks"
	RuntimeChecks      = "runtimeChecks"
	ChatRequests       = "chatRequests"
	TasksQueued        = "tasksQueued"
)

var counterNames = []string{Runs, Cycles, Delegations, DelegationFailures, Fallbacks, Commands, Replays, HealthChecks, RuntimeChecks, ChatRequests, TasksQueued}

// Runtime counts orchestration activity for the runtime metrics endpoint and
// the /metrics command.
type Runtime struct {
	started  time.Time
	now      func() time.Time
	counters map[string]*atomic.Uint64
}

// NewRuntime creates a zeroed counter set whose uptime starts now.
func NewRuntime() *Runtime {
	return newRuntimeWithClock(time.Now)
}

func newRuntimeWithClock(now func() time.Time) *Runtime {
	r := &Runtime{started: now(), now: now, counters: make(map[string]*atomic.Uint64, len(counterNames))}
	for _, name := range counterNames {
		r.counters[name] = new(atomic.Uint64)
	}
	return r
}

// Inc adds one to the named counter. Unknown names are ignored.
func (r *Runtime) Inc(name string) {
	r.Add(name, 1)
}

// Add adds n to the named counter.
func (r *Runtime) Add(name string, n uint64) {
	if r == nil {
		return
	}
	if c, ok := r.counters[name]; ok {
		c.Add(n)
	}
}

// Get returns the current value of a counter.
func (r *Runtime) Get(name string) uint64 {
	if r == nil {
		return 0
	}
	if c, ok := r.counters[name]; ok {
		return c.Load()
	}
	return 0
}

// Snapshot is the JSON body of /api/runtime/metrics.
type Snapshot struct {
	OK            bool              `json:"ok"`
	Metrics       map[string]uint64 `json:"metrics"`
	UptimeSeconds int64             `json:"uptimeSeconds"`
}

// Snapshot copies all counters.
func (r *Runtime) Snapshot() Snapshot {
	values := make(map[string]uint64, len(counterNames))
	for _, name := range counterNames {
		values[name] = r.Get(name)
	}
	return Snapshot{OK: true, Metrics: values, UptimeSeconds: int64(r.now().Sub(r.started).Seconds())}
}

// Lines renders "name: value" lines in a fixed order followed by uptime.
func (r *Runtime) Lines() []string {
	snap := r.Snapshot()
	lines := make([]string, 0, len(counterNames)+1)
	for _, name := range counterNames {
		lines = append(lines, fmt.Sprintf("%s: %d", name, snap.Metrics[name]))
	}
	return append(lines, fmt.Sprintf("uptimeSeconds: %d", snap.UptimeSeconds))
}

func (r *Runtime) render(b *strings.Builder) {
	b.WriteString("# HELP openbobs_runtime_events_total Orchestration events by kind.\n")
	b.WriteString("# TYPE openbobs_runtime_events_total counter\n")
	for _, name := range counterNames {
		fmt.Fprintf(b, "openbobs_runtime_events_total{event=\"%s\"} %d\n", escape(name), r.Get(name))
	}
	b.WriteString("# HELP openbobs_uptime_seconds Seconds since the runtime started.\n")
	b.WriteString("# TYPE openbobs_uptime_seconds gauge\n")
	fmt.Fprintf(b, "openbobs_uptime_seconds %d\n", int64(r.now().Sub(r.started).Seconds()))
}
