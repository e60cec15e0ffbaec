package metrics

import (
	"sync"
	"time"

	"github.com/Combine-Capital/cqweb/pkg/database"
	"github.com/Combine-Capital/cqweb/pkg/statement"
)

type poolStat struct {
	name, help string
	value      func(database.Stats) float64
}

var poolGauges = []poolStat{
	{"connections_max_open", "Maximum number of open connections", func(s database.Stats) float64 { return float64(s.MaxOpen) }},
	{"connections_open", "Open connections, idle and in use", func(s database.Stats) float64 { return float64(s.Open) }},
	{"connections_idle", "Idle connections", func(s database.Stats) float64 { return float64(s.Idle) }},
	{"connections_in_use", "Connections checked out", func(s database.Stats) float64 { return float64(s.InUse) }},
}

var poolCounters = []poolStat{
	{"acquired_total", "Successful connection checkouts", func(s database.Stats) float64 { return float64(s.Acquired) }},
	{"opened_total", "Connections dialed", func(s database.Stats) float64 { return float64(s.Opened) }},
	{"discarded_total", "Connections closed after failing validation or expiring", func(s database.Stats) float64 { return float64(s.Discarded) }},
	{"acquire_timeouts_total", "Checkouts that hit the acquire timeout", func(s database.Stats) float64 { return float64(s.Timeouts) }},
}

// RegisterPoolMetrics exposes a connection pool through metrics read from
// stats at scrape time. Register one pool per namespace.
func RegisterPoolMetrics(namespace string, stats func() database.Stats) error {
	read := func(f func(database.Stats) float64) func() float64 {
		return func() float64 { return f(stats()) }
	}
	for _, g := range poolGauges {
		o := Opts{Namespace: namespace, Subsystem: "pool", Name: g.name, Help: g.help}
		if err := NewGaugeFunc(o, read(g.value)); err != nil {
			return err
		}
	}
	for _, c := range poolCounters {
		o := Opts{Namespace: namespace, Subsystem: "pool", Name: c.name, Help: c.help}
		if err := NewCounterFunc(o, read(c.value)); err != nil {
			return err
		}
	}
	return nil
}

type statementCollectors struct {
	duration *Histogram
	errors   *Counter
}

var (
	stmtOnce sync.Once
	stmtSet  *statementCollectors
	stmtErr  error
)

func initStatementCollectors(namespace string) (*statementCollectors, error) {
	stmtOnce.Do(func() {
		set := &statementCollectors{}
		if set.duration, stmtErr = NewHistogram(Opts{
			Namespace: namespace, Subsystem: "statement", Name: "duration_seconds",
			Help:   "Mapped statement execution time in seconds",
			Labels: []string{"statement", "kind", "outcome"}, Buckets: durationBuckets,
		}); stmtErr != nil {
			return
		}
		if set.errors, stmtErr = NewCounter(Opts{
			Namespace: namespace, Subsystem: "statement", Name: "errors_total",
			Help:   "Mapped statement executions that failed",
			Labels: []string{"statement", "kind"},
		}); stmtErr != nil {
			return
		}
		stmtSet = set
	})
	return stmtSet, stmtErr
}

// StatementObserver returns a statement.Observer recording into the
// statement metrics. Names come from the frozen registry, so the label set
// is bounded.
func StatementObserver(namespace string) (statement.Observer, error) {
	set, err := initStatementCollectors(namespace)
	if err != nil {
		return nil, err
	}
	return func(name string, kind statement.Kind, d time.Duration, err error) {
		outcome := "success"
		if err != nil {
			outcome = "error"
			set.errors.Inc(name, string(kind))
		}
		set.duration.Observe(d.Seconds(), name, string(kind), outcome)
	}, nil
}
