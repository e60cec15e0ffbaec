package metrics

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	errNotInitialized = errors.New("metrics not initialized, call Init first")

	metricNameRE = regexp.MustCompile(`^[a-zA-Z_:][a-zA-Z0-9_:]*$`)
	labelNameRE  = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
)

// Opts names a collector. The exported name is namespace_subsystem_name.
type Opts struct {
	Namespace string // e.g. "cqweb"
	Subsystem string // e.g. "http", "pool", "statement"
	Name      string
	Help      string
	Labels    []string

	// Buckets applies to histograms; nil means prometheus.DefBuckets.
	Buckets []float64
}

func (o Opts) fqName() string {
	return prometheus.BuildFQName(o.Namespace, o.Subsystem, o.Name)
}

func (o Opts) validate() error {
	if name := o.fqName(); !metricNameRE.MatchString(name) {
		return fmt.Errorf("invalid metric name %q", name)
	}
	for _, label := range o.Labels {
		if !labelNameRE.MatchString(label) || strings.HasPrefix(label, "__") {
			return fmt.Errorf("invalid label name %q on %s", label, o.fqName())
		}
	}
	return nil
}

// register validates o, builds the collector and adds it to the global
// registry.
func register[C prometheus.Collector](o Opts, build func() C) (C, error) {
	var zero C
	reg := Registry()
	if reg == nil {
		return zero, errNotInitialized
	}
	if err := o.validate(); err != nil {
		return zero, err
	}
	c := build()
	if err := reg.Register(c); err != nil {
		return zero, fmt.Errorf("register %s: %w", o.fqName(), err)
	}
	return c, nil
}

// Counter is a labelled counter.
type Counter struct {
	vec *prometheus.CounterVec
}

// NewCounter registers a counter with the global registry.
func NewCounter(o Opts) (*Counter, error) {
	vec, err := register(o, func() *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.Namespace, Subsystem: o.Subsystem, Name: o.Name, Help: o.Help,
		}, o.Labels)
	})
	if err != nil {
		return nil, err
	}
	return &Counter{vec: vec}, nil
}

// Inc adds one to the series named by labelValues.
func (c *Counter) Inc(labelValues ...string) {
	c.vec.WithLabelValues(labelValues...).Inc()
}

// Add adds a non-negative value to the series named by labelValues.
func (c *Counter) Add(value float64, labelValues ...string) {
	c.vec.WithLabelValues(labelValues...).Add(value)
}

// WithLabelValues returns one series.
func (c *Counter) WithLabelValues(labelValues ...string) prometheus.Counter {
	return c.vec.WithLabelValues(labelValues...)
}

// Histogram is a labelled histogram.
type Histogram struct {
	vec *prometheus.HistogramVec
}

// NewHistogram registers a histogram with the global registry.
func NewHistogram(o Opts) (*Histogram, error) {
	buckets := o.Buckets
	if buckets == nil {
		buckets = prometheus.DefBuckets
	}
	vec, err := register(o, func() *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: o.Namespace, Subsystem: o.Subsystem, Name: o.Name, Help: o.Help, Buckets: buckets,
		}, o.Labels)
	})
	if err != nil {
		return nil, err
	}
	return &Histogram{vec: vec}, nil
}

// Observe records value in the series named by labelValues.
func (h *Histogram) Observe(value float64, labelValues ...string) {
	h.vec.WithLabelValues(labelValues...).Observe(value)
}

// WithLabelValues returns one series.
func (h *Histogram) WithLabelValues(labelValues ...string) prometheus.Observer {
	return h.vec.WithLabelValues(labelValues...)
}

// NewGaugeFunc registers an unlabelled gauge read from fn at scrape time.
func NewGaugeFunc(o Opts, fn func() float64) error {
	if len(o.Labels) > 0 {
		return fmt.Errorf("gauge func %s cannot have labels", o.fqName())
	}
	_, err := register(o, func() prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: o.Namespace, Subsystem: o.Subsystem, Name: o.Name, Help: o.Help,
		}, fn)
	})
	return err
}

// NewCounterFunc registers an unlabelled counter read from fn at scrape
// time. fn must never decrease.
func NewCounterFunc(o Opts, fn func() float64) error {
	if len(o.Labels) > 0 {
		return fmt.Errorf("counter func %s cannot have labels", o.fqName())
	}
	_, err := register(o, func() prometheus.CounterFunc {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: o.Namespace, Subsystem: o.Subsystem, Name: o.Name, Help: o.Help,
		}, fn)
	})
	return err
}
