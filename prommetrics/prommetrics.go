// Package prommetrics exports inkdex operation metrics to Prometheus.
package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/inkdex"
)

// Options configures a Collector.
type Options struct {
	// Namespace prefixes every metric name.
	Namespace string
	// Registerer receives the metrics. Nil means prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
	// ConstLabels are attached to every metric, e.g. the index name.
	ConstLabels prometheus.Labels
	Buckets     []float64
}

// DefaultOptions are used by New.
var DefaultOptions = Options{
	Namespace: "inkdex",
	Buckets:   prometheus.DefBuckets,
}

// Collector implements inkdex.MetricsCollector.
type Collector struct {
	latency   *prometheus.HistogramVec
	documents *prometheus.CounterVec
	results   prometheus.Histogram
}

var _ inkdex.MetricsCollector = (*Collector)(nil)

// New creates a collector and registers its metrics.
func New(optFns ...func(o *Options)) (*Collector, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}

	c := &Collector{
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   opts.Namespace,
			Name:        "operation_latency_seconds",
			Help:        "Latency of index operations",
			ConstLabels: opts.ConstLabels,
			Buckets:     opts.Buckets,
		}, []string{"op", "status"}),
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "documents_total",
			Help:        "Documents processed by batch indexing",
			ConstLabels: opts.ConstLabels,
		}, []string{"status"}),
		results: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   opts.Namespace,
			Name:        "query_results",
			Help:        "Number of records matched per query",
			ConstLabels: opts.ConstLabels,
			Buckets:     prometheus.ExponentialBuckets(1, 4, 10),
		}),
	}

	for _, m := range []prometheus.Collector{c.latency, c.documents, c.results} {
		if err := opts.Registerer.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (c *Collector) observe(op string, d time.Duration, err error) {
	c.latency.WithLabelValues(op, status(err)).Observe(d.Seconds())
}

func (c *Collector) RecordIndex(d time.Duration, err error) { c.observe("index", d, err) }

func (c *Collector) RecordBatchIndex(count, failed int, d time.Duration) {
	c.latency.WithLabelValues("batch", "success").Observe(d.Seconds())
	c.documents.WithLabelValues("success").Add(float64(count - failed))
	c.documents.WithLabelValues("error").Add(float64(failed))
}

func (c *Collector) RecordQuery(results int, d time.Duration, err error) {
	c.observe("query", d, err)
	if err == nil {
		c.results.Observe(float64(results))
	}
}

func (c *Collector) RecordDelete(d time.Duration, err error) { c.observe("delete", d, err) }

func (c *Collector) RecordSave(d time.Duration, err error) { c.observe("save", d, err) }
