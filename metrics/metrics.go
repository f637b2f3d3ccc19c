// Package metrics exposes profz roll-ups as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zoobzio/profz"
)

// Exporter is a prometheus.Collector over an Aggregator's cumulative
// flat totals, plus per-transaction counters fed by ObserveReport.
type Exporter struct {
	agg         *profz.Aggregator
	calls       *prometheus.Desc
	seconds     *prometheus.Desc
	forceClosed *prometheus.Desc
	reports     *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

// NewExporter creates an exporter reading from agg.
func NewExporter(agg *profz.Aggregator, namespace string) *Exporter {
	return &Exporter{
		agg: agg,
		calls: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "span", "calls_total"),
			"Number of times a named span was entered, summed over every tree position.",
			[]string{"name"}, nil),
		seconds: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "span", "seconds_total"),
			"Wall-clock seconds spent in a named span, summed over every tree position.",
			[]string{"name"}, nil),
		forceClosed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "force_closed_spans"),
			"Spans still running at aggregation time and closed by the aggregator.",
			nil, nil),
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_total",
			Help:      "Finished transactions by name.",
		}, []string{"transaction"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transaction_duration_seconds",
			Help:      "Wall-clock duration of finished transactions.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"transaction"}),
	}
}

// ObserveReport records one finished transaction.
// Register it with Profiler.OnReport.
func (e *Exporter) ObserveReport(r profz.Report) {
	e.reports.WithLabelValues(r.Name).Inc()
	e.duration.WithLabelValues(r.Name).Observe(r.Duration.Seconds())
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.calls
	ch <- e.seconds
	ch <- e.forceClosed
	e.reports.Describe(ch)
	e.duration.Describe(ch)
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	for _, t := range e.agg.Sorted() {
		ch <- prometheus.MustNewConstMetric(e.calls, prometheus.CounterValue, float64(t.Count), t.Name)
		ch <- prometheus.MustNewConstMetric(e.seconds, prometheus.CounterValue, t.Time, t.Name)
	}
	ch <- prometheus.MustNewConstMetric(e.forceClosed, prometheus.GaugeValue, float64(e.agg.ForceClosed()))
	e.reports.Collect(ch)
	e.duration.Collect(ch)
}
