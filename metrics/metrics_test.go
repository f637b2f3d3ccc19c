package metrics

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"

	"github.com/zoobzio/profz"
)

func TestExporterFlatTotals(t *testing.T) {
	agg := profz.NewAggregator()
	agg.Add(
		profz.Total{Name: "db.query", Count: 3, Time: 0.5},
		profz.Total{Name: "render", Count: 1, Time: 0.25},
	)

	exp := NewExporter(agg, "profz")

	want := `
# HELP profz_span_calls_total Number of times a named span was entered, summed over every tree position.
# TYPE profz_span_calls_total counter
profz_span_calls_total{name="db.query"} 3
profz_span_calls_total{name="render"} 1
# HELP profz_span_seconds_total Wall-clock seconds spent in a named span, summed over every tree position.
# TYPE profz_span_seconds_total counter
profz_span_seconds_total{name="db.query"} 0.5
profz_span_seconds_total{name="render"} 0.25
`
	err := testutil.CollectAndCompare(exp, strings.NewReader(want),
		"profz_span_calls_total", "profz_span_seconds_total")
	require.NoError(t, err)
}

func TestExporterObservesReports(t *testing.T) {
	clock := clockz.NewFakeClock()
	profiler := profz.New().WithClock(clock)
	defer profiler.Close()

	exp := NewExporter(profiler.Aggregator(), "app")
	profiler.OnReport(exp.ObserveReport)

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(exp))

	for i := 0; i < 2; i++ {
		ctx, tx := profiler.Begin(context.Background(), "job")
		profz.Enter(ctx, "dangling")
		clock.Advance(10 * time.Millisecond)
		_, err := profiler.Finish(tx)
		require.NoError(t, err)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(exp.reports.WithLabelValues("job")))
	assert.Equal(t, 1, testutil.CollectAndCount(exp, "app_transaction_duration_seconds"))

	want := `
# HELP app_force_closed_spans Spans still running at aggregation time and closed by the aggregator.
# TYPE app_force_closed_spans gauge
app_force_closed_spans 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(want), "app_force_closed_spans"))

	count, err := testutil.GatherAndCount(reg, "app_span_calls_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
