package metrics

import (
	"context"
	"time"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

var defaultMillisecondsDistribution = view.Distribution(0.01, 0.05, 0.1, 0.3, 0.6, 0.8, 1, 2, 3, 4, 5, 6, 8, 10, 13, 16, 20, 25, 30, 40, 50, 65, 80, 100, 130, 160, 200, 250, 300, 400, 500, 650, 800, 1000, 2000, 5000, 10000, 20000, 30000, 50000, 100000)

var (
	TaskType, _ = tag.NewKey("task")  // name of pipeline step
	Table, _    = tag.NewKey("table") // name of table data is persisted for
	Gate, _     = tag.NewKey("gate")  // quality gate id
	Status, _   = tag.NewKey("status")
)

var (
	ProcessingDuration = stats.Float64("processing_duration_ms", "Time taken to run a pipeline step", stats.UnitMilliseconds)
	PersistDuration    = stats.Float64("persist_duration_ms", "Duration of a models persist operation", stats.UnitMilliseconds)
	PersistModel       = stats.Int64("persist_model", "Number of models persisted", stats.UnitDimensionless)
	PersistFailure     = stats.Int64("persist_failure", "Number of persistence failures", stats.UnitDimensionless)
	BlocksLoaded       = stats.Int64("blocks_loaded", "Number of block records read from the input table", stats.UnitDimensionless)
	DaysAggregated     = stats.Int64("days_aggregated", "Number of daily aggregates produced", stats.UnitDimensionless)
	ZeroGasDays        = stats.Int64("zero_gas_days", "Number of days with no gas used", stats.UnitDimensionless)
	CappedDays         = stats.Int64("capped_days", "Number of bridge days whose counterfactual was truncated", stats.UnitDimensionless)
	ExtrapolationDays  = stats.Int64("extrapolation_days", "Number of bridge days outside the model covariate support", stats.UnitDimensionless)
	GateResult         = stats.Int64("gate_result", "Number of gate results recorded", stats.UnitDimensionless)
)

var DefaultViews = []*view.View{
	{
		Measure:     ProcessingDuration,
		Aggregation: defaultMillisecondsDistribution,
		TagKeys:     []tag.Key{TaskType},
	},
	{
		Measure:     PersistDuration,
		Aggregation: defaultMillisecondsDistribution,
		TagKeys:     []tag.Key{Table},
	},
	{
		Name:        PersistModel.Name() + "_total",
		Measure:     PersistModel,
		Aggregation: view.Sum(),
		TagKeys:     []tag.Key{Table},
	},
	{
		Name:        PersistFailure.Name() + "_total",
		Measure:     PersistFailure,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Table},
	},
	{
		Name:        BlocksLoaded.Name() + "_total",
		Measure:     BlocksLoaded,
		Aggregation: view.Sum(),
	},
	{
		Name:        DaysAggregated.Name() + "_total",
		Measure:     DaysAggregated,
		Aggregation: view.Sum(),
	},
	{
		Name:        ZeroGasDays.Name() + "_total",
		Measure:     ZeroGasDays,
		Aggregation: view.Sum(),
	},
	{
		Name:        CappedDays.Name() + "_total",
		Measure:     CappedDays,
		Aggregation: view.Sum(),
	},
	{
		Name:        ExtrapolationDays.Name() + "_total",
		Measure:     ExtrapolationDays,
		Aggregation: view.Sum(),
	},
	{
		Name:        GateResult.Name() + "_total",
		Measure:     GateResult,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Gate, Status},
	},
}

// SinceInMilliseconds returns the duration of time since the provide time as a float64.
func SinceInMilliseconds(startTime time.Time) float64 {
	return float64(time.Since(startTime).Nanoseconds()) / 1e6
}

// Timer is a function stopwatch, calling it starts the timer,
// calling the returned function will record the duration.
func Timer(ctx context.Context, m *stats.Float64Measure) func() {
	start := time.Now()
	return func() {
		stats.Record(ctx, m.M(SinceInMilliseconds(start)))
	}
}

// RecordInc is a convenience function that increments a counter.
func RecordInc(ctx context.Context, m *stats.Int64Measure) {
	stats.Record(ctx, m.M(1))
}

// RecordCount is a convenience function that increments a counter by a count.
func RecordCount(ctx context.Context, m *stats.Int64Measure, count int) {
	stats.Record(ctx, m.M(int64(count)))
}

// WithTagValue is a convenience function that upserts the tag value in the given context.
func WithTagValue(ctx context.Context, k tag.Key, v string) context.Context {
	ctx, _ = tag.New(ctx, tag.Upsert(k, v))
	return ctx
}
