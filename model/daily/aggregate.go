package daily

import (
	"context"
	"time"

	"go.opencensus.io/tag"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/l2-l1-causal-impact/bridge/metrics"
	"github.com/l2-l1-causal-impact/bridge/model"
)

// DailyAggregate is the gas-weighted summary of one UTC day of blocks. Fee fields are gwei per gas
// and are nil when the day used no gas. Price fields are USD per unit of the native asset and
// are nil when the day had no price observation.
type DailyAggregate struct {
	tableName struct{} `pg:"daily_aggregates"` // nolint: structcheck

	Date                      time.Time `pg:"type:date,pk,notnull"`
	GasWeightedBaseFee        *float64  `pg:"type:double precision"`
	GasWeightedPriorityFee    *float64  `pg:"type:double precision"`
	TotalGasUsed              uint64    `pg:",use_zero,notnull"`
	BlockCount                int64     `pg:",use_zero,notnull"`
	AssetPriceGasTimeWeighted *float64  `pg:"type:double precision"`
	AssetPriceClose           *float64  `pg:"type:double precision"`
	AssetPriceSimpleMean      *float64  `pg:"type:double precision"`
	IsZeroGas                 bool      `pg:",use_zero,notnull"`
	DatasetHash               string    `pg:",notnull"`
}

func (d *DailyAggregate) Persist(ctx context.Context, s model.StorageBatch, version model.Version) error {
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "daily_aggregates"))
	metrics.RecordCount(ctx, metrics.PersistModel, 1)
	return s.PersistModel(ctx, d)
}

type DailyAggregateList []*DailyAggregate

func (l DailyAggregateList) Persist(ctx context.Context, s model.StorageBatch, version model.Version) error {
	if len(l) == 0 {
		return nil
	}
	ctx, span := otel.Tracer("").Start(ctx, "DailyAggregateList.Persist")
	if span.IsRecording() {
		span.SetAttributes(attribute.Int("count", len(l)))
	}
	defer span.End()

	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "daily_aggregates"))
	stop := metrics.Timer(ctx, metrics.PersistDuration)
	defer stop()

	metrics.RecordCount(ctx, metrics.PersistModel, len(l))
	return s.PersistModel(ctx, l)
}

func (l DailyAggregateList) DatasetHashes() []string {
	out := make([]string, len(l))
	for i, d := range l {
		out[i] = d.DatasetHash
	}
	return out
}

// ByDate indexes the aggregates by day.
func (l DailyAggregateList) ByDate() map[time.Time]*DailyAggregate {
	out := make(map[time.Time]*DailyAggregate, len(l))
	for _, d := range l {
		out[d.Date] = d
	}
	return out
}

// Dates returns the day of every aggregate in list order.
func (l DailyAggregateList) Dates() []time.Time {
	out := make([]time.Time, len(l))
	for i, d := range l {
		out[i] = d.Date
	}
	return out
}
