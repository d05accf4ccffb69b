package blocks

import (
	"context"
	"sort"
	"time"

	"go.opencensus.io/tag"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/l2-l1-causal-impact/bridge/metrics"
	"github.com/l2-l1-causal-impact/bridge/model"
)

// PriceObservation is the fiat price of the native asset observed at Timestamp. It holds until
// the next observation or the end of its UTC day, whichever comes first.
type PriceObservation struct {
	tableName struct{} `pg:"asset_prices"` // nolint: structcheck

	Timestamp time.Time `pg:",pk,notnull"`
	PriceUSD  float64   `pg:"price_usd,use_zero,notnull"`
}

func (p *PriceObservation) Date() time.Time {
	return DayOf(p.Timestamp)
}

func (p *PriceObservation) Persist(ctx context.Context, s model.StorageBatch, version model.Version) error {
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "asset_prices"))
	metrics.RecordCount(ctx, metrics.PersistModel, 1)
	return s.PersistModel(ctx, p)
}

type PriceObservationList []*PriceObservation

func (l PriceObservationList) Persist(ctx context.Context, s model.StorageBatch, version model.Version) error {
	if len(l) == 0 {
		return nil
	}
	ctx, span := otel.Tracer("").Start(ctx, "PriceObservationList.Persist")
	if span.IsRecording() {
		span.SetAttributes(attribute.Int("count", len(l)))
	}
	defer span.End()

	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "asset_prices"))
	stop := metrics.Timer(ctx, metrics.PersistDuration)
	defer stop()

	metrics.RecordCount(ctx, metrics.PersistModel, len(l))
	return s.PersistModel(ctx, l)
}

// ByDate groups the observations by UTC day, each group sorted by timestamp.
func (l PriceObservationList) ByDate() map[time.Time]PriceObservationList {
	out := make(map[time.Time]PriceObservationList)
	for _, p := range l {
		d := p.Date()
		out[d] = append(out[d], p)
	}
	for _, ps := range out {
		sort.SliceStable(ps, func(i, j int) bool {
			return ps[i].Timestamp.Before(ps[j].Timestamp)
		})
	}
	return out
}
