package visor

import (
	"context"
	"time"

	"go.opencensus.io/tag"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/l2-l1-causal-impact/bridge/metrics"
	"github.com/l2-l1-causal-impact/bridge/model"
)

const GapStatusMissing = "GAP"

// GapReport records a calendar day absent from a series that must be contiguous.
type GapReport struct {
	tableName struct{} `pg:"gap_reports"` // nolint: structcheck

	Date time.Time `pg:"type:date,pk,notnull"`
	// Task is the series the day is missing from, such as daily_aggregates.
	Task   string `pg:",pk,notnull"`
	Status string `pg:",notnull"`

	// Reporter is the name of the run that is reporting the result
	Reporter   string    `pg:",notnull"`
	ReportedAt time.Time `pg:",use_zero"`
}

func (p *GapReport) Persist(ctx context.Context, s model.StorageBatch, version model.Version) error {
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "gap_reports"))
	stop := metrics.Timer(ctx, metrics.PersistDuration)
	defer stop()

	metrics.RecordCount(ctx, metrics.PersistModel, 1)
	return s.PersistModel(ctx, p)
}

type GapReportList []*GapReport

func (pl GapReportList) Persist(ctx context.Context, s model.StorageBatch, version model.Version) error {
	if len(pl) == 0 {
		return nil
	}
	ctx, span := otel.Tracer("").Start(ctx, "GapReportList.Persist")
	if span.IsRecording() {
		span.SetAttributes(attribute.Int("count", len(pl)))
	}
	defer span.End()

	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "gap_reports"))
	stop := metrics.Timer(ctx, metrics.PersistDuration)
	defer stop()

	metrics.RecordCount(ctx, metrics.PersistModel, len(pl))
	return s.PersistModel(ctx, pl)
}

// Dates returns the missing days in list order.
func (pl GapReportList) Dates() []time.Time {
	out := make([]time.Time, len(pl))
	for i, g := range pl {
		out[i] = g.Date
	}
	return out
}
