package gates

import (
	"context"
	"time"

	"go.opencensus.io/tag"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/l2-l1-causal-impact/bridge/metrics"
	"github.com/l2-l1-causal-impact/bridge/model"
)

type Status string

const (
	StatusPass Status = "pass"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

// Worse returns the more severe of two statuses.
func (s Status) Worse(o Status) Status {
	if rank(o) > rank(s) {
		return o
	}
	return s
}

func rank(s Status) int {
	switch s {
	case StatusFail:
		return 2
	case StatusWarn:
		return 1
	default:
		return 0
	}
}

// Check is one piece of evidence a gate evaluated.
type Check struct {
	Name     string      `json:"name"`
	Status   Status      `json:"status"`
	Observed interface{} `json:"observed,omitempty"`
	Expected interface{} `json:"expected,omitempty"`
	Detail   string      `json:"detail,omitempty"`
}

type Evidence []Check

// Status is the worst status of any check, pass when there are none.
func (e Evidence) Status() Status {
	s := StatusPass
	for _, c := range e {
		s = s.Worse(c.Status)
	}
	return s
}

// QualityGateResult is the outcome of one gate in one validation run. Results are only ever
// appended.
type QualityGateResult struct {
	tableName struct{} `pg:"quality_gate_results"` // nolint: structcheck

	RunID       string    `pg:",pk,notnull"`
	GateID      string    `pg:",pk,notnull"`
	Status      Status    `pg:",notnull"`
	Evidence    Evidence  `pg:",type:jsonb"`
	DatasetHash string    `pg:",notnull"`
	CheckedAt   time.Time `pg:",use_zero,notnull"`
}

func (r *QualityGateResult) Persist(ctx context.Context, s model.StorageBatch, version model.Version) error {
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "quality_gate_results"))
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Gate, r.GateID), tag.Upsert(metrics.Status, string(r.Status)))
	metrics.RecordInc(ctx, metrics.GateResult)
	metrics.RecordCount(ctx, metrics.PersistModel, 1)
	return s.PersistModel(ctx, r)
}

type QualityGateResultList []*QualityGateResult

func (l QualityGateResultList) Persist(ctx context.Context, s model.StorageBatch, version model.Version) error {
	if len(l) == 0 {
		return nil
	}
	ctx, span := otel.Tracer("").Start(ctx, "QualityGateResultList.Persist")
	if span.IsRecording() {
		span.SetAttributes(attribute.Int("count", len(l)))
	}
	defer span.End()

	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "quality_gate_results"))
	stop := metrics.Timer(ctx, metrics.PersistDuration)
	defer stop()

	for _, r := range l {
		gctx, _ := tag.New(ctx, tag.Upsert(metrics.Gate, r.GateID), tag.Upsert(metrics.Status, string(r.Status)))
		metrics.RecordInc(gctx, metrics.GateResult)
	}
	metrics.RecordCount(ctx, metrics.PersistModel, len(l))
	return s.PersistModel(ctx, l)
}

func (l QualityGateResultList) DatasetHashes() []string {
	out := make([]string, len(l))
	for i, r := range l {
		out[i] = r.DatasetHash
	}
	return out
}
