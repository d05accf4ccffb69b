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

const (
	ProcessingStatusOK    = "OK"
	ProcessingStatusError = "ERROR" // the step's outputs were not written, see StatusInformation
)

// ProcessingReport records the outcome of one pipeline step. Rows are only ever appended.
type ProcessingReport struct {
	tableName struct{} `pg:"processing_reports"` // nolint: structcheck

	Reporter    string    `pg:",pk,notnull"` // name of the run
	Task        string    `pg:",pk,notnull"` // freeze, verify, aggregate, bridge or gate
	StartedAt   time.Time `pg:",pk,use_zero"`
	CompletedAt time.Time `pg:",use_zero"`

	// DatasetHash is the content hash of the frozen dataset the step read, empty when the step
	// failed before hashing.
	DatasetHash       string
	Status            string `pg:",notnull"`
	StatusInformation string
	// ErrorsDetected lists every input violation of a step rejected by schema validation.
	ErrorsDetected []string `pg:",type:jsonb"`
}

// Failed reports whether the step ended in an error.
func (p *ProcessingReport) Failed() bool {
	return p.Status == ProcessingStatusError
}

func (p *ProcessingReport) Persist(ctx context.Context, s model.StorageBatch, version model.Version) error {
	ctx, span := otel.Tracer("").Start(ctx, "ProcessingReport.Persist")
	if span.IsRecording() {
		span.SetAttributes(attribute.String("task", p.Task), attribute.String("status", p.Status))
	}
	defer span.End()

	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "processing_reports"))
	stop := metrics.Timer(ctx, metrics.PersistDuration)
	defer stop()

	metrics.RecordCount(ctx, metrics.PersistModel, 1)
	return s.PersistModel(ctx, p)
}
