// Package gates runs the quality checks that must pass before pipeline figures may be released.
package gates

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/raulk/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/xerrors"

	"github.com/l2-l1-causal-impact/bridge/config"
	"github.com/l2-l1-causal-impact/bridge/metrics"
	"github.com/l2-l1-causal-impact/bridge/model"
	"github.com/l2-l1-causal-impact/bridge/model/blocks"
	"github.com/l2-l1-causal-impact/bridge/model/daily"
	gatesmodel "github.com/l2-l1-causal-impact/bridge/model/gates"
	"github.com/l2-l1-causal-impact/bridge/model/welfare"
	"github.com/l2-l1-causal-impact/bridge/provenance"
)

var log = logging.Logger("bridge/gates")

const TaskName = "gate"

// Inputs are the artifacts and documents a validation run inspects. Blocks, Prices and Manuscript
// are optional.
type Inputs struct {
	Record     *provenance.FreezeRecord
	Blocks     blocks.BlockRecordList
	Prices     blocks.PriceObservationList
	Aggregates daily.DailyAggregateList
	Rows       welfare.WelfareBridgeRowList
	Summary    *welfare.Summary
	Manuscript string
	// TableHeaders are the column names of treatment and covariate tables keyed by path.
	TableHeaders map[string][]string
	// PosteriorCovariates are the covariate column names of the posterior.
	PosteriorCovariates []string
}

// A Gate evaluates one independent family of checks.
type Gate interface {
	ID() string
	Evaluate(ctx context.Context, in *Inputs) (gatesmodel.Evidence, error)
}

// GateFailure blocks the release when at least one gate failed.
type GateFailure struct {
	RunID  string
	Failed []string
}

func (e *GateFailure) Error() string {
	return fmt.Sprintf("release blocked: gate(s) %s failed in run %s", strings.Join(e.Failed, ", "), e.RunID)
}

// Report is the outcome of one validation run.
type Report struct {
	RunID       string                           `json:"run_id"`
	DatasetHash string                           `json:"dataset_hash"`
	CheckedAt   time.Time                        `json:"checked_at"`
	Status      gatesmodel.Status                `json:"status"`
	Gates       gatesmodel.QualityGateResultList `json:"gates"`
}

// Err returns a GateFailure when any gate failed.
func (r *Report) Err() error {
	var failed []string
	for _, g := range r.Gates {
		if g.Status == gatesmodel.StatusFail {
			failed = append(failed, g.GateID)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return &GateFailure{RunID: r.RunID, Failed: failed}
}

// Validator runs gates and appends their results to the gate history.
type Validator struct {
	gates   []Gate
	history model.Storage
	clock   clock.Clock
}

type Option func(*Validator)

func WithClock(c clock.Clock) Option {
	return func(v *Validator) {
		v.clock = c
	}
}

// WithHistory appends every result to s.
func WithHistory(s model.Storage) Option {
	return func(v *Validator) {
		v.history = s
	}
}

func NewValidator(gates []Gate, opts ...Option) *Validator {
	v := &Validator{gates: gates, clock: clock.New()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// DefaultGates returns the four standard gates configured from cfg.
func DefaultGates(cfg config.GatesConf, bridgeCfg config.BridgeConf) ([]Gate, error) {
	g3, err := NewExclusionGate(cfg.ExcludedVariables, cfg.ExcludedPatterns, bridgeCfg.Extrapolation)
	if err != nil {
		return nil, err
	}
	g2, err := NewConsistencyGate(cfg.Constants)
	if err != nil {
		return nil, err
	}
	g4, err := NewClaimsGate(cfg.Claims)
	if err != nil {
		return nil, err
	}
	return []Gate{
		NewAccuracyGate(Tolerance{Relative: cfg.RelativeTolerance, Absolute: cfg.AbsoluteTolerance}),
		g2,
		g3,
		g4,
	}, nil
}

// Run evaluates every gate. A gate that cannot be evaluated fails without affecting the others.
// The run's results are appended to the history before the report is returned.
func (v *Validator) Run(ctx context.Context, in *Inputs) (*Report, error) {
	ctx, span := otel.Tracer("").Start(ctx, "Validator.Run")
	defer span.End()

	ctx = metrics.WithTagValue(ctx, metrics.TaskType, TaskName)
	stop := metrics.Timer(ctx, metrics.ProcessingDuration)
	defer stop()

	if in.Record == nil {
		return nil, xerrors.Errorf("gate: no authorized freeze record")
	}

	report := &Report{
		RunID:       uuid.New().String(),
		DatasetHash: in.Record.ContentHash,
		CheckedAt:   v.clock.Now().UTC(),
		Status:      gatesmodel.StatusPass,
	}
	if span.IsRecording() {
		span.SetAttributes(attribute.String("run_id", report.RunID), attribute.Int("gates", len(v.gates)))
	}

	for _, g := range v.gates {
		evidence, err := v.evaluate(ctx, g, in)
		if err != nil {
			evidence = append(evidence, gatesmodel.Check{Name: "evaluate", Status: gatesmodel.StatusFail, Detail: err.Error()})
		}
		res := &gatesmodel.QualityGateResult{
			RunID:       report.RunID,
			GateID:      g.ID(),
			Status:      evidence.Status(),
			Evidence:    evidence,
			DatasetHash: in.Record.ContentHash,
			CheckedAt:   report.CheckedAt,
		}
		report.Gates = append(report.Gates, res)
		report.Status = report.Status.Worse(res.Status)
		log.Infow("evaluated gate", "run_id", report.RunID, "gate", res.GateID, "status", res.Status, "checks", len(evidence))
	}

	if v.history != nil {
		if err := v.history.PersistBatch(ctx, report.Gates); err != nil {
			return report, xerrors.Errorf("append gate history: %w", err)
		}
	}
	return report, nil
}

func (v *Validator) evaluate(ctx context.Context, g Gate, in *Inputs) (ev gatesmodel.Evidence, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = xerrors.Errorf("gate %s panicked: %v", g.ID(), r)
		}
	}()
	return g.Evaluate(ctx, in)
}

// Tolerance bounds the difference accepted between a reported and a recomputed value.
type Tolerance struct {
	Relative float64
	Absolute float64
}

// Equal reports whether a and b agree within the absolute or the relative tolerance.
func (t Tolerance) Equal(a, b float64) bool {
	d := math.Abs(a - b)
	if d <= t.Absolute {
		return true
	}
	return d <= t.Relative*math.Max(math.Abs(a), math.Abs(b))
}

func (t Tolerance) EqualPtr(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return t.Equal(*a, *b)
}

// maxFailures caps the per item checks a gate records.
const maxFailures = 25

type collector struct {
	name     string
	checked  int
	failures gatesmodel.Evidence
	dropped  int
}

func (c *collector) fail(chk gatesmodel.Check) {
	if len(c.failures) >= maxFailures {
		c.dropped++
		return
	}
	chk.Status = gatesmodel.StatusFail
	c.failures = append(c.failures, chk)
}

// evidence returns the failures followed by a summary check for the whole family.
func (c *collector) evidence() gatesmodel.Evidence {
	out := append(gatesmodel.Evidence{}, c.failures...)
	sum := gatesmodel.Check{Name: c.name, Status: gatesmodel.StatusPass, Observed: c.checked}
	if n := len(c.failures) + c.dropped; n > 0 {
		sum.Status = gatesmodel.StatusFail
		sum.Detail = fmt.Sprintf("%d of %d checks failed", n, c.checked)
	}
	return append(out, sum)
}
