package bridge

import (
	"context"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/raulk/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/l2-l1-causal-impact/bridge/chain/gap"
	"github.com/l2-l1-causal-impact/bridge/config"
	"github.com/l2-l1-causal-impact/bridge/lens"
	"github.com/l2-l1-causal-impact/bridge/metrics"
	"github.com/l2-l1-causal-impact/bridge/model"
	"github.com/l2-l1-causal-impact/bridge/model/daily"
	"github.com/l2-l1-causal-impact/bridge/model/welfare"
	"github.com/l2-l1-causal-impact/bridge/provenance"
	"github.com/l2-l1-causal-impact/bridge/storage"
)

var log = logging.Logger("bridge/bridge")

const (
	TaskName = "bridge"

	DefaultWorkers = 8
)

// Builder contrasts observed daily fees with the counterfactual posterior over one window.
type Builder struct {
	window        *Window
	capping       config.CappingConf
	support       *Support
	tipPolicy     TipPolicy
	includeCapped bool
	implausible   float64
	workers       int
	clock         clock.Clock
	gaps          model.Storage
	reporter      string
}

type Option func(*Builder)

func WithClock(c clock.Clock) Option {
	return func(b *Builder) {
		b.clock = c
	}
}

// WithGapStorage persists gap reports for window days without an aggregate.
func WithGapStorage(s model.Storage, reporter string) Option {
	return func(b *Builder) {
		b.gaps = s
		b.reporter = reporter
	}
}

// WithWorkers sets the number of days computed concurrently.
func WithWorkers(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.workers = n
		}
	}
}

// NewBuilder validates the configured window against the regimes, returning a
// WindowRegimeViolation when it does not lie within one.
func NewBuilder(cfg config.BridgeConf, opts ...Option) (*Builder, error) {
	w, err := WindowFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	support, err := SupportFromConfig(cfg.Extrapolation)
	if err != nil {
		return nil, err
	}
	policy, err := ParseTipPolicy(cfg.TipPolicy)
	if err != nil {
		return nil, err
	}
	if cfg.Capping.AbsoluteCeiling > 0 && cfg.Capping.AbsoluteCeiling < cfg.Capping.Floor {
		return nil, xerrors.Errorf("capping ceiling %v below floor %v", cfg.Capping.AbsoluteCeiling, cfg.Capping.Floor)
	}

	b := &Builder{
		window:        w,
		capping:       cfg.Capping,
		support:       support,
		tipPolicy:     policy,
		includeCapped: cfg.IncludeCapped,
		implausible:   cfg.ImplausibleDailyUSD,
		workers:       DefaultWorkers,
		clock:         clock.New(),
		reporter:      TaskName,
	}
	if cfg.Workers > 0 {
		b.workers = cfg.Workers
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func (b *Builder) Window() *Window {
	return b.window
}

func (b *Builder) TipPolicy() TipPolicy {
	return b.tipPolicy
}

// Build returns one bridge row per window day, ordered by date, and the window summary. Every
// row is stamped with the content hash of rec.
func (b *Builder) Build(ctx context.Context, aggs daily.DailyAggregateList, post welfare.PosteriorList, rec *provenance.FreezeRecord) (welfare.WelfareBridgeRowList, *welfare.Summary, error) {
	ctx, span := otel.Tracer("").Start(ctx, "Build")
	if span.IsRecording() {
		span.SetAttributes(
			attribute.String("regime", b.window.Regime.Name),
			attribute.String("window_start", b.window.Start.Format(storage.DateFormat)),
			attribute.String("window_end", b.window.End.Format(storage.DateFormat)),
			attribute.Int("days", b.window.Len()),
		)
	}
	defer span.End()

	ctx = metrics.WithTagValue(ctx, metrics.TaskType, TaskName)
	stop := metrics.Timer(ctx, metrics.ProcessingDuration)
	defer stop()

	if rec == nil {
		return nil, nil, xerrors.Errorf("bridge: no authorized freeze record")
	}

	posterior, err := b.checkPosterior(post)
	if err != nil {
		return nil, nil, err
	}

	byDate := aggs.ByDate()
	var windowAggs daily.DailyAggregateList
	for _, d := range b.window.Dates() {
		if a, ok := byDate[d]; ok {
			windowAggs = append(windowAggs, a)
		}
	}
	finder := gap.NewFinder(b.reporter, "daily_aggregates", b.window.Start, b.window.End).WithClock(b.clock)
	if _, err := finder.Check(ctx, b.gaps, windowAggs.Dates()); err != nil {
		return nil, nil, err
	}

	// the ceiling follows the whole fee history, not just the window
	caps := NewCaps(b.capping, aggs)
	dates := b.window.Dates()
	rows := make(welfare.WelfareBridgeRowList, len(dates))

	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(b.workers)
	for i, d := range dates {
		i, d := i, d
		grp.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			row, err := b.row(d, byDate[d], posterior[d], caps)
			if err != nil {
				return xerrors.Errorf("bridge %s: %w", d.Format(storage.DateFormat), err)
			}
			row.DatasetHash = rec.ContentHash
			rows[i] = row
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, nil, err
	}

	var capped, extrapolated int
	for _, r := range rows {
		if r.IsCapped {
			capped++
		}
		if r.IsExtrapolationDay {
			extrapolated++
		}
	}
	metrics.RecordCount(ctx, metrics.CappedDays, capped)
	metrics.RecordCount(ctx, metrics.ExtrapolationDays, extrapolated)

	summary, err := b.summarize(rows, rec)
	if err != nil {
		return nil, nil, err
	}
	log.Infow("built welfare bridge", "regime", b.window.Regime.Name, "days", len(rows), "capped", capped, "extrapolation", extrapolated)
	return rows, summary, nil
}

// checkPosterior requires exactly one ordered posterior row per window day, reporting every
// violation together. Rows outside the window are ignored.
func (b *Builder) checkPosterior(post welfare.PosteriorList) (map[time.Time]*welfare.CounterfactualPosterior, error) {
	v := lens.NewValidation("posterior")
	out := make(map[time.Time]*welfare.CounterfactualPosterior, b.window.Len())
	for i, p := range post {
		row := i + 1
		if !b.window.Contains(p.Date) {
			continue
		}
		if _, dup := out[p.Date]; dup {
			v.Add(row, "date", "duplicate posterior row for %s", p.Date.Format(storage.DateFormat))
			continue
		}
		if !p.Ordered() {
			v.Add(row, "counterfactual_base_fee_point", "want p05 <= point <= p95, got %v, %v, %v",
				p.CounterfactualBaseFeeP05, p.CounterfactualBaseFeePoint, p.CounterfactualBaseFeeP95)
		}
		out[p.Date] = p
	}
	for _, d := range b.window.Dates() {
		if _, ok := out[d]; !ok {
			v.Add(0, "date", "no posterior row for %s", d.Format(storage.DateFormat))
		}
	}
	if err := v.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Builder) row(date time.Time, agg *daily.DailyAggregate, post *welfare.CounterfactualPosterior, caps Caps) (*welfare.WelfareBridgeRow, error) {
	point, cappedPoint := caps.Apply(post.CounterfactualBaseFeePoint)
	p05, cappedP05 := caps.Apply(post.CounterfactualBaseFeeP05)
	p95, cappedP95 := caps.Apply(post.CounterfactualBaseFeeP95)

	row := &welfare.WelfareBridgeRow{
		Date:                      date,
		ObservedBaseFee:           agg.GasWeightedBaseFee,
		CounterfactualBaseFee:     point,
		CounterfactualBaseFeeP05:  p05,
		CounterfactualBaseFeeP95:  p95,
		ObservedPriorityFee:       agg.GasWeightedPriorityFee,
		TotalGasUsed:              agg.TotalGasUsed,
		AssetPriceGasTimeWeighted: agg.AssetPriceGasTimeWeighted,
		AssetPriceClose:           agg.AssetPriceClose,
		AssetPriceSimpleMean:      agg.AssetPriceSimpleMean,
		IsCapped:                  cappedPoint || cappedP05 || cappedP95,
	}
	if row.IsCapped {
		log.Warnw("CappingWarning", zap.String("date", date.Format(storage.DateFormat)),
			zap.Float64("point", post.CounterfactualBaseFeePoint), zap.Float64("p05", post.CounterfactualBaseFeeP05),
			zap.Float64("p95", post.CounterfactualBaseFeeP95), zap.Float64("floor", caps.Floor), zap.Float64("ceiling", caps.Ceiling))
	}
	if reasons := b.support.Check(date, agg, post); len(reasons) > 0 {
		row.IsExtrapolationDay = true
		log.Warnw("ExtrapolationWarning", zap.String("date", date.Format(storage.DateFormat)), zap.Strings("reasons", reasons))
	}

	base, okBase := model.Float64Value(agg.GasWeightedBaseFee)
	tip, okTip := model.Float64Value(agg.GasWeightedPriorityFee)
	if okBase && okTip {
		row.ObservedTotalFee = model.Float64(base + tip)
	}
	price, okPrice := model.Float64Value(agg.AssetPriceGasTimeWeighted)
	if agg.IsZeroGas || !okBase || !okTip || !okPrice {
		return row, nil
	}

	for _, e := range []struct {
		cf        float64
		base, tip **float64
	}{
		{point, &row.DeltaUSDBaseOnly, &row.DeltaUSDBasePlusTip},
		{p05, &row.DeltaUSDBaseOnlyP05, &row.DeltaUSDBasePlusTipP05},
		{p95, &row.DeltaUSDBaseOnlyP95, &row.DeltaUSDBasePlusTipP95},
	} {
		d, err := ComputeDelta(agg.TotalGasUsed, base, tip, e.cf, price, b.tipPolicy)
		if err != nil {
			return nil, err
		}
		*e.base = model.Float64(d.BaseOnly)
		*e.tip = model.Float64(d.BasePlusTip)
	}
	return row, nil
}
