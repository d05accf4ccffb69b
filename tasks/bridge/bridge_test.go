package bridge

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/xerrors"

	"github.com/l2-l1-causal-impact/bridge/chain/gap"
	"github.com/l2-l1-causal-impact/bridge/config"
	"github.com/l2-l1-causal-impact/bridge/lens"
	"github.com/l2-l1-causal-impact/bridge/model"
	"github.com/l2-l1-causal-impact/bridge/model/daily"
	"github.com/l2-l1-causal-impact/bridge/model/welfare"
	"github.com/l2-l1-causal-impact/bridge/provenance"
	"github.com/l2-l1-causal-impact/bridge/storage"
	"github.com/l2-l1-causal-impact/bridge/testutil"
	"github.com/l2-l1-causal-impact/bridge/units"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

var (
	record = &provenance.FreezeRecord{ContentHash: "feedface", HashAlgorithm: provenance.SHA256}

	day1 = testutil.Day(2024, time.January, 1)
	day2 = testutil.Day(2024, time.January, 2)
	day3 = testutil.Day(2024, time.January, 3)
)

func testConf() config.BridgeConf {
	cfg := config.DefaultConf().Bridge
	cfg.Window = config.WindowConf{Start: "2024-01-01", End: "2024-01-03"}
	cfg.Workers = 2
	return cfg
}

func aggregate(date time.Time, base, tip float64, gas uint64, gtw, closing, mean float64) *daily.DailyAggregate {
	return &daily.DailyAggregate{
		Date:                      date,
		GasWeightedBaseFee:        model.Float64(base),
		GasWeightedPriorityFee:    model.Float64(tip),
		TotalGasUsed:              gas,
		BlockCount:                1,
		AssetPriceGasTimeWeighted: model.Float64(gtw),
		AssetPriceClose:           model.Float64(closing),
		AssetPriceSimpleMean:      model.Float64(mean),
		DatasetHash:               record.ContentHash,
	}
}

func zeroGas(date time.Time, price float64) *daily.DailyAggregate {
	return &daily.DailyAggregate{
		Date:                      date,
		BlockCount:                1,
		IsZeroGas:                 true,
		AssetPriceGasTimeWeighted: nil,
		AssetPriceClose:           model.Float64(price),
		AssetPriceSimpleMean:      model.Float64(price),
		DatasetHash:               record.ContentHash,
	}
}

func posterior(date time.Time, point, p05, p95 float64) *welfare.CounterfactualPosterior {
	return &welfare.CounterfactualPosterior{
		Date:                       date,
		CounterfactualBaseFeePoint: point,
		CounterfactualBaseFeeP05:   p05,
		CounterfactualBaseFeeP95:   p95,
	}
}

// threeDays is a window of one ordinary day, one day whose counterfactual exceeds the ceiling of
// ten times the largest observed base fee (300 gwei) and one day without gas.
func threeDays() (daily.DailyAggregateList, welfare.PosteriorList) {
	aggs := daily.DailyAggregateList{
		aggregate(day1, 20, 2, 10_000_000, 2000, 2100, 1900),
		aggregate(day2, 30, 3, 20_000_000, 1000, 1000, 1000),
		zeroGas(day3, 2100),
	}
	post := welfare.PosteriorList{
		posterior(day1, 15, 10, 18),
		posterior(day2, 400, 20, 500),
		posterior(day3, 12, 10, 14),
	}
	return aggs, post
}

func TestBuildHandComputed(t *testing.T) {
	aggs, post := threeDays()
	b, err := NewBuilder(testConf(), WithClock(testutil.NewMockClock()))
	require.NoError(t, err)

	rows, summary, err := b.Build(context.Background(), aggs, post, record)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	r1 := rows[0]
	assert.Equal(t, day1, r1.Date)
	assert.False(t, r1.IsCapped)
	assert.False(t, r1.IsExtrapolationDay)
	assert.InDelta(t, 22, *r1.ObservedTotalFee, 1e-12)
	// 0.01 ether per gwei of fee at 10M gas, valued at 2000 USD
	assert.InDelta(t, 100, *r1.DeltaUSDBaseOnly, 1e-9)
	assert.InDelta(t, 200, *r1.DeltaUSDBaseOnlyP05, 1e-9)
	assert.InDelta(t, 40, *r1.DeltaUSDBaseOnlyP95, 1e-9)
	// proportional tips of 1.5, 1 and 1.8 gwei
	assert.InDelta(t, 110, *r1.DeltaUSDBasePlusTip, 1e-9)
	assert.InDelta(t, 220, *r1.DeltaUSDBasePlusTipP05, 1e-9)
	assert.InDelta(t, 44, *r1.DeltaUSDBasePlusTipP95, 1e-9)
	assert.Equal(t, record.ContentHash, r1.DatasetHash)

	r2 := rows[1]
	assert.True(t, r2.IsCapped)
	assert.Equal(t, 300.0, r2.CounterfactualBaseFee)
	assert.Equal(t, 20.0, r2.CounterfactualBaseFeeP05)
	assert.Equal(t, 300.0, r2.CounterfactualBaseFeeP95)
	assert.InDelta(t, -5400, *r2.DeltaUSDBaseOnly, 1e-9)
	assert.InDelta(t, 200, *r2.DeltaUSDBaseOnlyP05, 1e-9)

	r3 := rows[2]
	assert.True(t, r3.IsZeroGas())
	assert.Nil(t, r3.DeltaUSDBaseOnly)
	assert.Nil(t, r3.DeltaUSDBasePlusTip)
	assert.Nil(t, r3.ObservedTotalFee)

	require.NotNil(t, summary)
	assert.Equal(t, "merge_dencun", summary.Regime)
	assert.Equal(t, "2024-01-01", summary.WindowStart)
	assert.Equal(t, "2024-01-03", summary.WindowEnd)
	assert.Equal(t, "proportional", summary.TipPolicy)
	assert.Equal(t, record.ContentHash, summary.DatasetHash)
	assert.Equal(t, testutil.KnownTime, summary.GeneratedAt)

	tot, ok := summary.Headline.Get(welfare.BaseOnly, welfare.Point)
	require.True(t, ok)
	assert.InDelta(t, 100, tot.Total, 1e-9)
	assert.Equal(t, 1, tot.DaysIncluded)
	assert.Equal(t, 3, tot.WindowLength)
	assert.InDelta(t, 100, *tot.DailyAverage, 1e-9)

	tot, _ = summary.Headline.Get(welfare.BasePlusTip, welfare.P05)
	assert.InDelta(t, 220, tot.Total, 1e-9)

	assert.Equal(t, 1, summary.ExcludedCapped)
	assert.Equal(t, 1, summary.ExcludedZeroGas)
	assert.Equal(t, 0, summary.ExcludedExtrapolation)
	assert.Equal(t, 0, summary.ExcludedNoPrice)

	assert.InDelta(t, 105, summary.PriceScenarios[ScenarioClose][welfare.BaseOnly], 1e-9)
	assert.InDelta(t, 95, summary.PriceScenarios[ScenarioSimpleMean][welfare.BaseOnly], 1e-9)

	require.NotNil(t, summary.PerTransaction)
	assert.Equal(t, "2024-01-02", summary.PerTransaction.Date)
	assert.InDelta(t, -270, summary.PerTransaction.BaseFeeSavingGwei, 1e-12)
	assert.InDelta(t, -5.67, summary.PerTransaction.SavingsUSD["transfer"], 1e-9)
	assert.Empty(t, summary.Warnings)
}

func TestBuildIncludeCapped(t *testing.T) {
	aggs, post := threeDays()
	cfg := testConf()
	cfg.IncludeCapped = true
	b, err := NewBuilder(cfg)
	require.NoError(t, err)

	_, summary, err := b.Build(context.Background(), aggs, post, record)
	require.NoError(t, err)

	tot, _ := summary.Headline.Get(welfare.BaseOnly, welfare.Point)
	assert.InDelta(t, -5300, tot.Total, 1e-9)
	assert.Equal(t, 2, tot.DaysIncluded)
	assert.Equal(t, 0, summary.ExcludedCapped)
}

func TestCeilingUsesWholeHistory(t *testing.T) {
	aggs, post := threeDays()
	// outside the window, so it never produces a row
	aggs = append(aggs, aggregate(testutil.Day(2023, time.December, 31), 60, 1, 10_000_000, 2000, 2000, 2000))

	caps := NewCaps(config.CappingConf{CeilingMultiple: 10}, aggs)
	assert.Equal(t, 600.0, caps.Ceiling)

	b, err := NewBuilder(testConf())
	require.NoError(t, err)
	rows, summary, err := b.Build(context.Background(), aggs, post, record)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.False(t, rows[1].IsCapped)
	assert.Equal(t, 400.0, rows[1].CounterfactualBaseFee)
	assert.Equal(t, 0, summary.ExcludedCapped)
}

func TestBuildExtrapolation(t *testing.T) {
	aggs, post := threeDays()
	post[0].Covariates = map[string]float64{"tx_count": 5}

	cfg := testConf()
	cfg.IncludeCapped = true
	cfg.Extrapolation.Covariates = map[string]config.RangeConf{
		"total_gas_used": {Min: 0, Max: 15_000_000},
	}
	b, err := NewBuilder(cfg)
	require.NoError(t, err)

	rows, summary, err := b.Build(context.Background(), aggs, post, record)
	require.NoError(t, err)
	assert.False(t, rows[0].IsExtrapolationDay)
	assert.True(t, rows[1].IsExtrapolationDay)
	assert.False(t, rows[2].IsExtrapolationDay)
	assert.Equal(t, 1, summary.ExcludedExtrapolation)

	head, _ := summary.Headline.Get(welfare.BaseOnly, welfare.Point)
	assert.InDelta(t, 100, head.Total, 1e-9)
	sens, _ := summary.IncludingExtrapolation.Get(welfare.BaseOnly, welfare.Point)
	assert.InDelta(t, -5300, sens.Total, 1e-9)

	// a covariate the day does not carry is outside the support
	cfg.Extrapolation.Covariates = map[string]config.RangeConf{"tx_count": {Min: 0, Max: 10}}
	b, err = NewBuilder(cfg)
	require.NoError(t, err)
	rows, _, err = b.Build(context.Background(), aggs, post, record)
	require.NoError(t, err)
	assert.False(t, rows[0].IsExtrapolationDay)
	assert.True(t, rows[1].IsExtrapolationDay)

	// days after the fit range
	cfg.Extrapolation.Covariates = nil
	cfg.Extrapolation.FitEnd = "2024-01-01"
	b, err = NewBuilder(cfg)
	require.NoError(t, err)
	rows, _, err = b.Build(context.Background(), aggs, post, record)
	require.NoError(t, err)
	assert.False(t, rows[0].IsExtrapolationDay)
	assert.True(t, rows[1].IsExtrapolationDay)
	assert.True(t, rows[2].IsExtrapolationDay)
}

func TestWindowRegimeViolation(t *testing.T) {
	cfg := testConf()
	cfg.Window = config.WindowConf{Start: "2024-03-10", End: "2024-03-15"}
	_, err := NewBuilder(cfg)
	require.Error(t, err)

	var verr *WindowRegimeViolation
	require.True(t, xerrors.As(err, &verr))
	assert.Equal(t, []string{"merge_dencun", "post_dencun"}, verr.Regimes)

	cfg.Window = config.WindowConf{Start: "2010-01-01", End: "2010-01-02"}
	_, err = NewBuilder(cfg)
	require.True(t, xerrors.As(err, &verr))
	assert.Empty(t, verr.Regimes)

	// the last day before the boundary is still inside
	cfg.Window = config.WindowConf{Start: "2024-03-01", End: "2024-03-12"}
	b, err := NewBuilder(cfg)
	require.NoError(t, err)
	assert.Equal(t, 12, b.Window().Len())
}

func TestParseRegimesOverlap(t *testing.T) {
	_, err := ParseRegimes([]config.RegimeConf{
		{Name: "a", Start: "2024-01-01", End: "2024-02-01"},
		{Name: "b", Start: "2024-01-15", End: "2024-03-01"},
	})
	require.Error(t, err)
}

func TestBuildPosteriorViolations(t *testing.T) {
	aggs, post := threeDays()
	post = welfare.PosteriorList{
		posterior(day1, 15, 10, 18),
		posterior(day1, 15, 10, 18),
		posterior(day2, 10, 20, 30),
	}
	b, err := NewBuilder(testConf())
	require.NoError(t, err)

	_, _, err = b.Build(context.Background(), aggs, post, record)
	var verr *lens.InputValidationError
	require.True(t, xerrors.As(err, &verr))
	violations := verr.Violations()
	require.Len(t, violations, 3)
	assert.Equal(t, 2, violations[0].Row)
	assert.Contains(t, violations[0].Reason, "duplicate")
	assert.Equal(t, 3, violations[1].Row)
	assert.Contains(t, violations[2].Reason, "2024-01-03")
}

func TestBuildMissingAggregate(t *testing.T) {
	aggs, post := threeDays()
	strg := storage.NewMemStorageLatest()
	b, err := NewBuilder(testConf(), WithGapStorage(strg, t.Name()))
	require.NoError(t, err)

	_, _, err = b.Build(context.Background(), aggs[:1], post, record)
	var gerr *gap.GapError
	require.True(t, xerrors.As(err, &gerr))
	assert.Equal(t, []time.Time{day2, day3}, gerr.Missing)
	assert.Len(t, strg.Rows("gap_reports"), 2)
}

func TestBuildNeedsRecord(t *testing.T) {
	aggs, post := threeDays()
	b, err := NewBuilder(testConf())
	require.NoError(t, err)
	_, _, err = b.Build(context.Background(), aggs, post, nil)
	require.Error(t, err)
}

func TestBuildWarnings(t *testing.T) {
	aggs, post := threeDays()
	cfg := testConf()
	cfg.ImplausibleDailyUSD = 50
	cfg.TipPolicy = string(TipObserved)
	aggs[0].GasWeightedPriorityFee = model.Float64(0)
	b, err := NewBuilder(cfg)
	require.NoError(t, err)

	_, summary, err := b.Build(context.Background(), aggs, post, record)
	require.NoError(t, err)
	assert.Contains(t, summary.Warnings[0], "2024-01-01: base_only delta 100.00 USD")
	assert.Contains(t, summary.Warnings[len(summary.Warnings)-1], "identical")
}

func TestSumIsSequentialAndConsistent(t *testing.T) {
	aggs, post := threeDays()
	b, err := NewBuilder(testConf())
	require.NoError(t, err)
	rows, summary, err := b.Build(context.Background(), aggs, post, record)
	require.NoError(t, err)

	again := Sum(rows, 3, Inclusion{})
	assert.Equal(t, summary.Headline, again)
	for _, v := range welfare.Variants {
		for _, e := range welfare.Estimates {
			tot, ok := summary.Headline.Get(v, e)
			require.True(t, ok)
			require.NotNil(t, tot.DailyAverage)
			assert.InDelta(t, tot.Total/float64(tot.DaysIncluded), *tot.DailyAverage, 1e-12)
		}
	}
}

func TestDecomposition(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		gas := uint64(rng.Int63n(30_000_000))
		base := rng.Float64() * 200
		tip := rng.Float64() * 5
		cf := rng.Float64() * 200
		price := 500 + rng.Float64()*4000

		for _, policy := range []TipPolicy{TipProportional, TipObserved} {
			d, err := ComputeDelta(gas, base, tip, cf, price, policy)
			require.NoError(t, err)
			contribution, err := units.GasCostUSD(float64(gas), tip-policy.CounterfactualTip(base, tip, cf), units.Gwei, price)
			require.NoError(t, err)
			assert.InDelta(t, d.BaseOnly+contribution, d.BasePlusTip, 1e-6)
		}
	}
}

func TestTipPolicy(t *testing.T) {
	p, err := ParseTipPolicy("")
	require.NoError(t, err)
	assert.Equal(t, TipProportional, p)
	assert.Equal(t, 1.0, p.CounterfactualTip(20, 2, 10))
	// no observed base fee to scale by
	assert.Equal(t, 2.0, p.CounterfactualTip(0, 2, 10))
	assert.Equal(t, 2.0, TipObserved.CounterfactualTip(20, 2, 10))

	_, err = ParseTipPolicy("zero")
	require.Error(t, err)
}
