package bridge

import (
	"fmt"
	"math"

	"github.com/l2-l1-causal-impact/bridge/model"
	"github.com/l2-l1-causal-impact/bridge/model/welfare"
	"github.com/l2-l1-causal-impact/bridge/provenance"
	"github.com/l2-l1-causal-impact/bridge/storage"
	"github.com/l2-l1-causal-impact/bridge/units"
)

// Price scenario names, one per alternative daily price column.
const (
	ScenarioClose      = "close"
	ScenarioSimpleMean = "simple_mean"
)

// ReferenceTransactions are the transaction sizes valued in the per transaction savings.
var ReferenceTransactions = []struct {
	Name string
	Gas  uint64
}{
	{"transfer", units.TransferGas},
	{"erc20", units.ERC20Gas},
	{"swap", units.SwapGas},
	{"complex", units.ComplexGas},
}

// Inclusion decides which rows contribute to a total.
type Inclusion struct {
	Capped        bool
	Extrapolation bool
}

func (in Inclusion) includes(r *welfare.WelfareBridgeRow) bool {
	if r.IsCapped && !in.Capped {
		return false
	}
	if r.IsExtrapolationDay && !in.Extrapolation {
		return false
	}
	return true
}

// Sum totals the deltas of rows for every variant and estimate. Rows must be in ascending date
// order and are added in that order. Rows without a delta are not included.
func Sum(rows welfare.WelfareBridgeRowList, windowLength int, in Inclusion) welfare.Totals {
	out := welfare.Totals{}
	for _, v := range welfare.Variants {
		for _, e := range welfare.Estimates {
			var (
				tot  float64
				days int
			)
			for _, r := range rows {
				d := r.Delta(v, e)
				if d == nil || !in.includes(r) {
					continue
				}
				tot += *d
				days++
			}
			t := welfare.Total{Total: tot, DaysIncluded: days, WindowLength: windowLength}
			if days > 0 {
				t.DailyAverage = model.Float64(tot / float64(days))
			}
			out.Set(v, e, t)
		}
	}
	return out
}

func (b *Builder) summarize(rows welfare.WelfareBridgeRowList, rec *provenance.FreezeRecord) (*welfare.Summary, error) {
	headline := Inclusion{Capped: b.includeCapped}
	s := &welfare.Summary{
		Regime:                 b.window.Regime.Name,
		WindowStart:            b.window.Start.Format(storage.DateFormat),
		WindowEnd:              b.window.End.Format(storage.DateFormat),
		TipPolicy:              string(b.tipPolicy),
		IncludeCapped:          b.includeCapped,
		DatasetHash:            rec.ContentHash,
		GeneratedAt:            b.clock.Now().UTC(),
		Headline:               Sum(rows, b.window.Len(), headline),
		IncludingExtrapolation: Sum(rows, b.window.Len(), Inclusion{Capped: b.includeCapped, Extrapolation: true}),
		PriceScenarios:         map[string]map[welfare.Variant]float64{},
		Warnings:               []string{},
	}

	for _, r := range rows {
		if r.IsCapped && !b.includeCapped {
			s.ExcludedCapped++
		}
		if r.IsExtrapolationDay {
			s.ExcludedExtrapolation++
		}
		if r.IsZeroGas() {
			s.ExcludedZeroGas++
		} else if r.AssetPriceGasTimeWeighted == nil {
			s.ExcludedNoPrice++
		}
	}

	if err := b.priceScenarios(s, rows, headline); err != nil {
		return nil, err
	}
	if err := b.perTransaction(s, rows); err != nil {
		return nil, err
	}
	s.Warnings = append(s.Warnings, b.warnings(rows, headline)...)
	for _, w := range s.Warnings {
		log.Warnw("summary warning", "warning", w)
	}
	return s, nil
}

// priceScenarios totals the headline point deltas valued at the close and the simple mean price.
func (b *Builder) priceScenarios(s *welfare.Summary, rows welfare.WelfareBridgeRowList, in Inclusion) error {
	scenarios := []struct {
		name  string
		price func(r *welfare.WelfareBridgeRow) *float64
	}{
		{ScenarioClose, func(r *welfare.WelfareBridgeRow) *float64 { return r.AssetPriceClose }},
		{ScenarioSimpleMean, func(r *welfare.WelfareBridgeRow) *float64 { return r.AssetPriceSimpleMean }},
	}
	for _, sc := range scenarios {
		totals := map[welfare.Variant]float64{}
		for _, r := range rows {
			if r.DeltaUSDBaseOnly == nil || !in.includes(r) {
				continue
			}
			price, ok := model.Float64Value(sc.price(r))
			if !ok {
				continue
			}
			d, err := ComputeDelta(r.TotalGasUsed, *r.ObservedBaseFee, *r.ObservedPriorityFee, r.CounterfactualBaseFee, price, b.tipPolicy)
			if err != nil {
				return err
			}
			totals[welfare.BaseOnly] += d.BaseOnly
			totals[welfare.BasePlusTip] += d.BasePlusTip
		}
		s.PriceScenarios[sc.name] = totals
	}
	return nil
}

// perTransaction values the point base fee saving on the middle day of the window.
func (b *Builder) perTransaction(s *welfare.Summary, rows welfare.WelfareBridgeRowList) error {
	mid := b.window.Middle()
	for _, r := range rows {
		if !r.Date.Equal(mid) {
			continue
		}
		base, okBase := model.Float64Value(r.ObservedBaseFee)
		price, okPrice := model.Float64Value(r.AssetPriceGasTimeWeighted)
		if !okBase || !okPrice {
			return nil
		}
		pt := &welfare.PerTransaction{
			Date:              mid.Format(storage.DateFormat),
			BaseFeeSavingGwei: base - r.CounterfactualBaseFee,
			AssetPrice:        price,
			SavingsUSD:        map[string]float64{},
		}
		for _, tx := range ReferenceTransactions {
			usd, err := units.GasCostUSD(float64(tx.Gas), pt.BaseFeeSavingGwei, units.Gwei, price)
			if err != nil {
				return err
			}
			pt.SavingsUSD[tx.Name] = usd
		}
		s.PerTransaction = pt
	}
	return nil
}

func (b *Builder) warnings(rows welfare.WelfareBridgeRowList, in Inclusion) []string {
	var out []string
	if b.implausible > 0 {
		for _, r := range rows {
			for _, v := range welfare.Variants {
				d := r.Delta(v, welfare.Point)
				if d != nil && math.Abs(*d) > b.implausible {
					out = append(out, fmt.Sprintf("%s: %s delta %.2f USD exceeds the implausible daily threshold %.2f USD",
						r.Date.Format(storage.DateFormat), v, *d, b.implausible))
				}
			}
		}
	}

	identical, compared := true, 0
	for _, r := range rows {
		if r.DeltaUSDBaseOnly == nil || !in.includes(r) {
			continue
		}
		compared++
		if *r.DeltaUSDBaseOnly != *r.DeltaUSDBasePlusTip {
			identical = false
			break
		}
	}
	if compared > 0 && identical {
		out = append(out, "base_plus_tip deltas are identical to base_only, the priority fee contributes nothing")
	}
	return out
}
