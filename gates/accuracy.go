package gates

import (
	"context"
	"fmt"
	"sort"

	gatesmodel "github.com/l2-l1-causal-impact/bridge/model/gates"
	"github.com/l2-l1-causal-impact/bridge/model/welfare"
	"github.com/l2-l1-causal-impact/bridge/storage"
	"github.com/l2-l1-causal-impact/bridge/tasks/aggregate"
	"github.com/l2-l1-causal-impact/bridge/tasks/bridge"
)

const AccuracyGateID = "G1_mathematical_accuracy"

// AccuracyGate recomputes reported figures from their stored inputs.
type AccuracyGate struct {
	tol Tolerance
}

func NewAccuracyGate(tol Tolerance) *AccuracyGate {
	return &AccuracyGate{tol: tol}
}

func (g *AccuracyGate) ID() string {
	return AccuracyGateID
}

func (g *AccuracyGate) Evaluate(ctx context.Context, in *Inputs) (gatesmodel.Evidence, error) {
	var ev gatesmodel.Evidence

	rows := append(welfare.WelfareBridgeRowList(nil), in.Rows...)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })

	deltas, err := g.deltas(rows, in.Summary)
	if err != nil {
		return nil, err
	}
	ev = append(ev, deltas...)

	if len(in.Blocks) > 0 {
		agg, err := g.aggregates(ctx, in)
		if err != nil {
			return nil, err
		}
		ev = append(ev, agg...)
	}

	if in.Summary != nil {
		ev = append(ev, g.summary(rows, in.Summary)...)
	}
	return ev, nil
}

func (g *AccuracyGate) deltas(rows welfare.WelfareBridgeRowList, s *welfare.Summary) (gatesmodel.Evidence, error) {
	policy := bridge.TipProportional
	if s != nil {
		var err error
		if policy, err = bridge.ParseTipPolicy(s.TipPolicy); err != nil {
			return nil, err
		}
	}

	c := &collector{name: "bridge_deltas"}
	for _, r := range rows {
		date := r.Date.Format(storage.DateFormat)

		c.checked++
		var wantTotal *float64
		if r.ObservedBaseFee != nil && r.ObservedPriorityFee != nil {
			v := *r.ObservedBaseFee + *r.ObservedPriorityFee
			wantTotal = &v
		}
		if !g.tol.EqualPtr(r.ObservedTotalFee, wantTotal) {
			c.fail(gatesmodel.Check{Name: date + " observed_total_fee", Observed: r.ObservedTotalFee, Expected: wantTotal})
		}

		computable := !r.IsZeroGas() && r.ObservedBaseFee != nil && r.ObservedPriorityFee != nil && r.AssetPriceGasTimeWeighted != nil
		for _, e := range []struct {
			estimate welfare.Estimate
			cf       float64
		}{
			{welfare.Point, r.CounterfactualBaseFee},
			{welfare.P05, r.CounterfactualBaseFeeP05},
			{welfare.P95, r.CounterfactualBaseFeeP95},
		} {
			var want bridge.Delta
			if computable {
				var err error
				want, err = bridge.ComputeDelta(r.TotalGasUsed, *r.ObservedBaseFee, *r.ObservedPriorityFee, e.cf, *r.AssetPriceGasTimeWeighted, policy)
				if err != nil {
					return nil, err
				}
			}
			for _, v := range []struct {
				variant welfare.Variant
				want    float64
			}{
				{welfare.BaseOnly, want.BaseOnly},
				{welfare.BasePlusTip, want.BasePlusTip},
			} {
				c.checked++
				got := r.Delta(v.variant, e.estimate)
				name := fmt.Sprintf("%s delta_usd_%s_%s", date, v.variant, e.estimate)
				switch {
				case !computable && got != nil:
					c.fail(gatesmodel.Check{Name: name, Observed: *got, Detail: "delta reported for a day without gas or price"})
				case computable && got == nil:
					c.fail(gatesmodel.Check{Name: name, Expected: v.want, Detail: "delta missing"})
				case computable && !g.tol.Equal(*got, v.want):
					c.fail(gatesmodel.Check{Name: name, Observed: *got, Expected: v.want})
				}
			}
		}
	}
	return c.evidence(), nil
}

func (g *AccuracyGate) aggregates(ctx context.Context, in *Inputs) (gatesmodel.Evidence, error) {
	want, err := aggregate.NewTask().Aggregate(ctx, in.Blocks, in.Prices, in.Record)
	if err != nil {
		return gatesmodel.Evidence{{Name: "daily_aggregates", Status: gatesmodel.StatusFail, Detail: err.Error()}}, nil
	}
	byDate := want.ByDate()

	c := &collector{name: "daily_aggregates"}
	for _, got := range in.Aggregates {
		date := got.Date.Format(storage.DateFormat)
		c.checked++
		w, ok := byDate[got.Date]
		if !ok {
			c.fail(gatesmodel.Check{Name: date, Detail: "no blocks for reported day"})
			continue
		}
		delete(byDate, got.Date)
		fields := []struct {
			name      string
			got, want *float64
		}{
			{"gas_weighted_base_fee", got.GasWeightedBaseFee, w.GasWeightedBaseFee},
			{"gas_weighted_priority_fee", got.GasWeightedPriorityFee, w.GasWeightedPriorityFee},
			{"asset_price_gas_time_weighted", got.AssetPriceGasTimeWeighted, w.AssetPriceGasTimeWeighted},
			{"asset_price_close", got.AssetPriceClose, w.AssetPriceClose},
			{"asset_price_simple_mean", got.AssetPriceSimpleMean, w.AssetPriceSimpleMean},
		}
		for _, f := range fields {
			if !g.tol.EqualPtr(f.got, f.want) {
				c.fail(gatesmodel.Check{Name: date + " " + f.name, Observed: f.got, Expected: f.want})
			}
		}
		if got.TotalGasUsed != w.TotalGasUsed {
			c.fail(gatesmodel.Check{Name: date + " total_gas_used", Observed: got.TotalGasUsed, Expected: w.TotalGasUsed})
		}
		if got.BlockCount != w.BlockCount {
			c.fail(gatesmodel.Check{Name: date + " block_count", Observed: got.BlockCount, Expected: w.BlockCount})
		}
		if got.IsZeroGas != w.IsZeroGas {
			c.fail(gatesmodel.Check{Name: date + " is_zero_gas", Observed: got.IsZeroGas, Expected: w.IsZeroGas})
		}
	}
	for d := range byDate {
		c.checked++
		c.fail(gatesmodel.Check{Name: d.Format(storage.DateFormat), Detail: "day with blocks has no reported aggregate"})
	}
	return c.evidence(), nil
}

func (g *AccuracyGate) summary(rows welfare.WelfareBridgeRowList, s *welfare.Summary) gatesmodel.Evidence {
	c := &collector{name: "summary_totals"}
	denominators := gatesmodel.Evidence{}

	for _, sec := range []struct {
		name     string
		reported welfare.Totals
		in       bridge.Inclusion
	}{
		{"headline", s.Headline, bridge.Inclusion{Capped: s.IncludeCapped}},
		{"including_extrapolation", s.IncludingExtrapolation, bridge.Inclusion{Capped: s.IncludeCapped, Extrapolation: true}},
	} {
		var window int
		if t, ok := sec.reported.Get(welfare.BaseOnly, welfare.Point); ok {
			window = t.WindowLength
		}
		want := bridge.Sum(rows, window, sec.in)
		for _, v := range welfare.Variants {
			for _, e := range welfare.Estimates {
				name := fmt.Sprintf("%s %s %s", sec.name, v, e)
				c.checked++
				got, ok := sec.reported.Get(v, e)
				if !ok {
					c.fail(gatesmodel.Check{Name: name, Detail: "total missing"})
					continue
				}
				w, _ := want.Get(v, e)
				if !g.tol.Equal(got.Total, w.Total) {
					c.fail(gatesmodel.Check{Name: name + " total", Observed: got.Total, Expected: w.Total})
				}
				if got.DaysIncluded != w.DaysIncluded {
					c.fail(gatesmodel.Check{Name: name + " days_included", Observed: got.DaysIncluded, Expected: w.DaysIncluded})
				}
				if got.WindowLength != len(rows) {
					c.fail(gatesmodel.Check{Name: name + " window_length", Observed: got.WindowLength, Expected: len(rows)})
				}
				switch {
				case got.DaysIncluded == 0 && got.DailyAverage != nil:
					c.fail(gatesmodel.Check{Name: name + " daily_average", Observed: *got.DailyAverage, Detail: "average over no days"})
				case got.DaysIncluded > 0:
					avg := got.Total / float64(got.DaysIncluded)
					if got.DailyAverage == nil || !g.tol.Equal(*got.DailyAverage, avg) {
						c.fail(gatesmodel.Check{Name: name + " daily_average", Observed: got.DailyAverage, Expected: avg})
					}
				}

				if sec.name == "headline" && got.DaysIncluded < got.WindowLength {
					denominators = append(denominators, gatesmodel.Check{
						Name:     name + " denominator",
						Status:   gatesmodel.StatusWarn,
						Observed: got.DaysIncluded,
						Expected: got.WindowLength,
						Detail:   "days included is below the window length",
					})
				}
			}
		}
	}
	return append(c.evidence(), denominators...)
}
