package bridge

import (
	"math"

	"github.com/l2-l1-causal-impact/bridge/config"
	"github.com/l2-l1-causal-impact/bridge/model/daily"
)

// Caps is the plausibility interval for counterfactual base fees, in gwei per gas.
type Caps struct {
	Floor   float64
	Ceiling float64
}

// NewCaps derives the interval from configuration and the largest observed gas weighted base fee
// among aggs, which should be every aggregate available rather than only the analysis window. The ceiling is the smaller of the absolute ceiling and the multiple of the observed
// maximum, each ignored when not positive.
func NewCaps(cfg config.CappingConf, aggs daily.DailyAggregateList) Caps {
	var maxObserved float64
	for _, a := range aggs {
		if a.GasWeightedBaseFee != nil && *a.GasWeightedBaseFee > maxObserved {
			maxObserved = *a.GasWeightedBaseFee
		}
	}

	ceiling := math.Inf(1)
	if cfg.AbsoluteCeiling > 0 {
		ceiling = cfg.AbsoluteCeiling
	}
	if cfg.CeilingMultiple > 0 && maxObserved > 0 {
		ceiling = math.Min(ceiling, cfg.CeilingMultiple*maxObserved)
	}
	return Caps{Floor: cfg.Floor, Ceiling: ceiling}
}

// Apply truncates v to the interval and reports whether it had to.
func (c Caps) Apply(v float64) (float64, bool) {
	switch {
	case v < c.Floor:
		return c.Floor, true
	case v > c.Ceiling:
		return c.Ceiling, true
	default:
		return v, false
	}
}
