package bridge

import (
	"golang.org/x/xerrors"

	"github.com/l2-l1-causal-impact/bridge/units"
)

// TipPolicy sets the priority fee paid in the counterfactual world.
type TipPolicy string

const (
	// TipProportional scales the observed tip by the ratio of counterfactual to observed base fee.
	TipProportional TipPolicy = "proportional"
	// TipObserved keeps the observed tip.
	TipObserved TipPolicy = "observed"
)

func ParseTipPolicy(s string) (TipPolicy, error) {
	switch TipPolicy(s) {
	case "", TipProportional:
		return TipProportional, nil
	case TipObserved:
		return TipObserved, nil
	default:
		return "", xerrors.Errorf("unknown tip policy %q", s)
	}
}

// CounterfactualTip returns the tip paid alongside a counterfactual base fee cf, in the unit of
// the inputs.
func (p TipPolicy) CounterfactualTip(observedBase, observedTip, cf float64) float64 {
	if p == TipObserved || observedBase == 0 {
		return observedTip
	}
	return observedTip * cf / observedBase
}

// Delta is the observed minus counterfactual fee cost of a day in USD.
type Delta struct {
	BaseOnly    float64
	BasePlusTip float64
}

// ComputeDelta values gas at the observed and the counterfactual fees. Fees are gwei per gas and
// price is USD per ether.
func ComputeDelta(gas uint64, observedBase, observedTip, cf, price float64, policy TipPolicy) (Delta, error) {
	g := float64(gas)
	obsBase, err := units.GasCostUSD(g, observedBase, units.Gwei, price)
	if err != nil {
		return Delta{}, err
	}
	cfBase, err := units.GasCostUSD(g, cf, units.Gwei, price)
	if err != nil {
		return Delta{}, err
	}
	obsTotal, err := units.GasCostUSD(g, observedBase+observedTip, units.Gwei, price)
	if err != nil {
		return Delta{}, err
	}
	cfTotal, err := units.GasCostUSD(g, cf+policy.CounterfactualTip(observedBase, observedTip, cf), units.Gwei, price)
	if err != nil {
		return Delta{}, err
	}
	return Delta{
		BaseOnly:    obsBase - cfBase,
		BasePlusTip: obsTotal - cfTotal,
	}, nil
}
