package welfare

import (
	"time"
)

// Variant names which fee components a delta covers.
type Variant string

const (
	BaseOnly    Variant = "base_only"
	BasePlusTip Variant = "base_plus_tip"
)

// Variants lists every variant in reporting order.
var Variants = []Variant{BaseOnly, BasePlusTip}

// Estimate names a point of the counterfactual posterior.
type Estimate string

const (
	Point Estimate = "point"
	P05   Estimate = "p05"
	P95   Estimate = "p95"
)

// Estimates lists every estimate in reporting order.
var Estimates = []Estimate{Point, P05, P95}

// Delta returns the delta of the row for the given variant and estimate.
func (r *WelfareBridgeRow) Delta(v Variant, e Estimate) *float64 {
	switch v {
	case BaseOnly:
		switch e {
		case Point:
			return r.DeltaUSDBaseOnly
		case P05:
			return r.DeltaUSDBaseOnlyP05
		case P95:
			return r.DeltaUSDBaseOnlyP95
		}
	case BasePlusTip:
		switch e {
		case Point:
			return r.DeltaUSDBasePlusTip
		case P05:
			return r.DeltaUSDBasePlusTipP05
		case P95:
			return r.DeltaUSDBasePlusTipP95
		}
	}
	return nil
}

// Total is the sum of daily deltas over the days that were included.
type Total struct {
	Total        float64 `json:"total"`
	DaysIncluded int     `json:"days_included"`
	WindowLength int     `json:"window_length"`
	// DailyAverage is Total divided by DaysIncluded, nil when no day was included.
	DailyAverage *float64 `json:"daily_average"`
}

// Totals holds a Total per variant and estimate.
type Totals map[Variant]map[Estimate]Total

func (t Totals) Get(v Variant, e Estimate) (Total, bool) {
	m, ok := t[v]
	if !ok {
		return Total{}, false
	}
	tot, ok := m[e]
	return tot, ok
}

func (t Totals) Set(v Variant, e Estimate, tot Total) {
	if t[v] == nil {
		t[v] = map[Estimate]Total{}
	}
	t[v][e] = tot
}

// PerTransaction values the point base fee saving of one reference day for typical transaction
// sizes.
type PerTransaction struct {
	Date              string             `json:"date"`
	BaseFeeSavingGwei float64            `json:"base_fee_saving_gwei"`
	AssetPrice        float64            `json:"asset_price"`
	SavingsUSD        map[string]float64 `json:"savings_usd"`
}

// Summary reports the window totals of a welfare bridge table.
type Summary struct {
	Regime        string    `json:"regime"`
	WindowStart   string    `json:"window_start"`
	WindowEnd     string    `json:"window_end"`
	TipPolicy     string    `json:"tip_policy"`
	IncludeCapped bool      `json:"include_capped"`
	DatasetHash   string    `json:"dataset_hash"`
	GeneratedAt   time.Time `json:"generated_at"`

	Headline Totals `json:"headline"`

	ExcludedCapped        int `json:"excluded_capped"`
	ExcludedExtrapolation int `json:"excluded_extrapolation"`
	ExcludedZeroGas       int `json:"excluded_zero_gas"`
	ExcludedNoPrice       int `json:"excluded_no_price"`

	// IncludingExtrapolation is the headline with extrapolation days added back.
	IncludingExtrapolation Totals `json:"including_extrapolation"`
	// PriceScenarios totals the point deltas valued at alternative daily prices, keyed by price
	// column.
	PriceScenarios map[string]map[Variant]float64 `json:"price_scenarios"`
	PerTransaction *PerTransaction                `json:"per_transaction,omitempty"`

	Warnings []string `json:"warnings"`
}

func (s *Summary) DatasetHashes() []string {
	return []string{s.DatasetHash}
}
