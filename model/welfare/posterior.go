package welfare

import (
	"sort"
	"time"
)

// CounterfactualPosterior is one day of the upstream counterfactual base fee forecast, in gwei per
// gas. Any additional numeric columns of the input are kept in Covariates by column name.
type CounterfactualPosterior struct {
	tableName struct{} `pg:"counterfactual_posterior"` // nolint: structcheck

	Date                       time.Time          `pg:"type:date,pk,notnull"`
	CounterfactualBaseFeePoint float64            `pg:",use_zero,notnull"`
	CounterfactualBaseFeeP05   float64            `pg:"counterfactual_base_fee_p05,use_zero,notnull"`
	CounterfactualBaseFeeP95   float64            `pg:"counterfactual_base_fee_p95,use_zero,notnull"`
	Covariates                 map[string]float64 `pg:"-"`
}

// Ordered reports whether p05 <= point <= p95.
func (p *CounterfactualPosterior) Ordered() bool {
	return p.CounterfactualBaseFeeP05 <= p.CounterfactualBaseFeePoint && p.CounterfactualBaseFeePoint <= p.CounterfactualBaseFeeP95
}

type PosteriorList []*CounterfactualPosterior

// CovariateNames returns the sorted union of covariate column names across the list.
func (l PosteriorList) CovariateNames() []string {
	seen := map[string]struct{}{}
	for _, p := range l {
		for k := range p.Covariates {
			seen[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
