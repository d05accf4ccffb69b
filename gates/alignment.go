package gates

import (
	"context"

	"github.com/l2-l1-causal-impact/bridge/config"
	"github.com/l2-l1-causal-impact/bridge/gates/claims"
	gatesmodel "github.com/l2-l1-causal-impact/bridge/model/gates"
)

const ClaimsGateID = "G4_claims_alignment"

// ClaimsGate evaluates the wording rules against the manuscript.
type ClaimsGate struct {
	rules []*claims.Rule
}

func NewClaimsGate(cfg []config.ClaimRuleConf) (*ClaimsGate, error) {
	rules, err := claims.RulesFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return &ClaimsGate{rules: rules}, nil
}

func (g *ClaimsGate) ID() string {
	return ClaimsGateID
}

func (g *ClaimsGate) Evaluate(ctx context.Context, in *Inputs) (gatesmodel.Evidence, error) {
	if in.Manuscript == "" {
		return gatesmodel.Evidence{{Name: "manuscript", Status: gatesmodel.StatusWarn, Detail: "no manuscript supplied"}}, nil
	}
	doc := claims.Extract(in.Manuscript)

	var ev gatesmodel.Evidence
	for _, r := range g.rules {
		findings := r.Evaluate(doc)
		for _, f := range findings {
			ev = append(ev, gatesmodel.Check{
				Name:     "rule " + f.Rule,
				Status:   f.Severity,
				Observed: f.Sentence,
				Expected: f.Match,
				Detail:   "section " + f.Section,
			})
		}
		if len(findings) == 0 {
			ev = append(ev, gatesmodel.Check{Name: "rule " + r.ID, Status: gatesmodel.StatusPass})
		}
	}
	return ev, nil
}
