package gates

import (
	"context"
	"regexp"
	"sort"

	"golang.org/x/xerrors"

	"github.com/l2-l1-causal-impact/bridge/config"
	"github.com/l2-l1-causal-impact/bridge/model"
	gatesmodel "github.com/l2-l1-causal-impact/bridge/model/gates"
	"github.com/l2-l1-causal-impact/bridge/provenance"
)

const ConsistencyGateID = "G2_internal_consistency"

type constant struct {
	name    string
	pattern *regexp.Regexp
	value   string
}

// ConsistencyGate checks that every artifact derives from the frozen dataset and that standardized
// constants are quoted identically throughout the manuscript.
type ConsistencyGate struct {
	constants []constant
}

func NewConsistencyGate(constants map[string]config.ConstantConf) (*ConsistencyGate, error) {
	g := &ConsistencyGate{}
	for name, c := range constants {
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			return nil, xerrors.Errorf("constant %s pattern: %w", name, err)
		}
		if re.NumSubexp() < 1 {
			return nil, xerrors.Errorf("constant %s pattern has no capture group", name)
		}
		g.constants = append(g.constants, constant{name: name, pattern: re, value: c.Value})
	}
	sort.Slice(g.constants, func(i, j int) bool { return g.constants[i].name < g.constants[j].name })
	return g, nil
}

func (g *ConsistencyGate) ID() string {
	return ConsistencyGateID
}

func (g *ConsistencyGate) Evaluate(ctx context.Context, in *Inputs) (gatesmodel.Evidence, error) {
	var ev gatesmodel.Evidence

	artifacts := []struct {
		name    string
		present bool
		stamped model.Stamped
	}{
		{"daily_aggregates", len(in.Aggregates) > 0, in.Aggregates},
		{"welfare_bridge", len(in.Rows) > 0, in.Rows},
		{"welfare_summary", in.Summary != nil, in.Summary},
	}
	for _, a := range artifacts {
		chk := gatesmodel.Check{Name: "dataset_hash " + a.name, Status: gatesmodel.StatusPass, Expected: in.Record.ContentHash}
		if !a.present {
			chk.Status = gatesmodel.StatusWarn
			chk.Detail = "artifact not supplied"
			ev = append(ev, chk)
			continue
		}
		if err := provenance.VerifyStamps(in.Record, a.name, a.stamped); err != nil {
			var mismatch *provenance.HashMismatchError
			if !xerrors.As(err, &mismatch) {
				return nil, err
			}
			chk.Status = gatesmodel.StatusFail
			chk.Observed = mismatch.Actual
			chk.Detail = err.Error()
		}
		ev = append(ev, chk)
	}

	for _, c := range g.constants {
		ev = append(ev, c.check(in.Manuscript))
	}
	return ev, nil
}

func (c constant) check(text string) gatesmodel.Check {
	chk := gatesmodel.Check{Name: "constant " + c.name, Status: gatesmodel.StatusPass, Expected: c.value}
	var found []string
	for _, m := range c.pattern.FindAllStringSubmatch(text, -1) {
		found = append(found, m[1])
	}
	chk.Observed = found
	switch {
	case len(found) == 0:
		chk.Status = gatesmodel.StatusWarn
		chk.Detail = "constant does not occur in the manuscript"
	default:
		for _, f := range found {
			if f != c.value {
				chk.Status = gatesmodel.StatusFail
				chk.Detail = "occurrences differ from the canonical value"
				break
			}
		}
	}
	return chk
}
