package gates

import (
	"context"
	"regexp"
	"sort"

	"golang.org/x/xerrors"

	"github.com/l2-l1-causal-impact/bridge/config"
	gatesmodel "github.com/l2-l1-causal-impact/bridge/model/gates"
)

const ExclusionGateID = "G3_exclusion_hygiene"

// ExclusionGate fails when an excluded variable reaches the model inputs.
type ExclusionGate struct {
	variables map[string]bool
	patterns  []*regexp.Regexp
	// extrapolation covariates configured for the bridge
	covariates []string
}

func NewExclusionGate(variables, patterns []string, extrapolation config.ExtrapolationConf) (*ExclusionGate, error) {
	g := &ExclusionGate{variables: map[string]bool{}}
	for _, v := range variables {
		g.variables[v] = true
	}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, xerrors.Errorf("excluded pattern %q: %w", p, err)
		}
		g.patterns = append(g.patterns, re)
	}
	for name := range extrapolation.Covariates {
		g.covariates = append(g.covariates, name)
	}
	sort.Strings(g.covariates)
	return g, nil
}

func (g *ExclusionGate) ID() string {
	return ExclusionGateID
}

// excluded returns the rule that excludes name, empty when it is allowed.
func (g *ExclusionGate) excluded(name string) string {
	if g.variables[name] {
		return name
	}
	for _, re := range g.patterns {
		if re.MatchString(name) {
			return re.String()
		}
	}
	return ""
}

func (g *ExclusionGate) Evaluate(ctx context.Context, in *Inputs) (gatesmodel.Evidence, error) {
	var ev gatesmodel.Evidence
	scan := func(location string, names []string) {
		chk := gatesmodel.Check{Name: location, Status: gatesmodel.StatusPass, Observed: len(names)}
		var leaked []string
		for _, n := range names {
			if rule := g.excluded(n); rule != "" {
				leaked = append(leaked, n)
			}
		}
		if len(leaked) > 0 {
			chk.Status = gatesmodel.StatusFail
			chk.Observed = leaked
			chk.Detail = "excluded variables present"
		}
		ev = append(ev, chk)
	}

	paths := make([]string, 0, len(in.TableHeaders))
	for p := range in.TableHeaders {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		scan("table "+p, in.TableHeaders[p])
	}
	scan("posterior covariates", in.PosteriorCovariates)
	scan("extrapolation covariates", g.covariates)
	return ev, nil
}
