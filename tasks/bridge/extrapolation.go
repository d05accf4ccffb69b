package bridge

import (
	"reflect"
	"sort"
	"time"

	"golang.org/x/xerrors"

	"github.com/l2-l1-causal-impact/bridge/config"
	"github.com/l2-l1-causal-impact/bridge/model/daily"
	"github.com/l2-l1-causal-impact/bridge/model/welfare"
	"github.com/l2-l1-causal-impact/bridge/storage"
)

// Support is the region over which the counterfactual model was fit. Days outside it are
// extrapolations.
type Support struct {
	FitStart   time.Time
	FitEnd     time.Time
	Covariates map[string]config.RangeConf
}

// SupportFromConfig parses the configured model support. Empty fit dates leave that side open.
func SupportFromConfig(cfg config.ExtrapolationConf) (*Support, error) {
	s := &Support{Covariates: cfg.Covariates}
	var err error
	if cfg.FitStart != "" {
		if s.FitStart, err = config.ParseDate(cfg.FitStart); err != nil {
			return nil, xerrors.Errorf("fit start: %w", err)
		}
	}
	if cfg.FitEnd != "" {
		if s.FitEnd, err = config.ParseDate(cfg.FitEnd); err != nil {
			return nil, xerrors.Errorf("fit end: %w", err)
		}
	}
	for name, r := range cfg.Covariates {
		if r.Max < r.Min {
			return nil, xerrors.Errorf("covariate %s support has max below min", name)
		}
	}
	return s, nil
}

// Names returns the configured covariate names, sorted.
func (s *Support) Names() []string {
	out := make([]string, 0, len(s.Covariates))
	for k := range s.Covariates {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Check returns the reasons the day is outside the support, nil when it is inside.
func (s *Support) Check(date time.Time, agg *daily.DailyAggregate, post *welfare.CounterfactualPosterior) []string {
	var reasons []string
	if !s.FitStart.IsZero() && date.Before(s.FitStart) {
		reasons = append(reasons, "before fit range")
	}
	if !s.FitEnd.IsZero() && date.After(s.FitEnd) {
		reasons = append(reasons, "after fit range")
	}
	for _, name := range s.Names() {
		r := s.Covariates[name]
		v, ok := covariate(name, agg, post)
		switch {
		case !ok:
			reasons = append(reasons, name+" missing")
		case v < r.Min || v > r.Max:
			reasons = append(reasons, name+" outside support")
		}
	}
	return reasons
}

var aggregateTable = storage.ModelTable(&daily.DailyAggregate{}, storage.LatestSchemaVersion())

// covariate looks name up among the posterior covariate columns, then the numeric aggregate
// columns.
func covariate(name string, agg *daily.DailyAggregate, post *welfare.CounterfactualPosterior) (float64, bool) {
	if post != nil {
		if v, ok := post.Covariates[name]; ok {
			return v, true
		}
	}
	if agg == nil {
		return 0, false
	}
	for i, col := range aggregateTable.Columns {
		if col != name {
			continue
		}
		return numeric(reflect.ValueOf(agg).Elem().FieldByName(aggregateTable.Fields[i]))
	}
	return 0, false
}

func numeric(v reflect.Value) (float64, bool) {
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return 0, false
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Float64, reflect.Float32:
		return v.Float(), true
	case reflect.Int, reflect.Int64, reflect.Int32:
		return float64(v.Int()), true
	case reflect.Uint, reflect.Uint64, reflect.Uint32:
		return float64(v.Uint()), true
	default:
		return 0, false
	}
}
