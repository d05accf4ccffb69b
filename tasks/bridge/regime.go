package bridge

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/xerrors"

	"github.com/l2-l1-causal-impact/bridge/config"
	"github.com/l2-l1-causal-impact/bridge/storage"
)

const day = 24 * time.Hour

// A Regime is a named half-open period [Start, End) of one fee market design.
type Regime struct {
	Name  string
	Start time.Time
	End   time.Time
}

func (r Regime) contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

func (r Regime) String() string {
	return fmt.Sprintf("%s [%s, %s)", r.Name, r.Start.Format(storage.DateFormat), r.End.Format(storage.DateFormat))
}

// ParseRegimes reads the configured regimes, sorted by start.
func ParseRegimes(cfg []config.RegimeConf) ([]Regime, error) {
	out := make([]Regime, 0, len(cfg))
	for _, rc := range cfg {
		start, err := config.ParseDate(rc.Start)
		if err != nil {
			return nil, xerrors.Errorf("regime %s start: %w", rc.Name, err)
		}
		end, err := config.ParseDate(rc.End)
		if err != nil {
			return nil, xerrors.Errorf("regime %s end: %w", rc.Name, err)
		}
		if !end.After(start) {
			return nil, xerrors.Errorf("regime %s ends before it starts", rc.Name)
		}
		out = append(out, Regime{Name: rc.Name, Start: start, End: end})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	for i := 1; i < len(out); i++ {
		if out[i].Start.Before(out[i-1].End) {
			return nil, xerrors.Errorf("regimes %s and %s overlap", out[i-1].Name, out[i].Name)
		}
	}
	return out, nil
}

// WindowRegimeViolation is returned for an analysis window that does not lie within a single
// regime.
type WindowRegimeViolation struct {
	Start, End time.Time
	// Regimes are the regimes the window touches.
	Regimes []string
}

func (e *WindowRegimeViolation) Error() string {
	span := fmt.Sprintf("[%s, %s]", e.Start.Format(storage.DateFormat), e.End.Format(storage.DateFormat))
	if len(e.Regimes) == 0 {
		return fmt.Sprintf("window %s lies outside every declared regime", span)
	}
	if len(e.Regimes) == 1 {
		return fmt.Sprintf("window %s extends beyond regime %s", span, e.Regimes[0])
	}
	return fmt.Sprintf("window %s spans regimes %s", span, strings.Join(e.Regimes, ", "))
}

// A Window is an inclusive range of calendar days within one regime.
type Window struct {
	Start  time.Time
	End    time.Time
	Regime Regime
}

// NewWindow returns the window [start, end], failing with a WindowRegimeViolation unless both ends
// fall within the same regime.
func NewWindow(start, end time.Time, regimes []Regime) (*Window, error) {
	start, end = truncate(start), truncate(end)
	if end.Before(start) {
		return nil, xerrors.Errorf("window ends %s before it starts %s", end.Format(storage.DateFormat), start.Format(storage.DateFormat))
	}

	var touched []string
	for _, r := range regimes {
		if r.Start.After(end) || !r.End.After(start) {
			continue
		}
		touched = append(touched, r.Name)
		if r.contains(start) && r.contains(end) {
			return &Window{Start: start, End: end, Regime: r}, nil
		}
	}
	return nil, &WindowRegimeViolation{Start: start, End: end, Regimes: touched}
}

// WindowFromConfig parses the configured window against the configured regimes.
func WindowFromConfig(cfg config.BridgeConf) (*Window, error) {
	regimes, err := ParseRegimes(cfg.Regimes)
	if err != nil {
		return nil, err
	}
	start, err := config.ParseDate(cfg.Window.Start)
	if err != nil {
		return nil, xerrors.Errorf("window start: %w", err)
	}
	end, err := config.ParseDate(cfg.Window.End)
	if err != nil {
		return nil, xerrors.Errorf("window end: %w", err)
	}
	return NewWindow(start, end, regimes)
}

// Len is the number of days in the window.
func (w *Window) Len() int {
	return int(w.End.Sub(w.Start)/day) + 1
}

// Dates returns every day of the window in ascending order.
func (w *Window) Dates() []time.Time {
	out := make([]time.Time, 0, w.Len())
	for d := w.Start; !d.After(w.End); d = d.Add(day) {
		out = append(out, d)
	}
	return out
}

func (w *Window) Contains(t time.Time) bool {
	t = truncate(t)
	return !t.Before(w.Start) && !t.After(w.End)
}

// Middle returns the middle day of the window, the earlier of the two for an even length.
func (w *Window) Middle() time.Time {
	return w.Start.Add(time.Duration((w.Len()-1)/2) * day)
}

func truncate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
