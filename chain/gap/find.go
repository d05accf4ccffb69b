package gap

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/raulk/clock"
	"golang.org/x/xerrors"

	"github.com/l2-l1-causal-impact/bridge/model"
	"github.com/l2-l1-causal-impact/bridge/model/visor"
	"github.com/l2-l1-causal-impact/bridge/storage"
)

var log = logging.Logger("bridge/gap")

const day = 24 * time.Hour

// GapError reports the calendar days missing from a series that must be contiguous.
type GapError struct {
	Task    string
	Missing []time.Time
}

func (e *GapError) Error() string {
	dates := make([]string, len(e.Missing))
	for i, d := range e.Missing {
		dates[i] = d.Format(storage.DateFormat)
	}
	const shown = 10
	if len(dates) > shown {
		dates = append(dates[:shown], fmt.Sprintf("and %d more", len(e.Missing)-shown))
	}
	return fmt.Sprintf("%s has %d missing day(s): %s", e.Task, len(e.Missing), strings.Join(dates, ", "))
}

// Finder looks for days missing from a date series. With a zero start or end the series' own first
// or last day bounds the search.
type Finder struct {
	name       string
	task       string
	start, end time.Time
	clock      clock.Clock
}

func NewFinder(name, task string, start, end time.Time) *Finder {
	return &Finder{
		name:  name,
		task:  task,
		start: start,
		end:   end,
		clock: clock.New(),
	}
}

// WithClock sets the clock used to stamp reports.
func (g *Finder) WithClock(c clock.Clock) *Finder {
	g.clock = c
	return g
}

// Find returns a report for every day between the bounds that is not in dates. Dates need not be
// sorted and may repeat.
func (g *Finder) Find(ctx context.Context, dates []time.Time) (visor.GapReportList, error) {
	seen := make(map[time.Time]struct{}, len(dates))
	for _, d := range dates {
		seen[truncate(d)] = struct{}{}
	}

	start, end := truncate(g.start), truncate(g.end)
	if len(dates) > 0 {
		sorted := make([]time.Time, 0, len(seen))
		for d := range seen {
			sorted = append(sorted, d)
		}
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })
		if g.start.IsZero() {
			start = sorted[0]
		}
		if g.end.IsZero() {
			end = sorted[len(sorted)-1]
		}
	}
	if start.IsZero() || end.IsZero() {
		return nil, nil
	}
	if end.Before(start) {
		return nil, xerrors.Errorf("gap search range ends %s before it starts %s", end.Format(storage.DateFormat), start.Format(storage.DateFormat))
	}

	now := g.clock.Now().UTC()
	out := visor.GapReportList{}
	for d := start; !d.After(end); d = d.Add(day) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if _, ok := seen[d]; ok {
			continue
		}
		out = append(out, &visor.GapReport{
			Date:       d,
			Task:       g.task,
			Status:     visor.GapStatusMissing,
			Reporter:   g.name,
			ReportedAt: now,
		})
	}
	log.Infow("searched for gaps", "task", g.task, "start", start.Format(storage.DateFormat), "end", end.Format(storage.DateFormat), "gaps", len(out), "reporter", g.name)
	return out, nil
}

// Check finds gaps in dates, persists any it finds to strg when strg is not nil, and returns a
// GapError naming them.
func (g *Finder) Check(ctx context.Context, strg model.Storage, dates []time.Time) (visor.GapReportList, error) {
	gaps, err := g.Find(ctx, dates)
	if err != nil {
		return nil, err
	}
	if len(gaps) == 0 {
		return gaps, nil
	}
	if strg != nil {
		if err := strg.PersistBatch(ctx, gaps); err != nil {
			return gaps, xerrors.Errorf("persist gap reports: %w", err)
		}
	}
	return gaps, &GapError{Task: g.task, Missing: gaps.Dates()}
}

func truncate(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
