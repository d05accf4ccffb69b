package commands

import (
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/l2-l1-causal-impact/bridge/chain/gap"
	"github.com/l2-l1-causal-impact/bridge/config"
	"github.com/l2-l1-causal-impact/bridge/storage"
)

type gapOps struct {
	from    string
	to      string
	persist bool
}

var gapFlags gapOps

var GapCmd = &cli.Command{
	Name:  "gap",
	Usage: "Inspect the day coverage of the daily aggregates",
	Subcommands: []*cli.Command{
		GapFindCmd,
	},
}

var GapFindCmd = &cli.Command{
	Name:  "find",
	Usage: "find days missing from daily_aggregates.csv",
	Flags: []cli.Flag{
		nameFlag,
		configFlag,
		buildDirFlag,
		storageFlag,
		&cli.StringFlag{
			Name:        "from",
			Usage:       "first `DATE` to search for gaps in, defaults to the first aggregated day",
			EnvVars:     []string{"BRIDGE_GAP_FROM"},
			Destination: &gapFlags.from,
		},
		&cli.StringFlag{
			Name:        "to",
			Usage:       "last `DATE` to search for gaps in, defaults to the last aggregated day",
			EnvVars:     []string{"BRIDGE_GAP_TO"},
			Destination: &gapFlags.to,
		},
		&cli.BoolFlag{
			Name:        "persist",
			Usage:       "append the gaps found to gap_reports",
			EnvVars:     []string{"BRIDGE_GAP_PERSIST"},
			Destination: &gapFlags.persist,
		},
	},
	Before: func(cctx *cli.Context) error {
		if err := initialize(cctx); err != nil {
			return err
		}
		from, to, err := gapRange()
		if err != nil {
			return err
		}
		if !from.IsZero() && !to.IsZero() && to.Before(from) {
			return xerrors.Errorf("value of --to (%s) should be >= --from (%s)", gapFlags.to, gapFlags.from)
		}
		return nil
	},
	After: destroy,
	Action: func(cctx *cli.Context) error {
		ctx, cancel := reqContext(cctx)
		defer cancel()

		p, err := openPipeline(ctx, PipelineFlags)
		if err != nil {
			return err
		}
		defer p.Close() // nolint: errcheck

		aggs, err := p.api.DailyAggregates(ctx)
		if err != nil {
			return err
		}
		from, to, err := gapRange()
		if err != nil {
			return err
		}

		finder := gap.NewFinder(p.name, "daily_aggregates", from, to).WithClock(p.clock)
		gaps, err := finder.Find(ctx, aggs.Dates())
		if err != nil {
			return err
		}
		for _, g := range gaps {
			printf(cctx, "%s\t%s\n", g.Date.Format(storage.DateFormat), g.Status)
		}
		printf(cctx, "%d gap(s) in %d aggregated day(s)\n", len(gaps), len(aggs))

		if gapFlags.persist && len(gaps) > 0 {
			if err := p.history().PersistBatch(ctx, gaps); err != nil {
				return xerrors.Errorf("persist gap reports: %w", err)
			}
		}
		return nil
	},
}

func gapRange() (from, to time.Time, err error) {
	if gapFlags.from != "" {
		if from, err = config.ParseDate(gapFlags.from); err != nil {
			return from, to, xerrors.Errorf("--from: %w", err)
		}
	}
	if gapFlags.to != "" {
		if to, err = config.ParseDate(gapFlags.to); err != nil {
			return from, to, xerrors.Errorf("--to: %w", err)
		}
	}
	return from, to, nil
}
