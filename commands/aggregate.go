package commands

import (
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/l2-l1-causal-impact/bridge/lens/file"
)

var AggregateCmd = &cli.Command{
	Name:  "aggregate",
	Usage: "Reduce the block input to gas-weighted daily aggregates.",
	Description: `Validates the block input against the freeze record, then computes one
gas-weighted aggregate per UTC day and writes them to daily_aggregates.csv in
the build directory. Price observations given by --prices add the daily asset
price columns. Days missing between the first and last day, or the configured
Aggregate.Start and Aggregate.End, are recorded in gap_reports.csv and fail the
command.
`,
	Flags:  inputFlags(progressFlag),
	Before: requireBlocks,
	After:  destroy,
	Action: func(cctx *cli.Context) error {
		ctx, cancel := reqContext(cctx)
		defer cancel()

		p, err := openPipeline(ctx, PipelineFlags)
		if err != nil {
			return err
		}
		defer p.Close() // nolint: errcheck

		rec, err := p.verify(ctx)
		if err != nil {
			return err
		}
		aggs, _, _, err := p.aggregate(ctx, rec)
		if err != nil {
			return err
		}
		printf(cctx, "aggregated %d days: %s\n", len(aggs), filepath.Join(p.buildDir, file.DailyAggregatesFile))
		return nil
	},
}
