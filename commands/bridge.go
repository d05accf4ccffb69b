package commands

import (
	"path/filepath"

	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/l2-l1-causal-impact/bridge/lens/file"
	"github.com/l2-l1-causal-impact/bridge/model/welfare"
)

var BridgeCmd = &cli.Command{
	Name:  "bridge",
	Usage: "Convert the counterfactual posterior into daily welfare deltas.",
	Description: `Reads daily_aggregates.csv from the build directory and the posterior given by
--posterior, and writes welfare_bridge.csv and welfare_summary.json. The window
configured in Bridge.Window must lie within one of Bridge.Regimes and every
window day needs an aggregate and exactly one posterior row.
`,
	Flags: inputFlags(),
	Before: func(cctx *cli.Context) error {
		if err := requireBlocks(cctx); err != nil {
			return err
		}
		if PipelineFlags.Posterior == "" {
			return xerrors.Errorf("--posterior is required")
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

		rec, err := p.verify(ctx)
		if err != nil {
			return err
		}
		_, summary, _, err := p.bridge(ctx, rec, nil)
		if err != nil {
			return err
		}
		printSummary(cctx, summary)
		printf(cctx, "wrote %s and %s\n", filepath.Join(p.buildDir, file.WelfareBridgeFile), filepath.Join(p.buildDir, file.SummaryFile))
		return nil
	},
}

func printSummary(cctx *cli.Context, s *welfare.Summary) {
	printf(cctx, "%s window %s to %s, tip policy %s\n", s.Regime, s.WindowStart, s.WindowEnd, s.TipPolicy)
	for _, v := range welfare.Variants {
		tot, ok := s.Headline.Get(v, welfare.Point)
		if !ok {
			continue
		}
		printf(cctx, "  %-14s total %.2f USD over %d of %d days\n", v, tot.Total, tot.DaysIncluded, tot.WindowLength)
	}
	for _, w := range s.Warnings {
		printf(cctx, "  warning: %s\n", w)
	}
}
