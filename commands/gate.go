package commands

import (
	"fmt"
	"path/filepath"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"

	"github.com/l2-l1-causal-impact/bridge/gates"
	gatesmodel "github.com/l2-l1-causal-impact/bridge/model/gates"
)

var GateCmd = &cli.Command{
	Name:  "gate",
	Usage: "Run the quality gates over the artifacts of the build directory.",
	Description: `Validates the block input against the freeze record and evaluates the four
quality gates over daily_aggregates.csv, welfare_bridge.csv and
welfare_summary.json:

  G1  mathematical accuracy, recomputing deltas, aggregates and totals
  G2  internal consistency of dataset hashes and manuscript constants
  G3  exclusion of mediator variables from covariate tables and the posterior
  G4  alignment of manuscript claims with their required qualifiers

Results are appended to quality_gate_results.csv, and to --storage when given,
and the report of the run is written to gate_report.json. The command exits with
status 2 when any gate fails.
`,
	Flags:  inputFlags(manuscriptFlag, covariateFlag),
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
		report, err := p.gate(ctx, &gates.Inputs{Record: rec})
		if report != nil {
			printReport(cctx, report)
			printf(cctx, "report: %s\n", filepath.Join(p.buildDir, GateReportFile))
		}
		return err
	},
}

func printReport(cctx *cli.Context, r *gates.Report) {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Gate", "Status", "Checks", "Not passed"})
	for _, g := range r.Gates {
		var notPassed string
		for _, c := range g.Evidence {
			if c.Status == gatesmodel.StatusPass {
				continue
			}
			if notPassed != "" {
				notPassed += "\n"
			}
			notPassed += fmt.Sprintf("%s %s: %s", c.Status, c.Name, c.Detail)
		}
		t.AppendRow(table.Row{g.GateID, g.Status, len(g.Evidence), notPassed})
	}
	t.AppendFooter(table.Row{"run " + r.RunID, r.Status, "", ""})
	printf(cctx, "%s\n", t.Render())
}
