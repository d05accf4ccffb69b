package commands

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/l2-l1-causal-impact/bridge/gates"
	"github.com/l2-l1-causal-impact/bridge/provenance"
)

func init() {
	name := "bridge_" + Version
	hostname, err := os.Hostname()
	if err == nil {
		name = fmt.Sprintf("%s_%s_%d", name, hostname, os.Getpid())
	}
	nameFlag.Value = name
}

var RunCmd = &cli.Command{
	Name:  "run",
	Usage: "Run the whole pipeline from block input to gate report.",
	Description: `Runs every step of the pipeline in order, stopping at the first that fails:

  freeze     when the ledger is unfrozen, hash the block input and write the
             freeze record; otherwise validate the input against the record
  aggregate  gas-weighted daily aggregates, daily_aggregates.csv
  bridge     daily welfare deltas and window totals, welfare_bridge.csv and
             welfare_summary.json
  gate       quality gates, quality_gate_results.csv and gate_report.json

Artifacts are written once: a build directory that already holds them must be
cleared or a new one given with --build-dir. Every step appends a row to
processing_reports.csv with its outcome.
`,
	Flags:  inputFlags(commitFlag, manuscriptFlag, covariateFlag, progressFlag),
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

		var rec *provenance.FreezeRecord
		if p.ledger.State() == provenance.StateUnfrozen {
			if _, err := p.freeze(ctx, PipelineFlags.Commit); err != nil {
				return xerrors.Errorf("freeze: %w", err)
			}
			if rec, err = p.ledger.Authorize(); err != nil {
				return err
			}
		} else if rec, err = p.verify(ctx); err != nil {
			return xerrors.Errorf("verify: %w", err)
		}
		printf(cctx, "dataset %s %s\n", rec.HashAlgorithm, rec.ContentHash)

		aggs, bl, prices, err := p.aggregate(ctx, rec)
		if err != nil {
			return err
		}
		rows, summary, post, err := p.bridge(ctx, rec, aggs)
		if err != nil {
			return err
		}
		printSummary(cctx, summary)

		report, err := p.gate(ctx, &gates.Inputs{
			Record:              rec,
			Blocks:              bl,
			Prices:              prices,
			Aggregates:          aggs,
			Rows:                rows,
			Summary:             summary,
			PosteriorCovariates: post.CovariateNames(),
		})
		if report != nil {
			printReport(cctx, report)
		}
		return err
	},
}
