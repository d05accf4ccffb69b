package commands

import (
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"
)

var FreezeCmd = &cli.Command{
	Name:  "freeze",
	Usage: "Hash the block input and write the freeze record of the ledger.",
	Description: `Computes the content hash of the block input and records it, with the commit
reference given by --commit, in the freeze record of the configured ledger
directory. A ledger is frozen exactly once: freezing a frozen ledger fails and
leaves the record untouched. Later runs validate their input against the record
with 'bridge verify'.
`,
	Flags:  inputFlags(commitFlag),
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

		rec, err := p.freeze(ctx, PipelineFlags.Commit)
		if err != nil {
			return xerrors.Errorf("freeze: %w", err)
		}
		printf(cctx, "frozen: %s %s %s (%d rows, %d columns)\n", rec.Dataset, rec.HashAlgorithm, rec.ContentHash, rec.RowCount, rec.ColumnCount)
		return nil
	},
}

// requireBlocks initializes a command that reads the block input.
func requireBlocks(cctx *cli.Context) error {
	if err := initialize(cctx); err != nil {
		return err
	}
	if PipelineFlags.Blocks == "" {
		return xerrors.Errorf("--blocks is required")
	}
	return nil
}
