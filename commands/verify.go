package commands

import (
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"
)

var VerifyCmd = &cli.Command{
	Name:  "verify",
	Usage: "Check the block input against the freeze record.",
	Description: `Recomputes the content hash of the block input and compares it with the freeze
record of the configured ledger. A mismatch is reported with the expected and
actual hashes and nothing is repaired.
`,
	Flags:  inputFlags(),
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
			return xerrors.Errorf("verify: %w", err)
		}
		printf(cctx, "OK: %s %s matches %s\n", PipelineFlags.Blocks, rec.HashAlgorithm, rec.ContentHash)
		return nil
	},
}
