package main

import (
	"context"
	"fmt"
	"os"

	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/l2-l1-causal-impact/bridge/commands"
	"github.com/l2-l1-causal-impact/bridge/gates"
)

var log = logging.Logger("bridge")

func main() {
	if err := logging.SetLogLevel("*", "info"); err != nil {
		log.Fatal(err)
	}

	app := &cli.App{
		Name:    "bridge",
		Usage:   "Dollarize causal fee estimates and gate their release",
		Version: commands.Version,
		Flags:   commands.GlobalFlags,
		Commands: []*cli.Command{
			commands.InitCmd,
			commands.FreezeCmd,
			commands.VerifyCmd,
			commands.AggregateCmd,
			commands.BridgeCmd,
			commands.GateCmd,
			commands.RunCmd,
			commands.GapCmd,
			commands.TablesCmd,
		},
	}

	if err := app.RunContext(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode is 2 for a release blocked by a failed gate and 1 for any other error.
func exitCode(err error) int {
	var gf *gates.GateFailure
	if xerrors.As(err, &gf) {
		return 2
	}
	return 1
}
