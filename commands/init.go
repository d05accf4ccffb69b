package commands

import (
	"github.com/mitchellh/go-homedir"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/l2-l1-causal-impact/bridge/config"
)

var initFlags struct {
	config string
}

var InitCmd = &cli.Command{
	Name:  "init",
	Usage: "Write a commented default config file.",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "Specify path of config file to create.",
			EnvVars:     []string{"BRIDGE_CONFIG"},
			Value:       "./bridge.toml",
			Destination: &initFlags.config,
		},
	},
	Before: initialize,
	After:  destroy,
	Action: func(cctx *cli.Context) error {
		path, err := homedir.Expand(initFlags.config)
		if err != nil {
			return xerrors.Errorf("expand config path: %w", err)
		}
		if err := config.EnsureExists(path); err != nil {
			return xerrors.Errorf("ensuring config is present at %q: %w", path, err)
		}
		log.Infow("config ready", "path", path)
		printf(cctx, "config: %s\n", path)
		return nil
	},
}
