package commands

import (
	"fmt"

	tablewriter "github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"

	"github.com/l2-l1-causal-impact/bridge/storage"
)

var tablesFlags struct {
	markdown bool
}

// TablesCmd documents the tables the pipeline writes.
var TablesCmd = &cli.Command{
	Name:  "tables",
	Usage: "Describe the columns of every table the pipeline writes.",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:        "markdown",
			Usage:       "Render the tables as markdown.",
			Destination: &tablesFlags.markdown,
		},
	},
	Action: func(cctx *cli.Context) error {
		appendOnly := map[string]bool{}
		for _, name := range storage.AppendOnlyTables {
			appendOnly[name] = true
		}

		version := storage.LatestSchemaVersion()
		for _, m := range storage.Models {
			table := storage.ModelTable(m, version)

			t := tablewriter.NewWriter()
			t.AppendHeader(tablewriter.Row{"Column", "Type"})
			for i, col := range table.Columns {
				t.AppendRow(tablewriter.Row{fmt.Sprintf("`%s`", col), fmt.Sprintf("`%s`", table.Types[i])})
			}

			printf(cctx, "### %s\n\n", table.Name)
			if appendOnly[table.Name] {
				printf(cctx, "* Append only\n")
			}
			printf(cctx, "* Schema version: `%s`\n\n", version)
			if tablesFlags.markdown {
				printf(cctx, "%s\n\n", t.RenderMarkdown())
			} else {
				printf(cctx, "%s\n\n", t.Render())
			}
		}
		return nil
	},
}
