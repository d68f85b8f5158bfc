package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/hurttlocker/smcluster/internal/report"
	"github.com/hurttlocker/smcluster/internal/store"
)

func runsCommand() *cli.Command {
	dbFlag := func() cli.Flag {
		return &cli.StringFlag{Name: "db", Usage: "SQLite file written by cluster --format sqlite", Required: true}
	}
	return &cli.Command{
		Name:  "runs",
		Usage: "inspect runs saved to a SQLite report",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "list saved runs, newest first",
				Flags: []cli.Flag{dbFlag(), &cli.IntFlag{Name: "limit", Value: 20}},
				Action: func(cctx *cli.Context) error {
					st, err := store.NewStore(store.StoreConfig{DBPath: cctx.String("db")})
					if err != nil {
						return err
					}
					defer st.Close()
					runs, err := st.ListRuns(cctx.Context, cctx.Int("limit"))
					if err != nil {
						return err
					}
					tw := tabwriter.NewWriter(cctx.App.Writer, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "ID\tCREATED\tNODES\tCLUSTERS\tPAGES")
					for _, r := range runs {
						fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\n", r.ID, r.CreatedAt.Format("2006-01-02 15:04:05"), r.Nodes, r.Clusters, r.ClusteredPages)
					}
					return tw.Flush()
				},
			},
			{
				Name:      "show",
				Usage:     "write the report rows of a saved run as CSV",
				ArgsUsage: "RUN_ID",
				Flags: []cli.Flag{
					dbFlag(),
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Value: "-", Usage: "output file, - for stdout"},
				},
				Action: func(cctx *cli.Context) error {
					id := cctx.Args().First()
					if id == "" {
						return fmt.Errorf("usage: smcluster runs show --db FILE RUN_ID")
					}
					st, err := store.NewStore(store.StoreConfig{DBPath: cctx.String("db")})
					if err != nil {
						return err
					}
					defer st.Close()
					rows, err := st.RunRows(cctx.Context, id)
					if err != nil {
						return err
					}
					withLang := len(rows) > 0 && rows[0].PageLang != ""
					opts := report.DefaultCSVOptions()
					opts.WithLanguage = withLang
					return withOutput(cctx.String("output"), cctx.App.Writer, func(w io.Writer) error {
						return report.WriteCSV(w, rows, opts)
					})
				},
			},
		},
	}
}
