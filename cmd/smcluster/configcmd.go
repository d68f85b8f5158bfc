package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/hurttlocker/smcluster/internal/config"
)

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "print the resolved configuration and where each value came from",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "print JSON"},
		},
		Action: func(cctx *cli.Context) error {
			resolved, err := resolve(cctx)
			if err != nil {
				return err
			}
			if _, err := resolved.Settings(); err != nil {
				fmt.Fprintf(cctx.App.ErrWriter, "warning: %v\n", err)
			}

			if cctx.Bool("json") {
				enc := json.NewEncoder(cctx.App.Writer)
				enc.SetIndent("", "  ")
				return enc.Encode(resolved)
			}
			fmt.Fprintf(cctx.App.Writer, "config file: %s\n\n", resolved.ConfigPath)
			tw := tabwriter.NewWriter(cctx.App.Writer, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tVALUE\tSOURCE\tFROM")
			for _, k := range config.Keys() {
				v := resolved.Get(k)
				fmt.Fprintf(tw, "%s\t%q\t%s\t%s\n", k, v.Value, v.Source, v.From)
			}
			return tw.Flush()
		},
	}
}
