package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/hurttlocker/smcluster/internal/synth"
)

func synthCommand() *cli.Command {
	d := synth.DefaultOptions()
	return &cli.Command{
		Name:  "synth",
		Usage: "write a synthetic CrowdTangle export with planted networks",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "pages", Value: d.Pages, Usage: "total pages"},
			&cli.IntFlag{Name: "networks", Value: d.Networks, Usage: "planted networks"},
			&cli.IntFlag{Name: "network-size", Value: d.NetworkSize, Usage: "pages per network"},
			&cli.IntFlag{Name: "posts", Value: d.Posts, Usage: "unique posts per page"},
			&cli.IntFlag{Name: "shared-posts", Value: d.SharedPosts, Usage: "content items each network shares"},
			&cli.Float64Flag{Name: "overlap", Value: d.Overlap, Usage: "chance a member publishes a shared item"},
			&cli.Float64Flag{Name: "link-share", Value: d.LinkShare, Usage: "fraction of shared items posted as links"},
			&cli.Int64Flag{Name: "seed", Value: d.Seed, Usage: "random seed"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Value: "synthetic.csv", Usage: "output file, - for stdout"},
		},
		Action: func(cctx *cli.Context) error {
			ds, err := synth.Generate(synth.Options{
				Pages:       cctx.Int("pages"),
				Networks:    cctx.Int("networks"),
				NetworkSize: cctx.Int("network-size"),
				Posts:       cctx.Int("posts"),
				SharedPosts: cctx.Int("shared-posts"),
				Overlap:     cctx.Float64("overlap"),
				LinkShare:   cctx.Float64("link-share"),
				Seed:        cctx.Int64("seed"),
			})
			if err != nil {
				return err
			}
			output := cctx.String("output")
			if err := withOutput(output, cctx.App.Writer, func(w io.Writer) error { return ds.WriteCSV(w) }); err != nil {
				return err
			}

			info := cctx.App.Writer
			if output == "-" {
				info = cctx.App.ErrWriter
			}
			fmt.Fprintf(info, "Wrote %d posts to %s\n", len(ds.Posts), output)
			for i, n := range ds.Networks {
				fmt.Fprintf(info, "network %d: %s\n", i, strings.Join(n, ", "))
			}
			return nil
		},
	}
}
