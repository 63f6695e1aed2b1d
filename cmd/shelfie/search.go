package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/bjarneo/shelfie/internal/enrich"
)

var searchCmd = &cli.Command{
	Name:      "search",
	Usage:     "Search the channel and print the results",
	ArgsUsage: "<query>",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "enrich",
			Usage: "look up publication details for each result",
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "print results as JSON",
		},
	},
	Action: func(cctx *cli.Context) error {
		query := strings.Join(cctx.Args().Slice(), " ")
		if strings.TrimSpace(query) == "" {
			return xerrors.New("a search query is required")
		}

		n, err := newNode(cctx, nil)
		if err != nil {
			return err
		}
		defer n.close()

		ctx := cctx.Context
		if err := n.sess.Connect(ctx); err != nil {
			return xerrors.Errorf("connecting: %w", err)
		}

		entries, err := n.client.Search(ctx, query)
		if err != nil {
			return err
		}

		var results []enrich.Result
		if cctx.Bool("enrich") && n.cache != nil {
			results = n.cache.Annotate(ctx, entries)
		} else {
			results = make([]enrich.Result, len(entries))
			for i, e := range entries {
				results[i].Entry = e
			}
		}

		if cctx.Bool("json") {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		}

		tw := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "#\tTitle\tAuthor\tFormat\tSize\tYear\tCommand")
		for i, r := range results {
			year := ""
			if r.Metadata != nil && r.Metadata.FirstPublished > 0 {
				year = fmt.Sprint(r.Metadata.FirstPublished)
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n", i+1, r.Title, r.Author, r.Format, r.Size, year, r.Command)
		}
		return tw.Flush()
	},
}

var downloadCmd = &cli.Command{
	Name:      "download",
	Usage:     "Request a file with a command from a search listing",
	ArgsUsage: "<command>",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "dir",
			Usage: "save into this directory instead of the configured one",
		},
	},
	Action: func(cctx *cli.Context) error {
		// quote the command to keep its exact spacing
		command := strings.Join(cctx.Args().Slice(), " ")
		if strings.TrimSpace(command) == "" {
			return xerrors.New("a download command is required")
		}

		n, err := newNode(cctx, nil)
		if err != nil {
			return err
		}
		defer n.close()

		if dir := cctx.String("dir"); dir != "" {
			n.client.SetDownloadDir(dir)
		}

		ctx := cctx.Context
		if err := n.sess.Connect(ctx); err != nil {
			return xerrors.Errorf("connecting: %w", err)
		}

		d, err := n.client.Download(ctx, command)
		if err != nil {
			return err
		}
		fmt.Printf("saved %s (%s) to %s\n", d.FileName, humanize.Bytes(uint64(d.Size)), d.Path)
		return nil
	},
}
