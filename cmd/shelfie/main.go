package main

import (
	"os"

	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"
)

var log = logging.Logger("main")

const version = "0.1.0"

func main() {
	app := &cli.App{
		Name:    "shelfie",
		Usage:   "Search for ebooks on IRC and download them over DCC",
		Version: version,
		Commands: []*cli.Command{
			searchCmd,
			downloadCmd,
			tuiCmd,
			serveCmd,
			configCmd,
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				EnvVars: []string{"SHELFIE_CONFIG"},
				Value:   "~/.config/shelfie/config.toml",
				Usage:   "path to the TOML configuration file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
			},
		},
		Before: func(cctx *cli.Context) error {
			return logging.SetLogLevel("*", cctx.String("log-level"))
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Errorf("%+v", err)
		os.Exit(1)
	}
}
