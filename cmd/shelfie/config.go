package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/mitchellh/go-homedir"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/bjarneo/shelfie/internal/config"
)

var configCmd = &cli.Command{
	Name:  "config",
	Usage: "Inspect or create the configuration file",
	Subcommands: []*cli.Command{
		{
			Name:  "show",
			Usage: "Print the effective configuration",
			Action: func(cctx *cli.Context) error {
				cfg, err := config.Load(cctx.String("config"))
				if err != nil {
					return err
				}
				return toml.NewEncoder(os.Stdout).Encode(cfg)
			},
		},
		{
			Name:  "init",
			Usage: "Write the default configuration",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "force", Usage: "overwrite an existing file"},
			},
			Action: func(cctx *cli.Context) error {
				path, err := homedir.Expand(cctx.String("config"))
				if err != nil {
					return err
				}
				if _, err := os.Stat(path); err == nil && !cctx.Bool("force") {
					return xerrors.Errorf("%s already exists, use --force to overwrite", path)
				}
				if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
					return xerrors.Errorf("creating config dir: %w", err)
				}
				if err := config.Write(path, config.Default()); err != nil {
					return err
				}
				fmt.Println("wrote", path)
				return nil
			},
		},
	},
}
