package main

import (
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/bjarneo/shelfie/internal/ui"
)

var tuiCmd = &cli.Command{
	Name:  "tui",
	Usage: "Browse and download interactively",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "log-file",
			Value: filepath.Join(os.TempDir(), "shelfie.log"),
			Usage: "where to write logs while the terminal UI runs",
		},
	},
	Action: func(cctx *cli.Context) error {
		// the terminal belongs to the UI
		level, err := logging.LevelFromString(cctx.String("log-level"))
		if err != nil {
			return xerrors.Errorf("parsing log level: %w", err)
		}
		logging.SetupLogging(logging.Config{
			Format: logging.PlaintextOutput,
			Level:  level,
			File:   cctx.String("log-file"),
		})

		sender := ui.NewProgramSender()
		n, err := newNode(cctx, sender)
		if err != nil {
			return err
		}
		defer n.close()

		p := tea.NewProgram(ui.NewModel(n.client, n.sess), tea.WithAltScreen())
		sender.Attach(p)

		if _, err := p.Run(); err != nil {
			return xerrors.Errorf("running ui: %w", err)
		}
		return nil
	},
}
