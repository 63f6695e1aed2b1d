package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/bjarneo/shelfie/internal/server"
)

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "Stay joined and serve searches and downloads over HTTP",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "listen",
			Usage: "address to listen on, overrides the configured one",
		},
	},
	Action: func(cctx *cli.Context) error {
		n, err := newNode(cctx, nil)
		if err != nil {
			return err
		}

		listen := n.cfg.Server.Listen
		if cctx.IsSet("listen") {
			listen = cctx.String("listen")
		}

		ctx, stop := signal.NotifyContext(cctx.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := n.sess.Connect(ctx); err != nil {
			return xerrors.Errorf("connecting: %w", err)
		}

		var annotator server.Annotator
		if n.cache != nil {
			annotator = n.cache
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return server.Serve(gctx, listen, server.Handler(n.client, annotator))
		})
		g.Go(func() error {
			<-gctx.Done()
			log.Info("shutting down")
			return n.sess.Disconnect()
		})
		return g.Wait()
	},
}
