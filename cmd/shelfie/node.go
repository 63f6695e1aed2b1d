package main

import (
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/bjarneo/shelfie/internal/client"
	"github.com/bjarneo/shelfie/internal/config"
	"github.com/bjarneo/shelfie/internal/core"
	"github.com/bjarneo/shelfie/internal/enrich"
	"github.com/bjarneo/shelfie/internal/filetransfer"
	"github.com/bjarneo/shelfie/internal/network"
	"github.com/bjarneo/shelfie/internal/session"
)

// node is a wired session, receiver and client.
type node struct {
	cfg    config.Config
	sess   *session.Session
	client *client.Client
	cache  *enrich.Cache
}

// newNode loads the configuration and wires the components. observer, if
// not nil, sees every session and transfer event.
func newNode(cctx *cli.Context, observer core.Observer) (*node, error) {
	cfg, err := config.Load(cctx.String("config"))
	if err != nil {
		return nil, xerrors.Errorf("loading config: %w", err)
	}

	recvOpts := []filetransfer.ReceiverOption{filetransfer.WithExtractLimit(cfg.Transfer.MaxExtract)}
	if observer != nil {
		recvOpts = append(recvOpts, filetransfer.WithObserver(observer))
	}
	recv := filetransfer.NewReceiver(cfg.Transfer.DownloadDir, cfg.Transfer.IdleTimeout.Std(), recvOpts...)

	dialer := &network.Dialer{TLS: cfg.Session.TLS, Version: cfg.Session.Version}
	sess := session.New(cfg.Session, dialer)

	c := client.New(sess, recv, cfg.Search, client.WithDialTimeout(cfg.Transfer.DialTimeout.Std()))
	sess.Observe(c)
	if observer != nil {
		sess.Observe(observer)
	}

	n := &node{cfg: cfg, sess: sess, client: c}
	if cfg.Enrich.Enabled {
		n.cache = enrich.NewCache(enrich.NewOpenLibrary(cfg.Enrich.Endpoint, nil),
			cfg.Enrich.Size, cfg.Enrich.TTL.Std(), cfg.Enrich.Timeout.Std())
	}
	return n, nil
}

func (n *node) close() {
	if err := n.sess.Disconnect(); err != nil {
		log.Warnw("disconnecting", "error", err)
	}
}
