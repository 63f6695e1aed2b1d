package network

import (
	"context"
	"crypto/tls"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"
	"gopkg.in/irc.v3"

	"github.com/bjarneo/shelfie/internal/core"
	"github.com/bjarneo/shelfie/internal/protocol"
)

var log = logging.Logger("network")

const eventBuffer = 64

// Dialer connects to an IRC server.
type Dialer struct {
	TLS       bool
	TLSConfig *tls.Config
	// Version is sent in reply to CTCP VERSION.
	Version string
}

var _ core.Dialer = (*Dialer)(nil)

// Dial connects to addr and starts registration as id. Registration
// completes asynchronously with a core.Registered event.
func (d *Dialer) Dial(ctx context.Context, addr string, id core.Identity) (core.Conn, error) {
	nd := &net.Dialer{}
	var (
		nc  net.Conn
		err error
	)
	if d.TLS {
		cfg := d.TLSConfig
		if cfg == nil {
			host, _, _ := net.SplitHostPort(addr)
			cfg = &tls.Config{ServerName: host}
		}
		td := &tls.Dialer{NetDialer: nd, Config: cfg}
		nc, err = td.DialContext(ctx, "tcp", addr)
	} else {
		nc, err = nd.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, xerrors.Errorf("failed to connect to %s: %w", addr, err)
	}

	c := newConn(nc, id, d.Version)
	if err := c.register(); err != nil {
		nc.Close()
		return nil, err
	}
	go c.listen()
	return c, nil
}

// Conn is an IRC connection.
type Conn struct {
	nc      net.Conn
	irc     *irc.Conn
	id      core.Identity
	version string
	events  chan core.Event

	wmu        sync.Mutex
	nmu        sync.Mutex
	nick       string
	registered bool

	quitting atomic.Bool
	quitOnce sync.Once
}

var _ core.Conn = (*Conn)(nil)

func newConn(nc net.Conn, id core.Identity, version string) *Conn {
	if id.User == "" {
		id.User = id.Nick
	}
	if id.RealName == "" {
		id.RealName = id.Nick
	}
	return &Conn{
		nc:      nc,
		irc:     irc.NewConn(nc),
		id:      id,
		version: version,
		events:  make(chan core.Event, eventBuffer),
		nick:    id.Nick,
	}
}

// Events returns the connection's event stream.
func (c *Conn) Events() <-chan core.Event {
	return c.events
}

// Nick returns the nickname currently in use.
func (c *Conn) Nick() string {
	c.nmu.Lock()
	defer c.nmu.Unlock()
	return c.nick
}

// Join asks to join channel.
func (c *Conn) Join(channel string) error {
	return c.write("JOIN", channel)
}

// Send sends a PRIVMSG to target.
func (c *Conn) Send(target, text string) error {
	if strings.ContainsAny(text, "\r\n") {
		return xerrors.New("message must be a single line")
	}
	return c.write("PRIVMSG", target, text)
}

// Quit leaves the server and closes the socket. The event stream ends with
// a ConnectionLost event carrying a nil error.
func (c *Conn) Quit(reason string) error {
	var err error
	c.quitOnce.Do(func() {
		c.quitting.Store(true)
		if werr := c.write("QUIT", reason); werr != nil {
			log.Debugw("sending quit", "error", werr)
		}
		err = c.nc.Close()
	})
	return err
}

func (c *Conn) register() error {
	if err := c.write("NICK", c.id.Nick); err != nil {
		return xerrors.Errorf("sending nick: %w", err)
	}
	if err := c.write("USER", c.id.User, "0", "*", c.id.RealName); err != nil {
		return xerrors.Errorf("sending user: %w", err)
	}
	return nil
}

func (c *Conn) write(command string, params ...string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.irc.WriteMessage(&irc.Message{Command: command, Params: params})
}

func (c *Conn) emit(e core.Event) {
	c.events <- e
}

// listen reads and processes incoming messages until the connection closes.
func (c *Conn) listen() {
	defer close(c.events)

	for {
		m, err := c.irc.ReadMessage()
		if err != nil {
			if c.quitting.Load() {
				err = nil
			} else {
				err = xerrors.Errorf("connection closed by server: %w", err)
			}
			c.emit(core.ConnectionLost{Err: err})
			return
		}
		c.handle(m)
	}
}

func (c *Conn) handle(m *irc.Message) {
	switch m.Command {
	case "PING":
		if err := c.write("PONG", m.Params...); err != nil {
			log.Warnw("answering ping", "error", err)
		}

	case irc.RPL_WELCOME:
		c.nmu.Lock()
		if len(m.Params) > 0 {
			c.nick = m.Params[0]
		}
		c.registered = true
		nick := c.nick
		c.nmu.Unlock()
		c.emit(core.Registered{Nick: nick})

	case irc.ERR_NICKNAMEINUSE:
		c.nmu.Lock()
		if c.registered {
			c.nmu.Unlock()
			return
		}
		c.nick += "_"
		nick := c.nick
		c.nmu.Unlock()
		log.Infow("nickname in use, retrying", "nick", nick)
		if err := c.write("NICK", nick); err != nil {
			log.Warnw("retrying nick", "error", err)
		}

	case "NICK":
		if c.isSelf(m) && len(m.Params) > 0 {
			c.nmu.Lock()
			c.nick = m.Params[0]
			c.nmu.Unlock()
		}

	case "JOIN":
		if c.isSelf(m) && len(m.Params) > 0 {
			c.emit(core.JoinedChannel{Channel: m.Params[0], Nick: c.Nick()})
		}

	case "PRIVMSG":
		c.handlePrivmsg(m)

	case "NOTICE":
		text := m.Trailing()
		if protocol.IsCTCP(text) {
			return
		}
		c.emit(core.Notice{From: sender(m), Text: text})

	case "ERROR":
		log.Warnw("server error", "message", m.Trailing())
	}
}

func (c *Conn) handlePrivmsg(m *irc.Message) {
	text := m.Trailing()
	command, _, ok := protocol.ParseCTCP(text)
	if !ok {
		return
	}

	from := sender(m)
	switch command {
	case "VERSION":
		if err := c.write("NOTICE", from, protocol.CTCP("VERSION "+c.version)); err != nil {
			log.Warnw("answering version", "to", from, "error", err)
		}
	case "PING":
		if err := c.write("NOTICE", from, text); err != nil {
			log.Warnw("answering ctcp ping", "to", from, "error", err)
		}
	case "DCC":
		offer, err := protocol.ParseDCCSend(from, text)
		if err != nil {
			log.Warnw("ignoring DCC request", "from", from, "error", err)
			return
		}
		c.emit(core.TransferOffer{Offer: offer})
	}
}

func (c *Conn) isSelf(m *irc.Message) bool {
	return strings.EqualFold(sender(m), c.Nick())
}

func sender(m *irc.Message) string {
	if m.Prefix == nil {
		return ""
	}
	return m.Prefix.Name
}
