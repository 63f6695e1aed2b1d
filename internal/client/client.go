package client

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/raulk/clock"
	"golang.org/x/xerrors"

	"github.com/bjarneo/shelfie/internal/config"
	"github.com/bjarneo/shelfie/internal/core"
	"github.com/bjarneo/shelfie/internal/filetransfer"
	"github.com/bjarneo/shelfie/internal/listing"
	"github.com/bjarneo/shelfie/internal/metrics"
	"github.com/bjarneo/shelfie/internal/protocol"
	"github.com/bjarneo/shelfie/internal/session"
)

var log = logging.Logger("client")

var (
	ErrNotConnected    = xerrors.New("not connected to the channel")
	ErrBusy            = xerrors.New("another search or download is in progress")
	ErrSearchTimeout   = xerrors.New("search timed out")
	ErrDownloadTimeout = xerrors.New("download timed out")
	ErrNoListingFound  = xerrors.New("no search listing in the transfer")
	ErrNoMatches       = xerrors.New("search returned no matches")
)

const (
	defaultDialTimeout     = 20 * time.Second
	defaultSearchTimeout   = 2 * time.Minute
	defaultDownloadTimeout = 5 * time.Minute
)

// Session is the part of session.Session the client needs.
type Session interface {
	State() core.State
	Send(ctx context.Context, text string) error
	Config() config.Session
}

// Stream is an open DCC connection.
type Stream interface {
	filetransfer.Stream
	io.Closer
}

// DialFunc opens the DCC connection of an offer.
type DialFunc func(ctx context.Context, offer protocol.Offer) (Stream, error)

// Kind is the operation waiting for a transfer.
type Kind int

const (
	KindSearch Kind = iota + 1
	KindDownload
)

func (k Kind) String() string {
	switch k {
	case KindSearch:
		return "search"
	case KindDownload:
		return "download"
	default:
		return "unknown"
	}
}

// Delivery is a downloaded file.
type Delivery struct {
	FileName string `json:"fileName"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
}

// Settings is a snapshot of the client's configuration.
type Settings struct {
	Session     config.Session
	Search      config.Search
	DownloadDir string
}

// Client pairs outgoing search and download commands with the single DCC
// transfer expected to answer them. Only one operation may be waiting at a
// time.
type Client struct {
	sess  Session
	recv  *filetransfer.Receiver
	cfg   config.Search
	clock clock.Clock
	dial  DialFunc

	mu   sync.Mutex
	slot *pending
}

// result settles a pending operation: either a transfer outcome or an error.
type result struct {
	outcome filetransfer.Outcome
	err     error
}

// pending is the correlation slot. It is settled exactly once.
type pending struct {
	kind    Kind
	done    chan result
	timer   *clock.Timer
	claimed bool

	// ctx bounds the transfer started for this slot.
	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Client.
type Option func(*Client)

// WithClock replaces the clock used for operation deadlines.
func WithClock(c clock.Clock) Option {
	return func(cl *Client) { cl.clock = c }
}

// WithDialer replaces how DCC connections are opened.
func WithDialer(d DialFunc) Option {
	return func(cl *Client) { cl.dial = d }
}

// WithDialTimeout bounds connecting to a DCC sender.
func WithDialTimeout(d time.Duration) Option {
	return func(cl *Client) {
		cl.dial = func(ctx context.Context, offer protocol.Offer) (Stream, error) {
			return filetransfer.Dial(ctx, offer, d)
		}
	}
}

// New creates a Client. It must be registered as an observer of sess to see
// transfer offers.
func New(sess Session, recv *filetransfer.Receiver, cfg config.Search, opts ...Option) *Client {
	if cfg.Prefix == "" {
		cfg.Prefix = protocol.DefaultSearchPrefix
	}
	if cfg.ListingExt == "" {
		cfg.ListingExt = protocol.DefaultListingExt
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = config.Duration(defaultSearchTimeout)
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = config.Duration(defaultDownloadTimeout)
	}

	c := &Client{
		sess:  sess,
		recv:  recv,
		cfg:   cfg,
		clock: clock.New(),
	}
	WithDialTimeout(defaultDialTimeout)(c)
	for _, o := range opts {
		o(c)
	}
	return c
}

// Status returns the session state.
func (c *Client) Status() core.State {
	return c.sess.State()
}

// Config returns the current settings.
func (c *Client) Config() Settings {
	return Settings{
		Session:     c.sess.Config(),
		Search:      c.cfg,
		DownloadDir: c.recv.Dir(),
	}
}

// SetDownloadDir changes where downloads are saved, starting with the next
// transfer.
func (c *Client) SetDownloadDir(dir string) {
	c.recv.SetDir(dir)
}

// Busy reports whether an operation is waiting for a transfer.
func (c *Client) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slot != nil
}

// Search asks the search bot for query and returns the parsed listing.
func (c *Client) Search(ctx context.Context, query string) ([]listing.Entry, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, xerrors.New("search query is empty")
	}

	r, err := c.request(ctx, KindSearch, protocol.SearchCommand(c.cfg.Prefix, query), c.cfg.SearchTimeout.Std())
	if err != nil {
		metrics.Searches.WithLabelValues(resultLabel(err)).Inc()
		return nil, err
	}

	entries, err := c.searchResult(r)
	metrics.Searches.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		return nil, err
	}
	log.Infow("search complete", "query", query, "results", len(entries))
	return entries, nil
}

// Download sends command exactly as given and returns the delivered file.
func (c *Client) Download(ctx context.Context, command string) (Delivery, error) {
	if strings.TrimSpace(command) == "" {
		return Delivery{}, xerrors.New("download command is empty")
	}

	r, err := c.request(ctx, KindDownload, command, c.cfg.DownloadTimeout.Std())
	if err == nil {
		err = r.err
	}
	if err != nil {
		metrics.Downloads.WithLabelValues(resultLabel(err)).Inc()
		return Delivery{}, err
	}

	switch o := r.outcome.(type) {
	case filetransfer.Completed:
		metrics.Downloads.WithLabelValues(metrics.ResultOK).Inc()
		log.Infow("download complete", "file", o.FileName, "path", o.Path)
		return Delivery{FileName: o.FileName, Path: o.Path, Size: o.Size}, nil
	case filetransfer.Failed:
		metrics.Downloads.WithLabelValues(metrics.ResultTimeout).Inc()
		return Delivery{}, xerrors.Errorf("%w: %v", ErrDownloadTimeout, o)
	default:
		return Delivery{}, xerrors.Errorf("unexpected outcome %T", o)
	}
}

// request arms the slot, sends text and waits for the slot to settle.
func (c *Client) request(ctx context.Context, kind Kind, text string, timeout time.Duration) (result, error) {
	if c.sess.State() != core.Joined {
		return result{}, ErrNotConnected
	}

	p, err := c.arm(kind, timeout)
	if err != nil {
		return result{}, err
	}

	if err := c.sess.Send(ctx, text); err != nil {
		c.settle(p, result{err: err})
		if errors.Is(err, session.ErrNotReady) {
			return result{}, ErrNotConnected
		}
		return result{}, xerrors.Errorf("sending %s command: %w", kind, err)
	}
	log.Debugw("command sent", "kind", kind, "timeout", timeout)

	return c.await(ctx, p), nil
}

// arm creates the slot. It fails with ErrBusy when one already exists.
func (c *Client) arm(kind Kind, timeout time.Duration) (*pending, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.slot != nil {
		return nil, xerrors.Errorf("%w: %s pending", ErrBusy, c.slot.kind)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &pending{
		kind:   kind,
		done:   make(chan result, 1),
		timer:  c.clock.Timer(timeout),
		ctx:    ctx,
		cancel: cancel,
	}
	c.slot = p

	go func() {
		select {
		case <-p.timer.C:
			if c.settle(p, result{err: timeoutError(kind)}) {
				log.Warnw("operation timed out", "kind", kind, "timeout", timeout)
			}
		case <-ctx.Done():
		}
	}()

	return p, nil
}

// settle resolves p if it is still the current slot. Late resolutions
// return false and change nothing.
func (c *Client) settle(p *pending, r result) bool {
	c.mu.Lock()
	if c.slot != p {
		c.mu.Unlock()
		return false
	}
	c.slot = nil
	c.mu.Unlock()

	p.timer.Stop()
	p.cancel()
	p.done <- r
	return true
}

func (c *Client) await(ctx context.Context, p *pending) result {
	select {
	case r := <-p.done:
		return r
	case <-ctx.Done():
		if c.settle(p, result{err: ctx.Err()}) {
			<-p.done
			return result{err: ctx.Err()}
		}
		return <-p.done
	}
}

// Observe handles session events.
func (c *Client) Observe(e core.Event) {
	switch e := e.(type) {
	case core.TransferOffer:
		c.onOffer(e.Offer)
	case core.Notice:
		c.onNotice(e)
	case core.StateChanged:
		log.Debugw("session state", "from", e.From, "to", e.To)
	}
}

func (c *Client) onOffer(offer protocol.Offer) {
	c.mu.Lock()
	p := c.slot
	if p == nil || p.claimed {
		c.mu.Unlock()
		log.Infow("ignoring unsolicited transfer", "file", offer.FileName, "peer", offer.Peer)
		return
	}
	p.claimed = true
	c.mu.Unlock()

	expectArchive := p.kind == KindSearch && offer.IsArchive()
	go c.receive(p, offer, expectArchive)
}

func (c *Client) receive(p *pending, offer protocol.Offer, expectArchive bool) {
	stream, err := c.dial(p.ctx, offer)
	if err != nil {
		c.settle(p, result{outcome: filetransfer.Failed{FileName: offer.FileName, Reason: filetransfer.ReasonIO, Err: err}})
		return
	}
	defer stream.Close()

	out := c.recv.Handle(p.ctx, offer, stream, expectArchive)
	completed, ok := out.(filetransfer.Completed)
	if ok {
		metrics.BytesReceived.Add(float64(completed.Size))
	}

	if !c.settle(p, result{outcome: out}) {
		log.Infow("discarding late transfer", "file", offer.FileName)
		if ok {
			if err := c.recv.Cleanup(completed); err != nil {
				log.Warnw("removing staged transfer", "error", err)
			}
		}
	}
}

func (c *Client) onNotice(n core.Notice) {
	log.Debugw("notice", "from", n.From, "text", n.Text)
	if !protocol.IsNoMatchNotice(n.Text) {
		return
	}

	c.mu.Lock()
	p := c.slot
	claimed := p != nil && p.claimed
	c.mu.Unlock()
	if p == nil || p.kind != KindSearch {
		return
	}
	if claimed {
		log.Infow("ignoring no-match notice, listing transfer already running", "from", n.From)
		return
	}
	c.settle(p, result{err: xerrors.Errorf("%w: %s", ErrNoMatches, n.Text)})
}

func (c *Client) searchResult(r result) ([]listing.Entry, error) {
	if r.err != nil {
		return nil, r.err
	}

	switch o := r.outcome.(type) {
	case filetransfer.Failed:
		if o.Reason == filetransfer.ReasonArchive {
			return nil, xerrors.Errorf("%w: %v", ErrNoListingFound, o)
		}
		return nil, xerrors.Errorf("%w: %v", ErrSearchTimeout, o)

	case filetransfer.Completed:
		defer func() {
			if err := c.recv.Cleanup(o); err != nil {
				log.Warnw("removing search staging", "error", err)
			}
		}()

		path, err := c.listingPath(o)
		if err != nil {
			return nil, err
		}
		return parseListing(path)

	default:
		return nil, xerrors.Errorf("unexpected outcome %T", o)
	}
}

// listingPath picks the listing file of a search transfer.
func (c *Client) listingPath(o filetransfer.Completed) (string, error) {
	ext := c.cfg.ListingExt
	if !o.WasArchive {
		if !strings.HasSuffix(strings.ToLower(o.FileName), strings.ToLower(ext)) {
			return "", xerrors.Errorf("%w: received %s", ErrNoListingFound, o.FileName)
		}
		return o.Path, nil
	}

	candidates := filetransfer.MatchExt(o.Entries, ext)
	switch len(candidates) {
	case 0:
		return "", xerrors.Errorf("%w: %s contains %v", ErrNoListingFound, o.FileName, o.Entries)
	case 1:
	default:
		log.Warnw("archive has several listings, using the first", "archive", o.FileName, "candidates", candidates)
	}
	return filepath.Join(o.Dir(), candidates[0]), nil
}

func parseListing(path string) ([]listing.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("%w: %v", ErrNoListingFound, err)
	}
	defer f.Close()

	entries, skipped, err := listing.ParseLines(f)
	if err != nil {
		return nil, xerrors.Errorf("%w: %v", ErrNoListingFound, err)
	}
	if len(skipped) > 0 {
		log.Debugw("skipped listing lines", "file", filepath.Base(path), "count", len(skipped))
	}
	return entries, nil
}

func timeoutError(kind Kind) error {
	if kind == KindSearch {
		return ErrSearchTimeout
	}
	return ErrDownloadTimeout
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.Is(err, ErrSearchTimeout), errors.Is(err, ErrDownloadTimeout):
		return metrics.ResultTimeout
	case errors.Is(err, ErrNoListingFound):
		return metrics.ResultNoListing
	case errors.Is(err, ErrNoMatches):
		return metrics.ResultNoMatches
	default:
		return metrics.ResultError
	}
}
