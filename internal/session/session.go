package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/raulk/clock"
	"golang.org/x/time/rate"
	"golang.org/x/xerrors"

	"github.com/bjarneo/shelfie/internal/config"
	"github.com/bjarneo/shelfie/internal/core"
	"github.com/bjarneo/shelfie/internal/metrics"
	"github.com/bjarneo/shelfie/internal/util"
)

var log = logging.Logger("session")

var (
	ErrNotReady       = xerrors.New("session has not joined the channel")
	ErrConnectTimeout = xerrors.New("timed out waiting for the channel join")
	ErrSocket         = xerrors.New("chat connection failed")
	ErrBusy           = xerrors.New("session is already connecting")
	ErrDisconnected   = xerrors.New("session was disconnected")
)

const defaultConnectTimeout = 30 * time.Second

// Session owns one chat connection: it registers, joins the configured
// channel, reconnects after unexpected losses and forwards inbound events
// to its observers.
type Session struct {
	cfg     config.Session
	dialer  core.Dialer
	clock   clock.Clock
	limiter *rate.Limiter

	mu        sync.Mutex
	state     core.State
	conn      core.Conn
	gen       uint64
	waiter    *joinWaiter
	stop      chan struct{}
	observers []core.Observer
	queue     []core.Event

	// emitMu serializes delivery so observers see events in queue order.
	emitMu sync.Mutex
}

// joinWaiter is resolved once by the pump (joined or lost) or by Disconnect.
type joinWaiter struct {
	done chan error
}

func (w *joinWaiter) resolve(err error) {
	w.done <- err
}

// Option configures a Session.
type Option func(*Session)

// WithClock replaces the clock used for reconnect delays.
func WithClock(c clock.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithObserver registers an observer at construction.
func WithObserver(o core.Observer) Option {
	return func(s *Session) { s.observers = append(s.observers, o) }
}

// New creates a disconnected session.
func New(cfg config.Session, dialer core.Dialer, opts ...Option) *Session {
	if cfg.Nickname == "" {
		cfg.Nickname = util.GenerateRandomNickname()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = config.Duration(defaultConnectTimeout)
	}

	limit := rate.Inf
	if cfg.SendInterval > 0 {
		limit = rate.Every(cfg.SendInterval.Std())
	}

	s := &Session{
		cfg:     cfg,
		dialer:  dialer,
		clock:   clock.New(),
		limiter: rate.NewLimiter(limit, 1),
		state:   core.Disconnected,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Observe registers o for every future event.
func (s *Session) Observe(o core.Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// State returns the current state.
func (s *Session) State() core.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Config returns the session configuration.
func (s *Session) Config() config.Session {
	return s.cfg
}

// Connect dials the server and returns once the channel join is confirmed.
// It fails with ErrConnectTimeout when no join arrives within the connect
// timeout and with ErrSocket when the connection fails first.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case core.Joined:
		s.mu.Unlock()
		return nil
	case core.Connecting, core.Connected:
		s.mu.Unlock()
		return ErrBusy
	}
	s.stop = make(chan struct{})
	stop := s.stop
	s.setStateLocked(core.Connecting)
	s.mu.Unlock()
	s.flush()

	err := s.establish(ctx, stop)
	if err != nil {
		s.mu.Lock()
		s.setStateLocked(core.Disconnected)
		s.mu.Unlock()
		s.flush()
		return err
	}
	return nil
}

// Disconnect quits the server. It never triggers a reconnection; a running
// reconnect loop is abandoned.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.gen++
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	if w := s.waiter; w != nil {
		s.waiter = nil
		w.resolve(ErrDisconnected)
	}
	s.setStateLocked(core.Disconnected)
	s.mu.Unlock()
	s.flush()

	if conn == nil {
		return nil
	}
	return conn.Quit("leaving")
}

// Send posts text to the channel. It fails with ErrNotReady unless the
// channel is joined.
func (s *Session) Send(ctx context.Context, text string) error {
	s.mu.Lock()
	conn := s.conn
	ready := s.state == core.Joined && conn != nil
	s.mu.Unlock()
	if !ready {
		return ErrNotReady
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return xerrors.Errorf("waiting to send: %w", err)
	}
	if err := conn.Send(s.cfg.Channel, text); err != nil {
		return xerrors.Errorf("%w: sending to %s: %v", ErrSocket, s.cfg.Channel, err)
	}
	return nil
}

// establish dials and waits for the join, bounded by the connect timeout.
func (s *Session) establish(ctx context.Context, stop <-chan struct{}) error {
	select {
	case <-stop:
		return ErrDisconnected
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout.Std())
	defer cancel()

	conn, err := s.dialer.Dial(ctx, s.cfg.Server, core.Identity{Nick: s.cfg.Nickname})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrConnectTimeout
		}
		return xerrors.Errorf("%w: %v", ErrSocket, err)
	}

	s.mu.Lock()
	select {
	case <-stop:
		s.mu.Unlock()
		_ = conn.Quit("leaving")
		go drain(conn)
		return ErrDisconnected
	default:
	}
	s.gen++
	gen := s.gen
	s.conn = conn
	w := &joinWaiter{done: make(chan error, 1)}
	s.waiter = w
	s.mu.Unlock()

	go s.pump(gen, conn)

	select {
	case err := <-w.done:
		if err != nil {
			s.abandon(gen, conn)
		}
		return err
	case <-ctx.Done():
		s.abandon(gen, conn)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrConnectTimeout
		}
		return ctx.Err()
	}
}

// abandon drops conn if it is still the current connection.
func (s *Session) abandon(gen uint64, conn core.Conn) {
	s.mu.Lock()
	if s.gen == gen {
		s.gen++
		s.conn = nil
		s.waiter = nil
	}
	s.mu.Unlock()
	_ = conn.Quit("leaving")
}

// pump delivers the events of one connection. Events of a connection that
// is no longer current are dropped.
func (s *Session) pump(gen uint64, conn core.Conn) {
	for e := range conn.Events() {
		s.handle(gen, conn, e)
	}
}

func (s *Session) handle(gen uint64, conn core.Conn, e core.Event) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}

	switch e := e.(type) {
	case core.Registered:
		log.Infow("registered", "nick", e.Nick, "server", s.cfg.Server)
		s.setStateLocked(core.Connected)
		s.mu.Unlock()
		s.flush()
		if err := conn.Join(s.cfg.Channel); err != nil {
			log.Warnw("joining channel", "channel", s.cfg.Channel, "error", err)
		}

	case core.JoinedChannel:
		if !strings.EqualFold(e.Channel, s.cfg.Channel) {
			s.mu.Unlock()
			return
		}
		log.Infow("joined channel", "channel", e.Channel, "nick", e.Nick)
		s.setStateLocked(core.Joined)
		w := s.waiter
		s.waiter = nil
		s.mu.Unlock()
		// observers see the join before Connect returns
		s.flush()
		if w != nil {
			w.resolve(nil)
		}

	case core.ConnectionLost:
		s.conn = nil
		if w := s.waiter; w != nil {
			s.waiter = nil
			s.mu.Unlock()
			w.resolve(lostError(e.Err))
			return
		}
		if s.state != core.Connected && s.state != core.Joined {
			s.mu.Unlock()
			return
		}
		log.Warnw("connection lost", "server", s.cfg.Server, "error", e.Err)
		stop := s.stop
		s.setStateLocked(core.Connecting)
		s.mu.Unlock()
		s.flush()
		go s.reconnect(stop)

	case core.Notice, core.TransferOffer:
		s.queueLocked(e)
		s.mu.Unlock()
		s.flush()

	default:
		s.mu.Unlock()
	}
}

// reconnect runs the bounded fixed-delay reconnection loop.
func (s *Session) reconnect(stop <-chan struct{}) {
	attempts := s.cfg.MaxReconnects
	delay := s.cfg.ReconnectDelay.Std()
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		var timer *clock.Timer
		if delay > 0 {
			timer = s.clock.Timer(delay)
		}

		s.mu.Lock()
		s.setStateLocked(core.Connecting)
		s.queueLocked(core.Reconnecting{Attempt: attempt, Max: attempts})
		s.mu.Unlock()
		s.flush()
		metrics.Reconnects.Inc()
		log.Infow("reconnecting", "attempt", attempt, "max", attempts, "delay", delay)

		if timer != nil {
			select {
			case <-timer.C:
			case <-stop:
				timer.Stop()
				return
			}
		}

		err := s.establish(context.Background(), stop)
		if err == nil {
			s.mu.Lock()
			s.queueLocked(core.Reconnected{Attempt: attempt})
			s.mu.Unlock()
			s.flush()
			return
		}
		if errors.Is(err, ErrDisconnected) {
			return
		}
		lastErr = err
		log.Warnw("reconnect attempt failed", "attempt", attempt, "error", err)
	}

	s.mu.Lock()
	select {
	case <-stop:
		s.mu.Unlock()
		return
	default:
	}
	if lastErr == nil {
		lastErr = ErrSocket
	}
	s.setStateLocked(core.Error)
	s.queueLocked(core.ReconnectFailed{Attempts: attempts, Err: lastErr})
	s.mu.Unlock()
	s.flush()
	log.Errorw("giving up reconnecting", "attempts", attempts, "error", lastErr)
}

func (s *Session) setStateLocked(to core.State) {
	if s.state == to {
		return
	}
	from := s.state
	s.state = to
	s.queue = append(s.queue, core.StateChanged{From: from, To: to})
}

func (s *Session) queueLocked(e core.Event) {
	s.queue = append(s.queue, e)
}

// flush delivers queued events. Observers must not call Connect or
// Disconnect from Observe.
func (s *Session) flush() {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	for {
		s.mu.Lock()
		q := s.queue
		s.queue = nil
		obs := s.observers
		s.mu.Unlock()
		if len(q) == 0 {
			return
		}
		for _, e := range q {
			for _, o := range obs {
				o.Observe(e)
			}
		}
	}
}

func lostError(err error) error {
	if err == nil {
		return xerrors.Errorf("%w: connection closed", ErrSocket)
	}
	return xerrors.Errorf("%w: %v", ErrSocket, err)
}

func drain(conn core.Conn) {
	for range conn.Events() {
	}
}
