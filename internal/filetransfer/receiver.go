package filetransfer

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/samber/lo"
	"golang.org/x/xerrors"

	"github.com/bjarneo/shelfie/internal/core"
	"github.com/bjarneo/shelfie/internal/protocol"
)

var log = logging.Logger("filetransfer")

const (
	chunkSize     = 4 * 1024 // 4KB chunks
	progressEvery = 256 * 1024
)

// Stream is the inbound side of a DCC connection.
type Stream interface {
	io.Reader
	SetReadDeadline(time.Time) error
}

// Receiver stores inbound transfers on disk.
type Receiver struct {
	mu       sync.Mutex
	dir      string
	tempRoot string
	idle     time.Duration
	limit    int64
	observer core.Observer
}

// ReceiverOption configures a Receiver.
type ReceiverOption func(*Receiver)

// WithTempDir sets where archives are staged. Defaults to os.TempDir().
func WithTempDir(dir string) ReceiverOption {
	return func(r *Receiver) { r.tempRoot = dir }
}

// WithExtractLimit bounds the bytes unpacked from a single archive.
func WithExtractLimit(n int64) ReceiverOption {
	return func(r *Receiver) {
		if n > 0 {
			r.limit = n
		}
	}
}

// WithObserver reports progress events to o.
func WithObserver(o core.Observer) ReceiverOption {
	return func(r *Receiver) { r.observer = o }
}

// NewReceiver creates a Receiver saving downloads into dir and abandoning
// transfers that are idle for longer than idle.
func NewReceiver(dir string, idle time.Duration, opts ...ReceiverOption) *Receiver {
	r := &Receiver{dir: dir, idle: idle, limit: DefaultExtractLimit}
	for _, o := range opts {
		o(r)
	}
	return r
}

// SetDir changes the download directory. Transfers already running keep
// their original target.
func (r *Receiver) SetDir(dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dir = dir
}

// Dir returns the current download directory.
func (r *Receiver) Dir() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dir
}

// Handle receives offer from stream. Archives are written to a fresh
// temporary directory and extracted there; everything else goes to the
// download directory.
func (r *Receiver) Handle(ctx context.Context, offer protocol.Offer, stream Stream, expectArchive bool) Outcome {
	name := SafeName(offer.FileName)
	if name == "" {
		return Failed{FileName: offer.FileName, Reason: ReasonIO, Err: xerrors.New("invalid file name")}
	}

	dir := r.Dir()
	var stage string
	if expectArchive {
		root := r.tempRoot
		if root == "" {
			root = os.TempDir()
		}
		stage = filepath.Join(root, "shelfie-"+uuid.NewString())
		dir = stage
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Failed{FileName: name, Reason: ReasonIO, Err: xerrors.Errorf("creating %s: %w", dir, err)}
	}

	path := filepath.Join(dir, name)
	start := time.Now()
	log.Infow("receiving transfer", "file", name, "size", humanize.Bytes(uint64(offer.Size)), "peer", offer.Peer, "path", path)

	n, err := r.receive(ctx, offer, name, path, stream)
	if err != nil {
		_ = os.Remove(path)
		if stage != "" {
			_ = os.RemoveAll(stage)
		}
		log.Warnw("transfer failed", "file", name, "received", humanize.Bytes(uint64(n)), "error", err)
		return asFailed(name, err)
	}

	log.Infow("transfer complete", "file", name, "size", humanize.Bytes(uint64(n)), "took", time.Since(start))

	if !expectArchive {
		return Completed{FileName: name, Path: path, Size: n}
	}

	entries, err := extract(path, stage, r.limit)
	if err != nil {
		_ = os.RemoveAll(stage)
		return Failed{FileName: name, Reason: ReasonArchive, Err: err}
	}
	return Completed{FileName: name, Path: path, Size: n, WasArchive: true, Entries: entries, stageDir: stage}
}

func (r *Receiver) receive(ctx context.Context, offer protocol.Offer, name, path string, stream Stream) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, Failed{FileName: name, Reason: ReasonIO, Err: err}
	}
	defer f.Close()

	// Unblock a pending read when the caller gives up.
	stop := context.AfterFunc(ctx, func() {
		_ = stream.SetReadDeadline(time.Now())
	})
	defer stop()

	buffer := make([]byte, chunkSize)
	var total, reported int64

	for offer.Size == 0 || total < offer.Size {
		if err := ctx.Err(); err != nil {
			return total, Failed{FileName: name, Reason: ReasonIO, Err: err}
		}
		if err := stream.SetReadDeadline(time.Now().Add(r.idle)); err != nil {
			return total, Failed{FileName: name, Reason: ReasonIO, Err: xerrors.Errorf("setting read deadline: %w", err)}
		}
		// the deadline above may have replaced the one set on cancellation
		if err := ctx.Err(); err != nil {
			return total, Failed{FileName: name, Reason: ReasonIO, Err: err}
		}

		chunk := buffer
		if offer.Size > 0 && offer.Size-total < int64(len(chunk)) {
			chunk = chunk[:offer.Size-total]
		}

		n, err := stream.Read(chunk)
		if n > 0 {
			if _, werr := f.Write(chunk[:n]); werr != nil {
				return total, Failed{FileName: name, Reason: ReasonIO, Err: werr}
			}
			total += int64(n)
			if total-reported >= progressEvery {
				reported = total
				r.progress(name, total, offer.Size)
			}
		}
		if err == nil {
			continue
		}

		if errors.Is(err, io.EOF) {
			if offer.Size == 0 {
				break
			}
			return total, Failed{FileName: name, Reason: ReasonIncomplete,
				Err: xerrors.Errorf("sender closed after %d of %d bytes", total, offer.Size)}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return total, Failed{FileName: name, Reason: ReasonIO, Err: ctxErr}
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return total, Failed{FileName: name, Reason: ReasonStalled,
				Err: xerrors.Errorf("no data for %s after %d bytes", r.idle, total)}
		}
		return total, Failed{FileName: name, Reason: ReasonIO, Err: err}
	}

	r.progress(name, total, offer.Size)
	return total, f.Close()
}

func (r *Receiver) progress(name string, received, total int64) {
	if r.observer == nil {
		return
	}
	r.observer.Observe(core.TransferProgress{FileName: name, Received: received, Total: total})
}

// Cleanup removes the temporary staging directory of an archive transfer.
func (r *Receiver) Cleanup(c Completed) error {
	if c.stageDir == "" {
		return nil
	}
	return os.RemoveAll(c.stageDir)
}

// MatchExt returns every entry whose name ends with ext, ignoring case, in
// the order given.
func MatchExt(entries []string, ext string) []string {
	ext = strings.ToLower(ext)
	return lo.Filter(entries, func(e string, _ int) bool {
		return strings.HasSuffix(strings.ToLower(e), ext)
	})
}

// SafeName reduces a peer supplied file name to a plain base name. It
// returns "" when nothing usable remains.
func SafeName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	switch base {
	case ".", "..", "/", "":
		return ""
	}
	return base
}

// Dial connects to the sender of offer.
func Dial(ctx context.Context, offer protocol.Offer, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", offer.Addr())
	if err != nil {
		return nil, xerrors.Errorf("dialing %s for %s: %w", offer.Addr(), offer.FileName, err)
	}
	return conn, nil
}

func asFailed(name string, err error) Failed {
	var f Failed
	if errors.As(err, &f) {
		return f
	}
	return Failed{FileName: name, Reason: ReasonIO, Err: err}
}
