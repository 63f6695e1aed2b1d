package filetransfer

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"

	"github.com/bjarneo/shelfie/internal/core"
	"github.com/bjarneo/shelfie/internal/protocol"
)

func zipOf(t *testing.T, files map[string][]byte, order ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range order {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(files[name])
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

type handled struct {
	out  Outcome
	done chan struct{}
}

func handleAsync(r *Receiver, ctx context.Context, offer protocol.Offer, stream Stream, archive bool) *handled {
	h := &handled{done: make(chan struct{})}
	go func() {
		defer close(h.done)
		h.out = r.Handle(ctx, offer, stream, archive)
	}()
	return h
}

func (h *handled) wait(t *testing.T) Outcome {
	t.Helper()
	select {
	case <-h.done:
		return h.out
	case <-time.After(5 * time.Second):
		t.Fatal("transfer did not finish")
		return nil
	}
}

func TestHandleExactSize(t *testing.T) {
	dir := t.TempDir()
	r := NewReceiver(dir, time.Second)
	payload := bytes.Repeat([]byte("e"), 10_000)

	local, remote := net.Pipe()
	defer remote.Close()

	h := handleAsync(r, context.Background(), protocol.Offer{FileName: "book.epub", Size: int64(len(payload))}, local, false)
	_, err := remote.Write(payload)
	require.NoError(t, err)

	out := h.wait(t)
	c, ok := out.(Completed)
	require.True(t, ok, "%#v", out)
	require.Equal(t, "book.epub", c.FileName)
	require.Equal(t, filepath.Join(dir, "book.epub"), c.Path)
	require.Equal(t, int64(len(payload)), c.Size)
	require.False(t, c.WasArchive)

	got, err := os.ReadFile(c.Path)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestHandleStalled(t *testing.T) {
	dir := t.TempDir()
	r := NewReceiver(dir, 50*time.Millisecond)

	local, remote := net.Pipe()
	defer remote.Close()

	out := r.Handle(context.Background(), protocol.Offer{FileName: "book.epub", Size: 100}, local, false)
	f, ok := out.(Failed)
	require.True(t, ok, "%#v", out)
	require.Equal(t, ReasonStalled, f.Reason)

	_, err := os.Stat(filepath.Join(dir, "book.epub"))
	require.True(t, os.IsNotExist(err))
}

func TestHandleIncomplete(t *testing.T) {
	r := NewReceiver(t.TempDir(), time.Second)
	local, remote := net.Pipe()

	h := handleAsync(r, context.Background(), protocol.Offer{FileName: "book.epub", Size: 20}, local, false)
	_, err := remote.Write([]byte("0123456789"))
	require.NoError(t, err)
	require.NoError(t, remote.Close())

	f, ok := h.wait(t).(Failed)
	require.True(t, ok)
	require.Equal(t, ReasonIncomplete, f.Reason)
}

func TestHandleUnknownSizeReadsToEOF(t *testing.T) {
	r := NewReceiver(t.TempDir(), time.Second)
	local, remote := net.Pipe()

	h := handleAsync(r, context.Background(), protocol.Offer{FileName: "notes.txt"}, local, false)
	_, err := remote.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, remote.Close())

	c, ok := h.wait(t).(Completed)
	require.True(t, ok)
	require.Equal(t, int64(5), c.Size)
}

func TestHandleArchive(t *testing.T) {
	tmp := t.TempDir()
	r := NewReceiver(t.TempDir(), time.Second, WithTempDir(tmp))
	data := zipOf(t, map[string][]byte{
		"cover.jpg":          {0xff, 0xd8, 0xff},
		"nested/results.txt": []byte("!Bsk A - B.epub ::INFO:: 1MB\n"),
	}, "cover.jpg", "nested/results.txt")

	local, remote := net.Pipe()
	defer remote.Close()

	h := handleAsync(r, context.Background(), protocol.Offer{FileName: "results.zip", Size: int64(len(data))}, local, true)
	_, err := remote.Write(data)
	require.NoError(t, err)

	c, ok := h.wait(t).(Completed)
	require.True(t, ok)
	require.True(t, c.WasArchive)
	require.Equal(t, []string{"cover.jpg", "results.txt"}, c.Entries)
	require.Equal(t, []string{"results.txt"}, MatchExt(c.Entries, ".TXT"))

	listing, err := os.ReadFile(filepath.Join(c.Dir(), "results.txt"))
	require.NoError(t, err)
	require.Contains(t, string(listing), "!Bsk")

	require.NoError(t, r.Cleanup(c))
	_, err = os.Stat(c.Dir())
	require.True(t, os.IsNotExist(err))
}

func TestHandleCorruptArchive(t *testing.T) {
	tmp := t.TempDir()
	r := NewReceiver(t.TempDir(), time.Second, WithTempDir(tmp))
	data := []byte("this is not a zip file at all")

	local, remote := net.Pipe()
	defer remote.Close()

	h := handleAsync(r, context.Background(), protocol.Offer{FileName: "results.zip", Size: int64(len(data))}, local, true)
	_, err := remote.Write(data)
	require.NoError(t, err)

	f, ok := h.wait(t).(Failed)
	require.True(t, ok)
	require.Equal(t, ReasonArchive, f.Reason)

	left, err := os.ReadDir(tmp)
	require.NoError(t, err)
	require.Empty(t, left)
}

func TestHandleArchiveRejectsEscapingEntries(t *testing.T) {
	r := NewReceiver(t.TempDir(), time.Second, WithTempDir(t.TempDir()))
	data := zipOf(t, map[string][]byte{"../evil.txt": []byte("x")}, "../evil.txt")

	local, remote := net.Pipe()
	defer remote.Close()

	h := handleAsync(r, context.Background(), protocol.Offer{FileName: "results.zip", Size: int64(len(data))}, local, true)
	_, err := remote.Write(data)
	require.NoError(t, err)

	f, ok := h.wait(t).(Failed)
	require.True(t, ok)
	require.Equal(t, ReasonArchive, f.Reason)
}

func TestHandleArchiveRejectsCollidingEntries(t *testing.T) {
	r := NewReceiver(t.TempDir(), time.Second, WithTempDir(t.TempDir()))
	data := zipOf(t, map[string][]byte{
		"a/results.txt": []byte("first"),
		"b/results.txt": []byte("second"),
	}, "a/results.txt", "b/results.txt")

	local, remote := net.Pipe()
	defer remote.Close()

	h := handleAsync(r, context.Background(), protocol.Offer{FileName: "results.zip", Size: int64(len(data))}, local, true)
	_, err := remote.Write(data)
	require.NoError(t, err)

	f, ok := h.wait(t).(Failed)
	require.True(t, ok)
	require.Equal(t, ReasonArchive, f.Reason)
	require.Contains(t, f.Error(), "both extract to results.txt")
}

func TestHandleArchiveExtractLimit(t *testing.T) {
	tmp := t.TempDir()
	r := NewReceiver(t.TempDir(), time.Second, WithTempDir(tmp), WithExtractLimit(10))
	data := zipOf(t, map[string][]byte{
		"one.txt": []byte("123456"),
		"two.txt": []byte("123456"),
	}, "one.txt", "two.txt")

	local, remote := net.Pipe()
	defer remote.Close()

	h := handleAsync(r, context.Background(), protocol.Offer{FileName: "results.zip", Size: int64(len(data))}, local, true)
	_, err := remote.Write(data)
	require.NoError(t, err)

	f, ok := h.wait(t).(Failed)
	require.True(t, ok)
	require.Equal(t, ReasonArchive, f.Reason)
	require.ErrorIs(t, f, ErrArchiveTooLarge)

	left, err := os.ReadDir(tmp)
	require.NoError(t, err)
	require.Empty(t, left)
}

func TestHandleCancelled(t *testing.T) {
	r := NewReceiver(t.TempDir(), time.Minute)
	local, remote := net.Pipe()
	defer remote.Close()

	ctx, cancel := context.WithCancel(context.Background())
	h := handleAsync(r, ctx, protocol.Offer{FileName: "book.epub", Size: 100}, local, false)
	cancel()

	f, ok := h.wait(t).(Failed)
	require.True(t, ok)
	require.Equal(t, ReasonIO, f.Reason)
	require.ErrorIs(t, f, context.Canceled)
}

func TestSetDirAppliesToNextTransfer(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	r := NewReceiver(first, time.Second)

	local, remote := net.Pipe()
	defer remote.Close()

	h := handleAsync(r, context.Background(), protocol.Offer{FileName: "a.epub", Size: 8}, local, false)
	_, err := remote.Write([]byte("abcd"))
	require.NoError(t, err)
	r.SetDir(second)
	_, err = remote.Write([]byte("efgh"))
	require.NoError(t, err)

	c, ok := h.wait(t).(Completed)
	require.True(t, ok)
	require.Equal(t, filepath.Join(first, "a.epub"), c.Path)
	require.Equal(t, second, r.Dir())
}

func TestHandleReportsProgress(t *testing.T) {
	var (
		mu     sync.Mutex
		events []core.TransferProgress
	)
	obs := core.ObserverFunc(func(e core.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e.(core.TransferProgress))
	})
	r := NewReceiver(t.TempDir(), time.Second, WithObserver(obs))
	payload := make([]byte, progressEvery+10)

	local, remote := net.Pipe()
	defer remote.Close()

	h := handleAsync(r, context.Background(), protocol.Offer{FileName: "big.pdf", Size: int64(len(payload))}, local, false)
	_, err := remote.Write(payload)
	require.NoError(t, err)
	_, ok := h.wait(t).(Completed)
	require.True(t, ok)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(events), 2)
	last := events[len(events)-1]
	require.Equal(t, int64(len(payload)), last.Received)
	require.Equal(t, last.Total, last.Received)
}

func TestSafeName(t *testing.T) {
	require.Equal(t, "book.epub", SafeName("../../book.epub"))
	require.Equal(t, "book.epub", SafeName(`C:\books\book.epub`))
	require.Empty(t, SafeName(".."))
	require.Empty(t, SafeName(""))
}
