package ui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/bjarneo/shelfie/internal/client"
	"github.com/bjarneo/shelfie/internal/config"
	"github.com/bjarneo/shelfie/internal/core"
	"github.com/bjarneo/shelfie/internal/listing"
)

type fakeClient struct {
	state    core.State
	dir      string
	entries  []listing.Entry
	err      error
	queries  []string
	commands []string
}

func (f *fakeClient) Status() core.State { return f.state }

func (f *fakeClient) Config() client.Settings {
	return client.Settings{
		Session:     config.Session{Server: "irc.example.net:6697", Channel: "#ebooks", Nickname: "reader"},
		DownloadDir: f.dir,
	}
}

func (f *fakeClient) Search(ctx context.Context, query string) ([]listing.Entry, error) {
	f.queries = append(f.queries, query)
	return f.entries, f.err
}

func (f *fakeClient) Download(ctx context.Context, command string) (client.Delivery, error) {
	f.commands = append(f.commands, command)
	return client.Delivery{FileName: "Dune.epub", Path: "/books/Dune.epub", Size: 2048}, f.err
}

func (f *fakeClient) SetDownloadDir(dir string) { f.dir = dir }

type fakeConnector struct{ err error }

func (f fakeConnector) Connect(context.Context) error { return f.err }

var entries = []listing.Entry{
	{Source: "!Bsk", FileName: "Frank Herbert - Dune.epub", Command: "!Bsk Frank Herbert - Dune.epub", Title: "Dune", Author: "Frank Herbert", Format: "epub", Size: "1.2MB"},
	{Source: "!Oatmeal", FileName: "Dune Messiah.mobi", Command: "!Oatmeal Dune Messiah.mobi", Title: "Dune Messiah", Format: "mobi", Size: "800KB"},
}

func typeText(m *Model, text string) {
	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
}

func enter(m *Model) tea.Cmd {
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return cmd
}

// run executes cmd and feeds the operation results back into m.
func run(t *testing.T, m *Model, cmd tea.Cmd) {
	t.Helper()
	if cmd == nil {
		return
	}
	switch msg := cmd().(type) {
	case tea.BatchMsg:
		for _, c := range msg {
			if c == nil {
				continue
			}
			feed(m, c())
		}
	case nil:
	default:
		feed(m, msg)
	}
}

func feed(m *Model, msg tea.Msg) {
	switch msg.(type) {
	case SearchDoneMsg, DownloadDoneMsg, ConnectedMsg, ConnectFailedMsg:
		m.Update(msg)
	}
}

func lastMessage(m *Model) Message {
	return m.Messages[len(m.Messages)-1]
}

func TestConnectMessages(t *testing.T) {
	fc := &fakeClient{state: core.Joined, dir: "/books"}
	m := NewModel(fc, fakeConnector{})
	run(t, m, m.connectCmd())
	require.Equal(t, core.Joined, m.State)
	require.Contains(t, m.Status, "#ebooks")

	m = NewModel(fc, fakeConnector{err: errors.New("timed out")})
	fc.state = core.Disconnected
	run(t, m, m.connectCmd())
	require.Equal(t, KindError, lastMessage(m).Kind)
	require.Contains(t, lastMessage(m).Content, "/connect")
}

func TestSearchAndDownload(t *testing.T) {
	fc := &fakeClient{state: core.Joined, dir: "/books", entries: entries}
	m := NewModel(fc, fakeConnector{})

	typeText(m, "dune")
	cmd := enter(m)
	require.True(t, m.IsSearching)
	run(t, m, cmd)

	require.False(t, m.IsSearching)
	require.Equal(t, []string{"dune"}, fc.queries)
	require.Len(t, m.Results, 2)

	m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m.Update(tea.KeyMsg{Type: tea.KeyDown})
	require.Equal(t, 1, m.Selected)
	m.Update(tea.KeyMsg{Type: tea.KeyUp})
	require.Equal(t, 0, m.Selected)

	cmd = enter(m)
	require.True(t, m.IsDownloading)
	m.Update(FileTransferProgress(0.5))
	require.Equal(t, 0.5, m.Percent)
	run(t, m, cmd)

	require.False(t, m.IsDownloading)
	require.Equal(t, []string{"!Bsk Frank Herbert - Dune.epub"}, fc.commands)
	require.Contains(t, lastMessage(m).Content, "/books/Dune.epub")
	require.Contains(t, lastMessage(m).Content, "2.0 kB")
}

func TestSearchWhileBusy(t *testing.T) {
	fc := &fakeClient{state: core.Joined, entries: entries}
	m := NewModel(fc, fakeConnector{})

	typeText(m, "dune")
	enter(m)
	typeText(m, "emma")
	require.Nil(t, enter(m))
	require.Equal(t, KindError, lastMessage(m).Kind)
}

func TestSearchFailure(t *testing.T) {
	fc := &fakeClient{state: core.Joined, err: client.ErrSearchTimeout}
	m := NewModel(fc, fakeConnector{})

	typeText(m, "dune")
	run(t, m, enter(m))
	require.Equal(t, KindError, lastMessage(m).Kind)
	require.Contains(t, lastMessage(m).Content, "search timed out")
	require.Empty(t, m.Results)
}

func TestSlashCommands(t *testing.T) {
	fc := &fakeClient{state: core.Joined, dir: "/books", entries: entries}
	m := NewModel(fc, fakeConnector{})

	typeText(m, "/dir /srv/library")
	enter(m)
	require.Equal(t, "/srv/library", fc.dir)

	typeText(m, "/download 3")
	require.Nil(t, enter(m))
	require.Equal(t, KindError, lastMessage(m).Kind)

	m.Results = entries
	typeText(m, "/get 2")
	run(t, m, enter(m))
	require.Equal(t, []string{"!Oatmeal Dune Messiah.mobi"}, fc.commands)

	typeText(m, "/help")
	enter(m)
	require.True(t, m.ShowHelp)
	require.Contains(t, m.View(), "Available Commands")
	m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	require.False(t, m.ShowHelp)

	typeText(m, "/bogus")
	enter(m)
	require.True(t, strings.HasPrefix(lastMessage(m).Content, "Unknown command /bogus"))
}

func TestSessionEvents(t *testing.T) {
	fc := &fakeClient{state: core.Joined}
	m := NewModel(fc, fakeConnector{})

	m.Update(SessionEventMsg{Event: core.StateChanged{From: core.Joined, To: core.Connecting}})
	require.Equal(t, core.Connecting, m.State)
	require.True(t, strings.HasPrefix(m.Status, "CONNECTING"))

	m.Update(SessionEventMsg{Event: core.Reconnecting{Attempt: 1, Max: 3}})
	require.Contains(t, lastMessage(m).Content, "attempt 1 of 3")

	m.Update(SessionEventMsg{Event: core.ReconnectFailed{Attempts: 3, Err: errors.New("refused")}})
	require.Equal(t, KindError, lastMessage(m).Kind)

	m.Update(SessionEventMsg{Event: core.Notice{From: "Search", Text: "Searching..."}})
	require.Equal(t, Message{Timestamp: lastMessage(m).Timestamp, Kind: KindNotice, From: "Search", Content: "Searching..."}, lastMessage(m))
}

func TestQuitKeys(t *testing.T) {
	m := NewModel(&fakeClient{}, fakeConnector{})
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.IsType(t, tea.QuitMsg{}, cmd())
}

func TestViewRendersResults(t *testing.T) {
	m := NewModel(&fakeClient{state: core.Joined, dir: "/books"}, fakeConnector{})
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	m.Results = entries

	view := m.View()
	require.Contains(t, view, "Dune by Frank Herbert")
	require.Contains(t, view, "Dune Messiah")
	require.Contains(t, view, "/books")
}
