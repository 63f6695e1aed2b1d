package ui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/mitchellh/go-homedir"

	"github.com/bjarneo/shelfie/internal/client"
	"github.com/bjarneo/shelfie/internal/core"
	"github.com/bjarneo/shelfie/internal/listing"
)

const (
	visibleResults = 10
	inputHeight    = 3
)

// Client is the part of client.Client the UI drives.
type Client interface {
	Status() core.State
	Config() client.Settings
	Search(ctx context.Context, query string) ([]listing.Entry, error)
	Download(ctx context.Context, command string) (client.Delivery, error)
	SetDownloadDir(dir string)
}

// Connector joins the channel.
type Connector interface {
	Connect(ctx context.Context) error
}

// ProgramSender forwards session and transfer events into a running
// program. Events observed before Attach are dropped.
type ProgramSender struct {
	program atomic.Pointer[tea.Program]
}

func NewProgramSender() *ProgramSender {
	return &ProgramSender{}
}

// Attach starts forwarding to p.
func (pms *ProgramSender) Attach(p *tea.Program) {
	pms.program.Store(p)
}

func (pms *ProgramSender) Observe(e core.Event) {
	p := pms.program.Load()
	if p == nil {
		return
	}
	if tp, ok := e.(core.TransferProgress); ok {
		if tp.Total > 0 {
			p.Send(FileTransferProgress(float64(tp.Received) / float64(tp.Total)))
		}
		return
	}
	p.Send(SessionEventMsg{Event: e})
}

// Model represents the Bubble Tea UI model.
type Model struct {
	client    Client
	connector Connector

	Status string
	State  core.State

	input    textinput.Model
	spinner  spinner.Model
	Progress progress.Model
	activity ActivityModel
	Messages []Message

	Query    string
	Results  []listing.Entry
	Selected int

	IsSearching   bool
	IsDownloading bool
	Downloading   listing.Entry
	Percent       float64
	ShowHelp      bool

	width int
}

func NewModel(c Client, connector Connector) *Model {
	ti := textinput.New()
	ti.Placeholder = "Search for a title or author, /help for commands"
	ti.CharLimit = 256
	ti.Focus()

	sp := spinner.New(spinner.WithSpinner(spinner.Dot))

	width := 80
	cfg := c.Config()
	return &Model{
		client:    c,
		connector: connector,
		Status:    fmt.Sprintf("Connecting to %s...", cfg.Session.Server),
		State:     c.Status(),
		input:     ti,
		spinner:   sp,
		Progress:  progress.New(progress.WithDefaultGradient()),
		activity:  NewActivityModel(width, 12),
		Messages:  []Message{{Timestamp: time.Now(), Content: fmt.Sprintf("Joining %s on %s...", cfg.Session.Channel, cfg.Session.Server)}},
		width:     width,
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.connectCmd())
}

func (m *Model) connectCmd() tea.Cmd {
	connector := m.connector
	return func() tea.Msg {
		if err := connector.Connect(context.Background()); err != nil {
			return ConnectFailedMsg{Err: err}
		}
		return ConnectedMsg{}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.ShowHelp {
			if msg.Type == tea.KeyEsc {
				m.ShowHelp = false
			}
			return m, nil
		}
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyUp:
			if m.Selected > 0 {
				m.Selected--
			}
			return m, nil
		case tea.KeyDown:
			if m.Selected < len(m.Results)-1 {
				m.Selected++
			}
			return m, nil
		case tea.KeyEnter:
			text := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			return m, m.submit(text)
		}

		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		StatusStyle = StatusStyle.Width(msg.Width)
		m.input.Width = msg.Width - 6
		used := lipgloss.Height(m.headerView()) + visibleResults + 2 + inputHeight + 1
		m.activity.SetDimensions(msg.Width, msg.Height-used)

	case spinner.TickMsg:
		if m.IsSearching || m.IsDownloading {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}

	case ConnectedMsg:
		cfg := m.client.Config()
		m.setState(m.client.Status())
		m.system(fmt.Sprintf("Joined %s as %s. Type a search and press Enter.", cfg.Session.Channel, cfg.Session.Nickname))

	case ConnectFailedMsg:
		m.setState(m.client.Status())
		m.fail(fmt.Sprintf("Could not join: %v. Type /connect to retry.", msg.Err))

	case SessionEventMsg:
		m.handleEvent(msg.Event)

	case SearchDoneMsg:
		m.IsSearching = false
		if msg.Err != nil {
			m.fail(fmt.Sprintf("Search for %q failed: %v", msg.Query, msg.Err))
			break
		}
		m.Results = msg.Entries
		m.Selected = 0
		m.system(fmt.Sprintf("%d results for %q. Use the arrows and Enter to download.", len(msg.Entries), msg.Query))

	case DownloadDoneMsg:
		m.IsDownloading = false
		m.Percent = 0
		if msg.Err != nil {
			m.fail(fmt.Sprintf("Download of %s failed: %v", msg.Entry.FileName, msg.Err))
			break
		}
		m.system(fmt.Sprintf("Saved %s (%s) to %s", msg.Delivery.FileName, humanize.Bytes(uint64(msg.Delivery.Size)), msg.Delivery.Path))

	case FileTransferProgress:
		m.Percent = float64(msg)

	case InfoMsg:
		m.system(msg.Info)

	case ErrorMsg:
		m.fail(msg.Err.Error())
	}

	return m, tea.Batch(cmds...)
}

// submit runs a line typed into the input.
func (m *Model) submit(text string) tea.Cmd {
	if text == "" {
		if len(m.Results) == 0 {
			return nil
		}
		return m.download(m.Selected)
	}

	if !strings.HasPrefix(text, "/") {
		return m.search(text)
	}

	cmd, arg, _ := strings.Cut(text, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/help":
		m.ShowHelp = !m.ShowHelp
	case "/quit":
		return tea.Quit
	case "/connect":
		m.system("Connecting...")
		return m.connectCmd()
	case "/download", "/get":
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 || n > len(m.Results) {
			m.fail(fmt.Sprintf("No result number %q", arg))
			return nil
		}
		return m.download(n - 1)
	case "/dir":
		if arg == "" {
			m.system("Downloads go to " + m.client.Config().DownloadDir)
			return nil
		}
		dir, err := homedir.Expand(arg)
		if err != nil {
			m.fail(err.Error())
			return nil
		}
		m.client.SetDownloadDir(dir)
		m.system("Downloads now go to " + dir)
	default:
		m.fail(fmt.Sprintf("Unknown command %s, see /help", cmd))
	}
	return nil
}

func (m *Model) search(query string) tea.Cmd {
	if m.busy() {
		m.fail("Wait for the current search or download to finish.")
		return nil
	}
	m.IsSearching = true
	m.Query = query
	m.system(fmt.Sprintf("Searching for %q...", query))

	c := m.client
	return tea.Batch(m.spinner.Tick, func() tea.Msg {
		entries, err := c.Search(context.Background(), query)
		return SearchDoneMsg{Query: query, Entries: entries, Err: err}
	})
}

func (m *Model) download(i int) tea.Cmd {
	if m.busy() {
		m.fail("Wait for the current search or download to finish.")
		return nil
	}
	entry := m.Results[i]
	m.IsDownloading = true
	m.Downloading = entry
	m.Percent = 0
	m.system(fmt.Sprintf("Requesting %s from %s...", entry.FileName, strings.TrimPrefix(entry.Source, "!")))

	c := m.client
	return tea.Batch(m.spinner.Tick, func() tea.Msg {
		d, err := c.Download(context.Background(), entry.Command)
		return DownloadDoneMsg{Entry: entry, Delivery: d, Err: err}
	})
}

func (m *Model) busy() bool {
	return m.IsSearching || m.IsDownloading
}

func (m *Model) handleEvent(e core.Event) {
	switch e := e.(type) {
	case core.StateChanged:
		m.setState(e.To)
	case core.Reconnecting:
		m.system(fmt.Sprintf("Connection lost, reconnecting (attempt %d of %d)...", e.Attempt, e.Max))
	case core.Reconnected:
		m.system("Reconnected.")
	case core.ReconnectFailed:
		m.fail(fmt.Sprintf("Gave up reconnecting after %d attempts: %v. Type /connect to retry.", e.Attempts, e.Err))
	case core.Notice:
		m.Messages = append(m.Messages, Message{Timestamp: time.Now(), Kind: KindNotice, From: e.From, Content: e.Text})
	}
}

func (m *Model) setState(s core.State) {
	m.State = s
	cfg := m.client.Config()
	switch s {
	case core.Joined:
		m.Status = fmt.Sprintf("JOINED: %s on %s as %s", cfg.Session.Channel, cfg.Session.Server, cfg.Session.Nickname)
	case core.Connecting:
		m.Status = fmt.Sprintf("CONNECTING: %s", cfg.Session.Server)
	case core.Connected:
		m.Status = fmt.Sprintf("CONNECTED: joining %s", cfg.Session.Channel)
	case core.Error:
		m.Status = "ERROR: connection lost"
	default:
		m.Status = "DISCONNECTED"
	}
}

func (m *Model) system(text string) {
	m.Messages = append(m.Messages, Message{Timestamp: time.Now(), Kind: KindSystem, Content: text})
}

func (m *Model) fail(text string) {
	m.Messages = append(m.Messages, Message{Timestamp: time.Now(), Kind: KindError, Content: text})
}

func (m *Model) View() string {
	if m.ShowHelp {
		return m.helpView()
	}

	return strings.Join([]string{
		m.headerView(),
		m.resultsView(),
		m.activity.View(m.Messages),
		InputStyle.Width(m.width - 2).Render(m.input.View()),
		m.footerView(),
	}, "\n")
}

func (m *Model) helpView() string {
	return InfoBoxStyle.Padding(1, 2).Render(
		"Available Commands:\n" +
			"  <text>            - Search for a title or author\n" +
			"  /download <n>     - Download result number n (also /get)\n" +
			"  /dir [path]       - Show or change the download directory\n" +
			"  /connect          - Join the channel again\n" +
			"  /help             - Toggle this help message\n" +
			"  /quit             - Disconnect and exit (Ctrl+C/Esc also works)\n" +
			"\nKeybindings:\n" +
			"  Up/Down           - Select a result\n" +
			"  Enter             - Search, or download the selected result\n" +
			"\n(Press Esc to close this help menu)",
	)
}

func (m *Model) headerView() string {
	return StatusStyle.Render(fmt.Sprintf("%s | Downloads: %s", m.Status, m.client.Config().DownloadDir))
}

func (m *Model) resultsView() string {
	lines := make([]string, 0, visibleResults)
	if len(m.Results) == 0 {
		lines = append(lines, SystemStyle.Render("No results yet."))
	}

	start := 0
	if m.Selected >= visibleResults {
		start = m.Selected - visibleResults + 1
	}
	for i := start; i < len(m.Results) && i < start+visibleResults; i++ {
		lines = append(lines, m.resultLine(i))
	}

	return InfoBoxStyle.Width(m.width - 2).Height(visibleResults).Render(strings.Join(lines, "\n"))
}

func (m *Model) resultLine(i int) string {
	e := m.Results[i]
	text := e.Title
	if e.Author != "" {
		text += " by " + e.Author
	}
	line := fmt.Sprintf("%3d. %s %s %s %s", i+1, text, FormatStyle.Render("["+e.Format+"]"),
		FormatStyle.Render(e.Size), FormatStyle.Render(strings.TrimPrefix(e.Source, "!")))
	if i == m.Selected {
		return SelectedStyle.Render("> ") + line
	}
	return "  " + line
}

func (m *Model) footerView() string {
	switch {
	case m.IsDownloading:
		return fmt.Sprintf("%s %s %s", m.spinner.View(), m.Downloading.FileName, m.Progress.ViewAs(m.Percent))
	case m.IsSearching:
		return fmt.Sprintf("%s Searching for %q...", m.spinner.View(), m.Query)
	default:
		return StatusStyle.Render("Enter: search or download, Up/Down: select, /help: commands")
	}
}
