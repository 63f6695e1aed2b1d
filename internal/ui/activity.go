package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"
)

// MessageKind selects how an activity line is rendered.
type MessageKind int

const (
	KindSystem MessageKind = iota
	KindNotice
	KindError
)

// Message is one line of the activity log.
type Message struct {
	Timestamp time.Time
	Kind      MessageKind
	From      string
	Content   string
}

// ActivityModel renders the activity log in a scrolling viewport.
type ActivityModel struct {
	viewport viewport.Model
	width    int
	height   int
}

// NewActivityModel creates an activity log of the given size.
func NewActivityModel(width, height int) ActivityModel {
	return ActivityModel{
		viewport: viewport.New(width, height),
		width:    width,
		height:   height,
	}
}

// SetDimensions resizes the log. The height includes the border.
func (m *ActivityModel) SetDimensions(width, height int) {
	m.width = width
	m.height = height

	vpHeight := height - 2
	if vpHeight < 0 {
		vpHeight = 0
	}
	m.viewport.Width = width
	m.viewport.Height = vpHeight
}

// View renders messages, scrolled to the newest.
func (m *ActivityModel) View(messages []Message) string {
	style := lipgloss.NewStyle().
		Width(m.width).
		Height(m.viewport.Height).
		Border(lipgloss.NormalBorder(), true).
		PaddingLeft(1).
		PaddingRight(1)

	m.viewport.SetContent(m.renderMessages(messages, style))
	m.viewport.GotoBottom()
	return style.Render(m.viewport.View())
}

func (m *ActivityModel) renderMessages(messages []Message, frame lipgloss.Style) string {
	contentWidth := m.width - frame.GetHorizontalBorderSize() - frame.GetHorizontalPadding()
	if contentWidth < 1 {
		contentWidth = 1
	}

	var lines []string
	for _, msg := range messages {
		prefix := TimestampStyle.Render(msg.Timestamp.Format("15:04")) + " "

		var content string
		switch msg.Kind {
		case KindError:
			content = ErrorStyle.Render(msg.Content)
		case KindNotice:
			prefix += NoticeStyle.Render("<"+msg.From+">") + " "
			content = msg.Content
		default:
			prefix = fmt.Sprintf("%s--- ", prefix)
			content = SystemStyle.Render(msg.Content)
		}

		prefixLen := lipgloss.Width(prefix)
		maxWidth := contentWidth - prefixLen
		if maxWidth < 1 {
			maxWidth = 1
		}

		wrapped := strings.Split(lipgloss.NewStyle().Width(maxWidth).Render(content), "\n")
		lines = append(lines, prefix+wrapped[0])
		indent := strings.Repeat(" ", prefixLen)
		for _, l := range wrapped[1:] {
			lines = append(lines, indent+l)
		}
	}
	return strings.Join(lines, "\n")
}
