package ui

import "github.com/charmbracelet/lipgloss"

var (
	InputStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("205"))
	StatusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	ErrorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	NoticeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	SystemStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Italic(true)
	TimestampStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Faint(true)
	SelectedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	FormatStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	InfoBoxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1)
)
