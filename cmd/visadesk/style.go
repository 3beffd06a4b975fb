package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"visadesk/internal/domain"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	labelStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(16)
	okStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	customerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	operatorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("81"))
	noticeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("220")).Italic(true)
)

func printRow(label, value string) {
	fmt.Println(labelStyle.Render(label) + value)
}

func stateBadge(s domain.ConnectionState) string {
	switch s {
	case domain.Connected:
		return okStyle.Render("● connected")
	case domain.Connecting:
		return warnStyle.Render("◌ connecting")
	default:
		return errStyle.Render("○ disconnected")
	}
}

func printPass(check, detail string) {
	fmt.Printf("  %s %-20s %s\n", okStyle.Render("[PASS]"), check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  %s %-20s %s\n", errStyle.Render("[FAIL]"), check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  %s %-20s %s\n", warnStyle.Render("[WARN]"), check, detail)
}

func formatMessage(m domain.ConversationMessage) string {
	name := "customer"
	if m.Sender != nil && m.Sender.Name != "" {
		name = m.Sender.Name
	}
	style := customerStyle
	if m.IsFromOperator {
		name = "you"
		style = operatorStyle
	}
	return dimStyle.Render(m.Timestamp) + " " + style.Render(name+": "+m.Content)
}
