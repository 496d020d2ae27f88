package main

import "github.com/charmbracelet/lipgloss"

var (
	primaryColor   = lipgloss.Color("#7C3AED")
	secondaryColor = lipgloss.Color("#06B6D4")
	successColor   = lipgloss.Color("#22C55E")
	warningColor   = lipgloss.Color("#EAB308")
	errorColor     = lipgloss.Color("#EF4444")
	mutedColor     = lipgloss.Color("#6B7280")
	textColor      = lipgloss.Color("#F9FAFB")

	mutedStyle = lipgloss.NewStyle().Foreground(mutedColor)

	tabActiveStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 2)

	tabInactiveStyle = lipgloss.NewStyle().
				Foreground(mutedColor).
				Padding(0, 2)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Padding(0, 1)

	sourceCardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(secondaryColor).
			Padding(0, 1)

	logBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)

	statValueStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(textColor)

	statLabelStyle = lipgloss.NewStyle().Foreground(mutedColor)

	statusSuccessStyle = lipgloss.NewStyle().Foreground(successColor)
	statusErrorStyle   = lipgloss.NewStyle().Foreground(errorColor)
	statusPendingStyle = lipgloss.NewStyle().Foreground(warningColor)

	tableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(primaryColor)

	selectedRowStyle = lipgloss.NewStyle().
				Background(primaryColor).
				Foreground(textColor)

	notificationStyle = lipgloss.NewStyle().
				Foreground(successColor).
				Padding(0, 1)
)
