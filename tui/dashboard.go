package main

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"car_scrooper/models"
)

const logTailLines = 12

// sourceSummary aggregates the recent runs of one source
type sourceSummary struct {
	ID          string
	LastStatus  models.RunStatus
	LastRunAt   *time.Time
	Runs        int
	Completed   int
	LastFound   int
	LastNew     int
	LastSold    int
	SuccessRate float64
}

// summarizeSources builds one summary per configured source plus any source
// that only appears in the run history. runs must be newest first.
func summarizeSources(sources []string, runs []models.ScrapeRun) []sourceSummary {
	byID := make(map[string]*sourceSummary)
	order := append([]string(nil), sources...)
	for _, id := range sources {
		byID[id] = &sourceSummary{ID: id}
	}

	for i := range runs {
		r := &runs[i]
		s, ok := byID[r.SourceID]
		if !ok {
			s = &sourceSummary{ID: r.SourceID}
			byID[r.SourceID] = s
			order = append(order, r.SourceID)
		}
		if s.Runs == 0 {
			started := r.StartedAt
			s.LastRunAt = &started
			s.LastStatus = r.Status
			s.LastFound = r.ListingsFound
			s.LastNew = r.ListingsNew
			s.LastSold = r.MarkedSold
		}
		s.Runs++
		if r.Status == models.RunStatusCompleted {
			s.Completed++
		}
	}

	sort.Strings(order)
	out := make([]sourceSummary, 0, len(order))
	for _, id := range order {
		s := byID[id]
		if s.Runs > 0 {
			s.SuccessRate = float64(s.Completed) / float64(s.Runs)
		}
		out = append(out, *s)
	}
	return out
}

func (m model) renderDashboard() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Sources"),
		m.renderSourceCards(),
		"",
		titleStyle.Render("Recent Runs"),
		m.renderRunsTable(),
		"",
		m.renderLogTail(),
	)
}

func (m model) renderSourceCards() string {
	summaries := summarizeSources(m.sources, m.runs)
	if len(summaries) == 0 {
		return mutedStyle.Render("No sources configured")
	}

	var cards []string
	for _, s := range summaries {
		cards = append(cards, renderSourceCard(s, time.Now()))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cards...)
}

func renderSourceCard(s sourceSummary, now time.Time) string {
	lastRun := "never"
	if s.LastRunAt != nil {
		lastRun = relativeTime(*s.LastRunAt, now)
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		statValueStyle.Render(s.ID),
		statusStyle(s.LastStatus).Render(statusLabel(s.LastStatus)),
		statLabelStyle.Render(fmt.Sprintf("Last: %s", lastRun)),
		statLabelStyle.Render(fmt.Sprintf("Found: %d  New: %d", s.LastFound, s.LastNew)),
		statLabelStyle.Render(fmt.Sprintf("Sold: %d", s.LastSold)),
		statLabelStyle.Render(fmt.Sprintf("Rate: %.0f%%", s.SuccessRate*100)),
	)
	return sourceCardStyle.Width(26).Render(content)
}

func statusLabel(status models.RunStatus) string {
	switch status {
	case models.RunStatusCompleted:
		return "✓ completed"
	case models.RunStatusFailed:
		return "✗ failed"
	case models.RunStatusRunning:
		return "◐ running"
	}
	return "○ never run"
}

func statusStyle(status models.RunStatus) lipgloss.Style {
	switch status {
	case models.RunStatusCompleted:
		return statusSuccessStyle
	case models.RunStatusFailed:
		return statusErrorStyle
	}
	return statusPendingStyle
}

func (m model) renderRunsTable() string {
	if len(m.runs) == 0 {
		return mutedStyle.Render("No runs yet")
	}

	header := fmt.Sprintf("%-14s %-10s %-9s %6s %6s %6s %6s %6s",
		"Source", "Status", "Started", "Pages", "Found", "New", "Sold", "Errors")
	rows := []string{tableHeaderStyle.Render(header)}

	for i, r := range m.runs {
		row := fmt.Sprintf("%-14s %-10s %-9s %6d %6d %6d %6d %6d",
			truncate(r.SourceID, 14),
			r.Status,
			r.StartedAt.Format("15:04:05"),
			r.PagesCrawled,
			r.ListingsFound,
			r.ListingsNew,
			r.MarkedSold,
			r.ErrorsCount,
		)
		if i == m.selected {
			row = selectedRowStyle.Render(row)
		} else {
			row = statusStyle(r.Status).Render(row)
		}
		rows = append(rows, row)
	}
	return strings.Join(rows, "\n")
}

func (m model) renderLogTail() string {
	width := max(m.width-4, 20)
	if len(m.logLines) == 0 {
		return logBoxStyle.Width(width).Render(mutedStyle.Render("(waiting for logs...)"))
	}

	start := max(len(m.logLines)-logTailLines, 0)
	var lines []string
	for _, line := range m.logLines[start:] {
		lines = append(lines, styleLogLine(truncate(line, width-4)))
	}
	return logBoxStyle.Width(width).Render(titleStyle.Render("Daemon Log") + "\n" + strings.Join(lines, "\n"))
}

func (m model) renderRunLog() string {
	if m.logRunID == 0 {
		return mutedStyle.Render("Select a run on the dashboard and press enter")
	}

	var header string
	for _, r := range m.runs {
		if r.ID == m.logRunID {
			header = fmt.Sprintf("Run #%d  %s  %s", r.ID, r.SourceID, statusLabel(r.Status))
			if r.ErrorMessage != "" {
				header += "\n" + statusErrorStyle.Render(r.ErrorMessage)
			}
			break
		}
	}
	if header == "" {
		header = fmt.Sprintf("Run #%d", m.logRunID)
	}

	if len(m.runLogs) == 0 {
		return titleStyle.Render(header) + "\n" + mutedStyle.Render("No log lines")
	}

	lines := []string{titleStyle.Render(header)}
	for _, l := range m.runLogs {
		line := fmt.Sprintf("%s %-5s %s", l.Timestamp.Format("15:04:05"), l.Level, l.Message)
		lines = append(lines, levelStyle(l.Level).Render(truncate(line, max(m.width-2, 40))))
	}
	return strings.Join(lines, "\n")
}

func levelStyle(level models.LogLevel) lipgloss.Style {
	switch level {
	case models.LogLevelError:
		return statusErrorStyle
	case models.LogLevelWarn:
		return statusPendingStyle
	}
	return lipgloss.NewStyle()
}

func styleLogLine(line string) string {
	switch {
	case strings.Contains(line, "[error]"), strings.Contains(line, "Error"):
		return statusErrorStyle.Render(line)
	case strings.Contains(line, "[warn]"), strings.Contains(line, "Warning:"):
		return statusPendingStyle.Render(line)
	}
	return line
}

func readLastLines(path string, n int) []string {
	f, err := os.Open(path)
	if err != nil {
		return []string{"(no log file)"}
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	if len(lines) == 0 {
		return []string{"(empty log)"}
	}
	return lines
}

func relativeTime(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max == 1 {
		return "…"
	}
	return string(r[:max-1]) + "…"
}
