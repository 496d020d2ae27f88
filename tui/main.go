// Command tui is a terminal monitor for the scraper daemon. It reads run
// history from the daemon's SQLite database and queues commands for it.
package main

import (
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"car_scrooper/config"
	"car_scrooper/models"
	"car_scrooper/storage"
)

const recentRunsLimit = 15

// monitorStore is the slice of the operational store the monitor uses
type monitorStore interface {
	RecentRuns(sourceID string, limit int) ([]models.ScrapeRun, error)
	RunLogs(runID int64) ([]models.ScrapeLog, error)
	EnqueueCommand(cmd models.CommandType, params *models.CommandParams) (int64, error)
}

type tab int

const (
	tabDashboard tab = iota
	tabRunLog
)

type model struct {
	store   monitorStore
	sources []string
	logPath string

	activeTab     tab
	width, height int
	notification  string
	notifyUntil   time.Time

	runs     []models.ScrapeRun
	selected int
	runLogs  []models.ScrapeLog
	logRunID int64
	logLines []string
	err      error
}

type tickMsg time.Time
type logTickMsg time.Time

type runsMsg struct {
	runs []models.ScrapeRun
	err  error
}

type runLogsMsg struct {
	runID int64
	logs  []models.ScrapeLog
	err   error
}

type logTailMsg struct {
	lines []string
}

type commandSentMsg struct {
	command models.CommandType
	err     error
}

func initialModel(store monitorStore, sources []string, logPath string) model {
	return model{
		store:   store,
		sources: sources,
		logPath: logPath,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.refreshRuns(), m.tailLog(), tickCmd(), logTickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(10*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func logTickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return logTickMsg(t)
	})
}

func (m model) refreshRuns() tea.Cmd {
	return func() tea.Msg {
		runs, err := m.store.RecentRuns("", recentRunsLimit)
		return runsMsg{runs, err}
	}
}

func (m model) loadRunLogs(runID int64) tea.Cmd {
	return func() tea.Msg {
		logs, err := m.store.RunLogs(runID)
		return runLogsMsg{runID, logs, err}
	}
}

func (m model) tailLog() tea.Cmd {
	return func() tea.Msg {
		return logTailMsg{readLastLines(m.logPath, 200)}
	}
}

func (m model) sendCommand(cmd models.CommandType) tea.Cmd {
	return func() tea.Msg {
		_, err := m.store.EnqueueCommand(cmd, nil)
		return commandSentMsg{cmd, err}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		cmds := []tea.Cmd{m.refreshRuns(), tickCmd()}
		if m.activeTab == tabRunLog && m.logRunID != 0 {
			cmds = append(cmds, m.loadRunLogs(m.logRunID))
		}
		return m, tea.Batch(cmds...)

	case logTickMsg:
		return m, tea.Batch(m.tailLog(), logTickCmd())

	case runsMsg:
		m.err = msg.err
		if msg.err == nil {
			m.runs = msg.runs
			if m.selected >= len(m.runs) {
				m.selected = max(len(m.runs)-1, 0)
			}
		}

	case runLogsMsg:
		m.err = msg.err
		if msg.err == nil {
			m.logRunID = msg.runID
			m.runLogs = msg.logs
		}

	case logTailMsg:
		m.logLines = msg.lines

	case commandSentMsg:
		if msg.err != nil {
			m.notify(fmt.Sprintf("%s failed: %v", msg.command, msg.err))
		} else {
			m.notify(fmt.Sprintf("%s queued", msg.command))
		}
	}

	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "tab":
		if m.activeTab == tabDashboard {
			return m.openSelectedRun()
		}
		m.activeTab = tabDashboard
	case "d", "esc":
		m.activeTab = tabDashboard
	case "enter", "l":
		return m.openSelectedRun()
	case "up", "k":
		if m.selected > 0 {
			m.selected--
		}
	case "down", "j":
		if m.selected < len(m.runs)-1 {
			m.selected++
		}
	case "r":
		m.notify("Refreshed")
		return m, m.refreshRuns()
	case "s":
		return m, m.sendCommand(models.CmdScrapeNow)
	case "m":
		return m, m.sendCommand(models.CmdRunMedia)
	case "p":
		return m, m.sendCommand(models.CmdPause)
	case "u":
		return m, m.sendCommand(models.CmdResume)
	}
	return m, nil
}

func (m model) openSelectedRun() (tea.Model, tea.Cmd) {
	if len(m.runs) == 0 {
		return m, nil
	}
	m.activeTab = tabRunLog
	return m, m.loadRunLogs(m.runs[m.selected].ID)
}

func (m *model) notify(text string) {
	m.notification = text
	m.notifyUntil = time.Now().Add(2 * time.Second)
}

func (m model) View() string {
	var content string
	switch m.activeTab {
	case tabDashboard:
		content = m.renderDashboard()
	case tabRunLog:
		content = m.renderRunLog()
	}
	return lipgloss.JoinVertical(lipgloss.Left, m.renderTabs(), content, m.renderStatusBar())
}

func (m model) renderTabs() string {
	names := []string{"Dashboard", "Run Log"}
	var rendered []string
	for i, name := range names {
		if tab(i) == m.activeTab {
			rendered = append(rendered, tabActiveStyle.Render(name))
		} else {
			rendered = append(rendered, tabInactiveStyle.Render(name))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...) + "\n"
}

func (m model) renderStatusBar() string {
	left := "d Dash  enter Run log  r Refresh  s Scrape  m Media  p Pause  u Resume  q Quit"
	right := ""
	if time.Now().Before(m.notifyUntil) {
		right = notificationStyle.Render(m.notification)
	} else if m.err != nil {
		right = statusErrorStyle.Render(m.err.Error())
	}

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if gap < 0 {
		gap = 0
	}
	return statusBarStyle.Render(left) + lipgloss.NewStyle().Width(gap).Render("") + right
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening %s: %v\n", cfg.DBPath, err)
		os.Exit(1)
	}
	defer store.Close()

	p := tea.NewProgram(
		initialModel(store, cfg.SiteIDs(), cfg.LogPath),
		tea.WithAltScreen(),
	)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
