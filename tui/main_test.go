package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"car_scrooper/models"
)

type fakeStore struct {
	runs     []models.ScrapeRun
	logs     map[int64][]models.ScrapeLog
	enqueued []models.CommandType
}

func (f *fakeStore) RecentRuns(sourceID string, limit int) ([]models.ScrapeRun, error) {
	return f.runs, nil
}

func (f *fakeStore) RunLogs(runID int64) ([]models.ScrapeLog, error) {
	return f.logs[runID], nil
}

func (f *fakeStore) EnqueueCommand(cmd models.CommandType, params *models.CommandParams) (int64, error) {
	f.enqueued = append(f.enqueued, cmd)
	return int64(len(f.enqueued)), nil
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m model, msg tea.Msg) (model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(model)
	if !ok {
		t.Fatalf("unexpected model type %T", next)
	}
	return nm, cmd
}

func TestSummarizeSources(t *testing.T) {
	base := time.Date(2024, 3, 12, 10, 0, 0, 0, time.UTC)
	runs := []models.ScrapeRun{
		{ID: 4, SourceID: "njuskalo", StartedAt: base.Add(3 * time.Hour), Status: models.RunStatusFailed},
		{ID: 3, SourceID: "legacy", StartedAt: base.Add(2 * time.Hour), Status: models.RunStatusCompleted, ListingsFound: 3},
		{ID: 2, SourceID: "njuskalo", StartedAt: base.Add(time.Hour), Status: models.RunStatusCompleted, ListingsFound: 40},
		{ID: 1, SourceID: "njuskalo", StartedAt: base, Status: models.RunStatusCompleted},
	}

	got := summarizeSources([]string{"njuskalo", "autoscout"}, runs)
	if len(got) != 3 {
		t.Fatalf("expected 3 summaries, got %d", len(got))
	}
	if got[0].ID != "autoscout" || got[1].ID != "legacy" || got[2].ID != "njuskalo" {
		t.Fatalf("unexpected order %v", []string{got[0].ID, got[1].ID, got[2].ID})
	}

	if got[0].Runs != 0 || got[0].LastRunAt != nil {
		t.Fatalf("expected never-run source, got %+v", got[0])
	}

	nj := got[2]
	if nj.Runs != 3 || nj.Completed != 2 || nj.LastStatus != models.RunStatusFailed {
		t.Fatalf("unexpected njuskalo summary %+v", nj)
	}
	if !nj.LastRunAt.Equal(base.Add(3 * time.Hour)) {
		t.Fatalf("expected newest run as last, got %v", nj.LastRunAt)
	}
	if nj.SuccessRate < 0.66 || nj.SuccessRate > 0.67 {
		t.Fatalf("unexpected success rate %f", nj.SuccessRate)
	}
}

func TestModel_CommandKeysQueueCommands(t *testing.T) {
	store := &fakeStore{}
	m := initialModel(store, nil, "")

	tests := []struct {
		key  string
		want models.CommandType
	}{
		{"s", models.CmdScrapeNow},
		{"m", models.CmdRunMedia},
		{"p", models.CmdPause},
		{"u", models.CmdResume},
	}
	for _, tt := range tests {
		var cmd tea.Cmd
		m, cmd = update(t, m, key(tt.key))
		if cmd == nil {
			t.Fatalf("key %q produced no command", tt.key)
		}
		msg := cmd()
		sent, ok := msg.(commandSentMsg)
		if !ok || sent.command != tt.want {
			t.Fatalf("key %q: unexpected message %#v", tt.key, msg)
		}
		m, _ = update(t, m, sent)
		if !strings.Contains(m.notification, "queued") {
			t.Fatalf("expected notification, got %q", m.notification)
		}
	}

	if len(store.enqueued) != 4 || store.enqueued[0] != models.CmdScrapeNow {
		t.Fatalf("unexpected enqueued commands %v", store.enqueued)
	}
}

func TestModel_SelectAndOpenRun(t *testing.T) {
	store := &fakeStore{
		runs: []models.ScrapeRun{
			{ID: 9, SourceID: "njuskalo", Status: models.RunStatusCompleted},
			{ID: 8, SourceID: "njuskalo", Status: models.RunStatusFailed, ErrorMessage: "crawl: navigation failed"},
		},
		logs: map[int64][]models.ScrapeLog{
			8: {{ID: 1, Level: models.LogLevelError, Message: "crawl: navigation failed"}},
		},
	}
	m := initialModel(store, []string{"njuskalo"}, "")
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})

	m, _ = update(t, m, m.refreshRuns()())
	if len(m.runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(m.runs))
	}

	m, _ = update(t, m, key("j"))
	m, _ = update(t, m, key("j"))
	if m.selected != 1 {
		t.Fatalf("selection should stop at last run, got %d", m.selected)
	}

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.activeTab != tabRunLog || cmd == nil {
		t.Fatal("expected run log tab with a load command")
	}
	m, _ = update(t, m, cmd())
	if m.logRunID != 8 || len(m.runLogs) != 1 {
		t.Fatalf("expected logs of run 8, got run %d with %d lines", m.logRunID, len(m.runLogs))
	}
	if view := m.View(); !strings.Contains(view, "Run #8") {
		t.Fatalf("expected run header in view:\n%s", view)
	}

	store.runs = store.runs[:1]
	m, _ = update(t, m, m.refreshRuns()())
	if m.selected != 0 {
		t.Fatalf("selection should be clamped, got %d", m.selected)
	}
}

func TestReadLastLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.log")
	if err := os.WriteFile(path, []byte("one\ntwo\nthree\nfour\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	got := readLastLines(path, 2)
	if len(got) != 2 || got[0] != "three" || got[1] != "four" {
		t.Fatalf("unexpected tail %v", got)
	}

	if got := readLastLines(filepath.Join(t.TempDir(), "missing.log"), 5); got[0] != "(no log file)" {
		t.Fatalf("unexpected missing-file tail %v", got)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"njuskalo", 20, "njuskalo"},
		{"njuskalo", 5, "nju…"},
		{"Njuškalo", 4, "Nju…"},
		{"abc", 0, ""},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}
