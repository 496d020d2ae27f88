package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRotatingWriter_KeepsOneBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.log")
	w, err := NewRotatingWriter(path, 64)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer w.Close()

	line := strings.Repeat("a", 40) + "\n"
	for i := 0; i < 5; i++ {
		if _, err := w.Write([]byte(line)); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	w.Write([]byte("tail\n"))

	backup, err := os.ReadFile(path + ".1")
	if err != nil {
		t.Fatalf("expected backup file: %v", err)
	}
	if len(backup) == 0 || int64(len(backup)) > 2*64 {
		t.Fatalf("unexpected backup size %d", len(backup))
	}

	current, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read current: %v", err)
	}
	if !strings.HasSuffix(string(current), "tail\n") {
		t.Fatalf("expected latest line in current file, got %q", current)
	}
	if _, err := os.Stat(path + ".2"); !os.IsNotExist(err) {
		t.Fatal("only one backup should exist")
	}
}

func TestNewRotatingWriter_TruncatesOversizedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.log")
	if err := os.WriteFile(path, []byte(strings.Repeat("x", 200)), 0644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	w, err := NewRotatingWriter(path, 100)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer w.Close()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != 0 {
		t.Fatalf("expected truncated file, got %d bytes", info.Size())
	}
}
