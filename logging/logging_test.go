package logging

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRotatingWriter_RotatesPastMaxSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "wohnwatch.log")
	w, err := NewRotatingWriter(path, 16)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer w.Close()

	if _, err := w.Write([]byte("first line that is long\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := w.Write([]byte("second\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	backup, err := os.ReadFile(path + ".1")
	if err != nil {
		t.Fatalf("expected backup file: %v", err)
	}
	if !strings.Contains(string(backup), "first line") {
		t.Fatalf("backup should hold the first line, got %q", backup)
	}

	current, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read current: %v", err)
	}
	if string(current) != "second\n" {
		t.Fatalf("expected only the second line in the current file, got %q", current)
	}
}

func TestDebugf_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	prevOut, prevFlags := log.Writer(), log.Flags()
	log.SetOutput(&buf)
	log.SetFlags(0)
	t.Cleanup(func() {
		log.SetOutput(prevOut)
		log.SetFlags(prevFlags)
		SetLevel("info")
	})

	SetLevel("info")
	Debugf("hidden %d", 1)
	if buf.Len() != 0 {
		t.Fatalf("debug line written at info level: %q", buf.String())
	}

	SetLevel("DEBUG")
	if !DebugEnabled() {
		t.Fatalf("expected debug to be enabled")
	}
	Debugf("shown %d", 2)
	if got := buf.String(); got != "[debug] shown 2\n" {
		t.Fatalf("unexpected output %q", got)
	}
}
