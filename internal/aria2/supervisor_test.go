package aria2

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestTailLog(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "aria2.log")

	var lines []string
	for i := 1; i <= 10; i++ {
		lines = append(lines, "line")
	}
	content := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(logPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewSupervisor("", "", "", nil)

	out, err := s.TailLog(logPath, 3)
	if err != nil {
		t.Fatalf("TailLog: %v", err)
	}
	if got := len(strings.Split(out, "\n")); got != 3 {
		t.Errorf("lines = %d, want 3", got)
	}

	out, err = s.TailLog(logPath, 100)
	if err != nil {
		t.Fatalf("TailLog: %v", err)
	}
	if got := len(strings.Split(out, "\n")); got != 10 {
		t.Errorf("lines = %d, want all 10", got)
	}

	out, err = s.TailLog(filepath.Join(dir, "missing.log"), 5)
	if err != nil || out != "" {
		t.Errorf("missing log should yield empty output, got %q err %v", out, err)
	}

	out, err = s.TailLog(logPath, 0)
	if err != nil || out != "" {
		t.Errorf("zero lines should yield empty output, got %q err %v", out, err)
	}
}
