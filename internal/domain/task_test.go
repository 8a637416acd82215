package domain

import "testing"

func TestProgressZeroTotal(t *testing.T) {
	task := Task{TotalLength: 0, CompletedLength: 500}
	if got := task.Progress(); got != 0.0 {
		t.Errorf("Progress() with zero total = %v, want 0.0", got)
	}
}

func TestProgress(t *testing.T) {
	task := Task{TotalLength: 200, CompletedLength: 50}
	if got := task.Progress(); got != 25.0 {
		t.Errorf("Progress() = %v, want 25.0", got)
	}

	overshoot := Task{TotalLength: 100, CompletedLength: 150}
	if got := overshoot.Progress(); got != 100.0 {
		t.Errorf("Progress() with overshoot = %v, want clamped 100.0", got)
	}
}

func TestProgressBar(t *testing.T) {
	tests := []struct {
		name      string
		completed int64
		total     int64
		want      string
	}{
		{"empty", 0, 100, "░░░░░░░░░░"},
		{"half", 50, 100, "█████░░░░░"},
		{"full", 100, 100, "██████████"},
		{"zero total", 0, 0, "░░░░░░░░░░"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := Task{TotalLength: tt.total, CompletedLength: tt.completed}
			if got := task.ProgressBar(); got != tt.want {
				t.Errorf("ProgressBar() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSizeString(t *testing.T) {
	task := Task{TotalLength: 100 * 1024 * 1024, CompletedLength: 100 * 1024 * 1024}
	if got := task.SizeString(); got != "100.0MB/100.0MB" {
		t.Errorf("SizeString() = %q, want %q", got, "100.0MB/100.0MB")
	}
}

func TestParseTaskStatus(t *testing.T) {
	if got := ParseTaskStatus("active"); got != TaskStatusActive {
		t.Errorf("ParseTaskStatus(active) = %v", got)
	}
	if got := ParseTaskStatus("weird"); got != TaskStatusUnknown {
		t.Errorf("ParseTaskStatus(weird) = %v, want unknown", got)
	}
	if TaskStatusUnknown.Terminal() {
		t.Error("unknown status must not be terminal")
	}
	for _, s := range []TaskStatus{TaskStatusComplete, TaskStatusError, TaskStatusRemoved} {
		if !s.Terminal() {
			t.Errorf("%v should be terminal", s)
		}
	}
}
