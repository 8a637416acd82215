package domain

import "fmt"

type TaskStatus string

const (
	TaskStatusActive   TaskStatus = "active"
	TaskStatusWaiting  TaskStatus = "waiting"
	TaskStatusPaused   TaskStatus = "paused"
	TaskStatusComplete TaskStatus = "complete"
	TaskStatusError    TaskStatus = "error"
	TaskStatusRemoved  TaskStatus = "removed"
	TaskStatusUnknown  TaskStatus = "unknown"
)

// ParseTaskStatus maps a status string reported by aria2 onto the closed
// status set. Anything unrecognized becomes TaskStatusUnknown, which is
// treated as non-terminal.
func ParseTaskStatus(s string) TaskStatus {
	switch TaskStatus(s) {
	case TaskStatusActive, TaskStatusWaiting, TaskStatusPaused,
		TaskStatusComplete, TaskStatusError, TaskStatusRemoved:
		return TaskStatus(s)
	}
	return TaskStatusUnknown
}

// Terminal reports whether aria2 is not expected to transition the task any
// further.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusComplete || s == TaskStatusError || s == TaskStatusRemoved
}

// Task is a point-in-time snapshot of an aria2 download, replaced wholesale
// on every poll. GID is the opaque handle aria2 assigned to the task.
type Task struct {
	GID             string
	Status          TaskStatus
	Name            string
	TotalLength     int64
	CompletedLength int64
	DownloadSpeed   int64
	UploadSpeed     int64
	ErrorMessage    string
	Dir             string
}

// Progress returns the completion percentage. aria2 is the source of truth,
// so inconsistent byte counts are clamped here rather than rejected.
func (t Task) Progress() float64 {
	if t.TotalLength == 0 {
		return 0.0
	}
	pct := float64(t.CompletedLength) / float64(t.TotalLength) * 100
	if pct > 100 {
		return 100
	}
	return pct
}

// ProgressBar renders a fixed 10-cell textual bar.
func (t Task) ProgressBar() string {
	filled := int(t.Progress() / 10)
	if filled > 10 {
		filled = 10
	}
	bar := ""
	for i := 0; i < 10; i++ {
		if i < filled {
			bar += "█"
		} else {
			bar += "░"
		}
	}
	return bar
}

func (t Task) SizeString() string {
	return fmt.Sprintf("%s/%s", FormatSize(t.CompletedLength), FormatSize(t.TotalLength))
}

func (t Task) SpeedString() string {
	return FormatSize(t.DownloadSpeed) + "/s"
}

// GlobalStats mirrors aria2.getGlobalStat.
type GlobalStats struct {
	DownloadSpeed int64
	UploadSpeed   int64
	NumActive     int
	NumWaiting    int
	NumStopped    int
}
