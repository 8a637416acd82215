package monitor

import (
	"fmt"
	"strings"

	"aria2bot/internal/domain"
)

// RenderDetail builds the task detail view text. Refreshers re-send it only
// when the rendered output changes between polls.
func RenderDetail(t domain.Task) string {
	var b strings.Builder
	b.WriteString("Task detail\n")
	fmt.Fprintf(&b, "File: %s\n", t.Name)
	fmt.Fprintf(&b, "GID: %s\n", t.GID)
	fmt.Fprintf(&b, "Status: %s\n", t.Status)
	fmt.Fprintf(&b, "Progress: %s %.1f%%\n", t.ProgressBar(), t.Progress())
	fmt.Fprintf(&b, "Size: %s\n", t.SizeString())
	fmt.Fprintf(&b, "Down: %s\n", t.SpeedString())
	fmt.Fprintf(&b, "Up: %s/s", domain.FormatSize(t.UploadSpeed))
	if t.ErrorMessage != "" {
		fmt.Fprintf(&b, "\nError: %s", t.ErrorMessage)
	}
	return b.String()
}

func renderCompletion(t domain.Task) string {
	return fmt.Sprintf("Download complete\nFile: %s\nSize: %s\nGID: %s",
		t.Name, t.SizeString(), t.GID)
}

func renderFailure(t domain.Task) string {
	reason := t.ErrorMessage
	if reason == "" {
		reason = "unknown error"
	}
	return fmt.Sprintf("Download failed\nFile: %s\nGID: %s\nReason: %s",
		t.Name, t.GID, reason)
}
