package domain

import "fmt"

// FormatSize renders a byte count with binary (1024-based) units and one
// decimal place.
func FormatSize(size int64) string {
	v := float64(size)
	for _, unit := range []string{"B", "KB", "MB", "GB"} {
		if v < 1024 {
			return fmt.Sprintf("%.1f%s", v, unit)
		}
		v /= 1024
	}
	return fmt.Sprintf("%.1fTB", v)
}
