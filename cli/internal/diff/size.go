package diff

import "fmt"

// FormatSize renders a byte count for display: "0 B", "512 B", "1.5 KB",
// "1.0 MB", "2.3 GB".
func FormatSize(n int) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	units := []string{"KB", "MB", "GB", "TB"}
	v := float64(n) / unit
	i := 0
	for v >= unit && i < len(units)-1 {
		v /= unit
		i++
	}
	return fmt.Sprintf("%.1f %s", v, units[i])
}
