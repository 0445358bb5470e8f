package monitor

import "fmt"

// FormatCount compacts a counter for display: 999, 4.3k, 1.2M.
func FormatCount(n int64) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fk", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d", n)
	}
}

// FormatBytes formats a byte count as "X B", "X.X KB", "X.X MB" or
// "X.X GB".
func FormatBytes(bytes int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)

	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// FormatRate formats a per-minute rate as "X.X/min".
func FormatRate(perMin float64) string {
	return fmt.Sprintf("%.1f/min", perMin)
}

// FormatPercent formats a ratio in [0, 1] as a percentage.
func FormatPercent(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}
