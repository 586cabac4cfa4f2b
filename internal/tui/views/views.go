package views

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// RefreshMsg tells a view to repaint from live manager state. The root model
// sends it on a timer and on tab switches.
type RefreshMsg struct{}

var (
	baseStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00FF00")).
			Margin(1, 0)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Margin(1, 0)
)

// formatBytes renders a byte count in the largest reasonable unit.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}

// formatProgress renders "received/total (pct%)", degrading gracefully when
// the total is unknown.
func formatProgress(received, total int64) string {
	if total <= 0 {
		return formatBytes(received)
	}
	return fmt.Sprintf("%s / %s (%d%%)", formatBytes(received), formatBytes(total), received*100/total)
}
