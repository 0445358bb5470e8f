package main

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/recalld/internal/monitor"
)

var topInterval time.Duration

// topCmd shows the live dashboard
var topCmd = &cobra.Command{
	Use:   "top",
	Short: "Live view of the recalld working set",
	Long: `Show a continuously refreshing view of cache occupancy, index sizes,
enrichment backlog, and request activity.

Keys: q quits, r forces a refresh.

Examples:
  # Watch the local daemon
  rclctl top

  # Poll faster
  rclctl top --interval 1s`,
	RunE: runTop,
}

func init() {
	topCmd.Flags().DurationVar(&topInterval, "interval", 2*time.Second, "refresh interval")
}

// runTop handles the top command
func runTop(cmd *cobra.Command, args []string) error {
	model := monitor.NewModel(addr, topInterval)
	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("failed to run dashboard: %w", err)
	}
	return nil
}
