// Package main implements rclctl, the operator CLI for a running
// recalld daemon.
package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/recalld/internal/monitor"
)

var (
	// addr is the base URL of the recalld ops endpoint.
	addr string
	// version information
	version = "dev"
)

// requestTimeout bounds one-shot commands (health, stats).
const requestTimeout = 5 * time.Second

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rclctl",
	Short: "CLI for a running recalld daemon",
	Long: `rclctl talks to the localhost ops endpoint of a running recalld daemon.
It reports daemon health and cache statistics, and ships a live top-style
view of the working set.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&addr, "addr", "http://localhost:7133", "recalld ops endpoint URL")
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(topCmd)
}

// healthCmd checks daemon health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check recalld daemon health",
	Long: `Check the health of a running recalld daemon.

Examples:
  # Check health
  rclctl health

  # Check a daemon on a different port
  rclctl health --addr http://localhost:7200`,
	RunE: runHealth,
}

// statsCmd prints cache and index statistics
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print cache and index statistics",
	Long: `Print a one-shot snapshot of the recalld working set: cached memories,
index sizes, enrichment backlog, and operation counters.

Examples:
  # Print current statistics
  rclctl stats`,
	RunE: runStats,
}

// runHealth handles the health command
func runHealth(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	health, err := monitor.NewClient(addr).Health(ctx)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", addr, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Status:  %s\n", health.Status)
	fmt.Fprintf(out, "Service: %s %s\n", health.Service, health.Version)
	fmt.Fprintf(out, "Mode:    %s\n", health.Mode)
	if health.KVDegraded {
		fmt.Fprintln(out, "Cache:   degraded")
	}
	if health.RemoteDegraded {
		fmt.Fprintln(out, "Backend: degraded")
	}
	return nil
}

// runStats handles the stats command
func runStats(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	stats, err := monitor.NewClient(addr).Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", addr, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Memories cached:  %d (%s)\n", stats.Cached, monitor.FormatBytes(stats.MemoryBytes))
	fmt.Fprintf(out, "Keyword terms:    %d\n", stats.Keywords)
	fmt.Fprintf(out, "Vector records:   %d\n", stats.VectorRecords)
	fmt.Fprintf(out, "Graph:            %d entities, %d edges\n", stats.GraphEntities, stats.GraphEdges)
	fmt.Fprintf(out, "Enrichment:       %d queued, %d pending\n", stats.QueuedEnrichments, stats.PendingEnrichments)
	fmt.Fprintf(out, "Jobs in flight:   %d\n", stats.PendingJobs)
	fmt.Fprintf(out, "Accesses:         %d\n", stats.AccessTotal)

	if len(stats.Counters) > 0 {
		names := make([]string, 0, len(stats.Counters))
		for name := range stats.Counters {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintf(out, "Counters:\n")
		for _, name := range names {
			fmt.Fprintf(out, "  %-22s %d\n", name, stats.Counters[name])
		}
	}

	if stats.KVDegraded {
		fmt.Fprintln(out, "Cache degraded: serving without KV")
	}
	if stats.RemoteDegraded {
		fmt.Fprintln(out, "Backend degraded: serving from cache only")
	}
	return nil
}
