package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/kozaktomas/deepsecurity/internal/config"
	"github.com/kozaktomas/deepsecurity/internal/gallery"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Inspect and build the gallery index",
}

var indexBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Embed every reference image and persist the representation table",
	Long: `Builds the gallery index from the identity store ahead of time so the first
recognition request does not pay for it. The representation table is written
next to the identities and reused by the server while the store is unchanged.

Use --force to discard the stored representation table and embed everything
again.`,
	Args: cobra.NoArgs,
	RunE: runIndexBuild,
}

var indexStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of the gallery index",
	Args:  cobra.NoArgs,
	RunE:  runIndexStatus,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexBuildCmd, indexStatusCmd)

	indexBuildCmd.Flags().Bool("force", false, "Ignore the stored representation table")
	indexBuildCmd.Flags().Bool("json", false, "Output as JSON")
	indexStatusCmd.Flags().Bool("json", false, "Output as JSON")
}

// newRebuildProgressBar returns a progress callback backed by a terminal bar.
// The bar is created once the number of references is known.
func newRebuildProgressBar(jsonOutput bool) gallery.Progress {
	if jsonOutput {
		return nil
	}
	var bar *progressbar.ProgressBar
	return func(done, total int) {
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription("Embedding references"),
				progressbar.OptionShowCount(),
				progressbar.OptionShowIts(),
				progressbar.OptionSetItsString("images"),
				progressbar.OptionShowElapsedTimeOnFinish(),
				progressbar.OptionSetPredictTime(true),
				progressbar.OptionFullWidth(),
			)
		}
		_ = bar.Set(done)
		if done == total {
			_ = bar.Finish()
			fmt.Println()
		}
	}
}

func runIndexBuild(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	ctx := context.Background()
	svc, err := newServices(ctx, config.Load())
	if err != nil {
		return err
	}
	defer svc.Close()

	if mustGetBool(cmd, "force") {
		if err := svc.matcher.Invalidate(ctx); err != nil {
			return fmt.Errorf("failed to discard representation table: %w", err)
		}
	}

	stats, err := svc.matcher.Warm(ctx, newRebuildProgressBar(jsonOutput))
	if err != nil {
		return fmt.Errorf("failed to build gallery index: %w", err)
	}

	if jsonOutput {
		return outputJSON(stats)
	}
	printIndexStats(stats)
	return nil
}

func runIndexStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	svc, err := newServices(ctx, config.Load())
	if err != nil {
		return err
	}
	defer svc.Close()

	stats := svc.matcher.Status(ctx)
	if mustGetBool(cmd, "json") {
		return outputJSON(stats)
	}
	printIndexStats(stats)

	path := gallery.RepresentationsPath(svc.store.Root(), stats.Model)
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Table:       %s\n", path)
	} else {
		fmt.Printf("Table:       none (run \"deepsecurity index build\")\n")
	}
	return nil
}

func printIndexStats(stats gallery.IndexStats) {
	state := "not built"
	if stats.Valid {
		state = "built"
		if stats.FromCache {
			state = "loaded from representation table"
		}
	}
	fmt.Printf("Index:       %s\n", state)
	fmt.Printf("Model:       %s (%s)\n", stats.Model, stats.Metric)
	fmt.Printf("Generation:  %d\n", stats.Generation)
	if !stats.Valid {
		return
	}
	fmt.Printf("Identities:  %d\n", stats.Identities)
	fmt.Printf("References:  %d\n", stats.References)
	if stats.Skipped > 0 {
		fmt.Printf("Skipped:     %d (no face found or unreadable)\n", stats.Skipped)
	}
	fmt.Printf("Built at:    %s\n", stats.BuiltAt.Format("2006-01-02 15:04:05"))
}
