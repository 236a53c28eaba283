package cmd

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Build metadata variables, set by -ldflags at compile time.
var (
	Version   = "dev"
	CommitSHA = "unknown"
	BuildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version information",
	Run: func(cmd *cobra.Command, args []string) {
		commit, built := buildMetadata()
		fmt.Printf("deepsecurity %s\n", Version)
		fmt.Printf("  Commit: %s\n", commit)
		fmt.Printf("  Built:  %s\n", built)
		fmt.Printf("  Go:     %s\n", runtime.Version())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// buildMetadata prefers ldflags values and falls back to the VCS stamp the
// go tool embeds in module builds.
func buildMetadata() (commit, built string) {
	commit, built = CommitSHA, BuildDate
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return commit, built
	}
	for _, s := range info.Settings {
		switch {
		case s.Key == "vcs.revision" && commit == "unknown":
			commit = s.Value
		case s.Key == "vcs.time" && built == "unknown":
			built = s.Value
		}
	}
	return commit, built
}
