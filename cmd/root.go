package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "deepsecurity",
	Short: "Real-time face identification service",
	Long: `DeepSecurity detects faces in still images and camera frames and names them
against a gallery of enrolled identities stored as plain image directories.

Run "deepsecurity serve" to start the HTTP API, or use the faces, recognize
and index commands to work with the gallery from the terminal.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
