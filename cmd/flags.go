package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// mustGet reads a flag through get and panics if the flag doesn't exist.
// Flags are registered in init(), so a lookup error is a programming bug.
func mustGet[T any](name string, get func(string) (T, error)) T {
	val, err := get(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

func mustGetBool(cmd *cobra.Command, name string) bool {
	return mustGet(name, cmd.Flags().GetBool)
}

func mustGetInt(cmd *cobra.Command, name string) int {
	return mustGet(name, cmd.Flags().GetInt)
}

func mustGetString(cmd *cobra.Command, name string) string {
	return mustGet(name, cmd.Flags().GetString)
}

func mustGetFloat64(cmd *cobra.Command, name string) float64 {
	return mustGet(name, cmd.Flags().GetFloat64)
}
