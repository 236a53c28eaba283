package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kozaktomas/deepsecurity/internal/config"
	"github.com/kozaktomas/deepsecurity/internal/gallery"
	"github.com/spf13/cobra"
)

var facesCmd = &cobra.Command{
	Use:   "faces",
	Short: "Manage enrolled identities",
	Long:  `List, register and delete identities in the face gallery.`,
}

var facesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled identities",
	Args:  cobra.NoArgs,
	RunE:  runFacesList,
}

var facesAddCmd = &cobra.Command{
	Use:   "add <name> <image>...",
	Short: "Register reference images for an identity",
	Long: `Stores one or more reference images under the given identity, creating it
if it does not exist yet. Every image must decode; nothing is stored otherwise.

Examples:
  deepsecurity faces add "Jan Novák" jan1.jpg jan2.jpg`,
	Args: cobra.MinimumNArgs(2),
	RunE: runFacesAdd,
}

var facesRmCmd = &cobra.Command{
	Use:   "rm <name>",
	Short: "Delete an identity and all of its reference images",
	Args:  cobra.ExactArgs(1),
	RunE:  runFacesRm,
}

func init() {
	rootCmd.AddCommand(facesCmd)
	facesCmd.AddCommand(facesListCmd, facesAddCmd, facesRmCmd)

	facesListCmd.Flags().Bool("json", false, "Output as JSON")
	facesAddCmd.Flags().Bool("json", false, "Output as JSON")
}

func runFacesList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	svc, err := newServices(ctx, config.Load())
	if err != nil {
		return err
	}
	defer svc.Close()

	names, err := svc.manager.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list identities: %w", err)
	}

	if mustGetBool(cmd, "json") {
		if names == nil {
			names = []string{}
		}
		return outputJSON(map[string][]string{"faces": names})
	}

	if len(names) == 0 {
		fmt.Println("No identities enrolled")
		return nil
	}
	for _, name := range names {
		fmt.Println(name)
	}
	fmt.Printf("\n%d identities\n", len(names))
	return nil
}

func runFacesAdd(cmd *cobra.Command, args []string) error {
	name, paths := args[0], args[1:]

	images := make([]gallery.Image, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		images = append(images, gallery.Image{Filename: filepath.Base(path), Data: data})
	}

	ctx := context.Background()
	svc, err := newServices(ctx, config.Load())
	if err != nil {
		return err
	}
	defer svc.Close()

	res, err := svc.manager.Register(ctx, name, images)
	if err != nil {
		return fmt.Errorf("failed to register %q: %w", name, err)
	}

	if mustGetBool(cmd, "json") {
		return outputJSON(res)
	}
	verb := "Updated"
	if res.Created {
		verb = "Created"
	}
	fmt.Printf("%s identity '%s' (%d images saved)\n", verb, res.Name, res.Saved)
	return nil
}

func runFacesRm(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	svc, err := newServices(ctx, config.Load())
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.manager.Delete(ctx, args[0]); err != nil {
		return fmt.Errorf("failed to delete %q: %w", args[0], err)
	}
	fmt.Printf("Deleted identity '%s'\n", args[0])
	return nil
}

func outputJSON(data any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	return nil
}
