package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/kozaktomas/deepsecurity/internal/config"
	"github.com/kozaktomas/deepsecurity/internal/recognition"
	"github.com/spf13/cobra"
)

var recognizeCmd = &cobra.Command{
	Use:   "recognize <image>",
	Short: "Detect and identify faces in an image",
	Long: `Runs face detection on an image and matches every detected face against
the gallery. Faces without a match closer than the threshold are reported
as Unknown.

Examples:
  deepsecurity recognize frame.jpg
  deepsecurity recognize --threshold 0.3 --json frame.jpg`,
	Args: cobra.ExactArgs(1),
	RunE: runRecognize,
}

func init() {
	rootCmd.AddCommand(recognizeCmd)

	recognizeCmd.Flags().Float64("threshold", 0, "Maximum match distance (defaults to RECOGNITION_THRESHOLD)")
	recognizeCmd.Flags().Bool("json", false, "Output as JSON")
}

func runRecognize(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	cfg := config.Load()
	if threshold := mustGetFloat64(cmd, "threshold"); threshold > 0 {
		cfg.Recognition.Threshold = threshold
	}

	ctx := context.Background()
	svc, err := newServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	results, err := svc.recognizer.RecognizeImage(ctx, data)
	if err != nil {
		return fmt.Errorf("failed to recognize %s: %w", args[0], err)
	}

	resp := recognition.Present(results)
	if mustGetBool(cmd, "json") {
		return outputJSON(resp)
	}

	if len(resp.Faces) == 0 {
		fmt.Println("No faces detected")
		return nil
	}
	for i, face := range resp.Faces {
		fmt.Printf("%d. %-24s similarity %.3f  detection %.3f  box (%d,%d %dx%d)\n",
			i+1, face.Name, face.Similarity, face.ConfidenceDetection,
			face.Box.X, face.Box.Y, face.Box.W, face.Box.H)
	}
	return nil
}
