package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kozaktomas/deepsecurity/internal/config"
	"github.com/kozaktomas/deepsecurity/internal/web"
	"github.com/kozaktomas/deepsecurity/internal/web/handlers"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the DeepSecurity HTTP API.
The server exposes identity management (list, register, delete) and
recognition of uploaded frames. The gallery index is built on the first
recognition request unless --warm is given.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (defaults to WEB_PORT or 8000)")
	serveCmd.Flags().String("host", "", "Host to bind to (defaults to WEB_HOST or 0.0.0.0)")
	serveCmd.Flags().Bool("warm", false, "Build the gallery index before accepting requests")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.Load()
	if port := mustGetInt(cmd, "port"); port > 0 {
		cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Web.Host = host
	}

	svc, err := newServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	if mustGetBool(cmd, "warm") {
		stats, err := svc.matcher.Warm(ctx, nil)
		if err != nil {
			svc.log.WithError(err).Warn("failed to warm gallery index, it will be built on first use")
		} else {
			svc.log.WithField("references", stats.References).Info("gallery index ready")
		}
	}

	server := web.NewServer(svc.cfg, web.Services{
		Faces:      svc.manager,
		Recognizer: svc.recognizer,
		Index:      svc.matcher,
		Info: handlers.SystemInfo{
			Version:         Version,
			DetectorBackend: svc.detector,
			EmbedderBackend: svc.embedder,
			Threshold:       svc.recognizer.Threshold(),
		},
	}, svc.log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting DeepSecurity on http://%s:%d\n", svc.cfg.Web.Host, svc.cfg.Web.Port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
