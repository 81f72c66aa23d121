package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kodu-ai/kodu/internal/app"
	"github.com/kodu-ai/kodu/internal/config"
	"github.com/kodu-ai/kodu/internal/logging"
	"github.com/kodu-ai/kodu/internal/provider"
)

var (
	serveAddr   string
	serveDir    string
	serveTaskID string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP/SSE bridge",
	Long: `Start kodu as a headless server. A UI drives the task over HTTP and
follows progress on the /event SSE stream.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (host:port)")
	serveCmd.Flags().StringVar(&serveDir, "directory", "", "Working directory")
	serveCmd.Flags().StringVar(&serveTaskID, "task-id", "", "Resume an existing task by id")
}

func runServe(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(serveDir)
	if err != nil {
		return err
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.ServerAddr = serveAddr
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if cfg.APIURL == "" {
		return fmt.Errorf("no model endpoint configured; set apiUrl in settings.json or KODU_API_URL")
	}

	api := provider.NewHTTPManager(cfg.APIURL, cfg.APIKey)
	services, err := app.New(cfg, app.Options{
		TaskID:     serveTaskID,
		WorkingDir: workDir,
		API:        api,
		WithServer: true,
	})
	if err != nil {
		return err
	}
	if err := services.Init(); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- services.Server.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err = <-errCh:
		if err != nil {
			logging.Error().Err(err).Msg("server failed")
		}
	case sig := <-quit:
		logging.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return services.Shutdown(shutdownCtx)
}
