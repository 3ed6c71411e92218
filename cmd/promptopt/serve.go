package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/epicforge/promptopt/apiserver"
	"github.com/epicforge/promptopt/taskstore"
	"github.com/epicforge/promptopt/telemetry"
)

const taskReapAfter = 24 * time.Hour

// serveCmd starts the long-running HTTP task-polling API, following the
// same serve subcommand shape as longregen-alicia/cmd/alicia/serve.go:
// build collaborators, start an http.Server in a goroutine, then wait on
// a server-error channel or an OS signal and shut down gracefully within
// a bounded timeout.
func serveCmd() *cobra.Command {
	var addr string
	var model string
	var seededBase string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP task polling API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), addr, model, seededBase)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&model, "model", defaultModel, "chat-completions model for generation, judging, and mutation")
	cmd.Flags().StringVar(&seededBase, "seeded-base", "", "base prompt seeded into a fresh champion store")

	return cmd
}

func runServe(ctx context.Context, addr, model, seededBase string) error {
	var telem *telemetry.Sink
	if cfg.Telemetry.PreviewEnabled {
		telem = telemetry.NewSink(cfg.Telemetry.PreviewLength)
	}

	collab := buildCollaborators(cfg, model, seededBase, telem)

	deps := &apiserver.Dependencies{
		Config:    cfg,
		Tasks:     taskstore.NewStore(taskReapAfter, time.Now),
		Champion:  collab.Champion,
		Gen:       collab.Gen,
		Judger:    collab.Judger,
		Synth:     collab.Synth,
		Telemetry: telem,
		Logger:    logger,
	}

	router := apiserver.NewRouter(deps)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
			return
		}
		serverErrors <- nil
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case sig := <-sigChan:
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		return nil
	}
}
