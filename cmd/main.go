package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tutor-agent/handler"
	"tutor-agent/internal/config"
	"tutor-agent/internal/logger"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tutor-agent",
		Short:         "STEM tutor backend on the Assistants API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newLambdaCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var (
		port  string
		store string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if cmd.Flags().Changed("port") {
				cfg.HTTPPort = port
			}
			if cmd.Flags().Changed("store") {
				cfg.ThreadStore = store
			}
			return runServer(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "listen port (overrides HTTP_PORT)")
	cmd.Flags().StringVar(&store, "store", "", "thread store: memory, dynamodb or redis (overrides THREAD_STORE)")
	return cmd
}

func newLambdaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lambda",
		Short: "Serve API Gateway proxy events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			log, a, err := setup(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			adapter, err := handler.NewLambdaAdapter(a.handler)
			if err != nil {
				return err
			}
			lambda.Start(adapter.Handle)
			return nil
		},
	}
}

func setup(ctx context.Context, cfg *config.Config) (*zap.Logger, *app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	log, err := logger.New(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, FilePath: cfg.LogFile})
	if err != nil {
		return nil, nil, err
	}
	a, err := buildApp(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", zap.Error(err))
		return nil, nil, err
	}
	return log, a, nil
}

func runServer(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log, a, err := setup(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("close resources", zap.Error(err))
		}
	}()

	e := a.handler.Echo()
	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("port", cfg.HTTPPort))
		errCh <- e.Start(":" + cfg.HTTPPort)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
