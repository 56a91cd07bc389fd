package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Rev4nchist/agent-arch/internal/app"
	"github.com/Rev4nchist/agent-arch/internal/config"
	"github.com/Rev4nchist/agent-arch/internal/hmlr"
)

var (
	envFile   string
	verbose   bool
	userID    string
	sessionID string
	query     string
	intent    string
)

var rootCmd = &cobra.Command{
	Use:           "hmlr",
	Short:         "hmlr - conversational memory routing service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP and websocket API",
	RunE:  runServe,
}

var routeCmd = &cobra.Command{
	Use:   "route",
	Short: "Route one query and print the decision and hydrated context",
	RunE:  runRoute,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before the environment")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	routeCmd.Flags().StringVar(&userID, "user", "", "User id")
	routeCmd.Flags().StringVar(&sessionID, "session", "", "Session id")
	routeCmd.Flags().StringVarP(&query, "query", "q", "", "Query to route")
	routeCmd.Flags().StringVar(&intent, "intent", "", "Optional caller intent")
	_ = routeCmd.MarkFlagRequired("query")
	rootCmd.AddCommand(serveCmd, routeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// loadConfig reads the dotenv file when present, then the environment.
func loadConfig() (config.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return config.Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return config.Load()
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := newLogger(os.Stderr)
	slog.SetDefault(logger)

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	built, err := app.Build(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			logger.Error("cleanup failed", "err", err)
		}
	}()

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: built.API.Router(),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			"addr", cfg.BindAddr,
			"hmlr_enabled", cfg.Enabled,
			"store_mode", built.StoreMode,
			"embedding_provider", cfg.EmbeddingProvider,
			"llm_enabled", built.LLMEnabled)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	select {
	case err, ok := <-serveErr:
		if ok {
			return fmt.Errorf("listen error: %w", err)
		}
		return nil
	case <-sigCtx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "err", err)
		_ = httpServer.Close()
	}
	logger.Info("shutdown complete")
	return nil
}

func runRoute(cmd *cobra.Command, _ []string) error {
	logger := newLogger(cmd.ErrOrStderr())

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	built, err := app.Build(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer built.Cleanup()

	d, hctx, err := built.Service.Prepare(cmd.Context(), hmlr.RouteRequest{
		UserID:    userID,
		SessionID: sessionID,
		Query:     query,
		Intent:    intent,
	})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{"decision": d, "context": hctx})
}
