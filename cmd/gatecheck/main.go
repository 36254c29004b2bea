package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/hazz-dev/gatecheck/internal/alert"
	"github.com/hazz-dev/gatecheck/internal/config"
	"github.com/hazz-dev/gatecheck/internal/dashboard"
	"github.com/hazz-dev/gatecheck/internal/orchestrator"
	"github.com/hazz-dev/gatecheck/internal/probe"
	"github.com/hazz-dev/gatecheck/internal/scheduler"
	"github.com/hazz-dev/gatecheck/internal/server"
	"github.com/hazz-dev/gatecheck/internal/storage"
	"github.com/hazz-dev/gatecheck/internal/version"
)

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "gatecheck",
		Short:        "Health-gated backend status page",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "gatecheck.yml", "config file path")

	root.AddCommand(versionCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(checkCmd())
	root.AddCommand(statusCmd())

	return root
}

// loadConfig reads the config file. The default path is optional; an
// explicitly passed path must exist.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := cfgFile
	if !cmd.Flags().Changed("config") && !config.Exists(path) {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the status page and API",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := slog.Default()

	// 1. Load config
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger.Info("config loaded",
		"backend", cfg.Backend.URL,
		"timeout", cfg.Backend.Timeout.Duration,
		"degraded_policy", cfg.Backend.DegradedPolicy,
		"version", version.Version,
	)

	// 2. Open SQLite (optional)
	var (
		schedStore   scheduler.Store
		historyStore server.HistoryStore
	)
	if cfg.Storage.Path != "" {
		db, err := storage.Open(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer db.Close()
		schedStore, historyStore = db, db
	}

	// 3. Build orchestrator
	orch := orchestrator.New(probe.New(logger),
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(orchestrator.DefaultMetrics()),
		orchestrator.WithDegradedPolicy(cfg.Backend.DegradedPolicy),
	)
	orch.SetOnTransition(func(tr orchestrator.Transition) {
		logger.Debug("state transition",
			"activation", tr.ActivationID,
			"stage", tr.Stage,
			"status", tr.State.Status,
			"message", tr.State.Message,
		)
	})

	// 4. Build scheduler, with alerter if configured
	sched := scheduler.New(orch, cfg.Backend.Endpoint(), cfg.Watch.Interval.Duration, schedStore, logger)
	var alerter *alert.Alerter
	if cfg.Alerts.Webhook.URL != "" {
		alerter = alert.New(cfg.Alerts.Webhook.URL, cfg.Alerts.Webhook.Cooldown.Duration, logger)
		sched.SetOnResult(alerter.Notify)
	}

	// 5. Build API server
	apiServer := server.New(orch, sched, historyStore, cfg.Backend.URL, logger)

	// 6. Mount routes on a single mux
	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer.Router())
	mux.Handle("/healthz", apiServer.Router())
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", dashboard.Handler())

	httpServer := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 7. Signal context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// 8. First activation, then watch if configured
	sched.Start(ctx)
	logger.Info("scheduler started", "watch_interval", cfg.Watch.Interval.Duration)

	// 9. Start HTTP server in background
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "address", cfg.Server.Address)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// 10. Wait for signal or server error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("HTTP server: %w", err)
	}

	// 11. Graceful shutdown
	sched.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown", "error", err)
	}
	if alerter != nil {
		alerter.Wait()
	}

	logger.Info("shutdown complete")
	return nil
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run one activation against the backend and print the result",
		RunE:  runCheck,
	}
}

func runCheck(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return executeCheck(cmd, cfg)
}

func statusCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print recent activations from the database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of activations to show")
	return cmd
}

func runStatus(cmd *cobra.Command, limit int) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Storage.Path == "" {
		return fmt.Errorf("history is disabled (storage.path is empty)")
	}

	db, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	return executeStatus(cmd, db, limit)
}
