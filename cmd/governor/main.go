// File: cmd/governor/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stacklabel/update-governor/internal/admission"
	"github.com/stacklabel/update-governor/internal/clock"
	"github.com/stacklabel/update-governor/internal/config"
	"github.com/stacklabel/update-governor/internal/executor"
	"github.com/stacklabel/update-governor/internal/governance"
	"github.com/stacklabel/update-governor/internal/metrics"
	"github.com/stacklabel/update-governor/internal/notification"
	"github.com/stacklabel/update-governor/internal/queue"
	"github.com/stacklabel/update-governor/internal/server"
	"github.com/stacklabel/update-governor/internal/storage"
	"github.com/stacklabel/update-governor/pkg/utils"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"

	configPath string
)

// Application wires together all components of the update governor
type Application struct {
	config     *config.Config
	storage    storage.Storage
	metrics    *metrics.Manager
	tracker    *admission.Tracker
	queue      *queue.ExecutionQueue
	governance *governance.Manager
	server     *server.Server
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "governor",
		Short: "Admin update-request governance service",
		Long:  "Governs daily catalog updates through per-admin admission limits, democratic voting and a serialized execution queue.",
		RunE:  runApplication,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("governor %s (built %s)\n", version, buildTime)
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			fmt.Printf("Configuration valid: %s (%s)\n", cfg.App.Name, cfg.App.Environment)
			return nil
		},
	}

	rootCmd.AddCommand(versionCmd, validateCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runApplication(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	if err := utils.InitLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, ""); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger := utils.GetLogger()

	app, err := buildApplication(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.Start(ctx); err != nil {
		return err
	}

	logger.Info("Update governor started", map[string]interface{}{
		"version":     version,
		"environment": cfg.App.Environment,
		"address":     cfg.Server.Address(),
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logger.Info("Shutdown signal received", map[string]interface{}{
		"signal": sig.String(),
	})

	cancel()
	return app.Stop()
}

func buildApplication(cfg *config.Config) (*Application, error) {
	store, err := storage.NewStorage(&storage.StorageConfig{
		Type:             cfg.Storage.Type,
		ConnectionString: cfg.Storage.ConnectionString,
		MaxConnections:   cfg.Storage.MaxConnections,
		MaxIdleTime:      cfg.Storage.MaxIdleTime,
		RetentionDays:    cfg.Storage.RetentionDays,
	})
	if err != nil {
		return nil, err
	}
	if err := store.Connect(); err != nil {
		return nil, err
	}
	if err := store.Migrate(); err != nil {
		return nil, err
	}

	dayClock, err := clock.NewDayClock(cfg.App.Timezone)
	if err != nil {
		return nil, err
	}

	metricsManager := metrics.NewManager()

	tracker := admission.NewTracker(&admission.TrackerConfig{
		MaxRequestsPerDay: cfg.Admission.MaxRequestsPerDay,
		ExpirationWindow:  cfg.Admission.ExpirationWindow,
		SanityWindow:      cfg.Admission.SanityWindow,
	}, dayClock, metricsManager)

	notifier := notification.NewManager(&notification.NotifierConfig{
		Enabled:    cfg.Notifications.Enabled,
		WebhookURL: cfg.Notifications.WebhookURL,
		Timeout:    cfg.Notifications.Timeout,
	})

	catalogExecutor := executor.NewCatalogExecutor(store, &executor.ExecutorConfig{
		BatchSize: cfg.Executor.BatchSize,
		Timeout:   cfg.Executor.Timeout,
	})

	execQueue := queue.NewExecutionQueue(&queue.QueueConfig{
		MaxQueueSize:   cfg.Queue.MaxQueueSize,
		RapidThreshold: cfg.Queue.RapidThreshold,
		PollInterval:   cfg.Queue.PollInterval,
		MaxWaitTime:    cfg.Queue.MaxWaitTime,
	}, catalogExecutor, notifier, metricsManager)

	gov := governance.NewManager(&governance.ManagerConfig{
		QuorumThreshold:  cfg.Governance.QuorumThreshold,
		ExpirationWindow: cfg.Governance.ExpirationWindow,
		AdminCount:       cfg.Governance.AdminCount,
		OwnerID:          cfg.Governance.OwnerID,
		CleanupInterval:  cfg.Governance.CleanupInterval,
	}, tracker, execQueue, dayClock, notifier, metricsManager)

	httpServer := server.NewServer(&cfg.Server, gov, execQueue, tracker, store, metricsManager)

	return &Application{
		config:     cfg,
		storage:    store,
		metrics:    metricsManager,
		tracker:    tracker,
		queue:      execQueue,
		governance: gov,
		server:     httpServer,
	}, nil
}

// Start launches all components
func (a *Application) Start(ctx context.Context) error {
	if err := a.queue.Start(ctx); err != nil {
		return err
	}
	if err := a.governance.Start(ctx); err != nil {
		return err
	}

	go func() {
		if err := a.server.Start(); err != nil {
			utils.GetLogger().Error("HTTP server error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	// Periodic system metrics refresh
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.metrics.UpdateSystemMetrics()
			}
		}
	}()

	return nil
}

// Stop shuts down all components in reverse dependency order
func (a *Application) Stop() error {
	logger := utils.GetLogger()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", map[string]interface{}{"error": err.Error()})
	}
	if err := a.governance.Stop(); err != nil {
		logger.Error("Governance shutdown error", map[string]interface{}{"error": err.Error()})
	}
	if err := a.queue.Stop(); err != nil {
		logger.Error("Queue shutdown error", map[string]interface{}{"error": err.Error()})
	}
	if err := a.storage.Close(); err != nil {
		logger.Error("Storage close error", map[string]interface{}{"error": err.Error()})
	}

	logger.Info("Update governor stopped")
	return nil
}
