// File: cmd/bountysync/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/smartdevs17/theorem-bounty-sync/internal/config"
	"github.com/smartdevs17/theorem-bounty-sync/internal/connection"
	"github.com/smartdevs17/theorem-bounty-sync/internal/contract"
	"github.com/smartdevs17/theorem-bounty-sync/internal/metrics"
	"github.com/smartdevs17/theorem-bounty-sync/internal/notification"
	"github.com/smartdevs17/theorem-bounty-sync/internal/server"
	"github.com/smartdevs17/theorem-bounty-sync/internal/storage"
	"github.com/smartdevs17/theorem-bounty-sync/internal/syncer"
	"github.com/smartdevs17/theorem-bounty-sync/pkg/utils"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// Application holds the wired components of one process
type Application struct {
	config     *config.Config
	logger     *logrus.Logger
	metrics    *metrics.Manager
	connection *connection.ConnectionManager
	bounty     *contract.BountyContract
	ledger     *connection.LedgerClient
	storage    storage.Storage
	driver     *syncer.Driver
}

// NewApplication wires the ledger client, the store and the sync driver
func NewApplication(cfg *config.Config) (*Application, error) {
	app := &Application{
		config:  cfg,
		metrics: metrics.NewManager(),
	}

	if err := app.initializeLogger(); err != nil {
		return nil, err
	}

	if err := app.initializeLedger(); err != nil {
		return nil, fmt.Errorf("failed to initialize ledger client: %w", err)
	}

	if err := app.initializeStorage(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	deps := syncer.Deps{
		Ledger:  app.ledger,
		Decoder: app.bounty,
		Store:   app.storage,
		Metrics: app.metrics,
		Config: syncer.Config{
			ChunkSize:        cfg.Sync.ChunkSize,
			ConcurrentChunks: cfg.Sync.ConcurrentChunks,
			AmountDecimals:   cfg.Sync.AmountDecimals,
		},
	}
	if notifier := app.newNotifier(); notifier != nil {
		deps.Observer = notifier
	}
	app.driver = syncer.NewDriver(deps)

	return app, nil
}

// initializeLogger initializes the application logger
func (app *Application) initializeLogger() error {
	logCfg := app.config.Logging

	if err := utils.InitLogger(logCfg.Level, logCfg.Format, logCfg.Output, logCfg.File); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	app.logger = utils.GetLogger()
	app.logger.WithFields(logrus.Fields{
		"level":  logCfg.Level,
		"format": logCfg.Format,
		"output": logCfg.Output,
	}).Debug("Logger initialized")

	return nil
}

// initializeLedger sets up the node connection and the bounty contract reader
func (app *Application) initializeLedger() error {
	var err error
	app.bounty, err = contract.NewBountyContract(app.config.Chain.ContractAddress)
	if err != nil {
		return err
	}

	app.connection = connection.NewConnectionManager(&app.config.Chain, app.metrics)
	app.ledger = connection.NewLedgerClient(app.connection, app.bounty, app.metrics)
	return nil
}

// initializeStorage connects to the store and applies migrations
func (app *Application) initializeStorage() error {
	var err error
	app.storage, err = storage.NewStorage(&app.config.Storage, app.metrics)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}

	if err := app.storage.Connect(); err != nil {
		return fmt.Errorf("failed to connect to storage: %w", err)
	}

	if err := app.storage.Migrate(); err != nil {
		return fmt.Errorf("failed to run storage migrations: %w", err)
	}

	return nil
}

// newNotifier returns the run webhook notifier, or nil when none is configured
func (app *Application) newNotifier() *notification.WebhookNotifier {
	n := app.config.Notification
	return notification.NewWebhookNotifier(notification.WebhookConfig{
		URL:           n.WebhookURL,
		Headers:       n.Headers,
		Timeout:       n.Timeout,
		RetryAttempts: n.RetryAttempts,
		RetryDelay:    n.RetryDelay,
		OnlyIssues:    n.OnlyIssues,
		Version:       AppVersion,
	})
}

// Close releases the store and the node connection
func (app *Application) Close() {
	if app.storage != nil {
		if err := app.storage.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close storage")
		}
	}

	if app.connection != nil {
		if err := app.connection.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close connection")
		}
	}
}

// pushMetrics sends the run's metrics to the Pushgateway when one is configured
func (app *Application) pushMetrics() {
	url := app.config.Metrics.PushgatewayURL
	if url == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.metrics.Push(ctx, url, app.config.Metrics.JobName); err != nil {
		app.logger.WithError(err).Warn("Failed to push metrics")
	}
}

// loadConfig loads the configuration and applies command line overrides
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = viper.GetString("log-level")
	}
	if viper.GetBool("debug") {
		cfg.App.Debug = true
		cfg.Logging.Level = "debug"
	}
	if flag := cmd.Flags().Lookup("from-block"); flag != nil && flag.Changed {
		cfg.Sync.FromBlock = flag.Value.String()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// CLI Commands

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:           "bountysync",
	Short:         "Theorem bounty ledger reconciliation",
	Long:          `Rebuilds the theorem bounty table from the on-chain bounty ledger.`,
	Version:       AppVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// syncCmd performs a single reconciliation run
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one reconciliation from the checkpoint to the chain head",
	RunE:  runSync,
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	app, err := NewApplication(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	fromBlock, err := cfg.Checkpoint()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.Sync.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Sync.RunTimeout)
		defer cancel()
	}

	report, err := app.driver.Run(ctx, fromBlock)
	app.pushMetrics()
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	if len(report.SkippedChunks) > 0 {
		fmt.Fprintf(os.Stderr, "Warning: %d block ranges could not be read; results are verified through block %s\n",
			len(report.SkippedChunks), verifiedThrough(report))
	}
	fmt.Printf("Sync completed – Open: %d, Closed: %d entries processed.\n", report.OpenCount, report.ClosedCount)
	return nil
}

func verifiedThrough(report *syncer.Report) string {
	if report.VerifiedThrough == nil {
		return "none"
	}
	return fmt.Sprintf("%d", *report.VerifiedThrough)
}

// serveCmd runs the scheduler and the read API until interrupted
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run scheduled reconciliation and serve the bounty API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	app, err := NewApplication(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	scheduler := syncer.NewScheduler(app.driver, cfg.Sync.ScheduleInterval, cfg.Sync.RunTimeout, cfg.Checkpoint)

	httpServer := server.NewHTTPServer(&server.ServerConfig{
		Port:          cfg.Server.Port,
		Host:          cfg.Server.Host,
		ReadTimeout:   cfg.Server.ReadTimeout,
		WriteTimeout:  cfg.Server.WriteTimeout,
		EnableMetrics: cfg.Server.EnableMetrics,
		EnableHealth:  cfg.Server.EnableHealth,
		Version:       AppVersion,
	}, app.storage, app.connection, scheduler, app.metrics)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := httpServer.Start(); err != nil {
		return err
	}

	app.logger.WithFields(logrus.Fields{
		"version":          AppVersion,
		"environment":      cfg.App.Environment,
		"node_url":         cfg.Chain.NodeURL,
		"contract":         cfg.Chain.ContractAddress,
		"schedule":         cfg.Sync.ScheduleInterval,
		"server_address":   fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		"concurrent_reads": cfg.Sync.ConcurrentChunks,
	}).Info("Theorem bounty sync started")

	go httpServer.RunSystemMetrics(ctx, 30*time.Second)

	done := make(chan struct{})
	go func() {
		scheduler.Start(ctx)
		close(done)
	}()

	<-ctx.Done()
	app.logger.Info("Received shutdown signal, stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Stop(shutdownCtx); err != nil {
		app.logger.WithError(err).Error("Failed to stop HTTP server")
	}
	<-done

	app.logger.Info("Theorem bounty sync stopped")
	return nil
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Theorem Bounty Sync %s\n", AppVersion)
	},
}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

// validateConfigCmd validates the configuration
var validateConfigCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}
		if _, err := contract.NewBountyContract(cfg.Chain.ContractAddress); err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}
		if err := storage.ValidateStorageConfig(&cfg.Storage); err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		fmt.Printf("Configuration is valid!\n")
		fmt.Printf("Environment: %s\n", cfg.App.Environment)
		fmt.Printf("Ledger node: %s\n", cfg.Chain.NodeURL)
		fmt.Printf("Contract: %s\n", cfg.Chain.ContractAddress)
		fmt.Printf("Database: %s\n", cfg.Storage.Type)
		fmt.Printf("Checkpoint: %s\n", cfg.Sync.FromBlock)

		return nil
	},
}

// testCmd represents the test command
var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Test connectivity and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := utils.InitLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.File); err != nil {
			return err
		}

		fmt.Println("Testing Theorem Bounty Sync connectivity...")

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Chain.RequestTimeout+5*time.Second)
		defer cancel()

		fmt.Printf("Testing ledger connection to %s...\n", cfg.Chain.NodeURL)
		conn := connection.NewConnectionManager(&cfg.Chain, nil)
		defer conn.Close()
		if err := conn.HealthCheckWithContext(ctx); err != nil {
			return fmt.Errorf("failed to reach ledger node: %w", err)
		}
		fmt.Printf("✓ Ledger connection successful (head block %d)\n", conn.Stats().LatestBlock)

		fmt.Printf("Testing storage connection (%s)...\n", cfg.Storage.Type)
		store, err := storage.NewStorage(&cfg.Storage, nil)
		if err != nil {
			return fmt.Errorf("failed to create storage: %w", err)
		}
		if err := store.Connect(); err != nil {
			return fmt.Errorf("failed to connect to storage: %w", err)
		}
		defer store.Close()
		if err := store.Ping(); err != nil {
			return fmt.Errorf("storage ping failed: %w", err)
		}
		fmt.Println("✓ Storage connection successful")

		fmt.Println("\nAll connectivity tests passed! ✓")
		return nil
	},
}

// init initializes the CLI commands
func init() {
	// Add persistent flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug mode")

	// Bind flags to viper
	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	syncCmd.Flags().String("from-block", "", "first block to scan (overrides sync.from_block and SYNC_FROM_BLOCK)")

	// Add subcommands
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(testCmd)
	configCmd.AddCommand(validateConfigCmd)
}

// main is the entry point
func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
