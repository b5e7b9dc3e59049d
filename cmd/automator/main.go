// File: cmd/automator/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/smartdevs17/upkeep-automator/internal/automation"
	"github.com/smartdevs17/upkeep-automator/internal/bus"
	"github.com/smartdevs17/upkeep-automator/internal/chain"
	"github.com/smartdevs17/upkeep-automator/internal/config"
	"github.com/smartdevs17/upkeep-automator/internal/coordinator"
	"github.com/smartdevs17/upkeep-automator/internal/metrics"
	"github.com/smartdevs17/upkeep-automator/internal/server"
	"github.com/smartdevs17/upkeep-automator/internal/storage"
	"github.com/smartdevs17/upkeep-automator/internal/watcher"
	"github.com/smartdevs17/upkeep-automator/pkg/utils"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// Application represents the main application
type Application struct {
	config      *config.Config
	logger      *logrus.Logger
	storage     storage.Storage
	chainClient *chain.EthClient
	bus         *bus.Bus
	metrics     *metrics.Manager
	coordinator *coordinator.Coordinator
	automation  *automation.Service
	watcher     *watcher.Watcher
	server      *server.HTTPServer
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewApplication creates a new application instance
func NewApplication(cfg *config.Config) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &Application{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	// Initialize logger
	if err := app.initializeLogger(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	// Initialize components
	if err := app.initializeComponents(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return app, nil
}

// initializeLogger initializes the application logger
func (app *Application) initializeLogger() error {
	logCfg := app.config.Logging

	if err := utils.InitLogger(logCfg.Level, logCfg.Format, logCfg.Output, logCfg.File); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	app.logger = utils.GetLogger()
	app.logger.Info("Logger initialized", map[string]interface{}{
		"level":  logCfg.Level,
		"format": logCfg.Format,
		"output": logCfg.Output,
	})

	return nil
}

// initializeComponents initializes all application components
func (app *Application) initializeComponents() error {
	app.logger.Info("Initializing application components")

	// Initialize storage
	if err := app.initializeStorage(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	// Initialize chain client
	if err := app.initializeChainClient(); err != nil {
		return fmt.Errorf("failed to initialize chain client: %w", err)
	}

	// Initialize bus, metrics and coordinator
	app.bus = bus.New()
	app.metrics = metrics.NewManager()
	app.storage = storage.WithMetrics(app.storage, app.metrics.GetPrometheusMetrics())
	app.chainClient.SetMetrics(app.metrics.GetPrometheusMetrics())
	app.coordinator = coordinator.NewCoordinator(
		&app.config.Coordinator,
		app.storage,
		app.chainClient,
		app.metrics.GetTracker(),
		app.metrics.GetPrometheusMetrics(),
		app.bus,
	)

	// Initialize automation service
	app.automation = automation.NewService(
		&app.config.Chain,
		app.storage,
		app.chainClient,
		app.bus,
		app.metrics.GetPrometheusMetrics(),
	)

	// Initialize watcher
	app.watcher = watcher.NewWatcher(
		&app.config.Chain,
		app.storage,
		app.chainClient,
		app.coordinator,
		app.bus,
		app.metrics.GetPrometheusMetrics(),
	)

	// Initialize HTTP server
	if err := app.initializeServer(); err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	app.logger.Info("All components initialized successfully")
	return nil
}

// initializeStorage initializes the storage layer
func (app *Application) initializeStorage() error {
	app.logger.Info("Initializing storage layer")

	store, err := storage.NewStorage(&app.config.Storage)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}

	// Connect to storage
	if err := store.Connect(); err != nil {
		return fmt.Errorf("failed to connect to storage: %w", err)
	}

	// Run migrations
	if err := store.Migrate(); err != nil {
		return fmt.Errorf("failed to run storage migrations: %w", err)
	}

	app.storage = store
	app.logger.Info("Storage layer initialized successfully")
	return nil
}

// initializeChainClient initializes the chain client
func (app *Application) initializeChainClient() error {
	app.logger.Info("Initializing chain client")

	client, err := chain.NewEthClient(&app.config.Chain, app.config.Watcher.PollInterval)
	if err != nil {
		return fmt.Errorf("failed to create chain client: %w", err)
	}

	app.chainClient = client
	app.logger.Info("Chain client initialized successfully", map[string]interface{}{
		"networks": len(app.config.Chain.Networks),
		"signer":   client.SignerAddress().Hex(),
	})
	return nil
}

// initializeServer initializes the HTTP server
func (app *Application) initializeServer() error {
	app.logger.Info("Initializing HTTP server")

	srv, err := server.NewHTTPServer(
		&app.config.Server,
		app.storage,
		app.automation,
		app.coordinator,
		app.watcher,
		app.metrics,
	)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	app.server = srv
	app.logger.Info("HTTP server initialized successfully")
	return nil
}

// Start starts the application
func (app *Application) Start() error {
	app.logger.Info("Starting Upkeep Automator", map[string]interface{}{
		"version":     AppVersion,
		"environment": app.config.App.Environment,
	})

	// Start HTTP server
	if err := app.server.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// Start event watcher
	if err := app.watcher.Start(app.ctx); err != nil {
		return fmt.Errorf("failed to start event watcher: %w", err)
	}

	app.logger.Info("Upkeep Automator started successfully", map[string]interface{}{
		"server_address":  fmt.Sprintf("%s:%d", app.config.Server.Host, app.config.Server.Port),
		"default_network": app.config.Chain.DefaultNetwork,
	})

	return nil
}

// Stop stops the application gracefully. Event listeners go down first so no
// new executions start; storage closes last so in-flight attempts can still
// record their outcome.
func (app *Application) Stop() error {
	app.logger.Info("Stopping Upkeep Automator")

	if app.watcher != nil {
		app.watcher.Stop()
	}

	if app.server != nil {
		if err := app.server.Stop(); err != nil {
			app.logger.Error("Failed to stop HTTP server", map[string]interface{}{"error": err})
		}
	}

	// Cancel context to stop remaining background work
	app.cancel()

	if app.chainClient != nil {
		if err := app.chainClient.Close(); err != nil {
			app.logger.Error("Failed to close chain client", map[string]interface{}{"error": err})
		}
	}

	if app.storage != nil {
		if err := app.storage.Close(); err != nil {
			app.logger.Error("Failed to close storage", map[string]interface{}{"error": err})
		}
	}

	app.logger.Info("Upkeep Automator stopped successfully")
	return nil
}

// CLI Commands

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "upkeep-automator",
	Short:   "Upkeep contract automation service",
	Long:    `A service that registers upkeep contracts, deploys on-chain automators, and executes checkAndExecute transactions on trigger events.`,
	Version: AppVersion,
	RunE:    runAutomator,
}

// runAutomator is the main command to run the automator service
func runAutomator(cmd *cobra.Command, args []string) error {
	// Load configuration
	configPath := viper.GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Create application
	app, err := NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	// Set up signal handling for graceful shutdown
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	// Start application
	if err := app.Start(); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}

	// Wait for shutdown signal
	<-signalChan
	fmt.Println("\nReceived shutdown signal, stopping application...")

	// Stop application
	if err := app.Stop(); err != nil {
		return fmt.Errorf("failed to stop application: %w", err)
	}

	return nil
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Upkeep Automator %s\n", AppVersion)
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
		configPath := viper.GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		fmt.Printf("Configuration is valid!\n")
		fmt.Printf("Environment: %s\n", cfg.App.Environment)
		fmt.Printf("Default network: %s\n", cfg.Chain.DefaultNetwork)
		fmt.Printf("Networks: %d\n", len(cfg.Chain.Networks))
		fmt.Printf("Database: %s\n", cfg.Storage.Type)

		return nil
	},
}

// testCmd represents the test command
var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Test connectivity and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := viper.GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		fmt.Println("Testing Upkeep Automator connectivity...")

		// Test chain connections
		conns := chain.NewConnectionManager(&cfg.Chain)
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Chain.RequestTimeout)
		defer cancel()
		for network := range cfg.Chain.Networks {
			fmt.Printf("Testing RPC connection to %s...\n", network)
			if _, err := conns.GetClient(ctx, network); err != nil {
				return fmt.Errorf("failed to connect to %s: %w", network, err)
			}
			fmt.Printf("✓ %s connection successful\n", network)
		}

		// Test storage
		fmt.Printf("Testing storage connection (%s)...\n", cfg.Storage.Type)
		store, err := storage.NewStorage(&cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to create storage: %w", err)
		}
		if err := store.Connect(); err != nil {
			return fmt.Errorf("failed to connect to storage: %w", err)
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
}

// main is the entry point
func main() {
	// Load .env if present; real environment variables win
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment from .env")
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(testCmd)
	configCmd.AddCommand(validateConfigCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
