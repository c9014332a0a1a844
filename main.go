package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"training-status/internal/config"
	"training-status/internal/customvision"
	"training-status/internal/handler"
	"training-status/internal/middleware"
	"training-status/internal/repository"
	"training-status/internal/server"
	"training-status/internal/service"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgPath  string
	jsonLogs bool
	customer string
)

var rootCmd = &cobra.Command{
	Use:           "training-status",
	Short:         "Reconciles model records with Custom Vision training iterations",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLogger(func(logger *zap.Logger) error {
			return serve(cmd.Context(), logger)
		})
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply schema migrations to the customer databases",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLogger(func(logger *zap.Logger) error {
			return migrateAll(cmd.Context(), logger)
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "configs/config.yml", "path to the config file")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json", false, "emit JSON logs")
	migrateCmd.Flags().StringVar(&customer, "customer", "", "migrate only this customer's database")

	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func withLogger(run func(*zap.Logger) error) error {
	newLogger := zap.NewDevelopment
	if jsonLogs {
		newLogger = zap.NewProduction
	}
	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Flushes buffer, if any
	}()
	return run(logger)
}

func poolOptions(cfg *config.Config) repository.PoolOptions {
	return repository.PoolOptions{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetime) * time.Second,
	}
}

func serve(ctx context.Context, logger *zap.Logger) error {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	var publicKey []byte
	if cfg.Auth.PublicKeyFile != "" {
		publicKey, err = os.ReadFile(cfg.Auth.PublicKeyFile)
		if err != nil {
			return fmt.Errorf("failed to read token public key: %w", err)
		}
	}
	tokens, err := middleware.NewTokenParser(publicKey)
	if err != nil {
		return err
	}
	if !tokens.Verifies() {
		logger.Warn("No token public key configured, bearer tokens are decoded without verification")
	}

	cvClient := customvision.NewClient(customvision.Options{
		Endpoint:         cfg.CustomVision.Endpoint,
		TrainingKey:      cfg.CustomVision.TrainingKey,
		Timeout:          cfg.Timeout(),
		Threshold:        cfg.CustomVision.Threshold,
		OverlapThreshold: cfg.CustomVision.OverlapThreshold,
	})

	registry := repository.NewRegistry(cfg.ConnectionString, poolOptions(cfg), logger)
	defer func() {
		if err := registry.Close(); err != nil {
			logger.Error("Failed to close databases", zap.Error(err))
		}
	}()

	statusService := service.NewTrainingStatusService(cvClient, cfg.CustomVision.PredictionResourceID, logger)
	statusHandler := handler.NewTrainingStatusHandler(statusService, registry, logger)

	srv := server.NewServer(statusHandler, tokens, logger)
	if err := srv.Run(ctx, cfg.Addr()); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("Application stopped.")
	return nil
}

func migrateAll(ctx context.Context, logger *zap.Logger) error {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return err
	}

	var keys []string
	if customer != "" {
		keys = []string{config.CustomerKey(customer)}
	} else {
		for key := range cfg.Databases {
			keys = append(keys, key)
		}
		sort.Strings(keys)
	}
	if len(keys) == 0 {
		return fmt.Errorf("no customer databases configured")
	}

	for _, key := range keys {
		dsn, ok := cfg.ConnectionString(key)
		if !ok {
			return fmt.Errorf("%w: %s", repository.ErrUnknownCustomer, key)
		}
		db, err := repository.NewPostgresDB(ctx, dsn, poolOptions(cfg), logger)
		if err != nil {
			return fmt.Errorf("failed to connect to database for %s: %w", key, err)
		}
		err = repository.MigrateDB(db, cfg.Database.MigrationsPath, logger.With(zap.String("customer", key)))
		db.Close()
		if err != nil {
			return err
		}
	}
	return nil
}
