package cmd

import (
	"context"
	"fmt"
	"os"

	"contactrecon/internal/config"
	"contactrecon/internal/database"
	"contactrecon/internal/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:           "contactrecon",
	Short:         "Contact identity reconciliation service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().String("database-url", "", "postgres:// URL or SQLite file path (env DATABASE_URL)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error (env LOG_LEVEL)")
	rootCmd.PersistentFlags().String("log-format", "", "log format: json or console (env LOG_FORMAT)")
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// env holds what every subcommand needs once configuration is loaded.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *database.SQLStore
}

func setup(ctx context.Context, cmd *cobra.Command) (*env, error) {
	cfg, err := config.Load(config.Options{File: configFile, Flags: cmd.Flags()})
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	db, err := database.New(ctx, database.Options{
		URL:          cfg.Database.URL,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		BusyTimeout:  cfg.Database.BusyTimeout,
	}, log)
	if err != nil {
		log.Error("failed to initialize database", zap.Error(err))
		return nil, err
	}

	return &env{cfg: cfg, logger: log, store: database.NewSQLStore(db)}, nil
}

func (e *env) close() {
	if err := e.store.Close(); err != nil {
		e.logger.Warn("failed to close database", zap.Error(err))
	}
	_ = e.logger.Sync()
}
