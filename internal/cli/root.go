// Package cli implements the command-line interface for swivel.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/kilupskalvis/swivel/internal/config"
	"github.com/kilupskalvis/swivel/internal/store"
	"github.com/spf13/cobra"
)

// cmdContext holds common resources for CLI commands
type cmdContext struct {
	Config *config.Config
	Meta   *store.Meta
	Audit  *store.AuditLog
}

// Close releases resources held by cmdContext
func (c *cmdContext) Close() {
	if c.Audit != nil {
		c.Audit.Close()
	}
	if c.Meta != nil {
		c.Meta.Close()
	}
}

// initConfig loads the config without opening any stores
func initConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		exitError("%v", err)
	}
	return cfg
}

// initContext initializes config, metastore and audit log
func initContext() *cmdContext {
	cfg := initConfig()

	meta, err := store.OpenMeta(cfg.MetaPath())
	if err != nil {
		exitError("failed to open metastore: %v", err)
	}

	audit, err := store.OpenAudit(cfg.AuditPath())
	if err != nil {
		meta.Close()
		exitError("failed to open audit log: %v", err)
	}

	return &cmdContext{Config: cfg, Meta: meta, Audit: audit}
}

var rootCmd = &cobra.Command{
	Use:   "swivel",
	Short: "Zero-downtime Weaviate index migration",
	Long: `Swivel migrates a Weaviate class to a new class or cluster without
downtime. Live writes are mirrored to both indexes while a snapshot
backfill copies historical records, deletes are fenced during the
backfill, and cutover happens only after both indexes reconcile.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(advanceCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(deletesCmd)
	rootCmd.AddCommand(serveCmd)
}

// exitError prints an error and exits
func exitError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

var (
	logLevel  string
	logFormat string
)

func registerLogFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&logFormat, "log-format", "text", "Log format (json, text)")
}

func newLogger() *slog.Logger {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
