package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/schaermu/nbsyncd/internal/config"
	"github.com/schaermu/nbsyncd/internal/git"
	"github.com/schaermu/nbsyncd/internal/metrics"
	"github.com/schaermu/nbsyncd/internal/reconcile"
	"github.com/schaermu/nbsyncd/internal/webhook"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
	dryRun    bool
)

func main() {
	// Optional .env alongside the invocation, for NBSYNCD_* style
	// variables referenced from the config file.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "nbsyncd",
	Short: "Reconcile a local git working copy with its upstream branch",
	Long: `nbsyncd keeps a local clone of a course-material repository up to date
with its upstream branch while preserving local edits.

Files a user has modified are moved to timestamped backups before the
upstream changes are merged in, files deleted locally but still present
upstream are restored, and the merge itself prefers the upstream side
on any conflicting hunk.`,
	SilenceUsage: true,
}

var syncCmd = &cobra.Command{
	Use:   "sync URL [BRANCH] [DIR]",
	Short: "Perform a one-time reconciliation against the upstream branch",
	Long: `Sync clones the repository when DIR is not yet a checkout; otherwise it
fetches upstream refs, moves conflicting local files to timestamped
backups, restores locally deleted files that still exist upstream, and
merges the upstream branch in with an upstream-wins strategy.

BRANCH defaults to "main" and DIR to the current directory. All three
arguments may instead come from the config file.`,
	Args: cobra.MaximumNArgs(3),
	RunE: runSync,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook daemon",
	Long: `Serve starts a long-running HTTP server that listens for GitHub push
events and reconciles the configured repository when its branch is
updated. An optional resync interval catches missed deliveries, and a
Prometheus /metrics endpoint can be enabled in the config.`,
	RunE: runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("nbsyncd %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/nbsyncd/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	syncCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger, args)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if timeout := cfg.Sync.Timeout.Std(); timeout > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, timeout)
		defer timeoutCancel()
	}

	gitClient := git.NewShellClient(logger, git.Auth{
		SSHKeyFile:     cfg.Auth.SSHKeyFile,
		HTTPSTokenFile: cfg.Auth.HTTPSTokenFile,
	})
	engine := reconcile.NewEngine(cfg, gitClient, logger, dryRun)

	if err := engine.Run(ctx); err != nil {
		logger.Error("sync failed", "error", err)
		return err
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger, nil)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.Serve.Enabled {
		return fmt.Errorf("serve is not enabled in the configuration (set serve.enabled)")
	}

	gitClient := git.NewShellClient(logger, git.Auth{
		SSHKeyFile:     cfg.Auth.SSHKeyFile,
		HTTPSTokenFile: cfg.Auth.HTTPSTokenFile,
	})
	engine := reconcile.NewEngine(cfg, gitClient, logger, false)

	var metricsHandler http.Handler
	if cfg.Serve.Metrics {
		registry := prom.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector())
		engine.WithRecorder(metrics.NewPrometheusRecorder(registry))
		metricsHandler = metrics.Handler(registry)
	}

	server, err := webhook.NewServer(cfg, engine, logger, metricsHandler)
	if err != nil {
		return err
	}
	return server.Start(ctx)
}

func setupLogger() *slog.Logger {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// loadConfig resolves the run configuration: the optional config file
// first, then positional arguments (URL, BRANCH, DIR) on top.
func loadConfig(logger *slog.Logger, args []string) (*config.Config, error) {
	var cfg *config.Config
	var err error

	switch {
	case cfgFile != "":
		logger.Info("loading configuration", "path", cfgFile)
		cfg, err = config.Load(cfgFile)
	case defaultConfigExists():
		path := defaultConfigPath()
		logger.Info("loading configuration", "path", path)
		cfg, err = config.Load(path)
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, err
	}

	if len(args) > 0 {
		cfg.Repo.URL = args[0]
	}
	if len(args) > 1 {
		cfg.Repo.Branch = args[1]
	}
	if len(args) > 2 {
		cfg.Repo.Dir = args[2]
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.Debug("configuration resolved",
		"url", cfg.Repo.URL,
		"branch", cfg.Repo.Branch,
		"dir", cfg.Repo.Dir)

	return cfg, nil
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home + "/.config/nbsyncd/config.yaml"
}

func defaultConfigExists() bool {
	path := defaultConfigPath()
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
