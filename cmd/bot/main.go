package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rainbowbismuth/euphoria-go/internal/bot"
	"github.com/rainbowbismuth/euphoria-go/internal/botmetrics"
	"github.com/rainbowbismuth/euphoria-go/internal/services"
)

var (
	version = "dev"
	commit  = "none"
)

type config struct {
	configPath string
	logLevel   string
	metricsAddr string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config{}

	root := &cobra.Command{
		Use:   "euphoria-bot",
		Short: "Run a single chat bot",
		Long:  "euphoria-bot connects one bot to one room, runs its configured services, and restarts them per the configured restart-intensity policy.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.configPath, "config", envOrDefault("EUPHORIA_BOT_CONFIG", "bot.yml"), "path to bot.yml")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("EUPHORIA_LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&cfg.metricsAddr, "metrics-addr", envOrDefault("EUPHORIA_METRICS_ADDR", ""), "listen address for /metrics (empty disables it)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("euphoria-bot %s (commit: %s)\n", version, commit)
		},
	}
}

func run(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	botCfg, err := bot.LoadConfig(cfg.configPath)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	scheduler.Start()
	defer func() {
		if err := scheduler.Shutdown(); err != nil {
			logger.Warn("scheduler shutdown error", zap.Error(err))
		}
	}()

	reg := prometheus.NewRegistry()
	metrics := botmetrics.New(reg)

	if cfg.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", botmetrics.Handler(reg))
		metricsSrv := &http.Server{Addr: cfg.metricsAddr, Handler: mux}
		go func() {
			logger.Info("metrics server listening", zap.String("addr", cfg.metricsAddr))
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics server error", zap.Error(err))
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	registry := defaultServiceRegistry()

	b, err := bot.New(ctx, logger, botCfg, scheduler, registry, metrics)
	if err != nil {
		return fmt.Errorf("failed to start bot: %w", err)
	}

	logger.Info("bot connected", zap.String("room", botCfg.Room), zap.String("nick", botCfg.Nick))

	select {
	case <-ctx.Done():
		logger.Info("shutting down bot")
		b.Close()
	case <-b.Agent().Done():
		logger.Warn("bot exited on its own", zap.Error(b.Agent().Cause()))
	}

	return nil
}

// defaultServiceRegistry maps the module names usable under a bot's
// "services" config key to their constructors.
func defaultServiceRegistry() map[string]bot.ServiceFactory {
	return map[string]bot.ServiceFactory{
		"botrulez":   services.Botrulez,
		"nickchange": services.NickChange,
		"quitter":    services.Quitter,
		"quote":      services.Quote(services.NewMemoryQuoteStore()),
		"reminder":   services.Reminder,
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
