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

	"github.com/rainbowbismuth/euphoria-go/internal/agent"
	"github.com/rainbowbismuth/euphoria-go/internal/bot"
	"github.com/rainbowbismuth/euphoria-go/internal/botmetrics"
	"github.com/rainbowbismuth/euphoria-go/internal/services"
	"github.com/rainbowbismuth/euphoria-go/internal/supervisor"
)

var (
	version = "dev"
	commit  = "none"
)

type config struct {
	configPath  string
	logLevel    string
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
		Use:   "euphoria-borg",
		Short: "Run a fleet of chat bots under one supervisor",
		Long:  "euphoria-borg starts every bot named in borg.yml as a one-for-one supervised child: one bot failing restarts only that bot, up to borg's own restart-intensity limit (shared by all bots) before borg itself gives up.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.configPath, "config", envOrDefault("EUPHORIA_BORG_CONFIG", "borg.yml"), "path to borg.yml")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("EUPHORIA_LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&cfg.metricsAddr, "metrics-addr", envOrDefault("EUPHORIA_METRICS_ADDR", ""), "listen address for /metrics (empty disables it)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("euphoria-borg %s (commit: %s)\n", version, commit)
		},
	}
}

// borgMaxRestarts and borgRestartPeriod (seconds) bound how many bot
// restarts, counted across the whole fleet, the top-level supervisor allows
// within one period before it exits itself; each bot's own services still
// restart per its own configured intensity.
const (
	borgMaxRestarts = 5
	borgRestartPeriod = 60
)

func run(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	borgCfg, err := bot.LoadBorgConfig(cfg.configPath)
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

	fleet := supervisor.NewOneForOne(logger, scheduler, borgMaxRestarts, borgRestartPeriod*time.Second)

	for name, botCfg := range borgCfg.Bots {
		name, botCfg := name, botCfg
		err := fleet.AddChild(name, func(childLogger *zap.Logger) (*agent.Agent, error) {
			b, err := bot.New(ctx, childLogger, &botCfg, scheduler, registry, metrics)
			if err != nil {
				return nil, err
			}
			return b.Agent(), nil
		})
		if err != nil {
			logger.Error("failed to start bot", zap.String("bot", name), zap.Error(err))
		}
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down borg")
		fleet.Agent().Exit(nil)
	case <-fleet.Agent().Done():
		logger.Warn("borg supervisor exited on its own", zap.Error(fleet.Agent().Cause()))
	}

	return nil
}

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
