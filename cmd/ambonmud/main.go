// Command ambonmud runs the MUD server. One binary, three modes:
//
//	STANDALONE  engine + gateway in one process, local bus
//	ENGINE      simulation shard serving gateways over gRPC
//	GATEWAY     client termination, streaming to engines
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ambonmud/server/internal/config"
	"github.com/ambonmud/server/internal/metrics"
)

const version = "0.3.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := flag.String("config", "config/ambonmud.toml", "path to the TOML config")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}

	log, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer log.Sync()

	log.Info("ambonmud starting",
		zap.String("version", version),
		zap.String("mode", string(cfg.Mode)),
		zap.String("config", *cfgPath))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	met, metricsShutdown, err := setupMetrics(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer metricsShutdown()

	switch cfg.Mode {
	case config.ModeStandalone:
		return runStandalone(ctx, cfg, log, met)
	case config.ModeEngine:
		return runEngine(ctx, cfg, log, met)
	case config.ModeGateway:
		return runGateway(ctx, cfg, log, met)
	default:
		return fmt.Errorf("unknown mode %q", cfg.Mode)
	}
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("logging.level: %w", err)
	}
	var zc zap.Config
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// setupMetrics installs the OTel/Prometheus pipeline and, when enabled, the
// /metrics endpoint on its own port.
func setupMetrics(ctx context.Context, cfg *config.Config, log *zap.Logger) (*metrics.Metrics, func(), error) {
	if !cfg.Metrics.Enabled {
		return metrics.Nop(), func() {}, nil
	}
	shutdown, err := metrics.InitProvider("ambonmud", version)
	if err != nil {
		return nil, nil, fmt.Errorf("metrics: %w", err)
	}
	met, err := metrics.New(otel.GetMeterProvider())
	if err != nil {
		return nil, nil, fmt.Errorf("metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: mux,
	}
	go func() {
		log.Info("metrics endpoint up", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics endpoint failed", zap.Error(err))
		}
	}()
	return met, func() {
		_ = srv.Close()
		_ = shutdown(ctx)
	}, nil
}
