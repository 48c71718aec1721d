package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"golang.org/x/sync/errgroup"

	"github.com/szibis/edge-log-compressor/internal/auth"
	"github.com/szibis/edge-log-compressor/internal/config"
	"github.com/szibis/edge-log-compressor/internal/diagnostics"
	"github.com/szibis/edge-log-compressor/internal/logcompress"
	"github.com/szibis/edge-log-compressor/internal/logging"
	tlsconfig "github.com/szibis/edge-log-compressor/internal/tls"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.ParseFlags()

	if cfg.ShowHelp {
		config.PrintUsage()
		os.Exit(0)
	}

	if cfg.ShowVersion {
		config.PrintVersion()
		os.Exit(0)
	}

	if err := cfg.Validate(); err != nil {
		logging.Fatal("invalid configuration", logging.F("error", err.Error()))
	}

	level, _ := logging.ParseLevel(cfg.LogLevel)
	resource := map[string]string{
		"service.name":    "edge-log-compressor",
		"service.version": config.Version(),
	}

	// The sink reports on stderr only so its own records never feed back into it.
	internalLog := logging.New(os.Stderr, logging.WithLevel(level), logging.WithResource(resource))

	if cfg.MemoryLimitRatio > 0 {
		limit, err := memlimit.SetGoMemLimitWithOpts(
			memlimit.WithRatio(cfg.MemoryLimitRatio),
			memlimit.WithProvider(memlimit.ApplyFallback(memlimit.FromCgroup, memlimit.FromSystem)),
		)
		if err != nil {
			internalLog.Warn("failed to set memory limit", logging.F("error", err.Error()))
		} else {
			internalLog.Info("memory limit set", logging.F("limit_bytes", limit, "ratio", cfg.MemoryLimitRatio))
		}
	}

	codec, err := cfg.CompressionConfig()
	if err != nil {
		internalLog.Fatal("invalid compression", logging.F("error", err.Error()))
	}

	logger := logging.New(os.Stdout, logging.WithLevel(level), logging.WithResource(resource))
	logging.SetDefault(logger)

	sink, err := logcompress.New(cfg.RawQueueSize(), cfg.CompressedQueueSize(), internalLog,
		logcompress.WithCompression(codec),
		logcompress.WithIdleWait(cfg.CompressionIdleWait),
	)
	if err != nil {
		internalLog.Fatal("failed to create log compression sink", logging.F("error", err.Error()))
	}

	logger.AddSink(sink)

	probes := diagnostics.NewProbes()
	probes.AddReadiness("log_sink", sink.Ready)
	diagCfg := diagnostics.Config{
		DefaultWait: cfg.DiagnosticsDefaultWait,
		MaxWait:     cfg.DiagnosticsMaxWait,
	}
	handler := auth.HTTPMiddleware(cfg.DiagnosticsAuth(),
		diagnostics.NewHandler(sink, probes, diagCfg, logger),
		diagnostics.LivePath, diagnostics.ReadyPath,
	)
	tlsCfg, err := tlsconfig.NewServerTLSConfig(cfg.DiagnosticsTLS())
	if err != nil {
		logger.Fatal("failed to load diagnostics TLS config", logging.F("error", err.Error()))
	}
	server := diagnostics.NewServer(cfg.DiagnosticsAddr, handler, diagCfg, tlsCfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		probes.Drain()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	logger.Info("edge-log-compressor started", logging.F(
		"diagnostics_addr", cfg.DiagnosticsAddr,
		"compression", string(sink.Codec()),
		"auth_enabled", cfg.DiagnosticsAuth().Enabled(),
		"raw_max_total_size", int(cfg.RawMaxTotalSize),
		"compressed_max_total_size", int(cfg.CompressedMaxTotalSize),
	))

	err = g.Wait()
	if err != nil {
		logger.Error("diagnostics server error", logging.F("error", err.Error()))
	}

	logger.Info("shutdown complete")
	sink.Close()
	if err != nil {
		os.Exit(1)
	}
}
