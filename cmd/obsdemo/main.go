package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"obsdemo/internal/metrics"
	"obsdemo/internal/platform"
)

func main() {
	appCfg, err := platform.LoadAppConfig()
	if err != nil {
		slog.Error("Failed to load config", "err", err)
		os.Exit(1)
	}
	platform.InitLogger(*appCfg.LogCfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reg := metrics.NewRegistry(metrics.WithNamespace(appCfg.MetricsCfg.Namespace))
	rm, err := platform.NewRequestMetrics(reg)
	if err != nil {
		slog.Error("Failed to register request metrics", "err", err)
		os.Exit(1)
	}
	if err := reg.CollectDefaults(ctx, appCfg.MetricsCfg.DefaultInterval); err != nil {
		slog.Error("Failed to start default metrics", "err", err)
		os.Exit(1)
	}

	router := platform.NewRouter(reg, rm, *appCfg.DemoCfg)
	errCh := platform.RunHTTPServer(ctx, router, *appCfg.HTTPSrvCfg)

	port := appCfg.HTTPSrvCfg.Port
	slog.Info("Sample Go app running", "port", port, "instance", platform.InstanceID(), "version", appCfg.DemoCfg.Version)
	slog.Info("Metrics available", "url", fmt.Sprintf("http://localhost:%d/metrics", port))

	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("HTTP server error", "err", err)
		os.Exit(1)
	}
	slog.Info("Shutdown complete")
}
