package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/jkoay/godaikin-bridge/internal/auth"
	"github.com/jkoay/godaikin-bridge/internal/bridge"
	"github.com/jkoay/godaikin-bridge/internal/cloud"
	"github.com/jkoay/godaikin-bridge/internal/config"
	"github.com/jkoay/godaikin-bridge/internal/dispatch"
	"github.com/jkoay/godaikin-bridge/internal/logging"
	"github.com/jkoay/godaikin-bridge/internal/moldproof"
	"github.com/jkoay/godaikin-bridge/internal/rate"
	"github.com/jkoay/godaikin-bridge/internal/registry"
	"github.com/jkoay/godaikin-bridge/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional, env vars also work)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogJSON)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("daemon failed", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	sessions, err := auth.NewManager(auth.Config{
		Endpoint: cfg.CognitoEndpoint,
		ClientID: cfg.CognitoClientID,
	}, auth.Credential{Username: cfg.Username, Password: cfg.Password}, logger.Named("auth"))
	if err != nil {
		return err
	}

	client, err := cloud.NewClient(cloud.Config{
		BaseURL:  cfg.APIBaseURL,
		Username: cfg.Username,
	}, sessions, logger.Named("cloud"))
	if err != nil {
		return err
	}

	reg := registry.New(cfg.StaleAfter, logger.Named("registry"))
	syncer := registry.NewSynchronizer(client, reg, logger.Named("sync"))

	dispatcher := dispatch.New(client, reg, syncer, dispatch.Config{
		RetryLimit:   cfg.CommandRetries,
		ConfirmLimit: cfg.ConfirmRetries,
		BackoffBase:  cfg.CommandBackoff,
		BusyMode:     dispatch.BusyMode(cfg.BusyMode),
	}, logger.Named("dispatch"))

	scheduler := moldproof.New(dispatcher, reg, moldproof.Config{
		Enabled:  cfg.MoldProofEnabled,
		Duration: cfg.MoldProofCycle,
	}, logger.Named("moldproof"))
	dispatcher.OnExternalCommand(scheduler.NotifyExternalCommand)

	// Authenticate and discover before serving anything; a wrong password
	// should fail fast at startup.
	startupCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if _, err := sessions.Authenticate(startupCtx); err != nil {
		return err
	}
	devices, err := syncer.Discover(startupCtx)
	if err != nil {
		return err
	}
	logger.Info("discovered units", zap.Int("count", len(devices)))

	go scheduler.Run(ctx)

	if cfg.MQTT.BrokerURL != "" {
		haBridge := bridge.New(bridge.Config{
			BrokerURL:   cfg.MQTT.BrokerURL,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
		}, reg, dispatcher, scheduler, logger.Named("mqtt"))
		go func() {
			if err := haBridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("mqtt bridge stopped", zap.Error(err))
			}
		}()
	} else {
		logger.Info("mqtt bridge disabled, no broker configured")
	}

	httpServer := server.NewHTTPServer(cfg.HTTPAddr, server.NewMux(metricsRegistry(reg), reg, scheduler))
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		errCh <- httpServer.Run(ctx)
	}()

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return <-errCh
		case err := <-errCh:
			return err
		case <-ticker.C:
			if err := syncer.Poll(ctx); err != nil {
				logger.Warn("poll cycle had failures", zap.Error(err))
			}
		}
	}
}

func metricsRegistry(reg *registry.Registry) *prometheus.Registry {
	r := prometheus.NewRegistry()
	r.MustRegister(collectors.NewGoCollector())
	r.MustRegister(auth.MetricsCollectors()...)
	r.MustRegister(registry.MetricsCollectors()...)
	r.MustRegister(dispatch.MetricsCollectors()...)
	r.MustRegister(moldproof.MetricsCollectors()...)
	r.MustRegister(bridge.MetricsCollectors()...)
	r.MustRegister(rate.MetricsCollectors()...)
	r.MustRegister(registry.NewMetricsCollector(reg))
	r.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "godaikin_build_info",
		Help: "Build information",
	}, func() float64 { return 1 }))
	return r
}
