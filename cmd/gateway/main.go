package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/labconnect/lcp-gateway/internal/adapters/bus"
	"github.com/labconnect/lcp-gateway/internal/adapters/polling"
	"github.com/labconnect/lcp-gateway/internal/adapters/stream"
	"github.com/labconnect/lcp-gateway/internal/directory"
	"github.com/labconnect/lcp-gateway/internal/directory/httpapi"
	"github.com/labconnect/lcp-gateway/internal/models"
	"github.com/labconnect/lcp-gateway/internal/registry"
	"github.com/labconnect/lcp-gateway/internal/storage"
	"github.com/labconnect/lcp-gateway/internal/storage/postgres"
	"github.com/labconnect/lcp-gateway/internal/utils"
	"github.com/labconnect/lcp-gateway/pkg/mqtt"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the gateway configuration file")
	flag.Parse()

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	config, err := utils.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	level, err := zerolog.ParseLevel(config.Log.Level)
	if err != nil {
		logger.Fatal().Err(err).Str("level", config.Log.Level).Msg("Invalid log level")
	}
	logger = logger.Level(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage backend.
	var store storage.Store
	switch config.Storage.Driver {
	case "postgres":
		pgStore, err := postgres.Open(ctx, config.Storage.DSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to open postgres store")
		}
		defer pgStore.Close()
		store = pgStore
	case "memory":
		store = storage.NewMemoryStore(config.Storage.MaxPointsPerDevice)
	default:
		logger.Fatal().Str("driver", config.Storage.Driver).Msg("Unknown storage driver")
	}

	retryConfig := utils.RetryConfig{
		MaxAttempts: config.Retry.MaxAttempts,
		BaseDelay:   config.Retry.BaseDelay,
		MaxDelay:    config.Retry.MaxDelay,
	}

	// The registry forwards every inbound data point to the directory,
	// which is created right after it; no adapter produces data before
	// ConnectAll below.
	var dir *directory.Service
	metrics := registry.NewMetrics(prometheus.DefaultRegisterer)
	reg := registry.NewAdapterRegistry(func(point models.DataPoint) {
		dir.HandleDataPoint(point)
	}, metrics, logger)
	dir = directory.NewService(reg, store, logger)

	// Bus adapter, bound only when a broker is configured.
	if config.Bus.Broker != "" {
		mqttClient := mqtt.NewMqttService(logger)
		clientID := config.Bus.ClientID + "-" + uuid.New().String()
		if err := mqttClient.Initialize(config.Bus.Broker, clientID, config.Bus.Username,
			config.Bus.Password, config.Bus.CACertificate); err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize MQTT client")
		}

		busAdapter := bus.NewAdapter(mqttClient, byte(config.Bus.QOS), retryConfig, reg.HandleInbound, logger)
		if err := reg.BindAdapter(busAdapter); err != nil {
			logger.Fatal().Err(err).Msg("Failed to bind bus adapter")
		}
	} else {
		logger.Warn().Msg("No MQTT broker configured, bus transport disabled")
	}

	streamAdapter := stream.NewAdapter(
		&stream.WebsocketDialer{Timeout: config.Stream.DialTimeout},
		config.Stream.WriteTimeout, retryConfig, reg.HandleInbound, logger,
	)
	if err := reg.BindAdapter(streamAdapter); err != nil {
		logger.Fatal().Err(err).Msg("Failed to bind stream adapter")
	}

	pollingAdapter := polling.NewAdapter(
		&http.Client{}, config.Polling.FetchTimeout, retryConfig, reg.HandleInbound, logger,
	)
	if err := reg.BindAdapter(pollingAdapter); err != nil {
		logger.Fatal().Err(err).Msg("Failed to bind polling adapter")
	}

	reg.ConnectAll(ctx)

	// Device directory HTTP API plus the metrics endpoint.
	mux := httpapi.NewHandler(dir, logger).Routes()
	mux.Handle("GET /metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              config.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", config.Server.ListenAddr).Msg("Device directory listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("HTTP server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP server shutdown failed")
	}

	reg.DisconnectAll()
}
