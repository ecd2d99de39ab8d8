package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/benmeehan/fleet-monitor/internal/api"
	"github.com/benmeehan/fleet-monitor/internal/assignments"
	"github.com/benmeehan/fleet-monitor/internal/commands"
	"github.com/benmeehan/fleet-monitor/internal/constants"
	"github.com/benmeehan/fleet-monitor/internal/fleet"
	"github.com/benmeehan/fleet-monitor/internal/metrics_collectors"
	"github.com/benmeehan/fleet-monitor/internal/persistence"
	"github.com/benmeehan/fleet-monitor/internal/service_registry"
	"github.com/benmeehan/fleet-monitor/pkg/mqtt"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the fleet monitor daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context) error {
	transport, err := newTransport(config.SubscriptionTopic())
	if err != nil {
		return err
	}
	transport.OnStatusChange(func(status mqtt.Status, err error) {
		log.Info().Err(err).Str("status", string(status)).Msg("MQTT status changed")
	})

	store := assignments.NewStore(config.Assignments.File, fileClient, log)

	// Interface values stay nil when persistence is disabled.
	var (
		sink       fleet.Dispatcher
		sinkStats  api.DispatchStats
		dispatcher *persistence.Dispatcher
	)
	if config.Persistence.Enabled {
		chSink, err := persistence.NewClickHouseSink(config.Persistence.Addr, config.Persistence.Database,
			config.Persistence.Username, config.Persistence.Password, log)
		if err != nil {
			return fmt.Errorf("failed to open persistence sink: %w", err)
		}
		dispatcher = persistence.NewDispatcher(chSink, config.Persistence.Workers, config.Persistence.QueueSize, log)
		sink, sinkStats = dispatcher, dispatcher
	}

	engine := fleet.NewEngine(fleet.EngineConfig{
		SweepInterval:  config.Fleet.SweepInterval,
		StaleThreshold: config.Fleet.StaleThreshold,
		HistoryLimit:   config.Fleet.HistoryLimit,
		InboxSize:      config.Fleet.InboxSize,
	}, sink, store, log)
	transport.SetMessageHandler(engine.HandleMessage)

	registry := service_registry.NewServiceRegistry(log)
	registry.RegisterService("assignments", service_registry.ServiceFunc{StartFn: store.Load})
	if dispatcher != nil {
		registry.RegisterService("persistence", dispatcher)
	}
	registry.RegisterService("fleet", engine)

	if config.API.Listen != "" {
		server := api.NewServer(api.Options{
			Listen:       config.API.Listen,
			PushInterval: config.API.PushInterval,
		}, api.Dependencies{
			Fleet:       engine,
			Assignments: store,
			Commands:    commands.NewService(config.MQTT.Namespace, transport, log),
			Transport:   transport,
			Dispatcher:  sinkStats,
			Metrics:     processMetrics(),
		}, log)
		registry.RegisterService("api", server)
	}

	// Registered last so it is stopped first.
	registry.RegisterService("mqtt", transport)

	if err := registry.StartServices(); err != nil {
		return err
	}
	log.Info().Strs("services", registry.Services()).Msg("All services started successfully")

	<-ctx.Done()
	log.Info().Msg("Shutting down gracefully...")
	return registry.StopServices()
}

func newTransport(topic string) (*mqtt.MqttService, error) {
	tlsConfig, err := mqtt.NewTLSConfig(fileClient, config.MQTT.CACertificate, config.MQTT.InsecureSkipVerify)
	if err != nil {
		return nil, err
	}

	clientID := uniqueClientID(config.MQTT.ClientID)
	log.Info().Msgf("Using MQTT Client ID: %s", clientID)

	return mqtt.NewMqttService(mqtt.Options{
		Broker:            config.MQTT.Broker,
		ClientID:          clientID,
		Username:          config.MQTT.Username,
		Password:          config.MQTT.Password,
		TLSConfig:         tlsConfig,
		Topic:             topic,
		SubscribeQOS:      constants.SubscriptionQOS,
		PublishQOS:        constants.PublishQOS,
		ReconnectInterval: config.MQTT.ReconnectInterval,
		ConnectTimeout:    config.MQTT.ConnectTimeout,
		KeepAlive:         config.MQTT.KeepAlive,
	}, log), nil
}

func processMetrics() *metrics_collectors.MetricsRegistry {
	const prefix = "fleetd_"

	registry := metrics_collectors.NewMetricsRegistry()
	if proc, err := metrics_collectors.NewProcessMetricCollector(prefix, log); err != nil {
		log.Warn().Err(err).Msg("Process metrics unavailable")
	} else {
		registry.Register(proc)
	}
	registry.Register(&metrics_collectors.GoroutineMetricCollector{Logger: log, Prefix: prefix})
	registry.Register(&metrics_collectors.CPUMetricCollector{Logger: log, Prefix: prefix})
	registry.Register(&metrics_collectors.MemoryMetricCollector{Logger: log, Prefix: prefix})
	return registry
}
