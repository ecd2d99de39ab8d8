package api

import (
	"context"

	"github.com/benmeehan/fleet-monitor/internal/metrics_collectors"
	"github.com/benmeehan/fleet-monitor/pkg/mqtt"
)

const metricPrefix = "fleetd_"

// registerCollectors exposes fleet, ingest, transport and persistence state
// on /metrics alongside whatever process collectors the caller registered.
func (s *Server) registerCollectors() {
	s.deps.Metrics.Register(metrics_collectors.CollectorFunc{CollectorName: "ingest", Fn: s.collectIngest})
	s.deps.Metrics.Register(metrics_collectors.CollectorFunc{CollectorName: "fleet", Fn: s.collectFleet})
	s.deps.Metrics.Register(metrics_collectors.CollectorFunc{CollectorName: "mqtt", Fn: s.collectTransport})
	if s.deps.Dispatcher != nil {
		s.deps.Metrics.Register(metrics_collectors.CollectorFunc{CollectorName: "persistence", Fn: s.collectPersistence})
	}
}

func (s *Server) collectIngest(context.Context) []metrics_collectors.Sample {
	stats := s.deps.Fleet.Stats()

	kind := func(kind string, v uint64) metrics_collectors.Sample {
		return metrics_collectors.Sample{
			Name:   metricPrefix + "messages_accepted_total",
			Help:   "Messages accepted by the classifier, by kind.",
			Type:   metrics_collectors.TypeCounter,
			Labels: map[string]string{"kind": kind},
			Value:  float64(v),
		}
	}
	reason := func(reason string, v uint64) metrics_collectors.Sample {
		return metrics_collectors.Sample{
			Name:   metricPrefix + "messages_rejected_total",
			Help:   "Messages rejected by the classifier, by reason.",
			Type:   metrics_collectors.TypeCounter,
			Labels: map[string]string{"reason": reason},
			Value:  float64(v),
		}
	}

	return []metrics_collectors.Sample{
		kind("telemetry", stats.Telemetry),
		kind("status", stats.Status),
		kind("unrecognized", stats.Unrecognized),
		reason("invalid_json", stats.InvalidJSON),
		reason("missing_device_id", stats.MissingDeviceID),
	}
}

func (s *Server) collectFleet(ctx context.Context) []metrics_collectors.Sample {
	total, online, err := s.deps.Fleet.Counts(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to collect fleet metrics")
		return nil
	}

	return []metrics_collectors.Sample{
		{Name: metricPrefix + "devices", Help: "Devices seen since start.", Type: metrics_collectors.TypeGauge, Value: float64(total)},
		{Name: metricPrefix + "devices_online", Help: "Devices currently online.", Type: metrics_collectors.TypeGauge, Value: float64(online)},
	}
}

func (s *Server) collectTransport(context.Context) []metrics_collectors.Sample {
	current := s.deps.Transport.Status()

	var samples []metrics_collectors.Sample
	for _, status := range []mqtt.Status{mqtt.StatusDisconnected, mqtt.StatusConnecting, mqtt.StatusConnected, mqtt.StatusError} {
		v := 0.0
		if status == current {
			v = 1
		}
		samples = append(samples, metrics_collectors.Sample{
			Name:   metricPrefix + "mqtt_status",
			Help:   "Broker connection state, 1 for the current state.",
			Type:   metrics_collectors.TypeGauge,
			Labels: map[string]string{"status": string(status)},
			Value:  v,
		})
	}
	return samples
}

func (s *Server) collectPersistence(context.Context) []metrics_collectors.Sample {
	stats := s.deps.Dispatcher.Stats()

	counter := func(name, help string, v uint64) metrics_collectors.Sample {
		return metrics_collectors.Sample{Name: metricPrefix + name, Help: help, Type: metrics_collectors.TypeCounter, Value: float64(v)}
	}

	return []metrics_collectors.Sample{
		counter("persistence_dispatched_total", "Messages handed to the persistence dispatcher.", stats.Dispatched),
		counter("persistence_persisted_total", "Messages fully written to the sink.", stats.Persisted),
		counter("persistence_failed_total", "Messages whose sink write failed.", stats.Failed),
		counter("persistence_overflowed_total", "Messages run outside the worker pool because its queue was full.", stats.Overflowed),
		counter("persistence_dropped_total", "Messages dropped because the dispatcher was not running.", stats.Dropped),
		{Name: metricPrefix + "persistence_pending", Help: "Jobs waiting in the worker pool queue.", Type: metrics_collectors.TypeGauge, Value: float64(stats.Pending)},
	}
}
