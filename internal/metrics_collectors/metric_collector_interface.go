package metrics_collectors

import (
	"context"
)

// Metric types in the Prometheus text exposition format.
const (
	TypeGauge   = "gauge"
	TypeCounter = "counter"
)

// Sample is one exported value.
type Sample struct {
	Name   string
	Help   string
	Type   string
	Labels map[string]string
	Value  float64
}

// MetricCollector defines the interface for collecting a group of metrics.
type MetricCollector interface {
	Name() string                          // Name of the collector (e.g., "process", "fleet")
	Collect(ctx context.Context) []Sample // Collect the current values
}

// CollectorFunc adapts a function to the MetricCollector interface.
type CollectorFunc struct {
	CollectorName string
	Fn            func(ctx context.Context) []Sample
}

func (c CollectorFunc) Name() string {
	return c.CollectorName
}

func (c CollectorFunc) Collect(ctx context.Context) []Sample {
	return c.Fn(ctx)
}
