package metrics_collectors

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// The registry will manage all metric collectors and render them in the
// Prometheus text format. Collectors are gathered in registration order.
type MetricsRegistry struct {
	mu         sync.RWMutex
	collectors []MetricCollector
}

// NewMetricsRegistry creates a new MetricsRegistry instance.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{}
}

// Register adds a new metric collector to the registry. A collector with the
// same name replaces the previous one.
func (r *MetricsRegistry) Register(collector MetricCollector) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, c := range r.collectors {
		if c.Name() == collector.Name() {
			r.collectors[i] = collector
			return
		}
	}
	r.collectors = append(r.collectors, collector)
}

// GetCollectors returns all the metric collectors registered in the registry.
func (r *MetricsRegistry) GetCollectors() []MetricCollector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]MetricCollector(nil), r.collectors...)
}

// Gather collects every registered collector.
func (r *MetricsRegistry) Gather(ctx context.Context) []Sample {
	var samples []Sample
	for _, c := range r.GetCollectors() {
		samples = append(samples, c.Collect(ctx)...)
	}
	return samples
}

// WriteText renders samples in the Prometheus text exposition format.
// HELP and TYPE are written once per metric name.
func WriteText(w io.Writer, samples []Sample) error {
	seen := make(map[string]bool)
	for _, s := range samples {
		if !seen[s.Name] {
			seen[s.Name] = true
			if _, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", s.Name, s.Help, s.Name, s.Type); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "%s%s %s\n", s.Name, formatLabels(s.Labels), strconv.FormatFloat(s.Value, 'g', -1, 64)); err != nil {
			return err
		}
	}
	return nil
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%s", k, strconv.Quote(labels[k]))
	}
	return "{" + strings.Join(parts, ",") + "}"
}
