package projection

import (
	"strings"
	"time"

	"github.com/benmeehan/fleet-monitor/internal/ingest"
	"github.com/benmeehan/fleet-monitor/internal/models"
)

// Point is one chart sample: the arrival time and the requested metrics the
// frame carried.
type Point struct {
	Time   time.Time          `json:"timestamp"`
	Values map[string]float64 `json:"values"`
}

// Series extracts chart points for keys from a most-recent-first history.
// Points are returned oldest first; frames without any requested metric and
// frames that do not parse are skipped. Empty keys selects every metric.
func Series(history []models.Envelope, keys []string) []Point {
	if len(keys) == 0 {
		keys = models.TelemetryKeys
	}

	var points []Point
	for i := len(history) - 1; i >= 0; i-- {
		env := history[i]
		if !ingest.IsTelemetryTopic(env.Topic) {
			continue
		}
		telemetry, ok := ingest.ParseTelemetry(env.Payload)
		if !ok {
			continue
		}

		values := make(map[string]float64, len(keys))
		for _, key := range keys {
			if v, ok := telemetry.Metric(key); ok {
				values[key] = v
			}
		}
		if len(values) == 0 {
			continue
		}
		points = append(points, Point{Time: env.ReceivedAt, Values: values})
	}
	return points
}

// FilterHistory keeps envelopes whose topic contains query, ignoring case.
func FilterHistory(history []models.Envelope, query string) []models.Envelope {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return history
	}

	out := make([]models.Envelope, 0, len(history))
	for _, env := range history {
		if strings.Contains(strings.ToLower(env.Topic), query) {
			out = append(out, env)
		}
	}
	return out
}
