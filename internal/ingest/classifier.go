package ingest

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/benmeehan/fleet-monitor/internal/constants"
	"github.com/benmeehan/fleet-monitor/internal/models"
	"github.com/rs/zerolog"
)

// Kind tags the outcome of classification.
type Kind int

const (
	KindRejected Kind = iota
	KindTelemetry
	KindStatus
	// KindUnrecognized is attributable to a device but updates liveness and history only.
	KindUnrecognized
)

func (k Kind) String() string {
	switch k {
	case KindTelemetry:
		return "telemetry"
	case KindStatus:
		return "status"
	case KindUnrecognized:
		return "unrecognized"
	default:
		return "rejected"
	}
}

// Message is a classified envelope. Telemetry and Status are only set for
// their respective kinds; Reason is only set for rejections.
type Message struct {
	Kind      Kind
	DeviceID  string
	Envelope  models.Envelope
	Telemetry models.TelemetryPayload
	Status    models.StatusPayload
	Reason    string
}

// Accepted reports whether the message should reach the reducer.
func (m Message) Accepted() bool {
	return m.Kind != KindRejected
}

var errNotObject = errors.New("payload is not a JSON object")

// Classifier parses envelope payloads and tags them by topic suffix.
type Classifier struct {
	stats  *Stats
	logger zerolog.Logger
}

// NewClassifier creates a Classifier. stats may be nil.
func NewClassifier(stats *Stats, logger zerolog.Logger) *Classifier {
	return &Classifier{
		stats:  stats,
		logger: logger,
	}
}

// Classify never fails; malformed input yields a KindRejected message.
func (c *Classifier) Classify(env models.Envelope) Message {
	msg := c.classify(env)
	if c.stats != nil {
		c.stats.record(msg)
	}
	return msg
}

func (c *Classifier) classify(env models.Envelope) Message {
	fields, err := parseObject(env.Payload)
	if err != nil {
		c.logger.Debug().Err(err).Str("topic", env.Topic).Msg("Dropping non-JSON payload")
		return Message{Kind: KindRejected, Envelope: env, Reason: constants.RejectInvalidJSON}
	}

	deviceID, ok := deviceIDField(fields)
	if !ok {
		c.logger.Debug().Str("topic", env.Topic).Msg("Dropping payload without device_id")
		return Message{Kind: KindRejected, Envelope: env, Reason: constants.RejectMissingDeviceID}
	}

	msg := Message{
		Kind:     KindUnrecognized,
		DeviceID: deviceID,
		Envelope: env,
	}

	switch {
	case IsTelemetryTopic(env.Topic):
		msg.Kind = KindTelemetry
		msg.Telemetry = parseTelemetry(deviceID, fields)
	case strings.HasSuffix(env.Topic, "/"+constants.KindStatus):
		msg.Kind = KindStatus
		msg.Status = parseStatus(deviceID, fields)
	}
	return msg
}

// ParseTelemetry parses a stored telemetry payload with the same field rules
// as Classify. It reports false for payloads Classify would reject.
func ParseTelemetry(payload string) (models.TelemetryPayload, bool) {
	fields, err := parseObject(payload)
	if err != nil {
		return models.TelemetryPayload{}, false
	}
	deviceID, ok := deviceIDField(fields)
	if !ok {
		return models.TelemetryPayload{}, false
	}
	return parseTelemetry(deviceID, fields), true
}

// IsTelemetryTopic reports whether topic carries telemetry frames.
func IsTelemetryTopic(topic string) bool {
	return strings.HasSuffix(topic, "/"+constants.KindTelemetry)
}

// parseObject accepts exactly one JSON object with nothing trailing.
func parseObject(payload string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(payload))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after JSON value")
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return nil, errNotObject
	}
	return obj, nil
}

// deviceIDField accepts a non-empty string or a non-zero number.
func deviceIDField(fields map[string]any) (string, bool) {
	switch v := fields["device_id"].(type) {
	case string:
		return v, v != ""
	case json.Number:
		f, err := v.Float64()
		if err != nil || f == 0 || math.IsNaN(f) {
			return "", false
		}
		return v.String(), true
	default:
		return "", false
	}
}

func parseTelemetry(deviceID string, fields map[string]any) models.TelemetryPayload {
	return models.TelemetryPayload{
		DeviceID:         deviceID,
		TS:               stringField(fields, "ts"),
		TDS:              floatField(fields, "tds"),
		Temp:             floatField(fields, "temp"),
		FlowClean:        floatField(fields, "flow_clean"),
		FlowWaste:        floatField(fields, "flow_waste"),
		TotalCleanLitres: floatField(fields, "total_clean_litres"),
		TotalWasteLitres: floatField(fields, "total_waste_litres"),
		FW:               stringField(fields, "fw"),
	}
}

func parseStatus(deviceID string, fields map[string]any) models.StatusPayload {
	return models.StatusPayload{
		DeviceID:   deviceID,
		Event:      stringField(fields, "event"),
		TS:         stringField(fields, "ts"),
		FW:         stringField(fields, "fw"),
		IP:         stringField(fields, "ip"),
		RSSI:       intField(fields, "rssi"),
		UptimeMs:   intField(fields, "uptime_ms"),
		IntervalMs: intField(fields, "interval_ms"),
		Status:     stringField(fields, "status"),
	}
}

func stringField(fields map[string]any, key string) *string {
	switch v := fields[key].(type) {
	case string:
		return &v
	case json.Number:
		s := v.String()
		return &s
	default:
		return nil
	}
}

func floatField(fields map[string]any, key string) *float64 {
	var (
		f   float64
		err error
	)
	switch v := fields[key].(type) {
	case json.Number:
		f, err = v.Float64()
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(v), 64)
	default:
		return nil
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func intField(fields map[string]any, key string) *int64 {
	f := floatField(fields, key)
	// float64(math.MaxInt64) rounds up to 2^63, which does not fit.
	if f == nil || *f >= math.MaxInt64 || *f < math.MinInt64 {
		return nil
	}
	i := int64(*f)
	return &i
}
