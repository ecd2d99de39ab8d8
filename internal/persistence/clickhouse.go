package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/benmeehan/fleet-monitor/internal/models"
	"github.com/rs/zerolog"
)

// ClickHouseSink writes fleet traffic to ClickHouse. The tables devices,
// mqtt_messages, telemetry_data and status_data must already exist.
type ClickHouseSink struct {
	conn   driver.Conn
	logger zerolog.Logger
}

// NewClickHouseSink opens and pings a ClickHouse connection.
func NewClickHouseSink(addr, database, username, password string, logger zerolog.Logger) (*ClickHouseSink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	logger.Info().Str("addr", addr).Str("database", database).Msg("Connected to ClickHouse")
	return &ClickHouseSink{conn: conn, logger: logger}, nil
}

// UpsertDevice writes the latest device row. devices is expected to be a
// ReplacingMergeTree keyed on id so repeated inserts collapse.
func (s *ClickHouseSink) UpsertDevice(ctx context.Context, device DeviceUpsert) error {
	query := `
		INSERT INTO devices (id, display_name, customer_id, is_online, last_seen)
		VALUES (?, ?, ?, ?, ?)
	`

	err := s.conn.Exec(ctx, query,
		device.ID,
		device.DisplayName,
		device.CustomerID,
		device.IsOnline,
		device.LastSeen,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert device: %w", err)
	}
	return nil
}

// InsertMessage records the raw envelope.
func (s *ClickHouseSink) InsertMessage(ctx context.Context, deviceID string, env models.Envelope) error {
	query := `
		INSERT INTO mqtt_messages (id, device_id, topic, payload, received_at)
		VALUES (?, ?, ?, ?, ?)
	`

	err := s.conn.Exec(ctx, query,
		env.ID,
		deviceID,
		env.Topic,
		env.Payload,
		env.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// InsertTelemetry records one telemetry frame. Absent metrics are written as NULL.
func (s *ClickHouseSink) InsertTelemetry(ctx context.Context, telemetry models.TelemetryPayload, timestamp time.Time) error {
	query := `
		INSERT INTO telemetry_data (timestamp, device_id, tds, temp, flow_clean, flow_waste, total_clean_litres, total_waste_litres, fw)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := s.conn.Exec(ctx, query,
		timestamp,
		telemetry.DeviceID,
		telemetry.TDS,
		telemetry.Temp,
		telemetry.FlowClean,
		telemetry.FlowWaste,
		telemetry.TotalCleanLitres,
		telemetry.TotalWasteLitres,
		telemetry.FW,
	)
	if err != nil {
		return fmt.Errorf("failed to insert telemetry: %w", err)
	}
	return nil
}

// InsertStatus records one status frame.
func (s *ClickHouseSink) InsertStatus(ctx context.Context, status models.StatusPayload, timestamp time.Time) error {
	query := `
		INSERT INTO status_data (timestamp, device_id, event, fw, ip, rssi, uptime_ms, interval_ms, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := s.conn.Exec(ctx, query,
		timestamp,
		status.DeviceID,
		status.Event,
		status.FW,
		status.IP,
		status.RSSI,
		status.UptimeMs,
		status.IntervalMs,
		status.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to insert status: %w", err)
	}
	return nil
}

// Close closes the ClickHouse connection.
func (s *ClickHouseSink) Close() error {
	if s.conn == nil {
		return nil
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close ClickHouse connection: %w", err)
	}
	s.logger.Info().Msg("ClickHouse connection closed")
	return nil
}
