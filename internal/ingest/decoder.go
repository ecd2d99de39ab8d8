package ingest

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/benmeehan/fleet-monitor/internal/models"
)

// Decoder turns raw broker deliveries into Envelopes. It never fails:
// invalid UTF-8 sequences are replaced with U+FFFD.
type Decoder struct {
	now func() time.Time
	seq atomic.Uint64
}

// NewDecoder creates a Decoder. A nil clock defaults to time.Now.
func NewDecoder(now func() time.Time) *Decoder {
	if now == nil {
		now = time.Now
	}
	return &Decoder{now: now}
}

// Decode stamps the arrival time and builds a practically unique id from it,
// the topic and a per-decoder sequence number.
func (d *Decoder) Decode(topic string, payload []byte) models.Envelope {
	receivedAt := d.now()
	seq := d.seq.Add(1)

	return models.Envelope{
		ID:         fmt.Sprintf("%d-%s-%d", receivedAt.UnixMilli(), topic, seq),
		Topic:      topic,
		Payload:    strings.ToValidUTF8(string(payload), "�"),
		ReceivedAt: receivedAt,
	}
}
