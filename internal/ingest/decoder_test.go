package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDecoder_Decode(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	d := NewDecoder(func() time.Time { return now })

	env := d.Decode("als/dev1/tele", []byte(`{"device_id":"dev1"}`))

	assert.Equal(t, "als/dev1/tele", env.Topic)
	assert.Equal(t, `{"device_id":"dev1"}`, env.Payload)
	assert.Equal(t, now, env.ReceivedAt)
	assert.Contains(t, env.ID, "als/dev1/tele")
}

func TestDecoder_Decode_UniqueIDsWithinSameMillisecond(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	d := NewDecoder(func() time.Time { return now })

	first := d.Decode("als/dev1/tele", []byte("{}"))
	second := d.Decode("als/dev1/tele", []byte("{}"))

	assert.NotEqual(t, first.ID, second.ID)
}

func TestDecoder_Decode_InvalidUTF8(t *testing.T) {
	d := NewDecoder(nil)

	env := d.Decode("als/dev1/tele", []byte{'o', 'k', 0xff, 0xfe})

	assert.Equal(t, "ok�", env.Payload)
	assert.False(t, env.ReceivedAt.IsZero())
}
