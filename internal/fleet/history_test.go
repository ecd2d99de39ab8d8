package fleet

import (
	"fmt"
	"testing"

	"github.com/benmeehan/fleet-monitor/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistory_MostRecentFirst(t *testing.T) {
	h := NewHistory(3)
	for i := 1; i <= 2; i++ {
		h.Push(models.Envelope{ID: fmt.Sprint(i)})
	}

	assert.Equal(t, []string{"2", "1"}, ids(h.Slice()))
}

func TestHistory_EvictsOldest(t *testing.T) {
	h := NewHistory(0)
	for i := 1; i <= 501; i++ {
		h.Push(models.Envelope{ID: fmt.Sprint(i)})
	}

	got := h.Slice()
	require.Len(t, got, 500)
	assert.Equal(t, "501", got[0].ID)
	assert.Equal(t, "2", got[499].ID)
}

func TestHistory_WrapsRepeatedly(t *testing.T) {
	h := NewHistory(3)
	for i := 1; i <= 8; i++ {
		h.Push(models.Envelope{ID: fmt.Sprint(i)})
		assert.LessOrEqual(t, h.Len(), 3)
	}

	assert.Equal(t, []string{"8", "7", "6"}, ids(h.Slice()))
}

func TestHistory_SliceIsCopy(t *testing.T) {
	h := NewHistory(2)
	h.Push(models.Envelope{ID: "a"})

	got := h.Slice()
	got[0].ID = "mutated"

	assert.Equal(t, "a", h.Slice()[0].ID)
}

func ids(envs []models.Envelope) []string {
	out := make([]string, len(envs))
	for i, env := range envs {
		out[i] = env.ID
	}
	return out
}
