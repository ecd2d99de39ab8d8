package projection

import (
	"testing"
	"time"

	"github.com/benmeehan/fleet-monitor/internal/constants"
	"github.com/benmeehan/fleet-monitor/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func fleet() models.FleetSnapshot {
	return models.FleetSnapshot{
		"dev-b": {ID: "dev-b", IsOnline: true, StatusInfo: models.StatusPayload{DeviceID: "dev-b", FW: strPtr("1.2.0")}},
		"dev-a": {ID: "dev-a", IsOnline: false, LatestTelemetry: models.TelemetryPayload{DeviceID: "dev-a", FW: strPtr("1.3.0")}},
		"dev-c": {ID: "dev-c", IsOnline: true},
		"zeta":  {ID: "zeta", IsOnline: true, StatusInfo: models.StatusPayload{DeviceID: "zeta", FW: strPtr("dev-build")}},
	}
}

var assigned = map[string]models.Assignment{
	"dev-b": {DisplayName: "Éclair Plant", CustomerID: "c1"},
	"dev-c": {DisplayName: "apple farm", CustomerID: "c2"},
	"zeta":  {CustomerID: "c1"},
}

func viewIDs(views []models.DeviceView) []string {
	out := make([]string, len(views))
	for i, v := range views {
		out[i] = v.ID
	}
	return out
}

func TestAugment(t *testing.T) {
	views := Augment(fleet(), assigned)

	require.Equal(t, []string{"dev-a", "dev-b", "dev-c", "zeta"}, viewIDs(views))
	assert.Equal(t, "Éclair Plant", views[1].DisplayName)
	assert.Equal(t, "c1", views[1].CustomerID)
	assert.Empty(t, views[0].DisplayName)
}

func TestAugment_DoesNotMutateSnapshot(t *testing.T) {
	snap := fleet()
	Augment(snap, assigned)

	assert.Empty(t, snap["dev-b"].DisplayName)
}

func TestList_AdminSortsByLabel(t *testing.T) {
	views := List(fleet(), assigned, Filter{Role: constants.RoleAdmin})

	// "apple farm" < "dev-a" < "Éclair Plant" < "zeta" under collation.
	assert.Equal(t, []string{"dev-c", "dev-a", "dev-b", "zeta"}, viewIDs(views))
}

func TestList_CustomerFilter(t *testing.T) {
	views := List(fleet(), assigned, Filter{Role: constants.RoleCustomer, CustomerID: "c1"})
	assert.Equal(t, []string{"dev-b", "zeta"}, viewIDs(views))

	views = List(fleet(), assigned, Filter{Role: constants.RoleCustomer})
	assert.Len(t, views, 4, "no selected customer shows every device")

	views = List(fleet(), assigned, Filter{Role: constants.RoleAdmin, CustomerID: "c1"})
	assert.Len(t, views, 4, "admins are not filtered by customer")
}

func TestList_Query(t *testing.T) {
	views := List(fleet(), assigned, Filter{Role: constants.RoleAdmin, Query: "PLANT"})
	assert.Equal(t, []string{"dev-b"}, viewIDs(views))

	views = List(fleet(), assigned, Filter{Role: constants.RoleAdmin, Query: "dev-c"})
	assert.Equal(t, []string{"dev-c"}, viewIDs(views), "id matches even when a display name is set")
}

func TestList_TiesBreakByID(t *testing.T) {
	snap := models.FleetSnapshot{
		"b": {ID: "b"},
		"a": {ID: "a"},
	}
	views := List(snap, map[string]models.Assignment{
		"a": {DisplayName: "Same"},
		"b": {DisplayName: "Same"},
	}, Filter{})

	assert.Equal(t, []string{"a", "b"}, viewIDs(views))
}

func TestMarkOutdatedAndSummarize(t *testing.T) {
	views := Augment(fleet(), assigned)

	byID := map[string]models.DeviceView{}
	for _, v := range views {
		byID[v.ID] = v
	}
	assert.False(t, byID["dev-a"].FirmwareOutdated)
	assert.True(t, byID["dev-b"].FirmwareOutdated)
	assert.False(t, byID["dev-c"].FirmwareOutdated)
	assert.False(t, byID["zeta"].FirmwareOutdated)

	summary := Summarize(views)
	assert.Equal(t, Summary{
		Total:          4,
		Online:         3,
		Offline:        1,
		Firmware:       map[string]int{"1.2.0": 1, "1.3.0": 1, "dev-build": 1, "unknown": 1},
		LatestFirmware: "1.3.0",
		Outdated:       1,
	}, summary)
}

func TestWithoutHistory(t *testing.T) {
	views := []models.DeviceView{{DeviceRecord: models.DeviceRecord{ID: "a", MessageHistory: []models.Envelope{{ID: "1"}}}}}

	out := WithoutHistory(views)

	assert.Nil(t, out[0].MessageHistory)
	assert.Len(t, views[0].MessageHistory, 1)
}
