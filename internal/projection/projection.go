// Package projection builds the read model handed to consumers: fleet
// snapshots merged with assignments, filtered and sorted for display.
// Nothing here mutates fleet state.
package projection

import (
	"sort"
	"strings"

	"github.com/benmeehan/fleet-monitor/internal/constants"
	"github.com/benmeehan/fleet-monitor/internal/models"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Filter narrows a device list.
type Filter struct {
	// Role is constants.RoleAdmin or constants.RoleCustomer.
	Role string
	// CustomerID only applies to the customer role. Empty shows every device.
	CustomerID string
	// Query is a case-insensitive substring of the display name or id.
	Query string
}

// Augment merges assignments into every record and returns the views
// ordered by device id.
func Augment(snapshot models.FleetSnapshot, assignments map[string]models.Assignment) []models.DeviceView {
	views := make([]models.DeviceView, 0, len(snapshot))
	for id, rec := range snapshot {
		a := assignments[id]
		rec.DisplayName = a.DisplayName
		rec.CustomerID = a.CustomerID
		views = append(views, models.DeviceView{DeviceRecord: rec})
	}

	sort.Slice(views, func(i, j int) bool {
		return views[i].ID < views[j].ID
	})
	MarkOutdated(views)
	return views
}

// List applies filter to the augmented fleet and sorts by label using a
// locale-aware collation, breaking ties by id. Firmware staleness is judged
// against the whole fleet, not just the filtered devices.
func List(snapshot models.FleetSnapshot, assignments map[string]models.Assignment, filter Filter) []models.DeviceView {
	views := Augment(snapshot, assignments)

	query := strings.ToLower(strings.TrimSpace(filter.Query))
	out := views[:0]
	for _, v := range views {
		if filter.Role == constants.RoleCustomer && filter.CustomerID != "" && v.CustomerID != filter.CustomerID {
			continue
		}
		if query != "" && !matches(v.DeviceRecord, query) {
			continue
		}
		out = append(out, v)
	}

	// Collators are not safe for concurrent use.
	c := collate.New(language.Und)
	sort.SliceStable(out, func(i, j int) bool {
		if cmp := c.CompareString(out[i].Label(), out[j].Label()); cmp != 0 {
			return cmp < 0
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func matches(rec models.DeviceRecord, query string) bool {
	return strings.Contains(strings.ToLower(rec.Label()), query) ||
		strings.Contains(strings.ToLower(rec.ID), query)
}

// WithoutHistory drops message histories, for list payloads that only need
// the latest state.
func WithoutHistory(views []models.DeviceView) []models.DeviceView {
	out := make([]models.DeviceView, len(views))
	for i, v := range views {
		v.MessageHistory = nil
		out[i] = v
	}
	return out
}
