package models

// TelemetryPayload is a sensor snapshot published on <namespace>/<id>/tele.
// Metric fields are nil when absent or not numeric in the source frame.
type TelemetryPayload struct {
	DeviceID string  `json:"device_id,omitempty"`
	TS       *string `json:"ts,omitempty"`

	// TDS is total dissolved solids in ppm, Temp the water temperature in °C.
	TDS  *float64 `json:"tds,omitempty"`
	Temp *float64 `json:"temp,omitempty"`

	FlowClean        *float64 `json:"flow_clean,omitempty"`
	FlowWaste        *float64 `json:"flow_waste,omitempty"`
	TotalCleanLitres *float64 `json:"total_clean_litres,omitempty"`
	TotalWasteLitres *float64 `json:"total_waste_litres,omitempty"`

	FW *string `json:"fw,omitempty"`
}

// IsZero reports whether no telemetry has been accepted yet.
func (t TelemetryPayload) IsZero() bool {
	return t.DeviceID == ""
}

// Clone returns a copy that shares no pointers with t.
func (t TelemetryPayload) Clone() TelemetryPayload {
	t.TS = clonePtr(t.TS)
	t.TDS = clonePtr(t.TDS)
	t.Temp = clonePtr(t.Temp)
	t.FlowClean = clonePtr(t.FlowClean)
	t.FlowWaste = clonePtr(t.FlowWaste)
	t.TotalCleanLitres = clonePtr(t.TotalCleanLitres)
	t.TotalWasteLitres = clonePtr(t.TotalWasteLitres)
	t.FW = clonePtr(t.FW)
	return t
}

// Metric returns the named metric using its wire key.
func (t TelemetryPayload) Metric(key string) (float64, bool) {
	var v *float64
	switch key {
	case "tds":
		v = t.TDS
	case "temp":
		v = t.Temp
	case "flow_clean":
		v = t.FlowClean
	case "flow_waste":
		v = t.FlowWaste
	case "total_clean_litres":
		v = t.TotalCleanLitres
	case "total_waste_litres":
		v = t.TotalWasteLitres
	}
	if v == nil {
		return 0, false
	}
	return *v, true
}

// TelemetryKeys lists the numeric metric keys in wire order.
var TelemetryKeys = []string{"tds", "temp", "flow_clean", "flow_waste", "total_clean_litres", "total_waste_litres"}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
