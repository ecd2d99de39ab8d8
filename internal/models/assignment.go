package models

// Customer is an owner devices can be assigned to.
type Customer struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AssignmentData is the persisted assignment document.
// A nil section on input means the section was missing.
type AssignmentData struct {
	Customers   []Customer        `json:"customers"`
	DeviceNames map[string]string `json:"deviceNames"`
	Assignments map[string]string `json:"assignments"`
}

// Assignment is the externally owned metadata for one device.
type Assignment struct {
	DisplayName string `json:"display_name,omitempty"`
	CustomerID  string `json:"customer_id,omitempty"`
}
