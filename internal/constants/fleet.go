package constants

import "time"

const (
	// HistoryLimit caps the per-device message history.
	HistoryLimit = 500

	// DefaultSweepInterval is how often the liveness sweep runs.
	DefaultSweepInterval = 5 * time.Second

	// DefaultStaleThreshold is the silence after which a device is marked offline.
	// It must stay well above the sweep interval.
	DefaultStaleThreshold = 35 * time.Second

	// DefaultInboxSize bounds the engine inbox.
	DefaultInboxSize = 1024

	// DefaultReconnectInterval is the fixed delay between broker reconnect attempts.
	DefaultReconnectInterval = 1 * time.Second
)

// Roles understood by the read model.
const (
	RoleAdmin    = "admin"
	RoleCustomer = "customer"
)

// Rejection reasons counted by the classifier.
const (
	RejectInvalidJSON     = "invalid_json"
	RejectMissingDeviceID = "missing_device_id"
)
