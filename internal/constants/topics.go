package constants

// Topic layout: <namespace>/<deviceId>/<kind>.
const (
	DefaultNamespace = "als"

	KindTelemetry = "tele"
	KindStatus    = "stat"
	KindCommand   = "cmd"

	// SubscriptionQOS is used for the wildcard fleet subscription.
	SubscriptionQOS = 1
	// PublishQOS is used for outbound commands.
	PublishQOS = 1
)
