package constants

// Device command tokens published on <namespace>/<deviceId>/cmd.
const (
	// CommandStatus asks the device to publish a status frame immediately.
	CommandStatus = "STATUS"
	// CommandResetCleanLitres zeroes the clean-water volume counter.
	CommandResetCleanLitres = "RESET_CLEAN_LITRES"
	// CommandResetWasteLitres zeroes the waste-water volume counter.
	CommandResetWasteLitres = "RESET_WASTE_LITRES"
	// CommandReboot restarts the device.
	CommandReboot = "REBOOT"
	// CommandResetWifi erases the stored Wi-Fi credentials.
	CommandResetWifi = "RESET_WIFI"
	// CommandFactoryReset wipes all settings on the device.
	CommandFactoryReset = "FACTORY_RESET"
	// CommandSetInterval sets the telemetry interval, sent as SET_INTERVAL_MS=<ms>.
	CommandSetInterval = "SET_INTERVAL_MS"
	// CommandOTA starts a firmware update, sent as "OTA <url>".
	CommandOTA = "OTA"
)
