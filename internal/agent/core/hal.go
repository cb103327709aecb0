package core

// HAL abstracts the host the agent runs on. The update pipeline itself talks
// to the flash device directly; the HAL covers identity and the actions only
// the operating system can perform.
type HAL interface {
	// DeviceID returns the stable device identity used in topics and
	// registration.
	DeviceID() string

	// FirmwareVersion returns the version of the running image.
	FirmwareVersion() string

	// CheckHealth runs the post-boot self-check gating confirmation of a
	// pending image.
	CheckHealth() error

	// Reboot restarts the system so the loader can act on the boot record.
	Reboot() error
}
