//go:build !linux

package hal

import (
	"os"

	"github.com/updrift-io/updrift/internal/agent/core"
	"github.com/updrift-io/updrift/pkg/log"
)

// mockHAL stands in for the host adapter on development machines.
type mockHAL struct{}

func NewHAL() core.HAL {
	return &mockHAL{}
}

func (h *mockHAL) DeviceID() string {
	if id := os.Getenv("UPDRIFT_DEVICE_ID"); id != "" {
		return id
	}
	return "dev-mock-001"
}

func (h *mockHAL) FirmwareVersion() string {
	if v := os.Getenv("UPDRIFT_FIRMWARE_VERSION"); v != "" {
		return v
	}
	return "v0.0.0-dev"
}

func (h *mockHAL) CheckHealth() error {
	log.Info("[hal-mock] Health self-check passed")
	return nil
}

func (h *mockHAL) Reboot() error {
	log.Info("[hal-mock] Reboot requested, ignoring")
	return nil
}
