// Package agent assembles the device-side daemon: boot confirmation, the
// update manager, the MQTT hub with its modules, and the diagnostics server.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	v1 "github.com/updrift-io/updrift/api/v1"
	"github.com/updrift-io/updrift/internal/agent/core"
	"github.com/updrift-io/updrift/internal/agent/diag"
	"github.com/updrift-io/updrift/internal/agent/hub"
	"github.com/updrift-io/updrift/internal/bootsel"
	"github.com/updrift-io/updrift/internal/history"
	"github.com/updrift-io/updrift/pkg/log"
)

type Agent struct {
	deviceID string
	hal      core.HAL
	hub      *hub.Hub
	modules  []core.Module

	selector    *bootsel.Selector
	journal     *history.Journal
	diag        *diag.Server
	bootedSlot  string
	healthDelay time.Duration
}

func NewAgent(deviceID string, h core.HAL, b *hub.Hub, modules []core.Module,
	selector *bootsel.Selector, journal *history.Journal, diagSrv *diag.Server,
	bootedSlot string, healthDelay time.Duration) *Agent {

	return &Agent{
		deviceID:    deviceID,
		hal:         h,
		hub:         b,
		modules:     modules,
		selector:    selector,
		journal:     journal,
		diag:        diagSrv,
		bootedSlot:  bootedSlot,
		healthDelay: healthDelay,
	}
}

func (a *Agent) Run(ctx context.Context) error {
	log.Info("Starting updrift-agent", "deviceID", a.deviceID,
		"bootedSlot", a.bootedSlot, "firmware", a.hal.FirmwareVersion())

	for _, m := range a.modules {
		if err := m.Setup(ctx, a.hal, a.hub); err != nil {
			return err
		}

		for event, handler := range m.Routes() {
			if err := a.hub.Register(event, handler); err != nil {
				return fmt.Errorf("module %s register event %s failed: %w", m.Name(), event, err)
			}
		}
	}

	if err := a.hub.Start(ctx); err != nil {
		return err
	}
	defer a.hub.Stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.diag.Run(ctx)
	})

	// Resolve any pending update before announcing ourselves: a rollback
	// may reboot the system.
	g.Go(func() error {
		if err := confirmBoot(ctx, a.selector, a.hal, a.journal, a.bootedSlot, a.healthDelay); err != nil {
			return fmt.Errorf("boot confirmation: %w", err)
		}
		a.registerIdentity(ctx)
		return nil
	})

	err := g.Wait()
	log.Info("Agent shutting down...")

	if a.journal != nil {
		_ = a.journal.Close()
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// registerIdentity announces the device and flips the retained presence
// message to online. QoS 1 covers delivery; no retry loop here.
func (a *Agent) registerIdentity(ctx context.Context) {
	req := v1.RegisterRequest{
		DeviceID:        a.deviceID,
		FirmwareVersion: a.hal.FirmwareVersion(),
		ActiveSlot:      a.selector.Active(),
		Timestamp:       time.Now().Unix(),
	}
	if err := core.SendJSON(ctx, a.hub, core.EventRegister, req); err != nil {
		log.Error(err, "Failed to send registration request")
		return
	}

	online := v1.OnlineStatus{DeviceID: a.deviceID, Online: true}
	if err := core.SendJSON(ctx, a.hub, core.EventOnline, online); err != nil {
		log.Error(err, "Failed to publish online status")
		return
	}

	log.Info("Registered with update service", "version", req.FirmwareVersion)
}
