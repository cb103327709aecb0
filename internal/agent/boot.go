package agent

import (
	"context"
	"time"

	"github.com/updrift-io/updrift/internal/agent/core"
	"github.com/updrift-io/updrift/internal/bootsel"
	"github.com/updrift-io/updrift/internal/history"
	"github.com/updrift-io/updrift/internal/ota"
	"github.com/updrift-io/updrift/internal/pkg/metrics"
	"github.com/updrift-io/updrift/pkg/log"
)

// confirmBoot resolves a pending update at startup. An image is confirmed
// only after the system booted it and passed the health self-check; an image
// that already survived an unconfirmed boot cycle, or that the loader
// silently skipped, is rolled back.
func confirmBoot(ctx context.Context, sel *bootsel.Selector, h core.HAL,
	journal *history.Journal, bootedSlot string, healthDelay time.Duration) error {

	rollback, err := sel.ShouldRollback(bootedSlot)
	if err != nil {
		return err
	}
	if rollback {
		return revertPending(ctx, sel, h, journal, bootedSlot, "unconfirmed update reverted at boot")
	}

	if _, pendingVerify := sel.Pending(); !pendingVerify {
		return nil
	}

	// First boot of the pending image. Give the system time to settle,
	// then gate confirmation on the health self-check.
	log.Info("Booted pending image, running health self-check",
		"slot", bootedSlot, "delay", healthDelay)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(healthDelay):
	}

	if err := h.CheckHealth(); err != nil {
		log.Error(err, "Health self-check failed, reverting pending update", "slot", bootedSlot)
		return revertPending(ctx, sel, h, journal, bootedSlot, "health self-check failed: "+err.Error())
	}

	if err := sel.ConfirmValid(); err != nil {
		return err
	}
	log.Info("Pending update confirmed valid", "active", sel.Active())
	return nil
}

func revertPending(ctx context.Context, sel *bootsel.Selector, h core.HAL,
	journal *history.Journal, bootedSlot, reason string) error {

	pending, _ := sel.Pending()
	log.Info("Rolling back pending update", "pending", pending, "reason", reason)

	if err := sel.RollBack(); err != nil {
		return err
	}
	metrics.RollbacksTotal.Inc()

	if journal != nil {
		now := time.Now()
		if err := journal.Record(ctx, history.Entry{
			Slot:       pending,
			Status:     string(ota.StatusRollingBack),
			Detail:     reason,
			StartedAt:  now,
			FinishedAt: now,
		}); err != nil {
			log.Error(err, "Failed to journal rollback")
		}
	}

	// If the bad image is the one running, restart so the loader picks up
	// the restored active slot. If the loader already booted the old
	// active, there is nothing to restart into.
	if bootedSlot != sel.Active() {
		return h.Reboot()
	}
	return nil
}
