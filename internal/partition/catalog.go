// Package partition enumerates the fixed firmware storage regions and
// resolves which slot an update may target.
package partition

import (
	"errors"
	"fmt"

	"github.com/updrift-io/updrift/internal/flash"
)

// Role describes a firmware slot's relationship to the running image.
type Role int

const (
	RoleUnknown Role = iota
	RoleRunning
	RoleAlternate
)

func (r Role) String() string {
	switch r {
	case RoleRunning:
		return "running"
	case RoleAlternate:
		return "alternate"
	default:
		return "unknown"
	}
}

// ErrNoAlternateSlot is returned when no target slot can be resolved for an
// update: a single-slot layout, or a layout without a boot-control region.
// Fatal to updates, not to boot.
var ErrNoAlternateSlot = errors.New("partition: no alternate slot available")

// ErrSlotNotFound is returned when a label names no known slot.
var ErrSlotNotFound = errors.New("partition: slot not found")

// Slot is one fixed-size flash region capable of holding a bootable image.
// Immutable after discovery; all components share it read-only.
type Slot struct {
	Label string
	Type  string
	Base  uint64
	Size  uint64
	Role  Role
}

// Catalog holds the slots discovered from the partition layout.
// Discovery happens once at startup.
type Catalog struct {
	slots    []Slot
	running  Slot
	bootCtl  Slot
	hasBoot  bool
	firmware []Slot
}

// Discover scans the layout once against the device and classifies every
// region. runningLabel names the firmware slot the current image booted
// from; it must be a firmware-role entry.
func Discover(dev flash.Device, layout *Layout, runningLabel string) (*Catalog, error) {
	c := &Catalog{}

	for _, e := range layout.Partitions {
		if e.Base+e.Size > dev.Size() {
			return nil, fmt.Errorf("partition: %s exceeds device capacity", e.Label)
		}

		s := Slot{Label: e.Label, Type: e.Type, Base: e.Base, Size: e.Size}
		switch e.Type {
		case TypeFirmware:
			if e.Label == runningLabel {
				s.Role = RoleRunning
			} else {
				s.Role = RoleAlternate
			}
			c.firmware = append(c.firmware, s)
		case TypeBootControl:
			c.bootCtl = s
			c.hasBoot = true
		}
		c.slots = append(c.slots, s)
	}

	running, ok := c.findFirmware(runningLabel)
	if !ok {
		return nil, fmt.Errorf("partition: running slot %q not in layout: %w", runningLabel, ErrSlotNotFound)
	}
	c.running = running

	return c, nil
}

// Slots returns every discovered region, firmware or not.
func (c *Catalog) Slots() []Slot {
	out := make([]Slot, len(c.slots))
	copy(out, c.slots)
	return out
}

// Running returns the slot the current firmware booted from.
func (c *Catalog) Running() Slot {
	return c.running
}

// BootControl returns the boot selector's persisted region, if the layout
// has one.
func (c *Catalog) BootControl() (Slot, bool) {
	return c.bootCtl, c.hasBoot
}

// Lookup resolves a slot by label.
func (c *Catalog) Lookup(label string) (Slot, error) {
	for _, s := range c.slots {
		if s.Label == label {
			return s, nil
		}
	}
	return Slot{}, fmt.Errorf("%w: %q", ErrSlotNotFound, label)
}

// AlternateFor resolves the update target for the given slot: any firmware
// slot other than it. Fails with ErrNoAlternateSlot on single-slot layouts
// and on layouts without a boot-control region, since an update could never
// be committed there.
func (c *Catalog) AlternateFor(s Slot) (Slot, error) {
	if !c.hasBoot {
		return Slot{}, fmt.Errorf("%w: layout has no boot-control region", ErrNoAlternateSlot)
	}
	for _, fw := range c.firmware {
		if fw.Label != s.Label {
			return fw, nil
		}
	}
	return Slot{}, ErrNoAlternateSlot
}

func (c *Catalog) findFirmware(label string) (Slot, bool) {
	for _, s := range c.firmware {
		if s.Label == label {
			return s, true
		}
	}
	return Slot{}, false
}
