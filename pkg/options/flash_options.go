package options

import (
	"errors"

	"github.com/spf13/pflag"
)

var _ IOptions = (*FlashOptions)(nil)

// FlashOptions locates the flash backing store and the partition layout
// table the catalog discovers slots from.
type FlashOptions struct {
	// ImagePath is the file backing the flash device on host deployments.
	ImagePath string `json:"image-path" mapstructure:"image-path"`

	// LayoutPath is the YAML partition table describing the slot layout.
	LayoutPath string `json:"layout-path" mapstructure:"layout-path"`

	// RunningSlot is the label of the slot the current firmware booted from.
	// On real hardware this comes from the loader; on hosts it is configured.
	RunningSlot string `json:"running-slot" mapstructure:"running-slot"`
}

func NewFlashOptions() *FlashOptions {
	return &FlashOptions{
		ImagePath:   "/var/lib/updrift/flash.img",
		LayoutPath:  "/etc/updrift/partitions.yaml",
		RunningSlot: "ota_0",
	}
}

// Validate checks the option values entered on the command line.
func (o *FlashOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}
	if o.LayoutPath == "" {
		errs = append(errs, errors.New("flash layout path is required"))
	}
	if o.RunningSlot == "" {
		errs = append(errs, errors.New("running slot label is required"))
	}
	return errs
}

func (o *FlashOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.ImagePath, "flash.image-path", o.ImagePath, "File backing the flash device.")
	fs.StringVar(&o.LayoutPath, "flash.layout-path", o.LayoutPath, "YAML partition table describing the slot layout.")
	fs.StringVar(&o.RunningSlot, "flash.running-slot", o.RunningSlot, "Label of the slot the current firmware booted from.")
}
