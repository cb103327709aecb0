package options

import (
	"errors"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*OtaOptions)(nil)

// OtaOptions configures the update manager's durable state and the boot-time
// health confirmation window.
type OtaOptions struct {
	// DataDir holds the boot record copies and the update history journal.
	DataDir string `json:"data-dir" mapstructure:"data-dir"`

	// HealthCheckDelay is how long after boot the agent runs its health
	// self-check before confirming a pending image.
	HealthCheckDelay time.Duration `json:"health-check-delay" mapstructure:"health-check-delay"`

	// ReceiveTimeout bounds how long the fetcher waits for the next chunk of
	// the firmware stream before aborting the session.
	ReceiveTimeout time.Duration `json:"receive-timeout" mapstructure:"receive-timeout"`
}

func NewOtaOptions() *OtaOptions {
	return &OtaOptions{
		DataDir:          "/var/lib/updrift",
		HealthCheckDelay: 10 * time.Second,
		ReceiveTimeout:   10 * time.Second,
	}
}

// Validate checks the option values entered on the command line.
func (o *OtaOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}
	if o.DataDir == "" {
		errs = append(errs, errors.New("ota data dir is required"))
	}
	if o.ReceiveTimeout <= 0 {
		errs = append(errs, errors.New("ota receive timeout must be positive"))
	}
	return errs
}

func (o *OtaOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.DataDir, "ota.data-dir", o.DataDir, "Directory holding the boot record and update history.")
	fs.DurationVar(&o.HealthCheckDelay, "ota.health-check-delay", o.HealthCheckDelay, "Delay before the post-boot health self-check.")
	fs.DurationVar(&o.ReceiveTimeout, "ota.receive-timeout", o.ReceiveTimeout, "Receive timeout for the firmware byte stream.")
}
