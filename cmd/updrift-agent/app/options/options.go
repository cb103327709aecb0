// Package options aggregates every option group the agent binary exposes.
package options

import (
	"github.com/spf13/pflag"

	"github.com/updrift-io/updrift/internal/agent"
	"github.com/updrift-io/updrift/pkg/log"
	"github.com/updrift-io/updrift/pkg/options"
)

// AgentOptions is the full flag surface of updrift-agent. Field names match
// the config file sections viper merges in.
type AgentOptions struct {
	Mqtt  *options.MqttOptions  `json:"mqtt" mapstructure:"mqtt"`
	Http  *options.HttpOptions  `json:"http" mapstructure:"http"`
	S3    *options.S3Options    `json:"s3" mapstructure:"s3"`
	Flash *options.FlashOptions `json:"flash" mapstructure:"flash"`
	Ota   *options.OtaOptions   `json:"ota" mapstructure:"ota"`
	Log   *log.Options          `json:"log" mapstructure:"log"`
}

func NewAgentOptions() *AgentOptions {
	return &AgentOptions{
		Mqtt:  options.NewMqttOptions(),
		Http:  options.NewHttpOptions(),
		S3:    options.NewS3Options(),
		Flash: options.NewFlashOptions(),
		Ota:   options.NewOtaOptions(),
		Log:   log.NewOptions(),
	}
}

// AddFlags registers every option group on the command's flag set.
func (o *AgentOptions) AddFlags(fs *pflag.FlagSet) {
	o.Mqtt.AddFlags(fs)
	o.Http.AddFlags(fs)
	o.S3.AddFlags(fs)
	o.Flash.AddFlags(fs)
	o.Ota.AddFlags(fs)
	o.Log.AddFlags(fs)
}

// Validate collects validation errors from every option group.
func (o *AgentOptions) Validate() []error {
	errs := []error{}
	errs = append(errs, o.Mqtt.Validate()...)
	errs = append(errs, o.Http.Validate()...)
	errs = append(errs, o.S3.Validate()...)
	errs = append(errs, o.Flash.Validate()...)
	errs = append(errs, o.Ota.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return errs
}

// Config builds the agent wiring config from the validated options.
func (o *AgentOptions) Config() *agent.Config {
	return &agent.Config{
		Mqtt:  o.Mqtt,
		Http:  o.Http,
		S3:    o.S3,
		Flash: o.Flash,
		Ota:   o.Ota,
	}
}
