// Package app builds the updrift-agent command: flag parsing, config file
// merging, runtime log-level reloads, and the agent run loop.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/updrift-io/updrift/cmd/updrift-agent/app/options"
	"github.com/updrift-io/updrift/pkg/log"
)

const commandDesc = `The updrift agent runs on the device. It owns the A/B slot layout,
executes update commands received over MQTT, verifies every image before the
boot record may name it, and confirms or rolls back pending updates at boot.`

// NewAgentCommand builds the root cobra command.
func NewAgentCommand() *cobra.Command {
	opts := options.NewAgentOptions()
	var configFile string

	cmd := &cobra.Command{
		Use:           "updrift-agent",
		Short:         "Run the updrift device agent",
		Long:          commandDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configFile != "" {
				if err := loadConfigFile(configFile, opts); err != nil {
					return err
				}
			}

			log.Init(opts.Log)
			defer log.Sync()

			if errs := opts.Validate(); len(errs) > 0 {
				return fmt.Errorf("invalid options: %v", errs)
			}

			ctx, stop := signal.NotifyContext(context.Background(),
				os.Interrupt, syscall.SIGTERM)
			defer stop()

			if configFile != "" {
				stopWatch, err := watchConfigFile(configFile, opts)
				if err != nil {
					log.Warn("Config file watch disabled", "err", err)
				} else {
					defer stopWatch()
				}
			}

			agent, err := opts.Config().NewAgent()
			if err != nil {
				return fmt.Errorf("failed to create agent: %w", err)
			}

			return agent.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to the agent config file (YAML).")
	opts.AddFlags(cmd.Flags())
	return cmd
}

// loadConfigFile merges a YAML config file under the flag defaults. Flags set
// on the command line keep precedence because they are written after the
// unmarshal by pflag itself.
func loadConfigFile(path string, opts *options.AgentOptions) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := v.Unmarshal(opts); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// watchConfigFile reapplies the log options when the config file changes, so
// operators can raise the log level on a live agent. Other option groups
// need a restart.
func watchConfigFile(path string, opts *options.AgentOptions) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != path || !event.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				if err := loadConfigFile(path, opts); err != nil {
					log.Error(err, "Failed to reload config file")
					continue
				}
				log.Init(opts.Log)
				log.Info("Reloaded logging options from config file", "path", path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Error(err, "Config watcher error")
			}
		}
	}()

	return func() { watcher.Close() }, nil
}
