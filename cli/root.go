// Package cli implements the chassis-manager command line.
package cli

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/chassis-manager/config"
)

// options are shared by every command.
type options struct {
	configFile string
	target     string
	logLevel   string
	cfg        *config.Config
}

func RootCmd(ctx context.Context) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "chassis-manager",
		Short: "Manage blades, fans and AC sockets of a chassis over IPMI.",
		// Silence because we want to use our logger instead
		SilenceErrors:     true,
		SilenceUsage:      true,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || !cmd.HasParent() {
				return nil
			}
			return opts.load()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().BoolP("help", "h", false,
		"Help information about a command")
	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "chassis.yaml",
		"Path to configuration file")
	cmd.PersistentFlags().StringVarP(&opts.target, "target", "t", "",
		"Name of the target to manage (defaults to the first configured one)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "",
		"Log level, overrides the configuration (debug, info, warn, error)")

	cmd.AddCommand(pingCmd(ctx, opts))
	cmd.AddCommand(sessionCmd(ctx, opts))
	cmd.AddCommand(bladeCmd(ctx, opts))
	cmd.AddCommand(fanCmd(ctx, opts))
	cmd.AddCommand(socketCmd(ctx, opts))
	cmd.AddCommand(monitorCmd(ctx, opts))

	cmd.InitDefaultHelpCmd()

	return cmd
}

// load reads the configuration file and sets up logging.
func (o *options) load() error {
	cfg, err := config.LoadFromFile(o.configFile)
	if err != nil {
		return err
	}
	o.cfg = cfg

	level := cfg.GetLogLevel()
	if o.logLevel != "" {
		if level, err = logrus.ParseLevel(o.logLevel); err != nil {
			return fmt.Errorf("invalid --log-level: %w", err)
		}
	}
	logrus.SetLevel(level)

	return nil
}
