package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/chassis-manager/config"
	"github.com/chassis-manager/simulator"
)

func rootCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "chassis-sim",
		Short: "Simulate a chassis of IPMI managed blades, fans and AC sockets.",
		// Silence because we want to use our logger instead
		SilenceErrors:     true,
		SilenceUsage:      true,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
		Args:              cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFromFile(configFile)
			if err != nil {
				return err
			}
			if cfg.Simulator == nil {
				return fmt.Errorf("%s has no simulator section", configFile)
			}

			logrus.SetLevel(cfg.GetLogLevel())

			if cfg.Simulator.PerBladeAddress() {
				if err := cfg.Simulator.Server.CheckNIC(); err != nil {
					return err
				}
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			// Handle shutdown gracefully
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigChan)

			go func() {
				select {
				case <-sigChan:
					logrus.Info("Shutting down...")
					cancel()
				case <-ctx.Done():
				}
			}()

			sim, err := simulator.New(ctx, cfg.Simulator)
			if err != nil {
				return err
			}

			return sim.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "chassis-sim.yaml",
		"Path to configuration file")

	return cmd
}

func main() {
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		logrus.Fatalf("chassis-sim: %v", err)
	}
}
