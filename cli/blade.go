package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chassis-manager/pkg/device"
)

func bladeCmd(ctx context.Context, opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blade",
		Short: "Control blade power.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:     "status",
		Short:   "Show the chassis power status.",
		Example: "chassis-manager blade status -t blade1",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(ctx, func(c *client) error {
				status, err := c.blade().Status(ctx)
				if err != nil {
					return err
				}

				power := "off"
				if status.PoweredOn() {
					power = "on"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Chassis power is %s\n", power)

				return nil
			})
		},
	})

	actions := []struct {
		use     string
		short   string
		control device.ChassisControl
	}{
		{"on", "Power the blade up.", device.ControlPowerUp},
		{"off", "Power the blade down.", device.ControlPowerDown},
		{"cycle", "Power the blade off and on again.", device.ControlPowerCycle},
		{"reset", "Hard reset the blade.", device.ControlHardReset},
		{"soft", "Ask the operating system to shut down.", device.ControlSoftShutdown},
	}

	for _, a := range actions {
		cmd.AddCommand(&cobra.Command{
			Use:   a.use,
			Short: a.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.withClient(ctx, func(c *client) error {
					if err := c.blade().Control(ctx, a.control); err != nil {
						return err
					}

					fmt.Fprintf(cmd.OutOrStdout(), "Chassis control: %v\n", a.control)
					return nil
				})
			},
		})
	}

	cmd.AddCommand(bootCmd(ctx, opts))

	return cmd
}

func bootCmd(ctx context.Context, opts *options) *cobra.Command {
	var persistent bool

	cmd := &cobra.Command{
		Use:     "boot <none|pxe|disk|cdrom|floppy>",
		Short:   "Set the boot device of the next boot.",
		Example: "chassis-manager blade boot pxe --persistent",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, err := device.ParseBootDevice(args[0])
			if err != nil {
				return err
			}

			return opts.withClient(ctx, func(c *client) error {
				if err := c.blade().SetBootDevice(ctx, dev, persistent); err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Boot device set to %v\n", dev)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&persistent, "persistent", false,
		"Keep the boot device for all future boots")

	return cmd
}
