package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func fanCmd(ctx context.Context, opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fan",
		Short: "Read and set chassis fan speeds.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:     "get [fan]",
		Short:   "Show the duty cycle of one or all configured fans.",
		Example: "chassis-manager fan get 2",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(ctx, func(c *client) error {
				numbers := make([]uint8, 0, len(c.target.Fans))
				if len(args) == 1 {
					n, err := parseNumber("fan", args[0])
					if err != nil {
						return err
					}
					numbers = append(numbers, n)
				} else {
					for _, f := range c.target.Fans {
						numbers = append(numbers, f.Number)
					}
				}

				for _, n := range numbers {
					fan, err := c.fan(n)
					if err != nil {
						return err
					}

					speed, err := fan.Speed(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Fan %d: %d%%\n", n, speed)
				}

				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "set <fan> <percent>",
		Short:   "Set the duty cycle of a fan.",
		Example: "chassis-manager fan set 2 80",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseNumber("fan", args[0])
			if err != nil {
				return err
			}

			percent, err := strconv.ParseUint(args[1], 10, 8)
			if err != nil || percent > 100 {
				return fmt.Errorf("invalid fan speed %q, expected 0 to 100", args[1])
			}

			return opts.withClient(ctx, func(c *client) error {
				fan, err := c.fan(n)
				if err != nil {
					return err
				}

				if err := fan.SetSpeed(ctx, uint8(percent)); err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Fan %d set to %d%%\n", n, percent)
				return nil
			})
		},
	})

	return cmd
}
