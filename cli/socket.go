package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chassis-manager/pkg/device"
)

func socketCmd(ctx context.Context, opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "socket",
		Short: "Switch AC power sockets.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:     "get [socket]",
		Short:   "Show the state of one or all configured sockets.",
		Example: "chassis-manager socket get 1",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(ctx, func(c *client) error {
				numbers := c.target.Sockets
				if len(args) == 1 {
					n, err := parseNumber("socket", args[0])
					if err != nil {
						return err
					}
					numbers = []uint8{n}
				}

				for _, n := range numbers {
					socket, err := c.socket(n)
					if err != nil {
						return err
					}

					state, err := socket.State(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Socket %d: %v\n", n, state)
				}

				return nil
			})
		},
	})

	for _, state := range []device.SocketState{device.SocketOn, device.SocketOff} {
		cmd.AddCommand(&cobra.Command{
			Use:     fmt.Sprintf("%v <socket>", state),
			Short:   fmt.Sprintf("Switch a socket %v.", state),
			Example: fmt.Sprintf("chassis-manager socket %v 1", state),
			Args:    cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := parseNumber("socket", args[0])
				if err != nil {
					return err
				}

				return opts.withClient(ctx, func(c *client) error {
					socket, err := c.socket(n)
					if err != nil {
						return err
					}

					if state == device.SocketOn {
						err = socket.On(ctx)
					} else {
						err = socket.Off(ctx)
					}
					if err != nil {
						return err
					}

					fmt.Fprintf(cmd.OutOrStdout(), "Socket %d switched %v\n", n, state)
					return nil
				})
			},
		})
	}

	return cmd
}
