package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/chassis-manager/pkg/ipmi"
)

func pingCmd(ctx context.Context, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "ping",
		Short:   "Send an RMCP presence ping to the target.",
		Example: "chassis-manager ping -t chassis1",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := opts.cfg.Target(opts.target)
			if err != nil {
				return err
			}

			m := newManager(opts.cfg, t)
			p, err := m.Ping(ctx, t.Endpoint())
			if err != nil {
				return fmt.Errorf("no answer from %s: %w", t.Endpoint(), err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s is present\n", t.Endpoint())
			fmt.Fprintf(out, "  IANA enterprise: %d\n", p.Enterprise)
			fmt.Fprintf(out, "  IPMI:            %t\n", p.IPMI)
			fmt.Fprintf(out, "  ASF v1.0:        %t\n", p.ASFv1)

			return nil
		},
	}
}

func sessionCmd(ctx context.Context, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "session",
		Short:   "Open a session and show what was negotiated.",
		Example: "chassis-manager session -t chassis1",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(ctx, func(c *client) error {
				s := c.session
				out := cmd.OutOrStdout()

				fmt.Fprintf(out, "Session %#08x to %s\n", s.ID(), s.Target())
				fmt.Fprintf(out, "  Version:   %v\n", s.Version())
				if s.Version() == ipmi.Version20 {
					fmt.Fprintf(out, "  Cipher:    %v\n", s.CipherSuite())
				} else {
					fmt.Fprintf(out, "  Auth type: %v\n", s.AuthType())
				}
				fmt.Fprintf(out, "  Privilege: %v\n", s.Privilege())

				id, err := c.blade().DeviceID(ctx)
				if err != nil {
					return err
				}

				fmt.Fprintf(out, "  Device ID: %#02x rev %d, firmware %d.%02x, IPMI %d.%d\n",
					id.DeviceID, id.DeviceRevision&0x0f,
					id.FirmwareRevision1&0x7f, id.FirmwareRevision2,
					id.IPMIVersion&0x0f, id.IPMIVersion>>4)

				return nil
			})
		},
	}
}

// parseNumber parses a fan or socket number.
func parseNumber(what, s string) (uint8, error) {
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid %s number %q", what, s)
	}
	return uint8(n), nil
}
