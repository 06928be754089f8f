package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"github.com/chassis-manager/config"
	"github.com/chassis-manager/pkg/device"
	"github.com/chassis-manager/pkg/dispatch"
	"github.com/chassis-manager/pkg/ipmi"
)

// readPassword prompts on the terminal without echo.
var readPassword = func(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no password configured and stdin is not a terminal")
	}

	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	return string(b), nil
}

// client is an open session to one target.
type client struct {
	target     *config.TargetConfig
	manager    *ipmi.Manager
	session    *ipmi.Session
	dispatcher *dispatch.Dispatcher
}

func newManager(cfg *config.Config, t *config.TargetConfig) *ipmi.Manager {
	return ipmi.NewManager(
		ipmi.WithTimeout(cfg.Commands.Timeout),
		ipmi.WithVersion(t.ProtocolVersion()),
		ipmi.WithCipherSuite(t.CipherSuite),
		ipmi.WithLogger(logrus.WithField("target", t.Name)),
	)
}

func newDispatcher(cfg *config.Config, opts ...dispatch.Option) *dispatch.Dispatcher {
	d := dispatch.New(opts...)
	device.RegisterCommands(d, cfg.Policy(), cfg.Commands.SocketSettleDelay)
	return d
}

// credentials returns the login of t, prompting for a missing password.
func credentials(t *config.TargetConfig) (ipmi.Credentials, error) {
	creds := t.Credentials()
	if creds.Password != "" {
		return creds, nil
	}

	pw, err := readPassword(fmt.Sprintf("Password for %s@%s: ", t.User, t.Host))
	if err != nil {
		return creds, err
	}
	creds.Password = pw

	return creds, nil
}

// connect opens a session to the selected target.
func (o *options) connect(ctx context.Context) (*client, error) {
	t, err := o.cfg.Target(o.target)
	if err != nil {
		return nil, err
	}

	creds, err := credentials(t)
	if err != nil {
		return nil, err
	}

	m := newManager(o.cfg, t)
	s, err := m.Open(ctx, t.Endpoint(), creds, t.PrivilegeLevel())
	if err != nil {
		return nil, fmt.Errorf("failed to open session to %s: %w", t.Name, err)
	}

	return &client{
		target:     t,
		manager:    m,
		session:    s,
		dispatcher: newDispatcher(o.cfg),
	}, nil
}

func (c *client) Close(ctx context.Context) {
	c.manager.Close(ctx)
}

// withClient runs f with a session that is closed afterwards.
func (o *options) withClient(ctx context.Context, f func(c *client) error) error {
	c, err := o.connect(ctx)
	if err != nil {
		return err
	}
	defer c.Close(ctx)

	return f(c)
}

func (c *client) blade() *device.Blade {
	return device.NewBlade(c.dispatcher, c.session)
}

// fan returns configured fan n.
func (c *client) fan(n uint8) (*device.Fan, error) {
	for _, f := range c.target.Fans {
		if f.Number == n {
			return device.NewFan(c.dispatcher, c.session, f.Number, f.Sensor), nil
		}
	}
	return nil, fmt.Errorf("fan %d is not configured for %s", n, c.target.Name)
}

// socket returns configured AC socket n.
func (c *client) socket(n uint8) (*device.ACSocket, error) {
	for _, s := range c.target.Sockets {
		if s == n {
			return device.NewACSocket(c.dispatcher, c.session, n), nil
		}
	}
	return nil, fmt.Errorf("socket %d is not configured for %s", n, c.target.Name)
}
