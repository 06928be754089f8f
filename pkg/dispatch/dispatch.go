// Package dispatch maps IPMI commands to their response shapes and sends them
// through a session under a per command timeout, retry and settle policy.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/chassis-manager/pkg/ipmi"
)

// ErrUnknownOperation is returned for a request whose operation was never
// registered.
var ErrUnknownOperation = errors.New("dispatch: unknown operation")

// DeviceType names the kind of device a command is addressed to.
type DeviceType string

const (
	DeviceFan      DeviceType = "fan"
	DeviceACSocket DeviceType = "ac-socket"
	DeviceBlade    DeviceType = "blade"
)

// Policy controls how a command is sent.
type Policy struct {
	// Timeout bounds each attempt. Zero leaves the session default.
	Timeout time.Duration
	// Retries is how many more times a timed out command is sent.
	Retries int
	// RetryInterval is the pause between attempts.
	RetryInterval time.Duration
	// SettleDelay is waited after a successful completion before returning.
	SettleDelay time.Duration
}

// Sender sends one request on an active session, as *ipmi.Session does.
type Sender interface {
	Send(ctx context.Context, req ipmi.Request) ([]byte, error)
}

// Settler is implemented by requests that only need the settle delay for
// some of their values, such as switching a socket off but not on.
type Settler interface {
	Settles() bool
}

func settles(req ipmi.Request) bool {
	if s, ok := req.(Settler); ok {
		return s.Settles()
	}
	return true
}

type command struct {
	newResponse func() ipmi.Response
	policy      Policy
	overrides   map[DeviceType]Policy
}

func (c *command) policyFor(dt DeviceType) Policy {
	if p, ok := c.overrides[dt]; ok {
		return p
	}
	return c.policy
}

// Dispatcher executes registered commands.
type Dispatcher struct {
	mu       sync.RWMutex
	commands map[ipmi.Operation]*command

	log     *logrus.Entry
	metrics *Metrics
	sleep   func(time.Duration)
}

// Option defines a function type for setting Dispatcher options
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(log *logrus.Entry) Option {
	return func(d *Dispatcher) {
		d.log = log
	}
}

// WithMetrics records every execution in m.
func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// New creates a dispatcher with no registered commands.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		commands: make(map[ipmi.Operation]*command),
		log:      logrus.WithField("component", "dispatch"),
		sleep:    time.Sleep,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Register declares the response shape and default policy of op.
func (d *Dispatcher) Register(op ipmi.Operation, newResponse func() ipmi.Response, p Policy) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.commands[op.Key()] = &command{
		newResponse: newResponse,
		policy:      p,
		overrides:   make(map[DeviceType]Policy),
	}
}

// Override replaces the policy of op for one device type.
func (d *Dispatcher) Override(dt DeviceType, op ipmi.Operation, p Policy) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cmd, ok := d.commands[op.Key()]
	if !ok {
		return fmt.Errorf("%w: %v", ErrUnknownOperation, op)
	}

	cmd.overrides[dt] = p

	return nil
}

// Policy returns the policy applied to op for device type dt.
func (d *Dispatcher) Policy(dt DeviceType, op ipmi.Operation) (Policy, error) {
	cmd, err := d.lookup(op)
	if err != nil {
		return Policy{}, err
	}
	return cmd.policyFor(dt), nil
}

func (d *Dispatcher) lookup(op ipmi.Operation) (*command, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	cmd, ok := d.commands[op.Key()]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownOperation, op)
	}

	return cmd, nil
}

// Execute sends req through s and decodes the reply into the response shape
// registered for its operation. A non-success completion code is returned in
// the response, not as an error. When every attempt times out the response
// carries ipmi.CompletionTimeout and the error wraps ipmi.ErrTimeout.
func (d *Dispatcher) Execute(ctx context.Context, s Sender, dt DeviceType, req ipmi.Request, prio ipmi.Priority) (ipmi.Response, error) {
	op := req.Operation()

	cmd, err := d.lookup(op)
	if err != nil {
		return nil, err
	}

	p := cmd.policyFor(dt)
	ctx = ipmi.WithPriority(ctx, prio)

	log := d.log.WithFields(logrus.Fields{
		"device":   dt,
		"command":  op.String(),
		"priority": prio,
	})

	retry := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.RetryInterval), uint64(p.Retries)),
		ctx,
	)

	start := time.Now()
	attempts := 0

	var last error
	data, err := backoff.RetryNotifyWithData(func() ([]byte, error) {
		attempts++
		data, err := d.attempt(ctx, s, req, p.Timeout)
		last = err
		return data, err
	}, retry, func(err error, next time.Duration) {
		d.metrics.retried(dt, op)
		log.WithError(err).Debugf("Retrying in %v", next)
	})

	// A context ending between attempts still reports the timeout.
	if err != nil && errors.Is(last, ipmi.ErrTimeout) {
		err = last
	}

	if errors.Is(err, ipmi.ErrTimeout) {
		rsp := cmd.newResponse()
		rsp.UnmarshalBinary([]byte{uint8(ipmi.CompletionTimeout)})
		d.metrics.observe(dt, op, rsp.Code(), time.Since(start))

		return rsp, fmt.Errorf("%v timed out after %d attempts: %w", op, attempts, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to send %v: %w", op, err)
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %v response carries no completion code", ipmi.ErrInvalidPacket, op)
	}

	rsp := cmd.newResponse()
	if err := rsp.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("failed to decode %v response: %w", op, err)
	}

	d.metrics.observe(dt, op, rsp.Code(), time.Since(start))

	if !rsp.Code().Success() {
		log.Debugf("Command completed with: %v", rsp.Code())
		return rsp, nil
	}

	if p.SettleDelay > 0 && settles(req) {
		log.Debugf("Waiting %v for the device to settle", p.SettleDelay)
		d.sleep(p.SettleDelay)
	}

	return rsp, nil
}

// attempt sends req once. Only timeouts are left retryable.
func (d *Dispatcher) attempt(ctx context.Context, s Sender, req ipmi.Request, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	data, err := s.Send(ctx, req)
	if err != nil && !errors.Is(err, ipmi.ErrTimeout) {
		return nil, backoff.Permanent(err)
	}

	return data, err
}
