// Package device issues the IPMI commands of chassis peripherals: fans, AC
// power sockets and blade power control.
package device

import (
	"context"
	"fmt"
	"time"

	"github.com/chassis-manager/pkg/dispatch"
	"github.com/chassis-manager/pkg/ipmi"
)

// Executor runs a request on a session, as *dispatch.Dispatcher does.
type Executor interface {
	Execute(ctx context.Context, s dispatch.Sender, dt dispatch.DeviceType, req ipmi.Request, prio ipmi.Priority) (ipmi.Response, error)
}

// RegisterCommands declares every device command on d. Switching a socket
// off waits settle after the controller acknowledges it.
func RegisterCommands(d *dispatch.Dispatcher, p dispatch.Policy, settle time.Duration) {
	d.Register(ipmi.OpGetDeviceID, func() ipmi.Response { return &ipmi.GetDeviceIDResponse{} }, p)
	d.Register(OpGetChassisStatus, func() ipmi.Response { return &GetChassisStatusResponse{} }, p)
	d.Register(OpChassisControl, func() ipmi.Response { return &StatusResponse{} }, p)
	d.Register(OpSetBootOptions, func() ipmi.Response { return &StatusResponse{} }, p)
	d.Register(OpGetSensorReading, func() ipmi.Response { return &GetSensorReadingResponse{} }, p)
	d.Register(OpSetFanSpeed, func() ipmi.Response { return &StatusResponse{} }, p)
	d.Register(OpGetSocketState, func() ipmi.Response { return &GetSocketStateResponse{} }, p)
	d.Register(OpSetSocketState, func() ipmi.Response { return &StatusResponse{} }, p)

	off := p
	off.SettleDelay = settle
	// Registered just above.
	_ = d.Override(dispatch.DeviceACSocket, OpSetSocketState, off)
}

// Option configures a device.
type Option func(*device)

// WithPriority sets the priority of every command the device sends.
func WithPriority(p ipmi.Priority) Option {
	return func(d *device) {
		d.priority = p
	}
}

type device struct {
	exec     Executor
	sender   dispatch.Sender
	kind     dispatch.DeviceType
	priority ipmi.Priority
}

func newDevice(exec Executor, s dispatch.Sender, kind dispatch.DeviceType, opts []Option) device {
	d := device{
		exec:     exec,
		sender:   s,
		kind:     kind,
		priority: ipmi.PriorityUser,
	}

	for _, opt := range opts {
		opt(&d)
	}

	return d
}

// execute runs req and turns a non-success completion code into an error.
func (d *device) execute(ctx context.Context, req ipmi.Request) (ipmi.Response, error) {
	rsp, err := d.exec.Execute(ctx, d.sender, d.kind, req, d.priority)
	if err != nil {
		return nil, err
	}

	if cc := rsp.Code(); !cc.Success() {
		return rsp, fmt.Errorf("%v: %w", req.Operation(), cc)
	}

	return rsp, nil
}
