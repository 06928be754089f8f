package device

import (
	"context"

	"github.com/chassis-manager/pkg/dispatch"
)

// ACSocket is a switched AC power outlet.
type ACSocket struct {
	device
	number uint8
}

func NewACSocket(exec Executor, s dispatch.Sender, number uint8, opts ...Option) *ACSocket {
	return &ACSocket{
		device: newDevice(exec, s, dispatch.DeviceACSocket, opts),
		number: number,
	}
}

// State returns the relay state.
func (a *ACSocket) State(ctx context.Context) (SocketState, error) {
	rsp, err := a.execute(ctx, &GetSocketStateRequest{Socket: a.number})
	if err != nil {
		return 0, err
	}

	return rsp.(*GetSocketStateResponse).State, nil
}

// On switches the socket on.
func (a *ACSocket) On(ctx context.Context) error {
	return a.set(ctx, SocketOn)
}

// Off switches the socket off. It returns once the relay settle delay has
// passed.
func (a *ACSocket) Off(ctx context.Context) error {
	return a.set(ctx, SocketOff)
}

func (a *ACSocket) set(ctx context.Context, state SocketState) error {
	_, err := a.execute(ctx, &SetSocketStateRequest{Socket: a.number, State: state})
	return err
}
