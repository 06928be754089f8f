package device

import (
	"context"

	"github.com/chassis-manager/pkg/dispatch"
	"github.com/chassis-manager/pkg/ipmi"
)

// Blade is a server blade behind its own management controller.
type Blade struct {
	device
}

func NewBlade(exec Executor, s dispatch.Sender, opts ...Option) *Blade {
	return &Blade{
		device: newDevice(exec, s, dispatch.DeviceBlade, opts),
	}
}

// Status returns the chassis power status.
func (b *Blade) Status(ctx context.Context) (*GetChassisStatusResponse, error) {
	rsp, err := b.execute(ctx, &GetChassisStatusRequest{})
	if err != nil {
		return nil, err
	}

	return rsp.(*GetChassisStatusResponse), nil
}

// Control requests a power action.
func (b *Blade) Control(ctx context.Context, c ChassisControl) error {
	_, err := b.execute(ctx, &ChassisControlRequest{Control: c})
	return err
}

func (b *Blade) PowerOn(ctx context.Context) error {
	return b.Control(ctx, ControlPowerUp)
}

func (b *Blade) PowerOff(ctx context.Context) error {
	return b.Control(ctx, ControlPowerDown)
}

func (b *Blade) PowerCycle(ctx context.Context) error {
	return b.Control(ctx, ControlPowerCycle)
}

func (b *Blade) Reset(ctx context.Context) error {
	return b.Control(ctx, ControlHardReset)
}

// SetBootDevice overrides the device used on the next boot.
func (b *Blade) SetBootDevice(ctx context.Context, dev BootDevice, persistent bool) error {
	flags := uint8(BootFlagsValid)
	if persistent {
		flags |= BootFlagsPersistent
	}

	_, err := b.execute(ctx, &SetBootOptionsRequest{
		Parameter: BootParamBootFlags,
		Flags:     flags,
		Device:    dev,
	})
	return err
}

// DeviceID identifies the blade's controller.
func (b *Blade) DeviceID(ctx context.Context) (*ipmi.GetDeviceIDResponse, error) {
	rsp, err := b.execute(ctx, &ipmi.GetDeviceIDRequest{})
	if err != nil {
		return nil, err
	}

	return rsp.(*ipmi.GetDeviceIDResponse), nil
}
