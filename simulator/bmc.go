package simulator

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/chassis-manager/pkg/device"
	"github.com/chassis-manager/pkg/ipmi"
)

// BMC is the management controller of one simulated blade. Besides the
// blade's own power it serves the shared chassis peripherals.
type BMC struct {
	name      string
	power     Power
	chassis   *Chassis
	responder *ipmi.Responder
	log       *logrus.Entry
}

// NewBMC creates the controller of blade name. opts configure its session
// layer: users, BMC key and cipher suites.
func NewBMC(name string, power Power, chassis *Chassis, opts ...ipmi.ResponderOption) *BMC {
	log := logrus.WithField("blade", name)

	b := &BMC{
		name:      name,
		power:     power,
		chassis:   chassis,
		responder: ipmi.NewResponder(append([]ipmi.ResponderOption{ipmi.WithResponderLogger(log)}, opts...)...),
		log:       log,
	}

	b.responder.Handle(ipmi.OpGetDeviceID, b.handleGetDeviceID)
	b.responder.Handle(device.OpGetChassisStatus, b.handleGetChassisStatus)
	b.responder.Handle(device.OpChassisControl, b.handleChassisControl)
	b.responder.Handle(device.OpSetBootOptions, b.handleSetBootOptions)

	if chassis != nil {
		chassis.register(b.responder)
	}

	return b
}

// Name returns the blade name.
func (b *BMC) Name() string {
	return b.name
}

// Responder returns the session layer answering for the blade.
func (b *BMC) Responder() *ipmi.Responder {
	return b.responder
}

func (b *BMC) handleGetDeviceID(context.Context, []byte) []byte {
	return encode(&ipmi.GetDeviceIDResponse{
		DeviceID:                0x20,
		DeviceRevision:          0x01,
		FirmwareRevision1:       0x01,
		FirmwareRevision2:       0x00,
		IPMIVersion:             0x51,
		AdditionalDeviceSupport: 0x01, // Sensor device
		ManufacturerID:          0x0001bf,
		ProductID:               0x0100,
	})
}

func (b *BMC) handleGetChassisStatus(ctx context.Context, _ []byte) []byte {
	b.log.Debug("Getting chassis status")

	on, err := b.power.PoweredOn(ctx)
	if err != nil {
		b.log.Errorf("Failed to get power state: %v", err)
		return completion(ipmi.CompletionUnspecified)
	}

	rsp := &device.GetChassisStatusResponse{}
	if on {
		rsp.PowerState = device.PowerStateOn
	}

	return encode(rsp)
}

func (b *BMC) handleChassisControl(ctx context.Context, data []byte) []byte {
	if len(data) < 1 {
		return completion(ipmi.CompletionRequestDataInvalid)
	}

	var req device.ChassisControlRequest
	req.UnmarshalBinary(data)

	return completion(b.control(ctx, req.Control))
}

// control applies a chassis control action to the blade.
func (b *BMC) control(ctx context.Context, c device.ChassisControl) ipmi.CompletionCode {
	b.log.Infof("Chassis control: %v", c)

	var err error
	switch c {
	case device.ControlPowerDown, device.ControlSoftShutdown:
		err = b.power.PowerOff(ctx)
	case device.ControlPowerUp:
		err = b.power.PowerOn(ctx)
	case device.ControlHardReset:
		err = b.power.Reset(ctx)
	case device.ControlPowerCycle:
		// Power cycle is implemented as power off followed by power on
		if err = b.power.PowerOff(ctx); err == nil {
			err = b.power.PowerOn(ctx)
		}
	default:
		b.log.Warnf("Unsupported chassis control command: %v", c)
		return ipmi.CompletionInvalidDataField
	}

	if err != nil {
		b.log.Errorf("Failed to %v: %v", c, err)
		return ipmi.CompletionUnspecified
	}

	return ipmi.CompletionOK
}

func (b *BMC) handleSetBootOptions(ctx context.Context, data []byte) []byte {
	if len(data) < 1 {
		return completion(ipmi.CompletionRequestDataInvalid)
	}

	var req device.SetBootOptionsRequest
	req.UnmarshalBinary(data)

	// Only the boot flags parameter changes anything
	if req.Parameter != device.BootParamBootFlags || req.Flags&device.BootFlagsValid == 0 {
		return completion(ipmi.CompletionOK)
	}

	if err := b.power.SetBootDevice(ctx, req.Device); err != nil {
		b.log.Errorf("Failed to set boot device: %v", err)
		return completion(ipmi.CompletionInvalidDataField)
	}

	b.log.Infof("Next boot from %v", req.Device)

	return completion(ipmi.CompletionOK)
}
