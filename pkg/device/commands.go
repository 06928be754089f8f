package device

import (
	"errors"
	"fmt"

	"github.com/chassis-manager/pkg/codec"
	"github.com/chassis-manager/pkg/ipmi"
)

// ErrInvalidSpeed is returned for a fan duty cycle above 100 percent.
var ErrInvalidSpeed = errors.New("device: fan speed must be between 0 and 100 percent")

// Chassis and sensor commands
const (
	CommandGetChassisStatus = 0x01
	CommandChassisControl   = 0x02
	CommandSetBootOptions   = 0x08
	CommandGetSensorReading = 0x2d
)

// OEM commands of the chassis controller
const (
	CommandSetFanSpeed    = 0x15
	CommandGetSocketState = 0x20
	CommandSetSocketState = 0x21
)

var (
	OpGetChassisStatus = ipmi.Operation{NetFn: ipmi.NetFnChassis, Command: CommandGetChassisStatus, Name: "Get Chassis Status"}
	OpChassisControl   = ipmi.Operation{NetFn: ipmi.NetFnChassis, Command: CommandChassisControl, Name: "Chassis Control"}
	OpSetBootOptions   = ipmi.Operation{NetFn: ipmi.NetFnChassis, Command: CommandSetBootOptions, Name: "Set System Boot Options"}
	OpGetSensorReading = ipmi.Operation{NetFn: ipmi.NetFnSensorEvent, Command: CommandGetSensorReading, Name: "Get Sensor Reading"}
	OpSetFanSpeed      = ipmi.Operation{NetFn: ipmi.NetFnOEM, Command: CommandSetFanSpeed, Name: "Set Fan Speed"}
	OpGetSocketState   = ipmi.Operation{NetFn: ipmi.NetFnOEM, Command: CommandGetSocketState, Name: "Get Socket State"}
	OpSetSocketState   = ipmi.Operation{NetFn: ipmi.NetFnOEM, Command: CommandSetSocketState, Name: "Set Socket State"}
)

// ChassisControl is the action requested by a Chassis Control command.
type ChassisControl uint8

// Chassis Control actions per section 28.3
const (
	ControlPowerDown ChassisControl = iota
	ControlPowerUp
	ControlPowerCycle
	ControlHardReset
	ControlDiagnosticInterrupt
	ControlSoftShutdown
)

func (c ChassisControl) String() string {
	switch c {
	case ControlPowerDown:
		return "power down"
	case ControlPowerUp:
		return "power up"
	case ControlPowerCycle:
		return "power cycle"
	case ControlHardReset:
		return "hard reset"
	case ControlDiagnosticInterrupt:
		return "diagnostic interrupt"
	case ControlSoftShutdown:
		return "soft shutdown"
	default:
		return fmt.Sprintf("ChassisControl(%d)", uint8(c))
	}
}

// BootDevice is the boot device selector of the boot flags parameter.
type BootDevice uint8

// Boot device selectors per section 28.13, parameter 5 data 2
const (
	BootDeviceNone   BootDevice = 0x00
	BootDevicePXE    BootDevice = 0x04
	BootDeviceDisk   BootDevice = 0x08
	BootDeviceCDROM  BootDevice = 0x14
	BootDeviceFloppy BootDevice = 0x3c
)

func (d BootDevice) String() string {
	switch d {
	case BootDeviceNone:
		return "none"
	case BootDevicePXE:
		return "pxe"
	case BootDeviceDisk:
		return "disk"
	case BootDeviceCDROM:
		return "cdrom"
	case BootDeviceFloppy:
		return "floppy"
	default:
		return fmt.Sprintf("BootDevice(%#02x)", uint8(d))
	}
}

// ParseBootDevice maps a device name to its selector.
func ParseBootDevice(s string) (BootDevice, error) {
	for _, d := range []BootDevice{BootDeviceNone, BootDevicePXE, BootDeviceDisk, BootDeviceCDROM, BootDeviceFloppy} {
		if d.String() == s {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown boot device %q", s)
}

// SocketState is the relay state of an AC socket.
type SocketState uint8

const (
	SocketOff SocketState = 0x00
	SocketOn  SocketState = 0x01
)

func (s SocketState) String() string {
	switch s {
	case SocketOff:
		return "off"
	case SocketOn:
		return "on"
	default:
		return fmt.Sprintf("SocketState(%#02x)", uint8(s))
	}
}

// Sensor reading flags per section 35.14
const (
	SensorEventMessagesEnabled = 0x80
	SensorScanningEnabled      = 0x40
	SensorReadingUnavailable   = 0x20
)

// GetSensorReadingRequest per section 35.14
type GetSensorReadingRequest struct {
	SensorNumber uint8
}

var getSensorReadingRequestSchema = codec.NewSchema(
	codec.Uint("sensor number", 0, 1, func(r *GetSensorReadingRequest) *uint8 { return &r.SensorNumber }),
)

func (*GetSensorReadingRequest) Operation() ipmi.Operation {
	return OpGetSensorReading
}

func (r *GetSensorReadingRequest) MarshalBinary() ([]byte, error) {
	return getSensorReadingRequestSchema.Encode(r)
}

func (r *GetSensorReadingRequest) UnmarshalBinary(b []byte) error {
	getSensorReadingRequestSchema.Decode(b, r)
	return nil
}

// GetSensorReadingResponse per section 35.14
type GetSensorReadingResponse struct {
	ipmi.Completion
	Reading uint8
	Flags   uint8
	State   uint8
}

var getSensorReadingResponseSchema = codec.NewSchema(
	ipmi.CompletionField(func(r *GetSensorReadingResponse) *ipmi.Completion { return &r.Completion }),
	codec.Uint("reading", 1, 1, func(r *GetSensorReadingResponse) *uint8 { return &r.Reading }),
	codec.Uint("flags", 2, 1, func(r *GetSensorReadingResponse) *uint8 { return &r.Flags }),
	codec.Uint("state", 3, 1, func(r *GetSensorReadingResponse) *uint8 { return &r.State }),
)

func (r *GetSensorReadingResponse) MarshalBinary() ([]byte, error) {
	return getSensorReadingResponseSchema.Encode(r)
}

func (r *GetSensorReadingResponse) UnmarshalBinary(b []byte) error {
	getSensorReadingResponseSchema.Decode(b, r)
	return nil
}

// Available reports whether the reading byte holds a valid value.
func (r *GetSensorReadingResponse) Available() bool {
	return r.Flags&SensorReadingUnavailable == 0
}

// SetFanSpeedRequest sets the PWM duty cycle of one fan.
type SetFanSpeedRequest struct {
	Fan     uint8
	Percent uint8
}

var setFanSpeedRequestSchema = codec.NewSchema(
	codec.Uint("fan", 0, 1, func(r *SetFanSpeedRequest) *uint8 { return &r.Fan }),
	codec.Uint("percent", 1, 1, func(r *SetFanSpeedRequest) *uint8 { return &r.Percent }),
)

func (*SetFanSpeedRequest) Operation() ipmi.Operation {
	return OpSetFanSpeed
}

func (r *SetFanSpeedRequest) MarshalBinary() ([]byte, error) {
	if r.Percent > 100 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSpeed, r.Percent)
	}
	return setFanSpeedRequestSchema.Encode(r)
}

func (r *SetFanSpeedRequest) UnmarshalBinary(b []byte) error {
	setFanSpeedRequestSchema.Decode(b, r)
	return nil
}

// GetSocketStateRequest reads the relay state of one AC socket.
type GetSocketStateRequest struct {
	Socket uint8
}

var getSocketStateRequestSchema = codec.NewSchema(
	codec.Uint("socket", 0, 1, func(r *GetSocketStateRequest) *uint8 { return &r.Socket }),
)

func (*GetSocketStateRequest) Operation() ipmi.Operation {
	return OpGetSocketState
}

func (r *GetSocketStateRequest) MarshalBinary() ([]byte, error) {
	return getSocketStateRequestSchema.Encode(r)
}

func (r *GetSocketStateRequest) UnmarshalBinary(b []byte) error {
	getSocketStateRequestSchema.Decode(b, r)
	return nil
}

type GetSocketStateResponse struct {
	ipmi.Completion
	State SocketState
}

var getSocketStateResponseSchema = codec.NewSchema(
	ipmi.CompletionField(func(r *GetSocketStateResponse) *ipmi.Completion { return &r.Completion }),
	codec.Uint("state", 1, 1, func(r *GetSocketStateResponse) *SocketState { return &r.State }),
)

func (r *GetSocketStateResponse) MarshalBinary() ([]byte, error) {
	return getSocketStateResponseSchema.Encode(r)
}

func (r *GetSocketStateResponse) UnmarshalBinary(b []byte) error {
	getSocketStateResponseSchema.Decode(b, r)
	return nil
}

// SetSocketStateRequest switches one AC socket on or off.
type SetSocketStateRequest struct {
	Socket uint8
	State  SocketState
}

var setSocketStateRequestSchema = codec.NewSchema(
	codec.Uint("socket", 0, 1, func(r *SetSocketStateRequest) *uint8 { return &r.Socket }),
	codec.Uint("state", 1, 1, func(r *SetSocketStateRequest) *SocketState { return &r.State }),
)

func (*SetSocketStateRequest) Operation() ipmi.Operation {
	return OpSetSocketState
}

func (r *SetSocketStateRequest) MarshalBinary() ([]byte, error) {
	return setSocketStateRequestSchema.Encode(r)
}

func (r *SetSocketStateRequest) UnmarshalBinary(b []byte) error {
	setSocketStateRequestSchema.Decode(b, r)
	return nil
}

// Settles reports whether the relay needs time to settle after the command.
// Only switching off does.
func (r *SetSocketStateRequest) Settles() bool {
	return r.State == SocketOff
}

// GetChassisStatusRequest per section 28.2
type GetChassisStatusRequest struct{}

func (*GetChassisStatusRequest) Operation() ipmi.Operation {
	return OpGetChassisStatus
}

func (*GetChassisStatusRequest) MarshalBinary() ([]byte, error) {
	return []byte{}, nil
}

// Current power state bits per section 28.2
const (
	PowerStateOn       = 0x01
	PowerStateOverload = 0x02
	PowerStateFault    = 0x08
)

// GetChassisStatusResponse per section 28.2
type GetChassisStatusResponse struct {
	ipmi.Completion
	PowerState     uint8
	LastPowerEvent uint8
	MiscState      uint8
}

var getChassisStatusResponseSchema = codec.NewSchema(
	ipmi.CompletionField(func(r *GetChassisStatusResponse) *ipmi.Completion { return &r.Completion }),
	codec.Uint("current power state", 1, 1, func(r *GetChassisStatusResponse) *uint8 { return &r.PowerState }),
	codec.Uint("last power event", 2, 1, func(r *GetChassisStatusResponse) *uint8 { return &r.LastPowerEvent }),
	codec.Uint("misc chassis state", 3, 1, func(r *GetChassisStatusResponse) *uint8 { return &r.MiscState }),
)

func (r *GetChassisStatusResponse) MarshalBinary() ([]byte, error) {
	return getChassisStatusResponseSchema.Encode(r)
}

func (r *GetChassisStatusResponse) UnmarshalBinary(b []byte) error {
	getChassisStatusResponseSchema.Decode(b, r)
	return nil
}

// PoweredOn reports whether system power is on.
func (r *GetChassisStatusResponse) PoweredOn() bool {
	return r.PowerState&PowerStateOn != 0
}

// ChassisControlRequest per section 28.3
type ChassisControlRequest struct {
	Control ChassisControl
}

var chassisControlRequestSchema = codec.NewSchema(
	codec.Uint("chassis control", 0, 1, func(r *ChassisControlRequest) *ChassisControl { return &r.Control }),
)

func (*ChassisControlRequest) Operation() ipmi.Operation {
	return OpChassisControl
}

func (r *ChassisControlRequest) MarshalBinary() ([]byte, error) {
	return chassisControlRequestSchema.Encode(r)
}

func (r *ChassisControlRequest) UnmarshalBinary(b []byte) error {
	chassisControlRequestSchema.Decode(b, r)
	return nil
}

// Boot option parameters and boot flag bits per section 28.13
const (
	BootParamBootFlags = 0x05

	BootFlagsValid      = 0x80
	BootFlagsPersistent = 0x40
	BootFlagsEFI        = 0x20

	bootDeviceMask = 0x3c
)

// SetBootOptionsRequest sets the boot flags parameter of Set System Boot
// Options. Other parameters are not sent by this package.
type SetBootOptionsRequest struct {
	Parameter uint8
	Flags     uint8
	Device    BootDevice
}

var setBootOptionsRequestSchema = codec.NewSchema(
	codec.Uint("parameter selector", 0, 1, func(r *SetBootOptionsRequest) *uint8 { return &r.Parameter }),
	codec.Uint("boot flags", 1, 1, func(r *SetBootOptionsRequest) *uint8 { return &r.Flags }),
	codec.Uint("boot device", 2, 1, func(r *SetBootOptionsRequest) *BootDevice { return &r.Device }),
	codec.Reserved[SetBootOptionsRequest](3, 2),
)

func (*SetBootOptionsRequest) Operation() ipmi.Operation {
	return OpSetBootOptions
}

func (r *SetBootOptionsRequest) MarshalBinary() ([]byte, error) {
	return setBootOptionsRequestSchema.Encode(r)
}

func (r *SetBootOptionsRequest) UnmarshalBinary(b []byte) error {
	setBootOptionsRequestSchema.Decode(b, r)
	r.Parameter &= 0x7f
	r.Device &= bootDeviceMask
	return nil
}

// StatusResponse is the reply of commands that only return a completion code.
type StatusResponse struct {
	ipmi.Completion
}

var statusResponseSchema = codec.NewSchema(
	ipmi.CompletionField(func(r *StatusResponse) *ipmi.Completion { return &r.Completion }),
)

func (r *StatusResponse) MarshalBinary() ([]byte, error) {
	return statusResponseSchema.Encode(r)
}

func (r *StatusResponse) UnmarshalBinary(b []byte) error {
	statusResponseSchema.Decode(b, r)
	return nil
}
