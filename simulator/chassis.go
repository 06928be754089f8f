package simulator

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/chassis-manager/pkg/device"
	"github.com/chassis-manager/pkg/ipmi"
)

// FanSensorBase is the sensor number of fan 1. Fan n reads from
// FanSensorBase+n-1.
const FanSensorBase = 0x30

const defaultFanSpeed = 50

// Chassis holds the shared peripherals of the simulated chassis. Fans and
// sockets are numbered from 1.
type Chassis struct {
	mu      sync.Mutex
	fans    []uint8
	sockets []device.SocketState
	log     *logrus.Entry
}

// NewChassis creates a chassis with fans at half speed and every socket on.
func NewChassis(fans, sockets int) *Chassis {
	c := &Chassis{
		fans:    make([]uint8, fans),
		sockets: make([]device.SocketState, sockets),
		log:     logrus.WithField("component", "chassis"),
	}

	for i := range c.fans {
		c.fans[i] = defaultFanSpeed
	}
	for i := range c.sockets {
		c.sockets[i] = device.SocketOn
	}

	return c
}

// FanSpeed returns the duty cycle of fan n.
func (c *Chassis) FanSpeed(n uint8) (uint8, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n == 0 || int(n) > len(c.fans) {
		return 0, false
	}
	return c.fans[n-1], true
}

// SocketState returns the relay state of socket n.
func (c *Chassis) SocketState(n uint8) (device.SocketState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n == 0 || int(n) > len(c.sockets) {
		return 0, false
	}
	return c.sockets[n-1], true
}

// register serves the chassis commands on r.
func (c *Chassis) register(r *ipmi.Responder) {
	r.Handle(device.OpGetSensorReading, c.handleGetSensorReading)
	r.Handle(device.OpSetFanSpeed, c.handleSetFanSpeed)
	r.Handle(device.OpGetSocketState, c.handleGetSocketState)
	r.Handle(device.OpSetSocketState, c.handleSetSocketState)
}

func (c *Chassis) handleGetSensorReading(_ context.Context, data []byte) []byte {
	if len(data) < 1 {
		return completion(ipmi.CompletionRequestDataInvalid)
	}

	var req device.GetSensorReadingRequest
	req.UnmarshalBinary(data)

	if req.SensorNumber < FanSensorBase {
		return completion(ipmi.CompletionNotPresent)
	}

	speed, ok := c.FanSpeed(req.SensorNumber - FanSensorBase + 1)
	if !ok {
		return completion(ipmi.CompletionNotPresent)
	}

	return encode(&device.GetSensorReadingResponse{
		Reading: speed,
		Flags:   device.SensorScanningEnabled,
	})
}

func (c *Chassis) handleSetFanSpeed(_ context.Context, data []byte) []byte {
	if len(data) < 2 {
		return completion(ipmi.CompletionRequestDataInvalid)
	}

	var req device.SetFanSpeedRequest
	req.UnmarshalBinary(data)

	if req.Percent > 100 {
		return completion(ipmi.CompletionParameterOutOfRange)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if req.Fan == 0 || int(req.Fan) > len(c.fans) {
		return completion(ipmi.CompletionNotPresent)
	}

	c.fans[req.Fan-1] = req.Percent
	c.log.WithField("fan", req.Fan).Infof("Fan speed set to %d%%", req.Percent)

	return completion(ipmi.CompletionOK)
}

func (c *Chassis) handleGetSocketState(_ context.Context, data []byte) []byte {
	if len(data) < 1 {
		return completion(ipmi.CompletionRequestDataInvalid)
	}

	var req device.GetSocketStateRequest
	req.UnmarshalBinary(data)

	state, ok := c.SocketState(req.Socket)
	if !ok {
		return completion(ipmi.CompletionNotPresent)
	}

	return encode(&device.GetSocketStateResponse{State: state})
}

func (c *Chassis) handleSetSocketState(_ context.Context, data []byte) []byte {
	if len(data) < 2 {
		return completion(ipmi.CompletionRequestDataInvalid)
	}

	var req device.SetSocketStateRequest
	req.UnmarshalBinary(data)

	if req.State != device.SocketOn && req.State != device.SocketOff {
		return completion(ipmi.CompletionInvalidDataField)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if req.Socket == 0 || int(req.Socket) > len(c.sockets) {
		return completion(ipmi.CompletionNotPresent)
	}

	c.sockets[req.Socket-1] = req.State
	c.log.WithField("socket", req.Socket).Infof("Socket switched %v", req.State)

	return completion(ipmi.CompletionOK)
}

func completion(cc ipmi.CompletionCode) []byte {
	return []byte{uint8(cc)}
}

type response interface {
	MarshalBinary() ([]byte, error)
}

func encode(rsp response) []byte {
	b, err := rsp.MarshalBinary()
	if err != nil {
		return completion(ipmi.CompletionUnspecified)
	}
	return b
}
