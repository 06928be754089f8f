package simulator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chassis-manager/pkg/device"
	"github.com/chassis-manager/pkg/ipmi"
)

func TestNewChassis(t *testing.T) {
	c := NewChassis(2, 3)

	speed, ok := c.FanSpeed(2)
	require.True(t, ok)
	assert.Equal(t, uint8(50), speed)

	_, ok = c.FanSpeed(0)
	assert.False(t, ok)
	_, ok = c.FanSpeed(3)
	assert.False(t, ok)

	state, ok := c.SocketState(3)
	require.True(t, ok)
	assert.Equal(t, device.SocketOn, state)

	_, ok = c.SocketState(4)
	assert.False(t, ok)
}

func TestChassisHandlers(t *testing.T) {
	type handler func(c *Chassis) ipmi.Handler

	getReading := func(c *Chassis) ipmi.Handler { return c.handleGetSensorReading }
	setSpeed := func(c *Chassis) ipmi.Handler { return c.handleSetFanSpeed }
	getSocket := func(c *Chassis) ipmi.Handler { return c.handleGetSocketState }
	setSocket := func(c *Chassis) ipmi.Handler { return c.handleSetSocketState }

	testcases := map[string]struct {
		handler handler
		data    []byte
		out     []byte
	}{
		"fan 1 reading": {
			handler: getReading,
			data:    []byte{FanSensorBase},
			out:     []byte{0x00, 50, device.SensorScanningEnabled, 0x00},
		},
		"unknown sensor": {
			handler: getReading,
			data:    []byte{0x10},
			out:     []byte{0xcb},
		},
		"sensor past the last fan": {
			handler: getReading,
			data:    []byte{FanSensorBase + 2},
			out:     []byte{0xcb},
		},
		"empty sensor request": {
			handler: getReading,
			out:     []byte{0xc7},
		},
		"set fan speed": {
			handler: setSpeed,
			data:    []byte{0x02, 75},
			out:     []byte{0x00},
		},
		"fan speed out of range": {
			handler: setSpeed,
			data:    []byte{0x01, 101},
			out:     []byte{0xc9},
		},
		"unknown fan": {
			handler: setSpeed,
			data:    []byte{0x03, 10},
			out:     []byte{0xcb},
		},
		"short fan request": {
			handler: setSpeed,
			data:    []byte{0x01},
			out:     []byte{0xc7},
		},
		"socket state": {
			handler: getSocket,
			data:    []byte{0x01},
			out:     []byte{0x00, 0x01},
		},
		"unknown socket": {
			handler: getSocket,
			data:    []byte{0x00},
			out:     []byte{0xcb},
		},
		"switch socket off": {
			handler: setSocket,
			data:    []byte{0x01, 0x00},
			out:     []byte{0x00},
		},
		"invalid socket state": {
			handler: setSocket,
			data:    []byte{0x01, 0x07},
			out:     []byte{0xcc},
		},
		"switch unknown socket": {
			handler: setSocket,
			data:    []byte{0x09, 0x01},
			out:     []byte{0xcb},
		},
	}

	for name, tc := range testcases {
		t.Run(name, func(t *testing.T) {
			c := NewChassis(2, 1)
			assert.Equal(t, tc.out, tc.handler(c)(context.Background(), tc.data))
		})
	}
}

func TestChassisStateChanges(t *testing.T) {
	ctx := context.Background()
	c := NewChassis(2, 2)

	assert.Equal(t, []byte{0x00}, c.handleSetFanSpeed(ctx, []byte{0x02, 20}))
	assert.Equal(t, []byte{0x00, 20, device.SensorScanningEnabled, 0x00}, c.handleGetSensorReading(ctx, []byte{FanSensorBase + 1}))

	assert.Equal(t, []byte{0x00}, c.handleSetSocketState(ctx, []byte{0x02, 0x00}))
	state, ok := c.SocketState(2)
	require.True(t, ok)
	assert.Equal(t, device.SocketOff, state)

	// Socket 1 is untouched.
	state, _ = c.SocketState(1)
	assert.Equal(t, device.SocketOn, state)
}
