package device

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chassis-manager/pkg/dispatch"
	"github.com/chassis-manager/pkg/ipmi"
)

// controller answers requests the way a chassis controller would.
type controller struct {
	mu       sync.Mutex
	requests []ipmi.Request
	payloads [][]byte
	answer   func(req ipmi.Request) []byte
}

func (c *controller) Send(ctx context.Context, req ipmi.Request) ([]byte, error) {
	b, err := req.MarshalBinary()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.payloads = append(c.payloads, b)
	c.mu.Unlock()

	return c.answer(req), nil
}

func newTestDispatcher(settle time.Duration) *dispatch.Dispatcher {
	d := dispatch.New()
	RegisterCommands(d, dispatch.Policy{Retries: 1}, settle)
	return d
}

func TestFan(t *testing.T) {
	c := &controller{answer: func(req ipmi.Request) []byte {
		if _, isRead := req.(*GetSensorReadingRequest); isRead {
			return []byte{0x00, 0x3c, SensorScanningEnabled, 0x00}
		}
		return []byte{0x00}
	}}

	fan := NewFan(newTestDispatcher(0), c, 2, 0x41)

	speed, err := fan.Speed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint8(60), speed)

	require.NoError(t, fan.SetSpeed(context.Background(), 100))

	assert.ErrorIs(t, fan.SetSpeed(context.Background(), 101), ErrInvalidSpeed)

	require.Len(t, c.payloads, 2)
	assert.Equal(t, []byte{0x41}, c.payloads[0])
	assert.Equal(t, []byte{0x02, 100}, c.payloads[1])
	assert.Equal(t, OpSetFanSpeed, c.requests[1].Operation())
}

func TestFanReadingUnavailable(t *testing.T) {
	c := &controller{answer: func(req ipmi.Request) []byte {
		return []byte{0x00, 0x00, SensorReadingUnavailable}
	}}

	_, err := NewFan(newTestDispatcher(0), c, 1, 0x40).Speed(context.Background())
	assert.ErrorContains(t, err, "reading unavailable")
}

func TestACSocket(t *testing.T) {
	state := SocketOn
	c := &controller{answer: func(req ipmi.Request) []byte {
		switch r := req.(type) {
		case *GetSocketStateRequest:
			return []byte{0x00, uint8(state)}
		case *SetSocketStateRequest:
			state = r.State
		}
		return []byte{0x00}
	}}

	socket := NewACSocket(newTestDispatcher(0), c, 3)

	got, err := socket.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SocketOn, got)

	require.NoError(t, socket.Off(context.Background()))

	got, err = socket.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SocketOff, got)

	require.NoError(t, socket.On(context.Background()))

	assert.Equal(t, [][]byte{{0x03}, {0x03, 0x00}, {0x03}, {0x03, 0x01}}, c.payloads)
}

func TestACSocketOffWaitsForSettle(t *testing.T) {
	const settle = 80 * time.Millisecond

	testcases := map[string]struct {
		action func(*ACSocket, context.Context) error
		answer []byte
		waits  bool
	}{
		"off waits after success": {
			action: (*ACSocket).Off,
			answer: []byte{0x00},
			waits:  true,
		},
		"on does not wait": {
			action: (*ACSocket).On,
			answer: []byte{0x00},
		},
		"failed off does not wait": {
			action: (*ACSocket).Off,
			answer: []byte{0xc0},
		},
	}

	for name, tc := range testcases {
		t.Run(name, func(t *testing.T) {
			c := &controller{answer: func(ipmi.Request) []byte { return tc.answer }}
			socket := NewACSocket(newTestDispatcher(settle), c, 1)

			start := time.Now()
			err := tc.action(socket, context.Background())
			took := time.Since(start)

			if tc.answer[0] != 0x00 {
				assert.ErrorIs(t, err, ipmi.CompletionNodeBusy)
			} else {
				assert.NoError(t, err)
			}

			if tc.waits {
				assert.GreaterOrEqual(t, took, settle)
			} else {
				assert.Less(t, took, settle)
			}
		})
	}
}

func TestSettleDelayOnlyForSockets(t *testing.T) {
	d := newTestDispatcher(time.Second)

	p, err := d.Policy(dispatch.DeviceACSocket, OpSetSocketState)
	require.NoError(t, err)
	assert.Equal(t, time.Second, p.SettleDelay)
	assert.Equal(t, 1, p.Retries)

	p, err = d.Policy(dispatch.DeviceBlade, OpChassisControl)
	require.NoError(t, err)
	assert.Zero(t, p.SettleDelay)
}

func TestBlade(t *testing.T) {
	c := &controller{answer: func(req ipmi.Request) []byte {
		switch req.(type) {
		case *GetChassisStatusRequest:
			return []byte{0x00, PowerStateOn, 0x00, 0x00}
		case *ipmi.GetDeviceIDRequest:
			return []byte{0x00, 0x20, 0x01, 0x02, 0x03, 0x51, 0x00, 0x57, 0x01, 0x00, 0x34, 0x12}
		}
		return []byte{0x00}
	}}

	blade := NewBlade(newTestDispatcher(0), c, WithPriority(ipmi.PrioritySystem))

	status, err := blade.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, status.PoweredOn())

	id, err := blade.DeviceID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint8(0x20), id.DeviceID)

	require.NoError(t, blade.PowerOff(context.Background()))
	require.NoError(t, blade.PowerOn(context.Background()))
	require.NoError(t, blade.PowerCycle(context.Background()))
	require.NoError(t, blade.Reset(context.Background()))

	require.NoError(t, blade.SetBootDevice(context.Background(), BootDevicePXE, true))
	assert.Equal(t, []byte{BootParamBootFlags, 0xc0, 0x04, 0x00, 0x00}, c.payloads[len(c.payloads)-1])

	var controls []byte
	for _, p := range c.payloads[2:6] {
		controls = append(controls, p...)
	}
	assert.Equal(t, []byte{0x00, 0x01, 0x02, 0x03}, controls)
}

func TestCompletionCodeBecomesError(t *testing.T) {
	c := &controller{answer: func(ipmi.Request) []byte { return []byte{0xd4} }}

	err := NewBlade(newTestDispatcher(0), c).PowerOn(context.Background())

	var cc ipmi.CompletionCode
	require.ErrorAs(t, err, &cc)
	assert.Equal(t, ipmi.CompletionInsufficientPrivilege, cc)
	assert.ErrorContains(t, err, "Chassis Control")
}

func TestResponseEncoding(t *testing.T) {
	testcases := map[string]struct {
		msg  interface{ MarshalBinary() ([]byte, error) }
		want []byte
	}{
		"chassis status": {
			msg:  &GetChassisStatusResponse{PowerState: PowerStateOn | PowerStateFault, LastPowerEvent: 0x10},
			want: []byte{0x00, 0x09, 0x10, 0x00},
		},
		"sensor reading": {
			msg:  &GetSensorReadingResponse{Reading: 0x50, Flags: SensorScanningEnabled},
			want: []byte{0x00, 0x50, 0x40, 0x00},
		},
		"socket state": {
			msg:  &GetSocketStateResponse{State: SocketOn},
			want: []byte{0x00, 0x01},
		},
		"status": {
			msg:  &StatusResponse{Completion: ipmi.Completion{CompletionCode: ipmi.CompletionInvalidDataField}},
			want: []byte{0xcc},
		},
		"chassis control": {
			msg:  &ChassisControlRequest{Control: ControlSoftShutdown},
			want: []byte{0x05},
		},
	}

	for name, tc := range testcases {
		t.Run(name, func(t *testing.T) {
			b, err := tc.msg.MarshalBinary()
			require.NoError(t, err)
			assert.Equal(t, tc.want, b)
		})
	}
}

func TestSetBootOptionsRequestDecode(t *testing.T) {
	var req SetBootOptionsRequest
	require.NoError(t, req.UnmarshalBinary([]byte{0x85, 0xa0, 0x17, 0x00, 0x00}))

	assert.Equal(t, uint8(BootParamBootFlags), req.Parameter)
	assert.Equal(t, BootDeviceCDROM, req.Device)
	assert.Equal(t, uint8(BootFlagsValid|BootFlagsEFI), req.Flags)
}

func TestParseBootDevice(t *testing.T) {
	d, err := ParseBootDevice("disk")
	require.NoError(t, err)
	assert.Equal(t, BootDeviceDisk, d)

	_, err = ParseBootDevice("usb")
	assert.Error(t, err)
}

func TestSetSocketStateSettles(t *testing.T) {
	assert.True(t, (&SetSocketStateRequest{State: SocketOff}).Settles())
	assert.False(t, (&SetSocketStateRequest{State: SocketOn}).Settles())
}

var (
	_ Executor         = (*dispatch.Dispatcher)(nil)
	_ dispatch.Settler = (*SetSocketStateRequest)(nil)
)
