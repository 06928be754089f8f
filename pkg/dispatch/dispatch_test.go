package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chassis-manager/pkg/ipmi"
)

type reply struct {
	data []byte
	err  error
}

// fakeSender answers each Send with the next scripted reply.
type fakeSender struct {
	mu         sync.Mutex
	replies    []reply
	calls      int
	priorities []ipmi.Priority
	deadlines  []time.Duration
}

func (f *fakeSender) Send(ctx context.Context, req ipmi.Request) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	f.priorities = append(f.priorities, ipmi.PriorityFromContext(ctx))

	if deadline, ok := ctx.Deadline(); ok {
		f.deadlines = append(f.deadlines, time.Until(deadline))
	}

	if len(f.replies) == 0 {
		return nil, ipmi.ErrTimeout
	}

	r := f.replies[0]
	f.replies = f.replies[1:]

	return r.data, r.err
}

var deviceID = []byte{0x00, 0x20, 0x01, 0x02, 0x03, 0x51, 0x00, 0x57, 0x01, 0x00, 0x34, 0x12, 0, 0, 0, 0}

func newTestDispatcher(t *testing.T) (*Dispatcher, *[]time.Duration, *test.Hook) {
	t.Helper()

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	d := New(WithLogger(logrus.NewEntry(logger)))

	var slept []time.Duration
	d.sleep = func(d time.Duration) {
		slept = append(slept, d)
	}

	d.Register(ipmi.OpGetDeviceID, func() ipmi.Response { return &ipmi.GetDeviceIDResponse{} }, Policy{
		Retries: 2,
	})

	return d, &slept, hook
}

func TestExecuteDecodesResponse(t *testing.T) {
	d, slept, _ := newTestDispatcher(t)
	s := &fakeSender{replies: []reply{{data: deviceID}}}

	rsp, err := d.Execute(context.Background(), s, DeviceBlade, &ipmi.GetDeviceIDRequest{}, ipmi.PriorityUser)
	require.NoError(t, err)

	id, ok := rsp.(*ipmi.GetDeviceIDResponse)
	require.True(t, ok)
	assert.Equal(t, ipmi.CompletionOK, id.Code())
	assert.Equal(t, uint8(0x20), id.DeviceID)
	assert.Equal(t, uint32(0x157), id.ManufacturerID)
	assert.Equal(t, uint16(0x1234), id.ProductID)
	assert.Equal(t, 1, s.calls)
	assert.Empty(t, *slept)
}

func TestExecuteUnknownOperation(t *testing.T) {
	d := New()
	s := &fakeSender{}

	_, err := d.Execute(context.Background(), s, DeviceBlade, &ipmi.GetDeviceIDRequest{}, ipmi.PriorityUser)
	assert.ErrorIs(t, err, ErrUnknownOperation)
	assert.Zero(t, s.calls)

	assert.ErrorIs(t, d.Override(DeviceFan, ipmi.OpGetDeviceID, Policy{}), ErrUnknownOperation)
}

func TestExecuteRetriesTimeouts(t *testing.T) {
	testcases := map[string]struct {
		replies  []reply
		calls    int
		code     ipmi.CompletionCode
		timedOut bool
	}{
		"recovers after one timeout": {
			replies: []reply{{err: ipmi.ErrTimeout}, {data: deviceID}},
			calls:   2,
			code:    ipmi.CompletionOK,
		},
		"recovers on the last retry": {
			replies: []reply{{err: ipmi.ErrTimeout}, {err: ipmi.ErrTimeout}, {data: deviceID}},
			calls:   3,
			code:    ipmi.CompletionOK,
		},
		"gives up after the retry budget": {
			replies:  []reply{{err: ipmi.ErrTimeout}, {err: ipmi.ErrTimeout}, {err: ipmi.ErrTimeout}, {data: deviceID}},
			calls:    3,
			code:     ipmi.CompletionTimeout,
			timedOut: true,
		},
	}

	for name, tc := range testcases {
		t.Run(name, func(t *testing.T) {
			d, _, _ := newTestDispatcher(t)
			s := &fakeSender{replies: tc.replies}

			rsp, err := d.Execute(context.Background(), s, DeviceBlade, &ipmi.GetDeviceIDRequest{}, ipmi.PriorityUser)
			if tc.timedOut {
				assert.ErrorIs(t, err, ipmi.ErrTimeout)
			} else {
				assert.NoError(t, err)
			}

			require.NotNil(t, rsp)
			assert.Equal(t, tc.code, rsp.Code())
			assert.Equal(t, tc.calls, s.calls)
		})
	}
}

func TestExecuteDoesNotRetryCompletionCodes(t *testing.T) {
	d, slept, _ := newTestDispatcher(t)
	require.NoError(t, d.Override(DeviceBlade, ipmi.OpGetDeviceID, Policy{Retries: 2, SettleDelay: time.Second}))

	s := &fakeSender{replies: []reply{{data: []byte{0xc0}}, {data: deviceID}}}

	rsp, err := d.Execute(context.Background(), s, DeviceBlade, &ipmi.GetDeviceIDRequest{}, ipmi.PriorityUser)
	require.NoError(t, err)
	assert.Equal(t, ipmi.CompletionNodeBusy, rsp.Code())
	assert.Equal(t, 1, s.calls)
	assert.Empty(t, *slept)
}

func TestExecuteDoesNotRetryTransportErrors(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	failure := &ipmi.TransportError{Op: "send", Err: errors.New("network is unreachable")}
	s := &fakeSender{replies: []reply{{err: failure}, {data: deviceID}}}

	rsp, err := d.Execute(context.Background(), s, DeviceBlade, &ipmi.GetDeviceIDRequest{}, ipmi.PriorityUser)
	assert.Nil(t, rsp)

	var transportErr *ipmi.TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, "send", transportErr.Op)
	assert.Equal(t, 1, s.calls)
}

func TestExecuteRejectsEmptyResponse(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	s := &fakeSender{replies: []reply{{data: []byte{}}}}

	_, err := d.Execute(context.Background(), s, DeviceBlade, &ipmi.GetDeviceIDRequest{}, ipmi.PriorityUser)
	assert.ErrorIs(t, err, ipmi.ErrInvalidPacket)
}

func TestExecuteSettleDelay(t *testing.T) {
	d, slept, hook := newTestDispatcher(t)
	require.NoError(t, d.Override(DeviceACSocket, ipmi.OpGetDeviceID, Policy{SettleDelay: 3 * time.Second}))

	s := &fakeSender{replies: []reply{{data: deviceID}, {data: deviceID}}}

	_, err := d.Execute(context.Background(), s, DeviceACSocket, &ipmi.GetDeviceIDRequest{}, ipmi.PriorityUser)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{3 * time.Second}, *slept)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.DebugLevel, entry.Level)
	assert.Equal(t, DeviceACSocket, entry.Data["device"])

	// Other device types keep the registered policy.
	_, err = d.Execute(context.Background(), s, DeviceBlade, &ipmi.GetDeviceIDRequest{}, ipmi.PriorityUser)
	require.NoError(t, err)
	assert.Len(t, *slept, 1)
}

func TestExecuteForwardsPriorityAndTimeout(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	require.NoError(t, d.Override(DeviceFan, ipmi.OpGetDeviceID, Policy{Timeout: time.Minute}))

	s := &fakeSender{replies: []reply{{data: deviceID}, {data: deviceID}}}

	_, err := d.Execute(context.Background(), s, DeviceFan, &ipmi.GetDeviceIDRequest{}, ipmi.PrioritySystem)
	require.NoError(t, err)
	_, err = d.Execute(context.Background(), s, DeviceBlade, &ipmi.GetDeviceIDRequest{}, ipmi.PriorityUser)
	require.NoError(t, err)

	assert.Equal(t, []ipmi.Priority{ipmi.PrioritySystem, ipmi.PriorityUser}, s.priorities)

	// Only the fan policy sets a deadline.
	require.Len(t, s.deadlines, 1)
	assert.LessOrEqual(t, s.deadlines[0], time.Minute)
	assert.Greater(t, s.deadlines[0], 50*time.Second)
}

func TestExecuteStopsOnCancelledContext(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	require.NoError(t, d.Override(DeviceBlade, ipmi.OpGetDeviceID, Policy{Retries: 5, RetryInterval: time.Hour}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	s := &fakeSender{}

	rsp, err := d.Execute(ctx, s, DeviceBlade, &ipmi.GetDeviceIDRequest{}, ipmi.PriorityUser)
	assert.ErrorIs(t, err, ipmi.ErrTimeout)
	assert.Equal(t, ipmi.CompletionTimeout, rsp.Code())
	assert.Equal(t, 1, s.calls)
}

func TestPolicy(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	require.NoError(t, d.Override(DeviceACSocket, ipmi.OpGetDeviceID, Policy{SettleDelay: time.Second}))

	p, err := d.Policy(DeviceACSocket, ipmi.OpGetDeviceID)
	require.NoError(t, err)
	assert.Equal(t, Policy{SettleDelay: time.Second}, p)

	p, err = d.Policy(DeviceFan, ipmi.OpGetDeviceID)
	require.NoError(t, err)
	assert.Equal(t, Policy{Retries: 2}, p)

	_, err = d.Policy(DeviceFan, ipmi.OpCloseSession)
	assert.ErrorIs(t, err, ErrUnknownOperation)
}

func TestMetrics(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))

	d, _, _ := newTestDispatcher(t)
	d.metrics = m

	s := &fakeSender{replies: []reply{{err: ipmi.ErrTimeout}, {data: deviceID}, {data: []byte{0xd4}}}}

	_, err := d.Execute(context.Background(), s, DeviceBlade, &ipmi.GetDeviceIDRequest{}, ipmi.PriorityUser)
	require.NoError(t, err)
	_, err = d.Execute(context.Background(), s, DeviceBlade, &ipmi.GetDeviceIDRequest{}, ipmi.PriorityUser)
	require.NoError(t, err)

	op := ipmi.OpGetDeviceID.String()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commands.WithLabelValues("blade", op, "0x00")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commands.WithLabelValues("blade", op, "0xd4")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retries.WithLabelValues("blade", op)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.latency))

	assert.Error(t, m.Register(reg))
}

var _ Sender = (*ipmi.Session)(nil)
