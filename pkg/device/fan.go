package device

import (
	"context"
	"fmt"

	"github.com/chassis-manager/pkg/dispatch"
)

// Fan is a chassis fan. Its speed sensor reports the PWM duty cycle in
// percent.
type Fan struct {
	device
	number uint8
	sensor uint8
}

// NewFan addresses fan number whose speed is read from sensor.
func NewFan(exec Executor, s dispatch.Sender, number, sensor uint8, opts ...Option) *Fan {
	return &Fan{
		device: newDevice(exec, s, dispatch.DeviceFan, opts),
		number: number,
		sensor: sensor,
	}
}

// Speed returns the current duty cycle.
func (f *Fan) Speed(ctx context.Context) (uint8, error) {
	rsp, err := f.execute(ctx, &GetSensorReadingRequest{SensorNumber: f.sensor})
	if err != nil {
		return 0, err
	}

	reading := rsp.(*GetSensorReadingResponse)
	if !reading.Available() {
		return 0, fmt.Errorf("fan %d: sensor %#02x reading unavailable", f.number, f.sensor)
	}

	return reading.Reading, nil
}

// SetSpeed sets the duty cycle, 0 to 100 percent.
func (f *Fan) SetSpeed(ctx context.Context, percent uint8) error {
	if percent > 100 {
		return fmt.Errorf("%w: %d", ErrInvalidSpeed, percent)
	}

	_, err := f.execute(ctx, &SetFanSpeedRequest{Fan: f.number, Percent: percent})
	return err
}
