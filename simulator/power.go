package simulator

import (
	"context"
	"fmt"
	"sync"

	"github.com/chassis-manager/pkg/device"
	"github.com/chassis-manager/vsphere"
)

// Power drives the machine behind a simulated blade.
type Power interface {
	PoweredOn(ctx context.Context) (bool, error)
	PowerOn(ctx context.Context) error
	PowerOff(ctx context.Context) error
	Reset(ctx context.Context) error
	SetBootDevice(ctx context.Context, dev device.BootDevice) error
}

// MemoryPower keeps the power state of a blade in memory.
type MemoryPower struct {
	mu     sync.Mutex
	on     bool
	boot   device.BootDevice
	resets int
}

func NewMemoryPower(on bool) *MemoryPower {
	return &MemoryPower{on: on}
}

func (p *MemoryPower) PoweredOn(context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.on, nil
}

func (p *MemoryPower) PowerOn(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.on = true
	return nil
}

func (p *MemoryPower) PowerOff(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.on = false
	return nil
}

// Reset counts a reset. The power state is unchanged.
func (p *MemoryPower) Reset(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.resets++
	return nil
}

func (p *MemoryPower) SetBootDevice(_ context.Context, dev device.BootDevice) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.boot = dev
	return nil
}

// BootDevice returns the last boot device override.
func (p *MemoryPower) BootDevice() device.BootDevice {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.boot
}

// Resets returns how many times the blade was reset.
func (p *MemoryPower) Resets() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.resets
}

// vmPower drives a vSphere VM.
type vmPower struct {
	*vsphere.Machine
}

var vmBootDevices = map[device.BootDevice]vsphere.BootDevice{
	device.BootDeviceDisk:   vsphere.BootDeviceHDD,
	device.BootDeviceCDROM:  vsphere.BootDeviceCDROM,
	device.BootDevicePXE:    vsphere.BootDevicePXE,
	device.BootDeviceFloppy: vsphere.BootDeviceFloppy,
}

func (p vmPower) SetBootDevice(ctx context.Context, dev device.BootDevice) error {
	if dev == device.BootDeviceNone {
		return nil
	}

	vmDev, ok := vmBootDevices[dev]
	if !ok {
		return fmt.Errorf("unsupported boot device: %v", dev)
	}

	return p.SetNextBoot(ctx, vmDev)
}
