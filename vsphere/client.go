package vsphere

import (
	"context"
	"fmt"
	"net/url"

	"github.com/vmware/govmomi"
	"github.com/vmware/govmomi/find"
	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/types"
)

// Client represents a vSphere client
type Client struct {
	client     *govmomi.Client
	finder     *find.Finder
	datacenter *object.Datacenter
}

// NewClient creates a new vSphere client
func NewClient(ctx context.Context, vcenterIP, username, password, datacenter string) (*Client, error) {
	u, err := url.Parse(fmt.Sprintf("https://%s/sdk", vcenterIP))
	if err != nil {
		return nil, fmt.Errorf("failed to parse vCenter URL: %w", err)
	}
	u.User = url.UserPassword(username, password)

	client, err := govmomi.NewClient(ctx, u, true)
	if err != nil {
		return nil, fmt.Errorf("failed to create vSphere client: %w", err)
	}

	finder := find.NewFinder(client.Client, true)
	dc, err := finder.Datacenter(ctx, datacenter)
	if err != nil {
		return nil, fmt.Errorf("failed to find datacenter: %w", err)
	}
	finder.SetDatacenter(dc)

	return &Client{
		client:     client,
		finder:     finder,
		datacenter: dc,
	}, nil
}

// Logout ends the vCenter session.
func (c *Client) Logout(ctx context.Context) error {
	return c.client.Logout(ctx)
}

// Machines returns the VMs in the specified folder, or the whole datacenter
// when folderPath is empty. Each one backs a simulated blade.
func (c *Client) Machines(ctx context.Context, folderPath string) ([]*Machine, error) {
	pattern := "*"
	if folderPath != "" {
		folder, err := c.finder.Folder(ctx, folderPath)
		if err != nil {
			return nil, fmt.Errorf("failed to find folder: %w", err)
		}
		pattern = folder.InventoryPath + "/*"
	}

	vms, err := c.finder.VirtualMachineList(ctx, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to list VMs: %w", err)
	}

	machines := make([]*Machine, len(vms))
	for i, vm := range vms {
		machines[i] = &Machine{vm: vm}
	}

	return machines, nil
}

// Machine is one VM driven as a blade.
type Machine struct {
	vm *object.VirtualMachine
}

// Name returns the VM name.
func (m *Machine) Name() string {
	return m.vm.Name()
}

// PowerState returns the power state of the VM
func (m *Machine) PowerState(ctx context.Context) (types.VirtualMachinePowerState, error) {
	var o mo.VirtualMachine
	if err := m.vm.Properties(ctx, m.vm.Reference(), []string{"runtime.powerState"}, &o); err != nil {
		return "", fmt.Errorf("failed to get VM properties: %w", err)
	}
	return o.Runtime.PowerState, nil
}

// PoweredOn reports whether the VM runs.
func (m *Machine) PoweredOn(ctx context.Context) (bool, error) {
	state, err := m.PowerState(ctx)
	if err != nil {
		return false, err
	}
	return state == types.VirtualMachinePowerStatePoweredOn, nil
}

// PowerOn powers on the VM. A running VM is left alone.
func (m *Machine) PowerOn(ctx context.Context) error {
	on, err := m.PoweredOn(ctx)
	if err != nil || on {
		return err
	}

	task, err := m.vm.PowerOn(ctx)
	if err != nil {
		return fmt.Errorf("failed to power on VM: %w", err)
	}
	return task.Wait(ctx)
}

// PowerOff powers off the VM. A stopped VM is left alone.
func (m *Machine) PowerOff(ctx context.Context) error {
	on, err := m.PoweredOn(ctx)
	if err != nil || !on {
		return err
	}

	task, err := m.vm.PowerOff(ctx)
	if err != nil {
		return fmt.Errorf("failed to power off VM: %w", err)
	}
	return task.Wait(ctx)
}

// Reset hard resets the VM
func (m *Machine) Reset(ctx context.Context) error {
	task, err := m.vm.Reset(ctx)
	if err != nil {
		return fmt.Errorf("failed to reset VM: %w", err)
	}
	return task.Wait(ctx)
}

// BootDevice represents a VM boot device
type BootDevice string

const (
	BootDeviceHDD    BootDevice = "hdd"
	BootDeviceCDROM  BootDevice = "cdrom"
	BootDevicePXE    BootDevice = "pxe"
	BootDeviceFloppy BootDevice = "floppy"
)

// SetNextBoot sets the next boot device for a VM
func (m *Machine) SetNextBoot(ctx context.Context, device BootDevice) error {
	var order []types.BaseVirtualMachineBootOptionsBootableDevice

	switch device {
	case BootDeviceHDD:
		order = []types.BaseVirtualMachineBootOptionsBootableDevice{
			&types.VirtualMachineBootOptionsBootableDiskDevice{},
		}
	case BootDeviceCDROM:
		order = []types.BaseVirtualMachineBootOptionsBootableDevice{
			&types.VirtualMachineBootOptionsBootableCdromDevice{},
		}
	case BootDevicePXE:
		order = []types.BaseVirtualMachineBootOptionsBootableDevice{
			&types.VirtualMachineBootOptionsBootableEthernetDevice{},
		}
	case BootDeviceFloppy:
		order = []types.BaseVirtualMachineBootOptionsBootableDevice{
			&types.VirtualMachineBootOptionsBootableFloppyDevice{},
		}
	default:
		return fmt.Errorf("unsupported boot device: %s", device)
	}

	// Get current configuration
	var vmConfig mo.VirtualMachine
	if err := m.vm.Properties(ctx, m.vm.Reference(), []string{"config"}, &vmConfig); err != nil {
		return fmt.Errorf("failed to get VM config: %w", err)
	}

	bootOptions := &types.VirtualMachineBootOptions{}
	if vmConfig.Config != nil && vmConfig.Config.BootOptions != nil {
		bootOptions = vmConfig.Config.BootOptions
	}
	bootOptions.BootOrder = order

	task, err := m.vm.Reconfigure(ctx, types.VirtualMachineConfigSpec{
		BootOptions: bootOptions,
	})
	if err != nil {
		return fmt.Errorf("failed to reconfigure VM: %w", err)
	}

	return task.Wait(ctx)
}
