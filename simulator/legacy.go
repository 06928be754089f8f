package simulator

import (
	"context"
	"fmt"
	"net"

	goipmi "github.com/ooneko/goipmi"
	"github.com/sirupsen/logrus"

	"github.com/chassis-manager/pkg/device"
	"github.com/chassis-manager/pkg/ipmi"
)

// LegacyServer exposes the power controls of one BMC through the goipmi
// simulator. It speaks unauthenticated IPMI v1.5 only and is meant for
// tools that cannot negotiate a session.
type LegacyServer struct {
	bmc  *BMC
	addr *net.UDPAddr
	sim  *goipmi.Simulator
	log  *logrus.Entry
}

// NewLegacyServer creates a legacy endpoint for bmc on addr.
func NewLegacyServer(bmc *BMC, addr string) (*LegacyServer, error) {
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("invalid legacy address %s: %w", addr, err)
	}

	return &LegacyServer{
		bmc:  bmc,
		addr: udpAddr,
		log:  logrus.WithFields(logrus.Fields{"blade": bmc.Name(), "engine": "legacy"}),
	}, nil
}

var legacyControls = map[goipmi.ChassisControl]device.ChassisControl{
	goipmi.ControlPowerDown:      device.ControlPowerDown,
	goipmi.ControlPowerUp:        device.ControlPowerUp,
	goipmi.ControlPowerCycle:     device.ControlPowerCycle,
	goipmi.ControlPowerHardReset: device.ControlHardReset,
}

// handleChassisControl handles IPMI chassis control commands
func (s *LegacyServer) handleChassisControl(m *goipmi.Message) goipmi.Response {
	req := &goipmi.ChassisControlRequest{}
	if err := m.Request(req); err != nil {
		s.log.Errorf("Failed to parse chassis control request: %v", err)
		return goipmi.ErrInvalidCommand
	}

	c, ok := legacyControls[req.ChassisControl]
	if !ok {
		s.log.Warnf("Unsupported chassis control command: %v", req.ChassisControl)
		return goipmi.ErrInvalidCommand
	}

	if cc := s.bmc.control(context.Background(), c); cc != ipmi.CompletionOK {
		return goipmi.ErrUnspecified
	}

	return goipmi.CommandCompleted
}

// handleGetChassisStatus handles IPMI get chassis status commands
func (s *LegacyServer) handleGetChassisStatus(*goipmi.Message) goipmi.Response {
	on, err := s.bmc.power.PoweredOn(context.Background())
	if err != nil {
		s.log.Errorf("Failed to get power state: %v", err)
		return goipmi.ErrUnspecified
	}

	var powerState uint8
	if on {
		powerState = goipmi.SystemPower
	}

	return &goipmi.ChassisStatusResponse{
		CompletionCode: goipmi.CommandCompleted,
		PowerState:     powerState,
	}
}

// Run serves until ctx is done.
func (s *LegacyServer) Run(ctx context.Context) error {
	s.sim = goipmi.NewSimulator(*s.addr)
	s.sim.SetHandler(goipmi.NetworkFunctionChassis, goipmi.CommandChassisControl, s.handleChassisControl)
	s.sim.SetHandler(goipmi.NetworkFunctionChassis, goipmi.CommandChassisStatus, s.handleGetChassisStatus)

	if err := s.sim.Run(); err != nil {
		return fmt.Errorf("failed to start legacy IPMI server: %w", err)
	}
	s.log.Infof("Legacy IPMI endpoint listening on %s", s.addr)

	<-ctx.Done()

	s.sim.Stop()
	s.log.Info("Legacy IPMI endpoint stopped")

	return nil
}
