package simulator

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"
)

// Server exposes one BMC on its own address. When nic is set the address is
// added to the interface for the lifetime of the server.
type Server struct {
	bmc     *BMC
	addr    string
	ip      net.IP
	netmask net.IP
	nic     string
	log     *logrus.Entry
}

// NewServer creates a server for bmc listening on addr.
func NewServer(bmc *BMC, addr string) *Server {
	return &Server{
		bmc:  bmc,
		addr: addr,
		log:  logrus.WithField("blade", bmc.Name()),
	}
}

// WithInterface makes the server own ip on nic.
func (s *Server) WithInterface(ip, netmask net.IP, nic string) *Server {
	s.ip = ip
	s.netmask = netmask
	s.nic = nic
	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.addr
}

// configureIP configures the IP address on the specified network interface
func (s *Server) configureIP() error {
	if s.ip == nil || s.nic == "" {
		return nil
	}

	// Check if IP already exists
	checkOutput, err := exec.Command("ip", "addr", "show", "dev", s.nic).CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to check IP configuration on %s: %w - %s",
			s.nic, err, string(checkOutput))
	}

	if strings.Contains(string(checkOutput), s.ip.String()+"/") {
		s.log.Infof("IP %s already configured on interface %s, skipping configuration",
			s.ip, s.nic)
		return nil
	}

	output, err := exec.Command("ip", "addr", "add", s.prefix(), "dev", s.nic).CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to configure IP %s on %s: %w - %s",
			s.ip, s.nic, err, string(output))
	}

	s.log.Infof("Configured IP %s with netmask %s on interface %s", s.ip, s.netmask, s.nic)
	return nil
}

// cleanupIP removes the IP address from the network interface
func (s *Server) cleanupIP() error {
	if s.ip == nil || s.nic == "" {
		return nil
	}

	output, err := exec.Command("ip", "addr", "del", s.prefix(), "dev", s.nic).CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to remove IP %s from %s: %w - %s",
			s.ip, s.nic, err, string(output))
	}

	s.log.Infof("Removed IP %s from interface %s", s.ip, s.nic)
	return nil
}

func (s *Server) prefix() string {
	ones, _ := net.IPMask(s.netmask.To4()).Size()
	return fmt.Sprintf("%s/%d", s.ip, ones)
}

// Run serves the BMC until ctx is done. The interface address is removed on
// return.
func (s *Server) Run(ctx context.Context) error {
	if err := s.configureIP(); err != nil {
		return fmt.Errorf("failed to configure IP: %w", err)
	}
	defer func() {
		if err := s.cleanupIP(); err != nil {
			s.log.Errorf("Failed to cleanup IP configuration: %v", err)
		}
	}()

	s.log.Infof("Virtual BMC listening on %s", s.addr)

	err := s.bmc.Responder().ListenAndServe(ctx, s.addr)
	s.log.Info("Virtual BMC stopped")

	return err
}
