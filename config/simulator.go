package config

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"net"

	"github.com/chassis-manager/pkg/ipmi"
)

// Simulator power backends
const (
	BackendMemory  = "memory"
	BackendVSphere = "vsphere"
)

// VCenterConfig holds the vCenter specific configuration
type VCenterConfig struct {
	IP         string `yaml:"ip"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	Datacenter string `yaml:"datacenter"`
	Folder     string `yaml:"folder,omitempty"` // Optional
}

// IPRange represents an IP address range
type IPRange struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// NetworkConfig holds network-specific configuration
type NetworkConfig struct {
	Netmask string `yaml:"netmask"`
	Gateway string `yaml:"gateway"`
}

// ServerConfig holds the addressing of the simulated controllers. With an
// IP range every blade gets its own alias on NIC, otherwise blades share
// Listen and are told apart by port.
type ServerConfig struct {
	Listen      string        `yaml:"listen"`
	IPRange     IPRange       `yaml:"ip_range,omitempty"`
	NIC         string        `yaml:"nic,omitempty"` // Network interface to bind IPs to
	Network     NetworkConfig `yaml:"network,omitempty"`
	AddressBook string        `yaml:"address_book,omitempty"`
}

// UserConfig is a login accepted by the simulated controllers
type UserConfig struct {
	Name      string `yaml:"name"`
	Password  string `yaml:"password"`
	Privilege string `yaml:"privilege,omitempty"`
}

// SimulatorConfig holds the configuration of the virtual chassis
type SimulatorConfig struct {
	Backend      string        `yaml:"backend"` // memory, vsphere
	Blades       []string      `yaml:"blades,omitempty"`
	Fans         int           `yaml:"fans"`
	Sockets      int           `yaml:"sockets"`
	Users        []UserConfig  `yaml:"users"`
	BMCKey       string        `yaml:"bmc_key,omitempty"`
	CipherSuites []uint8       `yaml:"cipher_suites,omitempty"`
	LegacyListen string        `yaml:"legacy_listen,omitempty"`
	VCenter      VCenterConfig `yaml:"vcenter,omitempty"`
	Server       ServerConfig  `yaml:"server"`
}

// PerBladeAddress reports whether blades are given addresses from the IP range.
func (s *SimulatorConfig) PerBladeAddress() bool {
	return s.Server.IPRange.Start != ""
}

// Validate checks the simulator configuration
func (s *SimulatorConfig) Validate() error {
	switch s.Backend {
	case BackendMemory:
		if len(s.Blades) == 0 {
			return fmt.Errorf("blades is required with the memory backend")
		}
	case BackendVSphere:
		if err := s.VCenter.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown backend %q", s.Backend)
	}

	if s.Fans < 0 || s.Fans > 255 {
		return fmt.Errorf("fans must be between 0 and 255")
	}
	if s.Sockets < 0 || s.Sockets > 255 {
		return fmt.Errorf("sockets must be between 0 and 255")
	}

	if len(s.Users) == 0 {
		return fmt.Errorf("at least one user is required")
	}
	for i, u := range s.Users {
		if u.Name == "" || len(u.Name) > 16 {
			return fmt.Errorf("users[%d]: name must be 1 to 16 characters", i)
		}
		if len(u.Password) > 20 {
			return fmt.Errorf("users[%d]: password must be at most 20 characters", i)
		}
		if _, err := ipmi.ParsePrivilegeLevel(u.Privilege); err != nil {
			return fmt.Errorf("users[%d]: %w", i, err)
		}
	}

	if _, err := hex.DecodeString(s.BMCKey); err != nil {
		return fmt.Errorf("invalid bmc_key: %w", err)
	}
	for _, id := range s.CipherSuites {
		if _, err := ipmi.LookupCipherSuite(id); err != nil {
			return err
		}
	}

	if s.LegacyListen != "" {
		if _, _, err := net.SplitHostPort(s.LegacyListen); err != nil {
			return fmt.Errorf("invalid legacy_listen: %w", err)
		}
	}

	return s.Server.Validate()
}

// Validate checks if the vCenter configuration is valid
func (v *VCenterConfig) Validate() error {
	if v.IP == "" {
		return fmt.Errorf("vcenter.ip is required")
	}
	if v.User == "" {
		return fmt.Errorf("vcenter.user is required")
	}
	if v.Password == "" {
		return fmt.Errorf("vcenter.password is required")
	}
	if v.Datacenter == "" {
		return fmt.Errorf("vcenter.datacenter is required")
	}
	return nil
}

// Validate checks if the server configuration is valid
func (s *ServerConfig) Validate() error {
	if s.IPRange.Start == "" && s.IPRange.End == "" {
		if s.Listen == "" {
			return fmt.Errorf("server.listen or server.ip_range is required")
		}
		if _, _, err := net.SplitHostPort(s.Listen); err != nil {
			return fmt.Errorf("invalid server.listen: %w", err)
		}
		return nil
	}

	if s.IPRange.Start == "" {
		return fmt.Errorf("server.ip_range.start is required")
	}
	if s.IPRange.End == "" {
		return fmt.Errorf("server.ip_range.end is required")
	}

	// Validate NIC
	if s.NIC == "" {
		return fmt.Errorf("server.nic is required")
	}

	// Validate network configuration
	if s.Network.Netmask == "" {
		return fmt.Errorf("server.network.netmask is required")
	}
	// Validate netmask format
	if net.ParseIP(s.Network.Netmask) == nil {
		return fmt.Errorf("invalid netmask: %s", s.Network.Netmask)
	}

	// Validate gateway if provided
	if s.Network.Gateway != "" && net.ParseIP(s.Network.Gateway) == nil {
		return fmt.Errorf("invalid gateway: %s", s.Network.Gateway)
	}

	// Validate IP addresses
	start := net.ParseIP(s.IPRange.Start)
	if start == nil {
		return fmt.Errorf("invalid start IP address: %s", s.IPRange.Start)
	}

	end := net.ParseIP(s.IPRange.End)
	if end == nil {
		return fmt.Errorf("invalid end IP address: %s", s.IPRange.End)
	}

	// Ensure end IP is greater than start IP
	if bytes.Compare(end.To4(), start.To4()) < 0 {
		return fmt.Errorf("end IP must be greater than start IP")
	}

	return nil
}

// CheckNIC verifies that the configured network interface exists.
func (s *ServerConfig) CheckNIC() error {
	interfaces, err := net.Interfaces()
	if err != nil {
		return fmt.Errorf("failed to list network interfaces: %w", err)
	}

	for _, iface := range interfaces {
		if iface.Name == s.NIC {
			return nil
		}
	}

	return fmt.Errorf("network interface %s does not exist", s.NIC)
}
