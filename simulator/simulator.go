// Package simulator runs a virtual chassis: one BMC per blade plus shared
// fans and AC sockets, reachable over IPMI v1.5 and RMCP+.
package simulator

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/chassis-manager/config"
	"github.com/chassis-manager/pkg/ipmi"
	"github.com/chassis-manager/vsphere"
)

const defaultPort = 623

// Simulator is a virtual chassis.
type Simulator struct {
	chassis  *Chassis
	bmcs     []*BMC
	servers  []*Server
	legacy   []*LegacyServer
	vsClient *vsphere.Client
	book     *config.AddressBook
	log      *logrus.Entry
}

type blade struct {
	name  string
	power Power
}

// New builds the chassis described by cfg. With the vSphere backend every VM
// of the configured folder becomes a blade.
func New(ctx context.Context, cfg *config.SimulatorConfig) (*Simulator, error) {
	s := &Simulator{
		chassis: NewChassis(cfg.Fans, cfg.Sockets),
		log:     logrus.WithField("component", "simulator"),
	}

	blades, err := s.blades(ctx, cfg)
	if err != nil {
		return nil, err
	}

	opts, err := responderOptions(cfg)
	if err != nil {
		s.close(ctx)
		return nil, err
	}

	if cfg.PerBladeAddress() && cfg.Server.AddressBook != "" {
		if s.book, err = config.NewAddressBook(cfg.Server.AddressBook); err != nil {
			s.close(ctx)
			return nil, err
		}
	}

	names := make([]string, len(blades))
	for i, b := range blades {
		names[i] = b.name
	}

	addrs, err := assignAddresses(&cfg.Server, names, s.book)
	if err != nil {
		s.close(ctx)
		return nil, err
	}

	var netmask net.IP
	if cfg.PerBladeAddress() {
		netmask = net.ParseIP(cfg.Server.Network.Netmask)
	}

	for i, b := range blades {
		bmc := NewBMC(b.name, b.power, s.chassis, opts...)
		s.bmcs = append(s.bmcs, bmc)

		server := NewServer(bmc, addrs[i])
		if cfg.PerBladeAddress() {
			host, _, _ := net.SplitHostPort(addrs[i])
			server.WithInterface(net.ParseIP(host), netmask, cfg.Server.NIC)
		}
		s.servers = append(s.servers, server)

		if cfg.LegacyListen != "" {
			addr, err := offsetAddress(cfg.LegacyListen, i)
			if err == nil {
				var l *LegacyServer
				l, err = NewLegacyServer(bmc, addr)
				s.legacy = append(s.legacy, l)
			}
			if err != nil {
				s.close(ctx)
				return nil, err
			}
		}
	}

	return s, nil
}

func (s *Simulator) blades(ctx context.Context, cfg *config.SimulatorConfig) ([]blade, error) {
	if cfg.Backend != config.BackendVSphere {
		blades := make([]blade, len(cfg.Blades))
		for i, name := range cfg.Blades {
			blades[i] = blade{name: name, power: NewMemoryPower(false)}
		}
		return blades, nil
	}

	vc := cfg.VCenter
	client, err := vsphere.NewClient(ctx, vc.IP, vc.User, vc.Password, vc.Datacenter)
	if err != nil {
		return nil, err
	}
	s.vsClient = client

	machines, err := client.Machines(ctx, vc.Folder)
	if err != nil {
		s.close(ctx)
		return nil, err
	}
	if len(machines) == 0 {
		s.close(ctx)
		return nil, fmt.Errorf("no VMs found in folder %q", vc.Folder)
	}

	blades := make([]blade, len(machines))
	for i, m := range machines {
		blades[i] = blade{name: m.Name(), power: vmPower{m}}
	}
	return blades, nil
}

func responderOptions(cfg *config.SimulatorConfig) ([]ipmi.ResponderOption, error) {
	var opts []ipmi.ResponderOption

	for _, u := range cfg.Users {
		priv, err := ipmi.ParsePrivilegeLevel(u.Privilege)
		if err != nil {
			return nil, err
		}
		opts = append(opts, ipmi.WithUser(u.Name, u.Password, priv))
	}

	if cfg.BMCKey != "" {
		kg, err := hex.DecodeString(cfg.BMCKey)
		if err != nil {
			return nil, fmt.Errorf("invalid bmc_key: %w", err)
		}
		opts = append(opts, ipmi.WithBMCKey(string(kg)))
	}

	if len(cfg.CipherSuites) > 0 {
		opts = append(opts, ipmi.WithCipherSuites(cfg.CipherSuites...))
	}

	return opts, nil
}

// Chassis returns the shared peripherals.
func (s *Simulator) Chassis() *Chassis {
	return s.chassis
}

// BMCs returns the blade controllers in blade order.
func (s *Simulator) BMCs() []*BMC {
	return s.bmcs
}

// Addresses maps each blade to its listen address.
func (s *Simulator) Addresses() map[string]string {
	addrs := make(map[string]string, len(s.servers))
	for _, server := range s.servers {
		addrs[server.bmc.Name()] = server.Addr()
	}
	return addrs
}

// Run serves every blade until ctx is done or one of them fails.
func (s *Simulator) Run(ctx context.Context) error {
	defer s.close(context.Background())

	g, ctx := errgroup.WithContext(ctx)

	for _, server := range s.servers {
		g.Go(func() error {
			return server.Run(ctx)
		})
		s.log.Infof("Started virtual BMC for blade %s on %s", server.bmc.Name(), server.Addr())
	}

	for _, l := range s.legacy {
		g.Go(func() error {
			return l.Run(ctx)
		})
	}

	err := g.Wait()
	s.log.Info("Shutdown complete")

	return err
}

func (s *Simulator) close(ctx context.Context) {
	if s.book != nil {
		s.book.Close()
		s.book = nil
	}
	if s.vsClient != nil {
		if err := s.vsClient.Logout(ctx); err != nil {
			s.log.Warnf("Failed to log out of vCenter: %v", err)
		}
		s.vsClient = nil
	}
}

// assignAddresses returns the listen address of every blade. Blades take
// consecutive addresses of the IP range, keeping the ones recorded in book,
// or consecutive ports above the listen address.
func assignAddresses(cfg *config.ServerConfig, blades []string, book *config.AddressBook) ([]string, error) {
	addrs := make([]string, len(blades))

	if cfg.IPRange.Start == "" {
		for i := range blades {
			addr, err := offsetAddress(cfg.Listen, i)
			if err != nil {
				return nil, err
			}
			addrs[i] = addr
		}
		return addrs, nil
	}

	port := strconv.Itoa(defaultPort)
	if cfg.Listen != "" {
		_, p, err := net.SplitHostPort(cfg.Listen)
		if err != nil {
			return nil, fmt.Errorf("invalid listen address %s: %w", cfg.Listen, err)
		}
		port = p
	}

	pool := ipRange(net.ParseIP(cfg.IPRange.Start), net.ParseIP(cfg.IPRange.End))
	if len(pool) < len(blades) {
		return nil, fmt.Errorf("not enough IP addresses in range for all blades. Need %d, have %d", len(blades), len(pool))
	}

	inRange := make(map[string]bool, len(pool))
	for _, ip := range pool {
		inRange[ip.String()] = true
	}

	used := make(map[string]bool)
	if book != nil {
		existing := make(map[string]bool, len(blades))
		for _, b := range blades {
			existing[b] = true
		}
		if err := book.Prune(existing); err != nil {
			return nil, fmt.Errorf("failed to prune address book: %w", err)
		}
		for ip := range book.Assigned() {
			used[ip] = true
		}
	}

	next := 0
	for i, b := range blades {
		if book != nil {
			if ip, ok := book.Lookup(b); ok && inRange[ip] {
				addrs[i] = net.JoinHostPort(ip, port)
				continue
			}
		}

		for next < len(pool) && used[pool[next].String()] {
			next++
		}
		if next == len(pool) {
			return nil, fmt.Errorf("no free IP address left for blade %s", b)
		}

		ip := pool[next].String()
		used[ip] = true
		addrs[i] = net.JoinHostPort(ip, port)

		if book != nil {
			if err := book.Assign(b, ip); err != nil {
				return nil, fmt.Errorf("failed to record address of blade %s: %w", b, err)
			}
		}
	}

	return addrs, nil
}

// offsetAddress returns addr with its port increased by i. Port 0 stays 0.
func offsetAddress(addr string, i int) (string, error) {
	host, p, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("invalid listen address %s: %w", addr, err)
	}

	port, err := strconv.Atoi(p)
	if err != nil {
		return "", fmt.Errorf("invalid port in %s: %w", addr, err)
	}
	if port != 0 {
		port += i
	}
	if port > 65535 {
		return "", fmt.Errorf("port of %s out of range for blade %d", addr, i)
	}

	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}

// ipRange returns the IPv4 addresses from start to end inclusive
func ipRange(start, end net.IP) []net.IP {
	start, end = start.To4(), end.To4()
	if start == nil || end == nil {
		return nil
	}

	var ips []net.IP
	current := make(net.IP, len(start))
	copy(current, start)

	for len(ips) < 1<<16 {
		ip := make(net.IP, len(current))
		copy(ip, current)
		ips = append(ips, ip)

		if current.Equal(end) {
			break
		}
		incrementIP(current)
		if current.Equal(net.IPv4zero.To4()) {
			break
		}
	}

	return ips
}

// incrementIP increments an IP address by 1
func incrementIP(ip net.IP) {
	for i := len(ip) - 1; i >= 0; i-- {
		ip[i]++
		if ip[i] > 0 {
			break
		}
	}
}
