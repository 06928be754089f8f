package simulator

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chassis-manager/config"
	"github.com/chassis-manager/pkg/device"
	"github.com/chassis-manager/pkg/dispatch"
	"github.com/chassis-manager/pkg/ipmi"
)

func TestOffsetAddress(t *testing.T) {
	testcases := map[string]struct {
		addr   string
		offset int
		out    string
		err    string
	}{
		"first blade": {
			addr: "127.0.0.1:6230",
			out:  "127.0.0.1:6230",
		},
		"third blade": {
			addr:   "127.0.0.1:6230",
			offset: 2,
			out:    "127.0.0.1:6232",
		},
		"ephemeral port": {
			addr:   "127.0.0.1:0",
			offset: 4,
			out:    "127.0.0.1:0",
		},
		"out of range": {
			addr:   ":65535",
			offset: 1,
			err:    "out of range",
		},
		"missing port": {
			addr: "127.0.0.1",
			err:  "invalid listen address",
		},
	}

	for name, tc := range testcases {
		t.Run(name, func(t *testing.T) {
			out, err := offsetAddress(tc.addr, tc.offset)
			if tc.err != "" {
				assert.ErrorContains(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.out, out)
		})
	}
}

func TestIPRange(t *testing.T) {
	ips := ipRange(net.ParseIP("10.0.0.254"), net.ParseIP("10.0.1.1"))

	require.Len(t, ips, 4)
	assert.Equal(t, "10.0.0.254", ips[0].String())
	assert.Equal(t, "10.0.0.255", ips[1].String())
	assert.Equal(t, "10.0.1.0", ips[2].String())
	assert.Equal(t, "10.0.1.1", ips[3].String())

	assert.Len(t, ipRange(net.ParseIP("10.0.0.1"), net.ParseIP("10.0.0.1")), 1)
	assert.Empty(t, ipRange(net.ParseIP("fe80::1"), net.ParseIP("fe80::2")))
}

func rangeConfig(book string) *config.ServerConfig {
	return &config.ServerConfig{
		IPRange:     config.IPRange{Start: "192.168.10.10", End: "192.168.10.12"},
		NIC:         "eth0",
		Network:     config.NetworkConfig{Netmask: "255.255.255.0"},
		AddressBook: book,
	}
}

func TestAssignAddresses(t *testing.T) {
	t.Run("listen ports", func(t *testing.T) {
		addrs, err := assignAddresses(&config.ServerConfig{Listen: "0.0.0.0:6230"}, []string{"a", "b"}, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"0.0.0.0:6230", "0.0.0.0:6231"}, addrs)
	})

	t.Run("ip range", func(t *testing.T) {
		addrs, err := assignAddresses(rangeConfig(""), []string{"a", "b"}, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"192.168.10.10:623", "192.168.10.11:623"}, addrs)
	})

	t.Run("ip range with listen port", func(t *testing.T) {
		cfg := rangeConfig("")
		cfg.Listen = ":6623"

		addrs, err := assignAddresses(cfg, []string{"a"}, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"192.168.10.10:6623"}, addrs)
	})

	t.Run("range too small", func(t *testing.T) {
		_, err := assignAddresses(rangeConfig(""), []string{"a", "b", "c", "d"}, nil)
		assert.ErrorContains(t, err, "Need 4, have 3")
	})

	t.Run("address book keeps assignments", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "state", "addresses.yaml")

		book, err := config.NewAddressBook(path)
		require.NoError(t, err)
		addrs, err := assignAddresses(rangeConfig(path), []string{"a", "b"}, book)
		require.NoError(t, err)
		assert.Equal(t, []string{"192.168.10.10:623", "192.168.10.11:623"}, addrs)
		book.Close()

		// Blade a is gone and c is new. b keeps its address, c takes the
		// first free one.
		book, err = config.NewAddressBook(path)
		require.NoError(t, err)
		defer book.Close()

		addrs, err = assignAddresses(rangeConfig(path), []string{"c", "b"}, book)
		require.NoError(t, err)
		assert.Equal(t, []string{"192.168.10.10:623", "192.168.10.11:623"}, addrs)

		ip, ok := book.Lookup("c")
		require.True(t, ok)
		assert.Equal(t, "192.168.10.10", ip)
		_, ok = book.Lookup("a")
		assert.False(t, ok)
	})
}

func TestNewMemoryBackend(t *testing.T) {
	cfg := &config.SimulatorConfig{
		Backend:      config.BackendMemory,
		Blades:       []string{"blade1", "blade2"},
		Fans:         4,
		Sockets:      2,
		Users:        []config.UserConfig{{Name: "admin", Password: "secret"}},
		BMCKey:       "6b6579",
		CipherSuites: []uint8{3, 17},
		LegacyListen: "127.0.0.1:7623",
		Server:       config.ServerConfig{Listen: "127.0.0.1:6230"},
	}

	s, err := New(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"blade1": "127.0.0.1:6230",
		"blade2": "127.0.0.1:6231",
	}, s.Addresses())
	require.Len(t, s.BMCs(), 2)
	assert.Equal(t, "blade2", s.BMCs()[1].Name())
	require.Len(t, s.legacy, 2)
	assert.Equal(t, "127.0.0.1:7624", s.legacy[1].addr.String())

	_, ok := s.Chassis().FanSpeed(4)
	assert.True(t, ok)
}

func TestNewInvalidUser(t *testing.T) {
	cfg := &config.SimulatorConfig{
		Backend: config.BackendMemory,
		Blades:  []string{"blade1"},
		Users:   []config.UserConfig{{Name: "admin", Privilege: "root"}},
		Server:  config.ServerConfig{Listen: "127.0.0.1:0"},
	}

	_, err := New(context.Background(), cfg)
	assert.ErrorContains(t, err, "unknown privilege level")
}

func TestRunStopsWithContext(t *testing.T) {
	cfg := &config.SimulatorConfig{
		Backend: config.BackendMemory,
		Blades:  []string{"blade1"},
		Users:   []config.UserConfig{{Name: "admin", Password: "secret"}},
		Server:  config.ServerConfig{Listen: "127.0.0.1:0"},
	}

	s, err := New(context.Background(), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("simulator did not stop")
	}
}

// serveBMC serves b on a loopback UDP socket until the test ends.
func serveBMC(t *testing.T, b *BMC) ipmi.Target {
	t.Helper()

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Responder().ServePacketConn(ctx, conn)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return ipmi.Target{Host: "127.0.0.1", Port: conn.LocalAddr().(*net.UDPAddr).Port}
}

func TestChassisOverUDP(t *testing.T) {
	testcases := map[string]struct {
		version ipmi.Version
		suite   uint8
	}{
		"ipmi v1.5": {
			version: ipmi.Version15,
		},
		"rmcp+ cipher suite 3": {
			version: ipmi.Version20,
			suite:   3,
		},
		"rmcp+ cipher suite 17": {
			version: ipmi.Version20,
			suite:   17,
		},
	}

	for name, tc := range testcases {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			chassis := NewChassis(2, 2)
			power := NewMemoryPower(false)
			bmc := NewBMC("blade1", power, chassis, ipmi.WithUser("admin", "secret", ipmi.PrivilegeAdmin))
			target := serveBMC(t, bmc)

			m := ipmi.NewManager(
				ipmi.WithVersion(tc.version),
				ipmi.WithCipherSuite(tc.suite),
				ipmi.WithTimeout(time.Second),
			)
			defer m.Close(ctx)

			s, err := m.Open(ctx, target, ipmi.Credentials{Username: "admin", Password: "secret"}, ipmi.PrivilegeAdmin)
			require.NoError(t, err)
			assert.Equal(t, tc.version, s.Version())
			assert.Equal(t, 1, bmc.Responder().Sessions())

			d := dispatch.New()
			device.RegisterCommands(d, dispatch.Policy{Timeout: time.Second, Retries: 1}, 0)

			// Blade
			blade := device.NewBlade(d, s, device.WithPriority(ipmi.PrioritySystem))

			id, err := blade.DeviceID(ctx)
			require.NoError(t, err)
			assert.Equal(t, uint8(0x20), id.DeviceID)

			require.NoError(t, blade.PowerOn(ctx))
			status, err := blade.Status(ctx)
			require.NoError(t, err)
			assert.True(t, status.PoweredOn())

			require.NoError(t, blade.Reset(ctx))
			assert.Equal(t, 1, power.Resets())

			require.NoError(t, blade.SetBootDevice(ctx, device.BootDevicePXE, false))
			assert.Equal(t, device.BootDevicePXE, power.BootDevice())

			require.NoError(t, blade.PowerOff(ctx))
			status, err = blade.Status(ctx)
			require.NoError(t, err)
			assert.False(t, status.PoweredOn())

			// Fans
			fan := device.NewFan(d, s, 2, FanSensorBase+1)

			speed, err := fan.Speed(ctx)
			require.NoError(t, err)
			assert.Equal(t, uint8(50), speed)

			require.NoError(t, fan.SetSpeed(ctx, 85))
			speed, err = fan.Speed(ctx)
			require.NoError(t, err)
			assert.Equal(t, uint8(85), speed)

			missing := device.NewFan(d, s, 3, FanSensorBase+2)
			_, err = missing.Speed(ctx)
			assert.ErrorIs(t, err, ipmi.CompletionNotPresent)

			// Sockets
			socket := device.NewACSocket(d, s, 1)

			require.NoError(t, socket.Off(ctx))
			state, err := socket.State(ctx)
			require.NoError(t, err)
			assert.Equal(t, device.SocketOff, state)

			require.NoError(t, socket.On(ctx))
			state, ok := chassis.SocketState(1)
			require.True(t, ok)
			assert.Equal(t, device.SocketOn, state)

			s.Close(ctx)
			assert.Eventually(t, func() bool {
				return bmc.Responder().Sessions() == 0
			}, time.Second, 10*time.Millisecond)
		})
	}
}

func TestChassisOverUDPWrongPassword(t *testing.T) {
	ctx := context.Background()

	bmc := NewBMC("blade1", NewMemoryPower(false), nil, ipmi.WithUser("admin", "secret", ipmi.PrivilegeAdmin))
	target := serveBMC(t, bmc)

	m := ipmi.NewManager(ipmi.WithVersion(ipmi.Version20), ipmi.WithTimeout(200*time.Millisecond))

	_, err := m.Open(ctx, target, ipmi.Credentials{Username: "admin", Password: "wrong"}, ipmi.PrivilegeAdmin)

	var negErr *ipmi.NegotiationError
	assert.ErrorAs(t, err, &negErr)
	assert.Equal(t, 0, bmc.Responder().Sessions())
}
