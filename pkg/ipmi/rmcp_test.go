package ipmi

import (
	"testing"

	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPingPacket(t *testing.T) {
	b, err := pingPacket(0x2a)
	require.NoError(t, err)

	assert.Equal(t, []byte{
		0x06, 0x00, 0xff, 0x06,
		0x00, 0x00, 0x11, 0xbe, 0x80, 0x2a, 0x00, 0x00,
	}, b)
}

func TestParsePong(t *testing.T) {
	pong := []byte{
		0x06, 0x00, 0xff, 0x06,
		0x00, 0x00, 0x11, 0xbe, 0x40, 0x2a, 0x00, 0x10,
		0x00, 0x00, 0x11, 0xbe,
		0x00, 0x00, 0x00, 0x00,
		0x81, 0x80,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}

	tag, presence, err := parsePong(pong)
	require.NoError(t, err)
	assert.Equal(t, uint8(0x2a), tag)
	assert.Equal(t, &Presence{
		Enterprise:         ianaASF,
		IPMI:               true,
		ASFv1:              true,
		SecurityExtensions: true,
	}, presence)

	ping, err := pingPacket(1)
	require.NoError(t, err)
	_, _, err = parsePong(ping)
	assert.ErrorIs(t, err, ErrInvalidPacket)
}

func TestRMCPWrapping(t *testing.T) {
	b, err := wrapRMCP(layers.RMCPClassIPMI, []byte{0x00, 0x01})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x06, 0x00, 0xff, 0x07, 0x00, 0x01}, b)

	payload, err := unwrapRMCP(layers.RMCPClassIPMI, b)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x01}, payload)

	_, err = unwrapRMCP(layers.RMCPClassASF, b)
	assert.ErrorIs(t, err, ErrInvalidPacket)

	_, err = unwrapRMCP(layers.RMCPClassIPMI, []byte{0x06, 0x00})
	assert.ErrorIs(t, err, ErrInvalidPacket)
}
