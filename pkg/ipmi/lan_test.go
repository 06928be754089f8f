package ipmi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLANMessagePack(t *testing.T) {
	msg := lanMessage{
		Target:  bmcSlaveAddr,
		NetFn:   NetFnApp,
		Source:  remoteSWID,
		Seq:     0x41, // truncated to 6 bits
		Command: CommandGetDeviceID,
	}

	assert.Equal(t, []byte{0x20, 0x18, 0xc8, 0x81, 0x04, 0x01, 0x7a}, msg.Pack())
}

func TestLANMessageUnpack(t *testing.T) {
	rsp := lanMessage{
		Target:  remoteSWID,
		NetFn:   NetFnChassis.Response(),
		Source:  bmcSlaveAddr,
		Seq:     5,
		Command: 0x01,
		Data:    []byte{0x00, 0x01, 0x00, 0x00},
	}

	b := rsp.Pack()

	var out lanMessage
	require.NoError(t, out.Unpack(b))
	assert.Equal(t, rsp, out)

	testcases := map[string][]byte{
		"too short":       b[:6],
		"header checksum": append([]byte{b[0], b[1], b[2] + 1}, b[3:]...),
		"data checksum":   append(append([]byte(nil), b[:len(b)-1]...), b[len(b)-1]+1),
	}

	for name, tc := range testcases {
		t.Run(name, func(t *testing.T) {
			var m lanMessage
			assert.ErrorIs(t, m.Unpack(tc), ErrInvalidPacket)
		})
	}
}

func TestV15Framing(t *testing.T) {
	msg := []byte{0x20, 0x18, 0xc8, 0x81, 0x04, 0x01, 0x7a}

	t.Run("unauthenticated", func(t *testing.T) {
		b, err := encodeV15(&sessionHeaderV15{AuthType: AuthTypeNone}, msg)
		require.NoError(t, err)

		want := append([]byte{
			0x06, 0x00, 0xff, 0x07,
			0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
			0x07,
		}, msg...)
		assert.Equal(t, want, b)

		h, out, err := decodeV15(b)
		require.NoError(t, err)
		assert.Equal(t, AuthTypeNone, h.AuthType)
		assert.Equal(t, msg, out)
	})

	t.Run("authenticated", func(t *testing.T) {
		in := &sessionHeaderV15{
			AuthType:  AuthTypeMD5,
			Sequence:  0x0a0b0c0d,
			SessionID: 0x01020304,
			AuthCode:  seq16(0x40),
		}

		b, err := encodeV15(in, msg)
		require.NoError(t, err)
		assert.Len(t, b, 4+10+16+len(msg))
		assert.Equal(t, []byte{0x02, 0x0d, 0x0c, 0x0b, 0x0a, 0x04, 0x03, 0x02, 0x01}, b[4:13])

		h, out, err := decodeV15(b)
		require.NoError(t, err)
		assert.Equal(t, in, h)
		assert.Equal(t, msg, out)
	})

	t.Run("rejects rmcp+ and truncation", func(t *testing.T) {
		_, _, err := decodeV15([]byte{0x06, 0x00, 0xff, 0x07, 0x06, 0x00, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0})
		assert.ErrorIs(t, err, ErrInvalidPacket)

		_, _, err = decodeV15([]byte{0x06, 0x00, 0xff, 0x07, 0x00, 0, 0, 0, 0, 0, 0, 0, 0, 0x10, 0x20})
		assert.ErrorIs(t, err, ErrInvalidPacket)

		_, _, err = decodeV15([]byte{0x06, 0x00, 0xff, 0x06, 0x00})
		assert.ErrorIs(t, err, ErrInvalidPacket)
	})
}
