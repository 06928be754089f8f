package ipmi

import (
	"encoding/binary"
	"fmt"

	"github.com/google/gopacket/layers"
)

// sessionHeaderV15 is the IPMI v1.5 session header (Section 13.6).
type sessionHeaderV15 struct {
	AuthType  AuthType
	Sequence  uint32
	SessionID uint32
	// AuthCode is only present on the wire when AuthType is not none.
	AuthCode [16]byte
}

// encodeV15 frames a LAN message with the v1.5 session header.
func encodeV15(h *sessionHeaderV15, msg []byte) ([]byte, error) {
	if len(msg) > 0xff {
		return nil, fmt.Errorf("message of %d bytes exceeds the v1.5 limit", len(msg))
	}

	buf := make([]byte, 0, 10+16+len(msg))
	buf = append(buf, uint8(h.AuthType))
	buf = binary.LittleEndian.AppendUint32(buf, h.Sequence)
	buf = binary.LittleEndian.AppendUint32(buf, h.SessionID)
	if h.AuthType != AuthTypeNone {
		buf = append(buf, h.AuthCode[:]...)
	}
	buf = append(buf, uint8(len(msg)))
	buf = append(buf, msg...)

	return wrapRMCP(layers.RMCPClassIPMI, buf)
}

// decodeV15 splits a v1.5 packet into its session header and LAN message.
func decodeV15(b []byte) (*sessionHeaderV15, []byte, error) {
	b, err := unwrapRMCP(layers.RMCPClassIPMI, b)
	if err != nil {
		return nil, nil, err
	}

	if len(b) < 10 {
		return nil, nil, fmt.Errorf("%w: session header too short", ErrInvalidPacket)
	}

	h := &sessionHeaderV15{
		AuthType:  AuthType(b[0]),
		Sequence:  binary.LittleEndian.Uint32(b[1:5]),
		SessionID: binary.LittleEndian.Uint32(b[5:9]),
	}

	if h.AuthType == AuthTypeRMCPPlus {
		return nil, nil, fmt.Errorf("%w: unexpected RMCP+ packet", ErrInvalidPacket)
	}

	b = b[9:]
	if h.AuthType != AuthTypeNone {
		if len(b) < 17 {
			return nil, nil, fmt.Errorf("%w: authentication code truncated", ErrInvalidPacket)
		}
		copy(h.AuthCode[:], b[:16])
		b = b[16:]
	}

	n := int(b[0])
	if len(b)-1 < n {
		return nil, nil, fmt.Errorf("%w: message length %d exceeds packet", ErrInvalidPacket, n)
	}

	return h, b[1 : 1+n], nil
}
