package ipmi

import (
	"crypto/hmac"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/gopacket/layers"
)

const (
	lanPlusHeaderSize = 12
	// lanPlusNextHeader is the fixed next header byte of the integrity trailer.
	lanPlusNextHeader = 0x07
)

// sessionHeaderV20 is the IPMI v2.0 RMCP+ session header (Section 13.6).
type sessionHeaderV20 struct {
	PayloadType   PayloadType
	Encrypted     bool
	Authenticated bool
	SessionID     uint32
	Sequence      uint32
}

// lanPlus carries the negotiated RMCP+ protection of a session. The zero
// value frames unprotected pre-session packets.
type lanPlus struct {
	integrity       IntegrityAlgorithm
	confidentiality ConfidentialityAlgorithm
	k1, k2          []byte
	rand            io.Reader
}

// encode frames payload for transmission, encrypting it and appending the
// integrity trailer when the header asks for it.
func (l *lanPlus) encode(h *sessionHeaderV20, payload []byte) ([]byte, error) {
	if h.Encrypted {
		if l.confidentiality != ConfidentialityAESCBC128 {
			return nil, fmt.Errorf("confidentiality algorithm %v is not supported", l.confidentiality)
		}

		rnd := l.rand
		if rnd == nil {
			rnd = rand.Reader
		}

		var err error
		if payload, err = encryptAESCBC128(l.k2, payload, rnd); err != nil {
			return nil, fmt.Errorf("failed to encrypt payload: %w", err)
		}
	}

	if len(payload) > 0xffff {
		return nil, fmt.Errorf("payload of %d bytes exceeds the RMCP+ limit", len(payload))
	}

	pt := uint8(h.PayloadType) & payloadTypeMask
	if h.Encrypted {
		pt |= payloadEncrypted
	}
	if h.Authenticated {
		pt |= payloadAuthenticated
	}

	buf := make([]byte, 0, lanPlusHeaderSize+len(payload)+4+2+l.integrity.Size())
	buf = append(buf, uint8(AuthTypeRMCPPlus), pt)
	buf = binary.LittleEndian.AppendUint32(buf, h.SessionID)
	buf = binary.LittleEndian.AppendUint32(buf, h.Sequence)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(payload)))
	buf = append(buf, payload...)

	if h.Authenticated {
		if l.integrity.Size() == 0 {
			return nil, fmt.Errorf("integrity algorithm %v is not supported", l.integrity)
		}

		pad := (4 - (len(buf)+2)%4) % 4
		for i := 0; i < pad; i++ {
			buf = append(buf, 0xff)
		}
		buf = append(buf, uint8(pad), lanPlusNextHeader)
		buf = append(buf, l.integrity.authCode(l.k1, buf)...)
	}

	return wrapRMCP(layers.RMCPClassIPMI, buf)
}

// decode verifies and strips the RMCP+ framing of a received packet.
func (l *lanPlus) decode(b []byte) (*sessionHeaderV20, []byte, error) {
	b, err := unwrapRMCP(layers.RMCPClassIPMI, b)
	if err != nil {
		return nil, nil, err
	}

	if len(b) < lanPlusHeaderSize {
		return nil, nil, fmt.Errorf("%w: session header too short", ErrInvalidPacket)
	}

	if AuthType(b[0]) != AuthTypeRMCPPlus {
		return nil, nil, fmt.Errorf("%w: not an RMCP+ packet", ErrInvalidPacket)
	}

	h := &sessionHeaderV20{
		PayloadType:   PayloadType(b[1] & payloadTypeMask),
		Encrypted:     b[1]&payloadEncrypted != 0,
		Authenticated: b[1]&payloadAuthenticated != 0,
		SessionID:     binary.LittleEndian.Uint32(b[2:6]),
		Sequence:      binary.LittleEndian.Uint32(b[6:10]),
	}

	end := lanPlusHeaderSize + int(binary.LittleEndian.Uint16(b[10:12]))
	if end > len(b) {
		return nil, nil, fmt.Errorf("%w: payload length exceeds packet", ErrInvalidPacket)
	}

	if h.Authenticated {
		if err := l.verify(b, end); err != nil {
			return nil, nil, err
		}
	}

	payload := b[lanPlusHeaderSize:end]

	if h.Encrypted {
		if l.confidentiality != ConfidentialityAESCBC128 {
			return nil, nil, fmt.Errorf("%w: unexpected encrypted payload", ErrInvalidPacket)
		}

		if payload, err = decryptAESCBC128(l.k2, payload); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrInvalidPacket, err)
		}
	}

	return h, payload, nil
}

// verify checks the integrity trailer that follows the payload ending at end.
func (l *lanPlus) verify(b []byte, end int) error {
	size := l.integrity.Size()
	if size == 0 {
		return fmt.Errorf("%w: unexpected authenticated payload", ErrInvalidPacket)
	}

	if len(b) < end+2+size {
		return fmt.Errorf("%w: integrity trailer truncated", ErrInvalidPacket)
	}

	signed := b[:len(b)-size]
	pad := int(signed[len(signed)-2])
	if signed[len(signed)-1] != lanPlusNextHeader || end+pad+2 != len(signed) {
		return fmt.Errorf("%w: malformed integrity trailer", ErrInvalidPacket)
	}

	if !hmac.Equal(b[len(signed):], l.integrity.authCode(l.k1, signed)) {
		return fmt.Errorf("%w: integrity check failed", ErrInvalidPacket)
	}

	return nil
}
