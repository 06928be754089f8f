package ipmi

import (
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

const (
	rmcpVersion1 = 0x06
	// rmcpNoAck marks a message that must not be acknowledged.
	rmcpNoAck = 0xff

	asfTypePing = 0x80
	asfTypePong = 0x40
	ianaASF     = 0x000011be
)

// wrapRMCP prepends the RMCP header for class to payload.
func wrapRMCP(class layers.RMCPClass, payload []byte) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{},
		&layers.RMCP{
			Version:  rmcpVersion1,
			Sequence: rmcpNoAck,
			Class:    class,
		},
		gopacket.Payload(payload),
	)
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// unwrapRMCP validates the RMCP header and returns what follows it.
func unwrapRMCP(class layers.RMCPClass, b []byte) ([]byte, error) {
	var rmcp layers.RMCP
	if err := rmcp.DecodeFromBytes(b, gopacket.NilDecodeFeedback); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPacket, err)
	}

	if rmcp.Version != rmcpVersion1 {
		return nil, fmt.Errorf("%w: unsupported RMCP version %#02x", ErrInvalidPacket, rmcp.Version)
	}

	if rmcp.Class != class {
		return nil, fmt.Errorf("%w: unexpected RMCP class %v", ErrInvalidPacket, rmcp.Class)
	}

	return rmcp.LayerPayload(), nil
}

// Presence is what a managed system reports in an ASF presence pong.
type Presence struct {
	Enterprise         uint32
	IPMI               bool
	ASFv1              bool
	SecurityExtensions bool
	DASH               bool
}

func pingPacket(tag uint8) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true},
		&layers.RMCP{
			Version:  rmcpVersion1,
			Sequence: rmcpNoAck,
			Class:    layers.RMCPClassASF,
		},
		&layers.ASF{
			ASFDataIdentifier: layers.ASFDataIdentifier{
				Enterprise: ianaASF,
				Type:       asfTypePing,
			},
			Tag: tag,
		},
	)
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// parsePong decodes a presence pong, returning its message tag.
func parsePong(b []byte) (uint8, *Presence, error) {
	packet := gopacket.NewPacket(b, layers.LayerTypeRMCP, gopacket.Default)

	asf, ok := packet.Layer(layers.LayerTypeASF).(*layers.ASF)
	if !ok || asf.Type != asfTypePong {
		return 0, nil, fmt.Errorf("%w: not an ASF presence pong", ErrInvalidPacket)
	}

	pong, ok := packet.Layer(layers.LayerTypeASFPresencePong).(*layers.ASFPresencePong)
	if !ok {
		return 0, nil, fmt.Errorf("%w: truncated ASF presence pong", ErrInvalidPacket)
	}

	return asf.Tag, &Presence{
		Enterprise:         pong.Enterprise,
		IPMI:               pong.IPMI,
		ASFv1:              pong.ASFv1,
		SecurityExtensions: pong.SecurityExtensions,
		DASH:               pong.DASH,
	}, nil
}
