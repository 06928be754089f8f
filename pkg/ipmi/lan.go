package ipmi

import (
	"fmt"
)

// IPMB addresses used on the LAN channel.
const (
	bmcSlaveAddr  = 0x20
	remoteSWID    = 0x81
	lanHeaderSize = 6
)

// lanMessage is an IPMI LAN message (Section 13.8). For a request Target is
// the responder address and Source the requester; a response mirrors them.
type lanMessage struct {
	Target  uint8
	NetFn   NetFn
	Source  uint8
	Seq     uint8
	Command uint8
	Data    []byte
}

// checksum is the two's complement of the byte sum.
func checksum(b []byte) uint8 {
	var c uint8
	for _, v := range b {
		c += v
	}
	return -c
}

// Pack converts the message into its wire form with both checksums.
func (m *lanMessage) Pack() []byte {
	buf := make([]byte, 0, lanHeaderSize+len(m.Data)+1)
	buf = append(buf, m.Target, uint8(m.NetFn)<<2)
	buf = append(buf, checksum(buf[:2]))
	buf = append(buf, m.Source, (m.Seq&0x3f)<<2, m.Command)
	buf = append(buf, m.Data...)
	buf = append(buf, checksum(buf[3:]))

	return buf
}

// Unpack parses a wire message, rejecting checksum mismatches.
func (m *lanMessage) Unpack(b []byte) error {
	if len(b) < lanHeaderSize+1 {
		return fmt.Errorf("%w: message too short (%d bytes)", ErrInvalidPacket, len(b))
	}

	if checksum(b[:2]) != b[2] {
		return fmt.Errorf("%w: header checksum mismatch", ErrInvalidPacket)
	}

	if checksum(b[3:len(b)-1]) != b[len(b)-1] {
		return fmt.Errorf("%w: data checksum mismatch", ErrInvalidPacket)
	}

	m.Target = b[0]
	m.NetFn = NetFn(b[1] >> 2)
	m.Source = b[3]
	m.Seq = b[4] >> 2
	m.Command = b[5]
	m.Data = append([]byte(nil), b[lanHeaderSize:len(b)-1]...)

	return nil
}
