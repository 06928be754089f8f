package ipmi

import (
	"crypto/md5"
	"encoding/binary"
)

// DefaultAuthTypes is the v1.5 authentication type preference order.
var DefaultAuthTypes = []AuthType{AuthTypeMD5, AuthTypePassword, AuthTypeMD2, AuthTypeNone}

// chooseAuthType returns the first preferred type the channel supports.
func chooseAuthType(caps *GetChannelAuthCapabilitiesResponse, preferred []AuthType) (AuthType, bool) {
	if len(preferred) == 0 {
		preferred = DefaultAuthTypes
	}

	for _, a := range preferred {
		if caps.Supports(a) {
			return a, true
		}
	}

	return 0, false
}

// password16 pads or truncates a v1.5 password to its 16 byte key form.
func password16(s string) [16]byte {
	var p [16]byte
	copy(p[:], s)
	return p
}

// authCodeV15 computes the session header authentication code (Section
// 22.17.1): H(password ‖ session id ‖ message ‖ sequence ‖ password) for the
// digest types, the password itself for straight password authentication.
func authCodeV15(t AuthType, password [16]byte, sessionID uint32, msg []byte, seq uint32) [16]byte {
	var code [16]byte

	switch t {
	case AuthTypePassword:
		return password
	case AuthTypeMD5, AuthTypeMD2:
	default:
		return code
	}

	data := make([]byte, 0, 16+4+len(msg)+4+16)
	data = append(data, password[:]...)
	data = binary.LittleEndian.AppendUint32(data, sessionID)
	data = append(data, msg...)
	data = binary.LittleEndian.AppendUint32(data, seq)
	data = append(data, password[:]...)

	if t == AuthTypeMD5 {
		return md5.Sum(data)
	}

	return md2Sum(data)
}
