package ipmi

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// activationMessage is the Activate Session LAN message for challenge
// 00..0f, initial outbound sequence 0x01020304 and rqSeq 1.
func activationMessage(t *testing.T) []byte {
	t.Helper()

	data, err := (&ActivateSessionRequest{
		AuthType:           AuthTypeMD5,
		MaxPrivilege:       PrivilegeAdmin,
		Challenge:          seq16(0),
		InitialOutboundSeq: 0x01020304,
	}).MarshalBinary()
	require.NoError(t, err)

	msg := lanMessage{
		Target:  bmcSlaveAddr,
		NetFn:   NetFnApp,
		Source:  remoteSWID,
		Seq:     1,
		Command: CommandActivateSession,
		Data:    data,
	}

	return msg.Pack()
}

func TestActivationMessage(t *testing.T) {
	want, _ := hex.DecodeString("2018c881043a0204000102030405060708090a0b0c0d0e0f04030201b9")
	assert.Equal(t, want, activationMessage(t))
}

func TestAuthCodeMD5Vector(t *testing.T) {
	msg := activationMessage(t)

	code := authCodeV15(AuthTypeMD5, password16("pw"), 0x00000042, msg, 0)

	assert.Equal(t, "42f3ea7ee95f8a300282651b7460e9b7", hex.EncodeToString(code[:]))
}

func TestAuthCodeMD5Formula(t *testing.T) {
	msg := activationMessage(t)
	pw := password16("pw")

	var data []byte
	data = append(data, pw[:]...)
	data = binary.LittleEndian.AppendUint32(data, 0x42)
	data = append(data, msg...)
	data = binary.LittleEndian.AppendUint32(data, 7)
	data = append(data, pw[:]...)

	assert.Equal(t, md5.Sum(data), authCodeV15(AuthTypeMD5, pw, 0x42, msg, 7))
}

func TestAuthCodeOtherTypes(t *testing.T) {
	msg := activationMessage(t)
	pw := password16("pw")

	code := authCodeV15(AuthTypeMD2, pw, 0x42, msg, 0)
	assert.Equal(t, "e6df06f32ab978bd4ccd9b83d437a163", hex.EncodeToString(code[:]))

	assert.Equal(t, pw, authCodeV15(AuthTypePassword, pw, 0x42, msg, 0))
	assert.Equal(t, [16]byte{}, authCodeV15(AuthTypeNone, pw, 0x42, msg, 0))
}

func TestChooseAuthType(t *testing.T) {
	testcases := map[string]struct {
		support   uint8
		preferred []AuthType
		want      AuthType
		ok        bool
	}{
		"md5 preferred":            {support: 0x17, want: AuthTypeMD5, ok: true},
		"straight when md5 absent": {support: 0x13, want: AuthTypePassword, ok: true},
		"md2 before none":          {support: 0x03, want: AuthTypeMD2, ok: true},
		"none last":                {support: 0x01, want: AuthTypeNone, ok: true},
		"nothing usable":           {support: 0x20, ok: false},
		"explicit preference":      {support: 0x17, preferred: []AuthType{AuthTypePassword}, want: AuthTypePassword, ok: true},
		"none not allowed":         {support: 0x01, preferred: []AuthType{AuthTypeMD5, AuthTypePassword}, ok: false},
	}

	for name, tc := range testcases {
		t.Run(name, func(t *testing.T) {
			got, ok := chooseAuthType(&GetChannelAuthCapabilitiesResponse{AuthTypeSupport: tc.support}, tc.preferred)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}
