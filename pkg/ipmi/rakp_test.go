package ipmi

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeyExchange(t *testing.T, suiteID uint8, creds Credentials) *keyExchange {
	t.Helper()

	suite, err := LookupCipherSuite(suiteID)
	require.NoError(t, err)

	kx := newKeyExchange(suite, creds, PrivilegeAdmin)
	kx.remoteSessionID = 0xa0a1a2a3
	kx.managedSessionID = 0x01020304
	kx.remoteRandom = seq16(0x10)
	kx.managedRandom = seq16(0x20)
	kx.managedGUID = seq16(0x30)

	return kx
}

func TestRAKPAuthCodes(t *testing.T) {
	kx := testKeyExchange(t, 3, Credentials{Username: "admin", Password: "secret"})

	kuid := make([]byte, 20)
	copy(kuid, "secret")
	user := []byte{0x14, 5, 'a', 'd', 'm', 'i', 'n'}
	remoteSID := []byte{0xa3, 0xa2, 0xa1, 0xa0}
	managedSID := []byte{0x04, 0x03, 0x02, 0x01}
	rm, rc, guid := seq16(0x10), seq16(0x20), seq16(0x30)

	mac := func(key []byte, parts ...[]byte) []byte {
		h := hmac.New(sha1.New, key)
		h.Write(bytes.Join(parts, nil))
		return h.Sum(nil)
	}

	assert.Equal(t, mac(kuid, remoteSID, managedSID, rm[:], rc[:], guid[:], user), kx.rakp2AuthCode())
	assert.Equal(t, mac(kuid, rc[:], remoteSID, user), kx.rakp3AuthCode())

	kx.deriveKeys()

	sik := mac(kuid, rm[:], rc[:], user)
	assert.Equal(t, sik, kx.sik)
	assert.Equal(t, mac(sik, bytes.Repeat([]byte{1}, 20)), kx.k1)
	assert.Equal(t, mac(sik, bytes.Repeat([]byte{2}, 20)), kx.k2)
	assert.Equal(t, mac(sik, rm[:], managedSID, guid[:])[:12], kx.rakp4ICV())

	assert.True(t, kx.verifyRAKP2(kx.rakp2AuthCode()))
	assert.False(t, kx.verifyRAKP2(make([]byte, 20)))
	assert.True(t, kx.verifyRAKP4(kx.rakp4ICV()))
}

func TestRAKPWithKG(t *testing.T) {
	kx := testKeyExchange(t, 17, Credentials{Username: "admin", Password: "secret", KG: "bmc key"})
	kx.deriveKeys()

	kg := make([]byte, 20)
	copy(kg, "bmc key")
	rm, rc := seq16(0x10), seq16(0x20)

	h := hmac.New(sha256.New, kg)
	h.Write(rm[:])
	h.Write(rc[:])
	h.Write([]byte{0x14, 5, 'a', 'd', 'm', 'i', 'n'})

	assert.Equal(t, h.Sum(nil), kx.sik)
	assert.Len(t, kx.k1, 32)
	assert.Len(t, kx.rakp4ICV(), 16)
}

func TestRAKPNone(t *testing.T) {
	kx := testKeyExchange(t, 0, Credentials{Username: "admin"})
	kx.deriveKeys()

	assert.Nil(t, kx.rakp2AuthCode())
	assert.Nil(t, kx.sik)
	assert.True(t, kx.verifyRAKP2(nil))
	assert.False(t, kx.verifyRAKP2([]byte{1}))
	assert.True(t, kx.verifyRAKP4(nil))
}

func TestRAKPMessage1FromKeyExchange(t *testing.T) {
	kx := testKeyExchange(t, 3, Credentials{Username: "a-very-long-user-name-indeed", Password: "pw"})

	msg := kx.rakp1(7)
	assert.Equal(t, uint8(16), msg.UsernameLength)
	assert.Equal(t, []byte("a-very-long-user"), msg.Username)
	assert.Equal(t, uint8(0x14), msg.Role)
	assert.Equal(t, uint32(0x01020304), msg.ManagedSessionID)
}
