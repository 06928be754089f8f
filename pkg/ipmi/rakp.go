package ipmi

import (
	"bytes"
	"crypto/hmac"
	"encoding/binary"
)

// roleNameOnly asks the managed system to look the user up by name only.
const roleNameOnly = 0x10

// keyExchange holds the RAKP state of one RMCP+ negotiation (Section 13.31).
type keyExchange struct {
	suite    CipherSuite
	kuid     []byte
	kg       []byte
	role     uint8
	username []byte

	remoteSessionID  uint32
	managedSessionID uint32
	remoteRandom     [16]byte
	managedRandom    [16]byte
	managedGUID      [16]byte

	sik, k1, k2 []byte
}

func newKeyExchange(suite CipherSuite, creds Credentials, priv PrivilegeLevel) *keyExchange {
	kuid := make([]byte, 20)
	copy(kuid, creds.Password)

	kg := kuid
	if creds.KG != "" {
		kg = make([]byte, 20)
		copy(kg, creds.KG)
	}

	username := []byte(creds.Username)
	if len(username) > 16 {
		username = username[:16]
	}

	return &keyExchange{
		suite:    suite,
		kuid:     kuid,
		kg:       kg,
		role:     uint8(priv) | roleNameOnly,
		username: username,
	}
}

func (k *keyExchange) rakp1(tag uint8) *RAKPMessage1 {
	return &RAKPMessage1{
		MessageTag:       tag,
		ManagedSessionID: k.managedSessionID,
		RemoteRandom:     k.remoteRandom,
		Role:             k.role,
		UsernameLength:   uint8(len(k.username)),
		Username:         k.username,
	}
}

func (k *keyExchange) user() []byte {
	return append([]byte{k.role, uint8(len(k.username))}, k.username...)
}

func le32(v uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, v)
}

// rakp2AuthCode is HMAC_Kuid(SIDm ‖ SIDc ‖ Rm ‖ Rc ‖ GUIDc ‖ ROLEm ‖ ULENm ‖ UNAMEm).
func (k *keyExchange) rakp2AuthCode() []byte {
	return k.suite.Auth.mac(k.kuid,
		le32(k.remoteSessionID), le32(k.managedSessionID),
		k.remoteRandom[:], k.managedRandom[:], k.managedGUID[:],
		k.user())
}

// rakp3AuthCode is HMAC_Kuid(Rc ‖ SIDm ‖ ROLEm ‖ ULENm ‖ UNAMEm).
func (k *keyExchange) rakp3AuthCode() []byte {
	return k.suite.Auth.mac(k.kuid,
		k.managedRandom[:], le32(k.remoteSessionID), k.user())
}

// rakp4ICV is HMAC_SIK(Rm ‖ SIDc ‖ GUIDc) truncated for the algorithm.
func (k *keyExchange) rakp4ICV() []byte {
	icv := k.suite.Auth.mac(k.sik,
		k.remoteRandom[:], le32(k.managedSessionID), k.managedGUID[:])
	if icv == nil {
		return nil
	}
	return icv[:k.suite.Auth.icvSize()]
}

// deriveKeys computes the session integrity key and the K1/K2 keys.
func (k *keyExchange) deriveKeys() {
	k.sik = k.suite.Auth.mac(k.kg,
		k.remoteRandom[:], k.managedRandom[:], k.user())
	if k.sik == nil {
		return
	}

	n := len(k.sik)
	k.k1 = k.suite.Auth.mac(k.sik, bytes.Repeat([]byte{0x01}, n))
	k.k2 = k.suite.Auth.mac(k.sik, bytes.Repeat([]byte{0x02}, n))
}

// verifyRAKP2 reports whether the managed system proved knowledge of Kuid.
func (k *keyExchange) verifyRAKP2(code []byte) bool {
	want := k.rakp2AuthCode()
	if want == nil {
		return len(code) == 0
	}
	return hmac.Equal(code, want)
}

// verifyRAKP4 reports whether the managed system derived the same SIK.
func (k *keyExchange) verifyRAKP4(icv []byte) bool {
	want := k.rakp4ICV()
	if want == nil {
		return len(icv) == 0
	}
	return hmac.Equal(icv, want)
}

// lanPlus returns the session protection for the derived keys.
func (k *keyExchange) lanPlus() *lanPlus {
	return &lanPlus{
		integrity:       k.suite.Integrity,
		confidentiality: k.suite.Confidentiality,
		k1:              k.k1,
		k2:              k.k2,
	}
}
