package ipmi

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"io"
)

// AuthAlgorithm is the RMCP+ key exchange authentication algorithm.
type AuthAlgorithm uint8

// RMCP+ Authentication Algorithms (Section 13.28)
const (
	AuthRAKPNone       AuthAlgorithm = 0x00
	AuthRAKPHMACSHA1   AuthAlgorithm = 0x01
	AuthRAKPHMACMD5    AuthAlgorithm = 0x02
	AuthRAKPHMACSHA256 AuthAlgorithm = 0x03
)

func (a AuthAlgorithm) String() string {
	switch a {
	case AuthRAKPNone:
		return "RAKP-none"
	case AuthRAKPHMACSHA1:
		return "RAKP-HMAC-SHA1"
	case AuthRAKPHMACMD5:
		return "RAKP-HMAC-MD5"
	case AuthRAKPHMACSHA256:
		return "RAKP-HMAC-SHA256"
	default:
		return fmt.Sprintf("AuthAlgorithm(%#02x)", uint8(a))
	}
}

func (a AuthAlgorithm) hash() func() hash.Hash {
	switch a {
	case AuthRAKPHMACSHA1:
		return sha1.New
	case AuthRAKPHMACMD5:
		return md5.New
	case AuthRAKPHMACSHA256:
		return sha256.New
	default:
		return nil
	}
}

// icvSize is the length of the RAKP message 4 integrity check value.
func (a AuthAlgorithm) icvSize() int {
	switch a {
	case AuthRAKPHMACSHA1:
		return 12
	case AuthRAKPHMACMD5, AuthRAKPHMACSHA256:
		return 16
	default:
		return 0
	}
}

// mac returns HMAC(key, data...) or nil for RAKP-none.
func (a AuthAlgorithm) mac(key []byte, data ...[]byte) []byte {
	h := a.hash()
	if h == nil {
		return nil
	}

	m := hmac.New(h, key)
	for _, d := range data {
		m.Write(d)
	}

	return m.Sum(nil)
}

// IntegrityAlgorithm protects RMCP+ session packets.
type IntegrityAlgorithm uint8

// RMCP+ Integrity Algorithms (Section 13.28.4)
const (
	IntegrityNone          IntegrityAlgorithm = 0x00
	IntegrityHMACSHA196    IntegrityAlgorithm = 0x01
	IntegrityHMACMD5128    IntegrityAlgorithm = 0x02
	IntegrityMD5128        IntegrityAlgorithm = 0x03
	IntegrityHMACSHA256128 IntegrityAlgorithm = 0x04
)

func (i IntegrityAlgorithm) String() string {
	switch i {
	case IntegrityNone:
		return "none"
	case IntegrityHMACSHA196:
		return "HMAC-SHA1-96"
	case IntegrityHMACMD5128:
		return "HMAC-MD5-128"
	case IntegrityMD5128:
		return "MD5-128"
	case IntegrityHMACSHA256128:
		return "HMAC-SHA256-128"
	default:
		return fmt.Sprintf("IntegrityAlgorithm(%#02x)", uint8(i))
	}
}

func (i IntegrityAlgorithm) hash() func() hash.Hash {
	switch i {
	case IntegrityHMACSHA196:
		return sha1.New
	case IntegrityHMACMD5128:
		return md5.New
	case IntegrityHMACSHA256128:
		return sha256.New
	default:
		return nil
	}
}

// Size is the length of the authentication code in the session trailer.
func (i IntegrityAlgorithm) Size() int {
	switch i {
	case IntegrityHMACSHA196:
		return 12
	case IntegrityHMACMD5128, IntegrityHMACSHA256128:
		return 16
	default:
		return 0
	}
}

// authCode computes the truncated session trailer code over data.
func (i IntegrityAlgorithm) authCode(k1, data []byte) []byte {
	h := i.hash()
	if h == nil {
		return nil
	}

	m := hmac.New(h, k1)
	m.Write(data)

	return m.Sum(nil)[:i.Size()]
}

// ConfidentialityAlgorithm encrypts RMCP+ session payloads.
type ConfidentialityAlgorithm uint8

// RMCP+ Confidentiality Algorithms (Section 13.28.5)
const (
	ConfidentialityNone      ConfidentialityAlgorithm = 0x00
	ConfidentialityAESCBC128 ConfidentialityAlgorithm = 0x01
	ConfidentialityXRC4128   ConfidentialityAlgorithm = 0x02
	ConfidentialityXRC440    ConfidentialityAlgorithm = 0x03
)

func (c ConfidentialityAlgorithm) String() string {
	switch c {
	case ConfidentialityNone:
		return "none"
	case ConfidentialityAESCBC128:
		return "AES-CBC-128"
	case ConfidentialityXRC4128:
		return "xRC4-128"
	case ConfidentialityXRC440:
		return "xRC4-40"
	default:
		return fmt.Sprintf("ConfidentialityAlgorithm(%#02x)", uint8(c))
	}
}

// CipherSuite is a named combination of RMCP+ algorithms (Section 22.15.2).
type CipherSuite struct {
	ID              uint8
	Auth            AuthAlgorithm
	Integrity       IntegrityAlgorithm
	Confidentiality ConfidentialityAlgorithm
}

func (c CipherSuite) String() string {
	return fmt.Sprintf("cipher suite %d (%v, %v, %v)", c.ID, c.Auth, c.Integrity, c.Confidentiality)
}

// DefaultCipherSuite is used when the target does not name one.
const DefaultCipherSuite uint8 = 3

var cipherSuites = map[uint8]CipherSuite{
	0:  {0, AuthRAKPNone, IntegrityNone, ConfidentialityNone},
	1:  {1, AuthRAKPHMACSHA1, IntegrityNone, ConfidentialityNone},
	2:  {2, AuthRAKPHMACSHA1, IntegrityHMACSHA196, ConfidentialityNone},
	3:  {3, AuthRAKPHMACSHA1, IntegrityHMACSHA196, ConfidentialityAESCBC128},
	6:  {6, AuthRAKPHMACMD5, IntegrityNone, ConfidentialityNone},
	7:  {7, AuthRAKPHMACMD5, IntegrityHMACMD5128, ConfidentialityNone},
	8:  {8, AuthRAKPHMACMD5, IntegrityHMACMD5128, ConfidentialityAESCBC128},
	15: {15, AuthRAKPHMACSHA256, IntegrityNone, ConfidentialityNone},
	16: {16, AuthRAKPHMACSHA256, IntegrityHMACSHA256128, ConfidentialityNone},
	17: {17, AuthRAKPHMACSHA256, IntegrityHMACSHA256128, ConfidentialityAESCBC128},
}

// LookupCipherSuite returns the algorithms of a supported cipher suite id.
func LookupCipherSuite(id uint8) (CipherSuite, error) {
	cs, ok := cipherSuites[id]
	if !ok {
		return CipherSuite{}, fmt.Errorf("cipher suite %d is not supported", id)
	}
	return cs, nil
}

// supports reports whether every algorithm of cs has an implementation.
func (c CipherSuite) supports() bool {
	for _, known := range cipherSuites {
		if known.Auth == c.Auth && known.Integrity == c.Integrity && known.Confidentiality == c.Confidentiality {
			return true
		}
	}
	return false
}

var errBadCiphertext = errors.New("encrypted payload is malformed")

// encryptAESCBC128 pads payload to the AES block size and returns IV ‖ ciphertext.
func encryptAESCBC128(k2 []byte, payload []byte, rnd io.Reader) ([]byte, error) {
	block, err := aes.NewCipher(k2[:aes.BlockSize])
	if err != nil {
		return nil, err
	}

	padLen := (aes.BlockSize - (len(payload)+1)%aes.BlockSize) % aes.BlockSize

	plain := make([]byte, 0, len(payload)+padLen+1)
	plain = append(plain, payload...)
	for i := 1; i <= padLen; i++ {
		plain = append(plain, byte(i))
	}
	plain = append(plain, byte(padLen))

	out := make([]byte, aes.BlockSize+len(plain))
	iv := out[:aes.BlockSize]
	if _, err := io.ReadFull(rnd, iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], plain)

	return out, nil
}

// decryptAESCBC128 reverses encryptAESCBC128 and strips the padding.
func decryptAESCBC128(k2 []byte, data []byte) ([]byte, error) {
	if len(data) < 2*aes.BlockSize || len(data)%aes.BlockSize != 0 {
		return nil, errBadCiphertext
	}

	block, err := aes.NewCipher(k2[:aes.BlockSize])
	if err != nil {
		return nil, err
	}

	plain := make([]byte, len(data)-aes.BlockSize)
	cipher.NewCBCDecrypter(block, data[:aes.BlockSize]).CryptBlocks(plain, data[aes.BlockSize:])

	padLen := int(plain[len(plain)-1])
	if padLen >= aes.BlockSize || padLen+1 > len(plain) {
		return nil, errBadCiphertext
	}

	end := len(plain) - 1 - padLen
	for i, b := range plain[end : len(plain)-1] {
		if b != byte(i+1) {
			return nil, errBadCiphertext
		}
	}

	return plain[:end], nil
}
