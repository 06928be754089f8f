package ipmi

import (
	"fmt"

	"github.com/chassis-manager/pkg/codec"
)

// PayloadType identifies the content of an RMCP+ session packet.
type PayloadType uint8

// RMCP+ Payload Types (Section 13.27.3)
const (
	PayloadIPMI                PayloadType = 0x00
	PayloadSOL                 PayloadType = 0x01
	PayloadOEM                 PayloadType = 0x02
	PayloadOpenSessionRequest  PayloadType = 0x10
	PayloadOpenSessionResponse PayloadType = 0x11
	PayloadRAKP1               PayloadType = 0x12
	PayloadRAKP2               PayloadType = 0x13
	PayloadRAKP3               PayloadType = 0x14
	PayloadRAKP4               PayloadType = 0x15

	payloadEncrypted     = 0x80
	payloadAuthenticated = 0x40
	payloadTypeMask      = 0x3f
)

// StatusCode is the RMCP+ and RAKP message status code.
type StatusCode uint8

// RMCP+ and RAKP Message Status Codes (Section 13.24)
const (
	StatusNoErrors                   StatusCode = 0x00
	StatusInsufficientResources      StatusCode = 0x01
	StatusInvalidSessionID           StatusCode = 0x02
	StatusInvalidPayloadType         StatusCode = 0x03
	StatusInvalidAuthAlgorithm       StatusCode = 0x04
	StatusInvalidIntegrityAlgorithm  StatusCode = 0x05
	StatusNoMatchingAuthPayload      StatusCode = 0x06
	StatusNoMatchingIntegrityPayload StatusCode = 0x07
	StatusInactiveSessionID          StatusCode = 0x08
	StatusInvalidRole                StatusCode = 0x09
	StatusUnauthorizedRole           StatusCode = 0x0a
	StatusInsufficientResourcesRole  StatusCode = 0x0b
	StatusInvalidNameLength          StatusCode = 0x0c
	StatusUnauthorizedName           StatusCode = 0x0d
	StatusUnauthorizedGUID           StatusCode = 0x0e
	StatusInvalidIntegrityCheck      StatusCode = 0x0f
	StatusInvalidConfidentiality     StatusCode = 0x10
	StatusNoCipherSuiteMatch         StatusCode = 0x11
	StatusIllegalParameter           StatusCode = 0x12
)

var statusCodes = map[StatusCode]string{
	StatusNoErrors:                   "No errors",
	StatusInsufficientResources:      "Insufficient resources to create a session",
	StatusInvalidSessionID:           "Invalid session ID",
	StatusInvalidPayloadType:         "Invalid payload type",
	StatusInvalidAuthAlgorithm:       "Invalid authentication algorithm",
	StatusInvalidIntegrityAlgorithm:  "Invalid integrity algorithm",
	StatusNoMatchingAuthPayload:      "No matching authentication payload",
	StatusNoMatchingIntegrityPayload: "No matching integrity payload",
	StatusInactiveSessionID:          "Inactive session ID",
	StatusInvalidRole:                "Invalid role",
	StatusUnauthorizedRole:           "Unauthorized role or privilege level requested",
	StatusInsufficientResourcesRole:  "Insufficient resources to create a session at the requested role",
	StatusInvalidNameLength:          "Invalid name length",
	StatusUnauthorizedName:           "Unauthorized name",
	StatusUnauthorizedGUID:           "Unauthorized GUID",
	StatusInvalidIntegrityCheck:      "Invalid integrity check value",
	StatusInvalidConfidentiality:     "Invalid confidentiality algorithm",
	StatusNoCipherSuiteMatch:         "No cipher suite match with proposed security algorithms",
	StatusIllegalParameter:           "Illegal or unrecognized parameter",
}

func (s StatusCode) String() string {
	if d, ok := statusCodes[s]; ok {
		return d
	}
	return fmt.Sprintf("Unknown (%#02x)", uint8(s))
}

func (s StatusCode) Error() string {
	return fmt.Sprintf("status code %#02x: %s", uint8(s), s.String())
}

// Algorithm payload block types inside Open Session messages.
const (
	algorithmBlockAuth            = 0x00
	algorithmBlockIntegrity       = 0x01
	algorithmBlockConfidentiality = 0x02
	algorithmBlockLength          = 0x08
)

// OpenSessionRequest per section 13.17
type OpenSessionRequest struct {
	MessageTag      uint8
	MaxPrivilege    PrivilegeLevel
	RemoteSessionID uint32
	Auth            AuthAlgorithm
	Integrity       IntegrityAlgorithm
	Confidentiality ConfidentialityAlgorithm
}

var openSessionRequestSchema = codec.NewSchema(
	codec.Uint("message tag", 0, 1, func(r *OpenSessionRequest) *uint8 { return &r.MessageTag }),
	codec.Uint("max privilege", 1, 1, func(r *OpenSessionRequest) *PrivilegeLevel { return &r.MaxPrivilege }),
	codec.Reserved[OpenSessionRequest](2, 2),
	codec.Uint("remote console session id", 4, 4, func(r *OpenSessionRequest) *uint32 { return &r.RemoteSessionID }),
	codec.Const[OpenSessionRequest]("auth payload type", 8, algorithmBlockAuth),
	codec.Const[OpenSessionRequest]("auth payload length", 11, algorithmBlockLength),
	codec.Uint("auth algorithm", 12, 1, func(r *OpenSessionRequest) *AuthAlgorithm { return &r.Auth }),
	codec.Const[OpenSessionRequest]("integrity payload type", 16, algorithmBlockIntegrity),
	codec.Const[OpenSessionRequest]("integrity payload length", 19, algorithmBlockLength),
	codec.Uint("integrity algorithm", 20, 1, func(r *OpenSessionRequest) *IntegrityAlgorithm { return &r.Integrity }),
	codec.Const[OpenSessionRequest]("confidentiality payload type", 24, algorithmBlockConfidentiality),
	codec.Const[OpenSessionRequest]("confidentiality payload length", 27, algorithmBlockLength),
	codec.Uint("confidentiality algorithm", 28, 1, func(r *OpenSessionRequest) *ConfidentialityAlgorithm { return &r.Confidentiality }),
).WithLength(32)

func (r *OpenSessionRequest) MarshalBinary() ([]byte, error) {
	return openSessionRequestSchema.Encode(r)
}

func (r *OpenSessionRequest) UnmarshalBinary(b []byte) error {
	openSessionRequestSchema.Decode(b, r)
	return nil
}

// OpenSessionResponse per section 13.18
type OpenSessionResponse struct {
	MessageTag       uint8
	Status           StatusCode
	MaxPrivilege     PrivilegeLevel
	RemoteSessionID  uint32
	ManagedSessionID uint32
	Auth             AuthAlgorithm
	Integrity        IntegrityAlgorithm
	Confidentiality  ConfidentialityAlgorithm
}

var openSessionResponseSchema = codec.NewSchema(
	codec.Uint("message tag", 0, 1, func(r *OpenSessionResponse) *uint8 { return &r.MessageTag }),
	codec.Uint("status", 1, 1, func(r *OpenSessionResponse) *StatusCode { return &r.Status }),
	codec.Uint("max privilege", 2, 1, func(r *OpenSessionResponse) *PrivilegeLevel { return &r.MaxPrivilege }),
	codec.Reserved[OpenSessionResponse](3, 1),
	codec.Uint("remote console session id", 4, 4, func(r *OpenSessionResponse) *uint32 { return &r.RemoteSessionID }),
	codec.Uint("managed system session id", 8, 4, func(r *OpenSessionResponse) *uint32 { return &r.ManagedSessionID }),
	codec.Const[OpenSessionResponse]("auth payload type", 12, algorithmBlockAuth),
	codec.Const[OpenSessionResponse]("auth payload length", 15, algorithmBlockLength),
	codec.Uint("auth algorithm", 16, 1, func(r *OpenSessionResponse) *AuthAlgorithm { return &r.Auth }),
	codec.Const[OpenSessionResponse]("integrity payload type", 20, algorithmBlockIntegrity),
	codec.Const[OpenSessionResponse]("integrity payload length", 23, algorithmBlockLength),
	codec.Uint("integrity algorithm", 24, 1, func(r *OpenSessionResponse) *IntegrityAlgorithm { return &r.Integrity }),
	codec.Const[OpenSessionResponse]("confidentiality payload type", 28, algorithmBlockConfidentiality),
	codec.Const[OpenSessionResponse]("confidentiality payload length", 31, algorithmBlockLength),
	codec.Uint("confidentiality algorithm", 32, 1, func(r *OpenSessionResponse) *ConfidentialityAlgorithm { return &r.Confidentiality }),
).WithLength(36)

func (r *OpenSessionResponse) MarshalBinary() ([]byte, error) {
	return openSessionResponseSchema.Encode(r)
}

func (r *OpenSessionResponse) UnmarshalBinary(b []byte) error {
	openSessionResponseSchema.Decode(b, r)
	return nil
}

// RAKPMessage1 per section 13.20
type RAKPMessage1 struct {
	MessageTag       uint8
	ManagedSessionID uint32
	RemoteRandom     [16]byte
	// Role is the requested privilege with bit 4 set for a name-only lookup.
	Role           uint8
	UsernameLength uint8
	Username       []byte
}

var rakpMessage1Schema = codec.NewSchema(
	codec.Uint("message tag", 0, 1, func(r *RAKPMessage1) *uint8 { return &r.MessageTag }),
	codec.Reserved[RAKPMessage1](1, 3),
	codec.Uint("managed system session id", 4, 4, func(r *RAKPMessage1) *uint32 { return &r.ManagedSessionID }),
	codec.Array("remote console random", 8, 16, func(r *RAKPMessage1) []byte { return r.RemoteRandom[:] }),
	codec.Uint("role", 24, 1, func(r *RAKPMessage1) *uint8 { return &r.Role }),
	codec.Reserved[RAKPMessage1](25, 2),
	codec.Uint("user name length", 27, 1, func(r *RAKPMessage1) *uint8 { return &r.UsernameLength }),
	codec.Remainder("user name", 28, func(r *RAKPMessage1) *[]byte { return &r.Username }),
)

func (r *RAKPMessage1) MarshalBinary() ([]byte, error) {
	return rakpMessage1Schema.Encode(r)
}

func (r *RAKPMessage1) UnmarshalBinary(b []byte) error {
	rakpMessage1Schema.Decode(b, r)
	return nil
}

// RAKPMessage2 per section 13.21
type RAKPMessage2 struct {
	MessageTag      uint8
	Status          StatusCode
	RemoteSessionID uint32
	ManagedRandom   [16]byte
	ManagedGUID     [16]byte
	AuthCode        []byte
}

var rakpMessage2Schema = codec.NewSchema(
	codec.Uint("message tag", 0, 1, func(r *RAKPMessage2) *uint8 { return &r.MessageTag }),
	codec.Uint("status", 1, 1, func(r *RAKPMessage2) *StatusCode { return &r.Status }),
	codec.Reserved[RAKPMessage2](2, 2),
	codec.Uint("remote console session id", 4, 4, func(r *RAKPMessage2) *uint32 { return &r.RemoteSessionID }),
	codec.Array("managed system random", 8, 16, func(r *RAKPMessage2) []byte { return r.ManagedRandom[:] }),
	codec.Array("managed system guid", 24, 16, func(r *RAKPMessage2) []byte { return r.ManagedGUID[:] }),
	codec.Remainder("key exchange auth code", 40, func(r *RAKPMessage2) *[]byte { return &r.AuthCode }),
)

func (r *RAKPMessage2) MarshalBinary() ([]byte, error) {
	return rakpMessage2Schema.Encode(r)
}

func (r *RAKPMessage2) UnmarshalBinary(b []byte) error {
	rakpMessage2Schema.Decode(b, r)
	return nil
}

// RAKPMessage3 per section 13.22
type RAKPMessage3 struct {
	MessageTag       uint8
	Status           StatusCode
	ManagedSessionID uint32
	AuthCode         []byte
}

var rakpMessage3Schema = codec.NewSchema(
	codec.Uint("message tag", 0, 1, func(r *RAKPMessage3) *uint8 { return &r.MessageTag }),
	codec.Uint("status", 1, 1, func(r *RAKPMessage3) *StatusCode { return &r.Status }),
	codec.Reserved[RAKPMessage3](2, 2),
	codec.Uint("managed system session id", 4, 4, func(r *RAKPMessage3) *uint32 { return &r.ManagedSessionID }),
	codec.Remainder("key exchange auth code", 8, func(r *RAKPMessage3) *[]byte { return &r.AuthCode }),
)

func (r *RAKPMessage3) MarshalBinary() ([]byte, error) {
	return rakpMessage3Schema.Encode(r)
}

func (r *RAKPMessage3) UnmarshalBinary(b []byte) error {
	rakpMessage3Schema.Decode(b, r)
	return nil
}

// RAKPMessage4 per section 13.23
type RAKPMessage4 struct {
	MessageTag      uint8
	Status          StatusCode
	RemoteSessionID uint32
	IntegrityCheck  []byte
}

var rakpMessage4Schema = codec.NewSchema(
	codec.Uint("message tag", 0, 1, func(r *RAKPMessage4) *uint8 { return &r.MessageTag }),
	codec.Uint("status", 1, 1, func(r *RAKPMessage4) *StatusCode { return &r.Status }),
	codec.Reserved[RAKPMessage4](2, 2),
	codec.Uint("remote console session id", 4, 4, func(r *RAKPMessage4) *uint32 { return &r.RemoteSessionID }),
	codec.Remainder("integrity check value", 8, func(r *RAKPMessage4) *[]byte { return &r.IntegrityCheck }),
)

func (r *RAKPMessage4) MarshalBinary() ([]byte, error) {
	return rakpMessage4Schema.Encode(r)
}

func (r *RAKPMessage4) UnmarshalBinary(b []byte) error {
	rakpMessage4Schema.Decode(b, r)
	return nil
}
