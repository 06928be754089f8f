package ipmi

import (
	"encoding"

	"github.com/chassis-manager/pkg/codec"
)

// Request is a command payload sent to a managed system.
type Request interface {
	encoding.BinaryMarshaler
	Operation() Operation
}

// Response is the decoded reply to a Request. Decoding is lenient, so callers
// check Code before trusting any other field.
type Response interface {
	encoding.BinaryUnmarshaler
	Code() CompletionCode
}

// Completion is embedded by every response type.
type Completion struct {
	CompletionCode CompletionCode
}

// Code returns the response completion code.
func (c *Completion) Code() CompletionCode {
	return c.CompletionCode
}

// CompletionField is the completion code at offset 0 of every response.
func CompletionField[T any](f func(*T) *Completion) codec.Field[T] {
	return codec.Uint("completion code", 0, 1, func(m *T) *CompletionCode {
		return &f(m).CompletionCode
	})
}

// UserName pads or truncates a user name to the 16 byte wire form.
func UserName(s string) [16]byte {
	var b [16]byte
	copy(b[:], s)
	return b
}

// RawResponse keeps the data bytes of a reply undecoded.
type RawResponse struct {
	Completion
	Data []byte
}

var rawResponseSchema = codec.NewSchema(
	CompletionField(func(r *RawResponse) *Completion { return &r.Completion }),
	codec.Remainder("data", 1, func(r *RawResponse) *[]byte { return &r.Data }),
)

func (r *RawResponse) UnmarshalBinary(b []byte) error {
	rawResponseSchema.Decode(b, r)
	return nil
}

// GetChannelAuthCapabilitiesRequest per section 22.13
type GetChannelAuthCapabilitiesRequest struct {
	// Channel holds the channel number in bits 3:0. Bit 7 asks for IPMI v2.0
	// extended data.
	Channel   uint8
	Privilege PrivilegeLevel
}

const (
	// ChannelCurrent addresses the channel the request arrived on.
	ChannelCurrent uint8 = 0x0e
	// ChannelExtendedData requests the IPMI v2.0 capability bits.
	ChannelExtendedData uint8 = 0x80
)

var getChannelAuthCapabilitiesRequestSchema = codec.NewSchema(
	codec.Uint("channel", 0, 1, func(r *GetChannelAuthCapabilitiesRequest) *uint8 { return &r.Channel }),
	codec.Uint("privilege", 1, 1, func(r *GetChannelAuthCapabilitiesRequest) *PrivilegeLevel { return &r.Privilege }),
)

func (*GetChannelAuthCapabilitiesRequest) Operation() Operation {
	return OpGetChannelAuthCapabilities
}

func (r *GetChannelAuthCapabilitiesRequest) MarshalBinary() ([]byte, error) {
	return getChannelAuthCapabilitiesRequestSchema.Encode(r)
}

func (r *GetChannelAuthCapabilitiesRequest) UnmarshalBinary(b []byte) error {
	getChannelAuthCapabilitiesRequestSchema.Decode(b, r)
	return nil
}

// GetChannelAuthCapabilitiesResponse per section 22.13
type GetChannelAuthCapabilitiesResponse struct {
	Completion
	Channel uint8
	// AuthTypeSupport is a bitmap indexed by AuthType. Bit 7 flags that
	// ExtendedCapabilities is valid.
	AuthTypeSupport uint8
	// AuthStatus carries the per-message and user level authentication
	// switches and the login status bits.
	AuthStatus           uint8
	ExtendedCapabilities uint8
	OEMID                uint32
	OEMAux               uint8
}

var getChannelAuthCapabilitiesResponseSchema = codec.NewSchema(
	CompletionField(func(r *GetChannelAuthCapabilitiesResponse) *Completion { return &r.Completion }),
	codec.Uint("channel", 1, 1, func(r *GetChannelAuthCapabilitiesResponse) *uint8 { return &r.Channel }),
	codec.Uint("auth type support", 2, 1, func(r *GetChannelAuthCapabilitiesResponse) *uint8 { return &r.AuthTypeSupport }),
	codec.Uint("auth status", 3, 1, func(r *GetChannelAuthCapabilitiesResponse) *uint8 { return &r.AuthStatus }),
	codec.Uint("extended capabilities", 4, 1, func(r *GetChannelAuthCapabilitiesResponse) *uint8 { return &r.ExtendedCapabilities }),
	codec.Uint("oem id", 5, 3, func(r *GetChannelAuthCapabilitiesResponse) *uint32 { return &r.OEMID }),
	codec.Uint("oem aux", 8, 1, func(r *GetChannelAuthCapabilitiesResponse) *uint8 { return &r.OEMAux }),
)

func (r *GetChannelAuthCapabilitiesResponse) MarshalBinary() ([]byte, error) {
	return getChannelAuthCapabilitiesResponseSchema.Encode(r)
}

func (r *GetChannelAuthCapabilitiesResponse) UnmarshalBinary(b []byte) error {
	getChannelAuthCapabilitiesResponseSchema.Decode(b, r)
	return nil
}

// Supports reports whether the channel accepts the v1.5 authentication type.
func (r *GetChannelAuthCapabilitiesResponse) Supports(a AuthType) bool {
	if a > AuthTypeOEM {
		return false
	}
	return r.AuthTypeSupport&(1<<a) != 0
}

// SupportsV20 reports whether the channel advertises IPMI v2.0 (RMCP+).
func (r *GetChannelAuthCapabilitiesResponse) SupportsV20() bool {
	return r.AuthTypeSupport&0x80 != 0 && r.ExtendedCapabilities&0x02 != 0
}

// PerMessageAuthDisabled reports whether messages after activation may be
// sent without an authentication code.
func (r *GetChannelAuthCapabilitiesResponse) PerMessageAuthDisabled() bool {
	return r.AuthStatus&0x10 != 0
}

// GetSessionChallengeRequest per section 22.16
type GetSessionChallengeRequest struct {
	AuthType AuthType
	Username [16]byte
}

var getSessionChallengeRequestSchema = codec.NewSchema(
	codec.Uint("auth type", 0, 1, func(r *GetSessionChallengeRequest) *AuthType { return &r.AuthType }),
	codec.Array("user name", 1, 16, func(r *GetSessionChallengeRequest) []byte { return r.Username[:] }),
)

func (*GetSessionChallengeRequest) Operation() Operation {
	return OpGetSessionChallenge
}

func (r *GetSessionChallengeRequest) MarshalBinary() ([]byte, error) {
	return getSessionChallengeRequestSchema.Encode(r)
}

func (r *GetSessionChallengeRequest) UnmarshalBinary(b []byte) error {
	getSessionChallengeRequestSchema.Decode(b, r)
	return nil
}

// GetSessionChallengeResponse per section 22.16
type GetSessionChallengeResponse struct {
	Completion
	TemporarySessionID uint32
	Challenge          [16]byte
}

var getSessionChallengeResponseSchema = codec.NewSchema(
	CompletionField(func(r *GetSessionChallengeResponse) *Completion { return &r.Completion }),
	codec.Uint("temporary session id", 1, 4, func(r *GetSessionChallengeResponse) *uint32 { return &r.TemporarySessionID }),
	codec.Array("challenge", 5, 16, func(r *GetSessionChallengeResponse) []byte { return r.Challenge[:] }),
)

func (r *GetSessionChallengeResponse) MarshalBinary() ([]byte, error) {
	return getSessionChallengeResponseSchema.Encode(r)
}

func (r *GetSessionChallengeResponse) UnmarshalBinary(b []byte) error {
	getSessionChallengeResponseSchema.Decode(b, r)
	return nil
}

// ActivateSessionRequest per section 22.17
type ActivateSessionRequest struct {
	AuthType     AuthType
	MaxPrivilege PrivilegeLevel
	Challenge    [16]byte
	// InitialOutboundSeq is the first sequence number the managed system
	// will use towards us. It must not be zero.
	InitialOutboundSeq uint32
}

var activateSessionRequestSchema = codec.NewSchema(
	codec.Uint("auth type", 0, 1, func(r *ActivateSessionRequest) *AuthType { return &r.AuthType }),
	codec.Uint("max privilege", 1, 1, func(r *ActivateSessionRequest) *PrivilegeLevel { return &r.MaxPrivilege }),
	codec.Array("challenge", 2, 16, func(r *ActivateSessionRequest) []byte { return r.Challenge[:] }),
	codec.Uint("initial outbound sequence", 18, 4, func(r *ActivateSessionRequest) *uint32 { return &r.InitialOutboundSeq }),
)

func (*ActivateSessionRequest) Operation() Operation {
	return OpActivateSession
}

func (r *ActivateSessionRequest) MarshalBinary() ([]byte, error) {
	return activateSessionRequestSchema.Encode(r)
}

func (r *ActivateSessionRequest) UnmarshalBinary(b []byte) error {
	activateSessionRequestSchema.Decode(b, r)
	return nil
}

// ActivateSessionResponse per section 22.17
type ActivateSessionResponse struct {
	Completion
	AuthType  AuthType
	SessionID uint32
	// InitialInboundSeq is the first sequence number we use towards the
	// managed system.
	InitialInboundSeq uint32
	MaxPrivilege      PrivilegeLevel
}

var activateSessionResponseSchema = codec.NewSchema(
	CompletionField(func(r *ActivateSessionResponse) *Completion { return &r.Completion }),
	codec.Uint("auth type", 1, 1, func(r *ActivateSessionResponse) *AuthType { return &r.AuthType }),
	codec.Uint("session id", 2, 4, func(r *ActivateSessionResponse) *uint32 { return &r.SessionID }),
	codec.Uint("initial inbound sequence", 6, 4, func(r *ActivateSessionResponse) *uint32 { return &r.InitialInboundSeq }),
	codec.Uint("max privilege", 10, 1, func(r *ActivateSessionResponse) *PrivilegeLevel { return &r.MaxPrivilege }),
)

func (r *ActivateSessionResponse) MarshalBinary() ([]byte, error) {
	return activateSessionResponseSchema.Encode(r)
}

func (r *ActivateSessionResponse) UnmarshalBinary(b []byte) error {
	activateSessionResponseSchema.Decode(b, r)
	return nil
}

// SetSessionPrivilegeLevelRequest per section 22.18
type SetSessionPrivilegeLevelRequest struct {
	Privilege PrivilegeLevel
}

var setSessionPrivilegeLevelRequestSchema = codec.NewSchema(
	codec.Uint("privilege", 0, 1, func(r *SetSessionPrivilegeLevelRequest) *PrivilegeLevel { return &r.Privilege }),
)

func (*SetSessionPrivilegeLevelRequest) Operation() Operation {
	return OpSetSessionPrivilegeLevel
}

func (r *SetSessionPrivilegeLevelRequest) MarshalBinary() ([]byte, error) {
	return setSessionPrivilegeLevelRequestSchema.Encode(r)
}

func (r *SetSessionPrivilegeLevelRequest) UnmarshalBinary(b []byte) error {
	setSessionPrivilegeLevelRequestSchema.Decode(b, r)
	return nil
}

// SetSessionPrivilegeLevelResponse per section 22.18
type SetSessionPrivilegeLevelResponse struct {
	Completion
	Privilege PrivilegeLevel
}

var setSessionPrivilegeLevelResponseSchema = codec.NewSchema(
	CompletionField(func(r *SetSessionPrivilegeLevelResponse) *Completion { return &r.Completion }),
	codec.Uint("privilege", 1, 1, func(r *SetSessionPrivilegeLevelResponse) *PrivilegeLevel { return &r.Privilege }),
)

func (r *SetSessionPrivilegeLevelResponse) MarshalBinary() ([]byte, error) {
	return setSessionPrivilegeLevelResponseSchema.Encode(r)
}

func (r *SetSessionPrivilegeLevelResponse) UnmarshalBinary(b []byte) error {
	setSessionPrivilegeLevelResponseSchema.Decode(b, r)
	return nil
}

// CloseSessionRequest per section 22.19
type CloseSessionRequest struct {
	SessionID uint32
}

var closeSessionRequestSchema = codec.NewSchema(
	codec.Uint("session id", 0, 4, func(r *CloseSessionRequest) *uint32 { return &r.SessionID }),
)

func (*CloseSessionRequest) Operation() Operation {
	return OpCloseSession
}

func (r *CloseSessionRequest) MarshalBinary() ([]byte, error) {
	return closeSessionRequestSchema.Encode(r)
}

func (r *CloseSessionRequest) UnmarshalBinary(b []byte) error {
	closeSessionRequestSchema.Decode(b, r)
	return nil
}

// CloseSessionResponse carries only a completion code.
type CloseSessionResponse struct {
	Completion
}

var closeSessionResponseSchema = codec.NewSchema(
	CompletionField(func(r *CloseSessionResponse) *Completion { return &r.Completion }),
)

func (r *CloseSessionResponse) UnmarshalBinary(b []byte) error {
	closeSessionResponseSchema.Decode(b, r)
	return nil
}

// GetDeviceIDRequest per section 20.1
type GetDeviceIDRequest struct{}

func (*GetDeviceIDRequest) Operation() Operation {
	return OpGetDeviceID
}

func (*GetDeviceIDRequest) MarshalBinary() ([]byte, error) {
	return []byte{}, nil
}

// GetDeviceIDResponse per section 20.1
type GetDeviceIDResponse struct {
	Completion
	DeviceID                uint8
	DeviceRevision          uint8
	FirmwareRevision1       uint8
	FirmwareRevision2       uint8
	IPMIVersion             uint8
	AdditionalDeviceSupport uint8
	ManufacturerID          uint32
	ProductID               uint16
	AuxFirmwareRevision     [4]byte
}

var getDeviceIDResponseSchema = codec.NewSchema(
	CompletionField(func(r *GetDeviceIDResponse) *Completion { return &r.Completion }),
	codec.Uint("device id", 1, 1, func(r *GetDeviceIDResponse) *uint8 { return &r.DeviceID }),
	codec.Uint("device revision", 2, 1, func(r *GetDeviceIDResponse) *uint8 { return &r.DeviceRevision }),
	codec.Uint("firmware revision 1", 3, 1, func(r *GetDeviceIDResponse) *uint8 { return &r.FirmwareRevision1 }),
	codec.Uint("firmware revision 2", 4, 1, func(r *GetDeviceIDResponse) *uint8 { return &r.FirmwareRevision2 }),
	codec.Uint("ipmi version", 5, 1, func(r *GetDeviceIDResponse) *uint8 { return &r.IPMIVersion }),
	codec.Uint("additional device support", 6, 1, func(r *GetDeviceIDResponse) *uint8 { return &r.AdditionalDeviceSupport }),
	codec.Uint("manufacturer id", 7, 3, func(r *GetDeviceIDResponse) *uint32 { return &r.ManufacturerID }),
	codec.Uint("product id", 10, 2, func(r *GetDeviceIDResponse) *uint16 { return &r.ProductID }),
	codec.Array("aux firmware revision", 12, 4, func(r *GetDeviceIDResponse) []byte { return r.AuxFirmwareRevision[:] }),
)

func (r *GetDeviceIDResponse) MarshalBinary() ([]byte, error) {
	return getDeviceIDResponseSchema.Encode(r)
}

func (r *GetDeviceIDResponse) UnmarshalBinary(b []byte) error {
	getDeviceIDResponseSchema.Decode(b, r)
	return nil
}
