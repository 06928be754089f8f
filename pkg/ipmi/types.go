package ipmi

import (
	"fmt"
	"strings"
)

// NetFn is the IPMI network function code of a request. Responses use the
// next (odd) value.
type NetFn uint8

// IPMI Network Functions
const (
	NetFnChassis     NetFn = 0x00
	NetFnSensorEvent NetFn = 0x04
	NetFnApp         NetFn = 0x06
	NetFnStorage     NetFn = 0x0a
	NetFnTransport   NetFn = 0x0c
	NetFnOEM         NetFn = 0x30
)

// Response returns the network function used by replies to fn.
func (fn NetFn) Response() NetFn {
	return fn | 0x01
}

func (fn NetFn) String() string {
	switch fn &^ 0x01 {
	case NetFnChassis:
		return "Chassis"
	case NetFnSensorEvent:
		return "Sensor/Event"
	case NetFnApp:
		return "App"
	case NetFnStorage:
		return "Storage"
	case NetFnTransport:
		return "Transport"
	case NetFnOEM:
		return "OEM"
	default:
		return fmt.Sprintf("NetFn(%#02x)", uint8(fn))
	}
}

// IPMI App commands used for session management
const (
	CommandGetDeviceID                = 0x01
	CommandGetChannelAuthCapabilities = 0x38
	CommandGetSessionChallenge        = 0x39
	CommandActivateSession            = 0x3a
	CommandSetSessionPrivilegeLevel   = 0x3b
	CommandCloseSession               = 0x3c
)

// Operation identifies a command by its network function and command code.
type Operation struct {
	NetFn   NetFn
	Command uint8
	Name    string
}

func (o Operation) String() string {
	if o.Name != "" {
		return o.Name
	}
	return fmt.Sprintf("%v/%#02x", o.NetFn, o.Command)
}

// Key strips the name so operations can be used as map keys.
func (o Operation) Key() Operation {
	return Operation{NetFn: o.NetFn, Command: o.Command}
}

var (
	OpGetDeviceID                = Operation{NetFnApp, CommandGetDeviceID, "Get Device ID"}
	OpGetChannelAuthCapabilities = Operation{NetFnApp, CommandGetChannelAuthCapabilities, "Get Channel Authentication Capabilities"}
	OpGetSessionChallenge        = Operation{NetFnApp, CommandGetSessionChallenge, "Get Session Challenge"}
	OpActivateSession            = Operation{NetFnApp, CommandActivateSession, "Activate Session"}
	OpSetSessionPrivilegeLevel   = Operation{NetFnApp, CommandSetSessionPrivilegeLevel, "Set Session Privilege Level"}
	OpCloseSession               = Operation{NetFnApp, CommandCloseSession, "Close Session"}
)

// AuthType is the IPMI v1.5 session authentication type (Section 13.6).
type AuthType uint8

// IPMI Authentication Types
const (
	AuthTypeNone     AuthType = 0x00
	AuthTypeMD2      AuthType = 0x01
	AuthTypeMD5      AuthType = 0x02
	AuthTypePassword AuthType = 0x04
	AuthTypeOEM      AuthType = 0x05
	AuthTypeRMCPPlus AuthType = 0x06
)

func (a AuthType) String() string {
	switch a {
	case AuthTypeNone:
		return "NONE"
	case AuthTypeMD2:
		return "MD2"
	case AuthTypeMD5:
		return "MD5"
	case AuthTypePassword:
		return "PASSWORD"
	case AuthTypeOEM:
		return "OEM"
	case AuthTypeRMCPPlus:
		return "RMCP+"
	default:
		return fmt.Sprintf("Reserved(%d)", uint8(a))
	}
}

// ParseAuthType maps a configuration string to a v1.5 authentication type.
func ParseAuthType(s string) (AuthType, error) {
	switch strings.ToLower(s) {
	case "none":
		return AuthTypeNone, nil
	case "md2":
		return AuthTypeMD2, nil
	case "md5":
		return AuthTypeMD5, nil
	case "password", "straight":
		return AuthTypePassword, nil
	default:
		return 0, fmt.Errorf("unknown authentication type %q", s)
	}
}

// PrivilegeLevel is the maximum authority granted to a session.
type PrivilegeLevel uint8

// IPMI Privilege Levels
const (
	PrivilegeHighest  PrivilegeLevel = 0x00
	PrivilegeCallback PrivilegeLevel = 0x01
	PrivilegeUser     PrivilegeLevel = 0x02
	PrivilegeOperator PrivilegeLevel = 0x03
	PrivilegeAdmin    PrivilegeLevel = 0x04
	PrivilegeOEM      PrivilegeLevel = 0x05
)

func (p PrivilegeLevel) String() string {
	switch p {
	case PrivilegeHighest:
		return "HIGHEST"
	case PrivilegeCallback:
		return "CALLBACK"
	case PrivilegeUser:
		return "USER"
	case PrivilegeOperator:
		return "OPERATOR"
	case PrivilegeAdmin:
		return "ADMINISTRATOR"
	case PrivilegeOEM:
		return "OEM"
	default:
		return fmt.Sprintf("Privilege(%d)", uint8(p))
	}
}

// ParsePrivilegeLevel maps a configuration string to a privilege level.
func ParsePrivilegeLevel(s string) (PrivilegeLevel, error) {
	switch s {
	case "callback", "CALLBACK":
		return PrivilegeCallback, nil
	case "user", "USER":
		return PrivilegeUser, nil
	case "operator", "OPERATOR":
		return PrivilegeOperator, nil
	case "", "admin", "ADMIN", "administrator", "ADMINISTRATOR":
		return PrivilegeAdmin, nil
	case "oem", "OEM":
		return PrivilegeOEM, nil
	default:
		return 0, fmt.Errorf("unknown privilege level %q", s)
	}
}

// Version selects the session protocol.
type Version uint8

const (
	// VersionAuto uses IPMI v2.0 when the channel advertises it.
	VersionAuto Version = iota
	Version15
	Version20
)

func (v Version) String() string {
	switch v {
	case Version15:
		return "1.5"
	case Version20:
		return "2.0"
	default:
		return "auto"
	}
}

// ParseVersion maps a configuration string to a protocol version.
func ParseVersion(s string) (Version, error) {
	switch s {
	case "", "auto":
		return VersionAuto, nil
	case "1.5", "lan":
		return Version15, nil
	case "2.0", "lanplus":
		return Version20, nil
	default:
		return 0, fmt.Errorf("unknown IPMI version %q", s)
	}
}
