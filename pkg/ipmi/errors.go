package ipmi

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when no acceptable reply arrives before the
	// deadline. The session stays usable.
	ErrTimeout = errors.New("ipmi: timeout waiting for response")

	// ErrSessionNotActive is returned when sending on a session that is not
	// established, or has been closed.
	ErrSessionNotActive = errors.New("ipmi: session not active")

	// ErrSessionBusy is returned when a second request is issued on a session
	// while another is outstanding.
	ErrSessionBusy = errors.New("ipmi: session has a request in flight")

	// ErrInvalidPacket marks a received datagram that could not be parsed.
	ErrInvalidPacket = errors.New("ipmi: the received packet is invalid")
)

// TransportError wraps a failure of the underlying byte transport.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("ipmi: transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NegotiationErrorKind classifies why session establishment failed.
type NegotiationErrorKind uint8

const (
	// NegotiationRejected means the remote answered with a non-success
	// completion or status code.
	NegotiationRejected NegotiationErrorKind = iota + 1
	// NegotiationTimeout means the remote did not answer in time.
	NegotiationTimeout
	// NegotiationMalformed means a reply was too short to hold its mandatory
	// fields or carried impossible values.
	NegotiationMalformed
	// NegotiationUnsupported means no mutually supported algorithm exists.
	NegotiationUnsupported
	// NegotiationAuthFailed means a key exchange authentication code did not
	// match.
	NegotiationAuthFailed
	// NegotiationTransport means the transport failed for a reason other than
	// a timeout.
	NegotiationTransport
)

func (k NegotiationErrorKind) String() string {
	switch k {
	case NegotiationRejected:
		return "remote rejected"
	case NegotiationTimeout:
		return "communication timeout"
	case NegotiationMalformed:
		return "malformed response"
	case NegotiationUnsupported:
		return "unsupported"
	case NegotiationAuthFailed:
		return "authentication failed"
	case NegotiationTransport:
		return "transport failure"
	default:
		return "unknown"
	}
}

// NegotiationError is returned by Manager.Open when no session could be
// established.
type NegotiationError struct {
	Stage string
	Kind  NegotiationErrorKind
	// Code is the completion or RMCP+ status code for NegotiationRejected.
	Code uint8
	Err  error
}

func (e *NegotiationError) Error() string {
	msg := fmt.Sprintf("ipmi: session negotiation failed at %s: %s", e.Stage, e.Kind)
	if e.Kind == NegotiationRejected {
		msg += fmt.Sprintf(" (code %#02x)", e.Code)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}

func negotiationFailure(stage string, err error) *NegotiationError {
	var nerr *NegotiationError
	if errors.As(err, &nerr) {
		return nerr
	}

	kind := NegotiationTransport
	switch {
	case errors.Is(err, ErrTimeout):
		kind = NegotiationTimeout
	case errors.Is(err, ErrInvalidPacket):
		kind = NegotiationMalformed
	}

	return &NegotiationError{Stage: stage, Kind: kind, Err: err}
}

func rejected(stage string, code uint8, err error) *NegotiationError {
	return &NegotiationError{Stage: stage, Kind: NegotiationRejected, Code: code, Err: err}
}

func malformed(stage string, format string, args ...any) *NegotiationError {
	return &NegotiationError{Stage: stage, Kind: NegotiationMalformed, Err: fmt.Errorf(format, args...)}
}
