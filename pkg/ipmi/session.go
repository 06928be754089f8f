package ipmi

import (
	"context"
	"crypto/hmac"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// SessionState is the lifecycle state of a Session.
type SessionState uint32

const (
	StateClosed SessionState = iota
	StateNegotiating
	StateActive
	StateClosing
)

func (s SessionState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateNegotiating:
		return "negotiating"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("SessionState(%d)", uint32(s))
	}
}

// Session is an authenticated IPMI session with one managed system. A session
// carries one request at a time; Send fails with ErrSessionBusy while another
// request is outstanding.
type Session struct {
	// mu is held for the whole of a request/response exchange.
	mu    sync.Mutex
	state atomic.Uint32

	target    Target
	transport Transport
	log       *logrus.Entry
	timeout   time.Duration
	rand      io.Reader
	onClose   func(*Session)

	version     Version
	established bool
	privilege   PrivilegeLevel

	sessionID uint32
	outSeq    uint32
	inbound   seqWindow
	rqSeq     uint8
	tag       uint8

	authType AuthType
	msgAuth  AuthType
	password [16]byte

	remoteSessionID uint32
	suite           CipherSuite
	lanPlus         *lanPlus
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

func (s *Session) setState(st SessionState) {
	s.state.Store(uint32(st))
}

// Target returns the managed system the session is bound to.
func (s *Session) Target() Target {
	return s.target
}

// ID returns the managed system session id.
func (s *Session) ID() uint32 {
	return s.sessionID
}

// Version returns the negotiated protocol version.
func (s *Session) Version() Version {
	return s.version
}

// AuthType returns the negotiated v1.5 authentication type, or
// AuthTypeRMCPPlus for a v2.0 session.
func (s *Session) AuthType() AuthType {
	if s.version == Version20 {
		return AuthTypeRMCPPlus
	}
	return s.authType
}

// CipherSuite returns the negotiated RMCP+ algorithms of a v2.0 session.
func (s *Session) CipherSuite() CipherSuite {
	return s.suite
}

// Privilege returns the privilege level granted to the session.
func (s *Session) Privilege() PrivilegeLevel {
	return s.privilege
}

// Send issues req and returns the response data, completion code first.
// A reply that does not arrive before the deadline yields ErrTimeout and
// leaves the session active.
func (s *Session) Send(ctx context.Context, req Request) ([]byte, error) {
	if !s.mu.TryLock() {
		return nil, ErrSessionBusy
	}
	defer s.mu.Unlock()

	if s.State() != StateActive {
		return nil, ErrSessionNotActive
	}

	data, err := req.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode %v: %w", req.Operation(), err)
	}

	return s.exchange(ctx, req.Operation(), data)
}

// Close ends the session. The Close Session command is best effort: a
// failure is logged and the session is closed regardless.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.State() {
	case StateClosed:
		return
	case StateActive:
		s.setState(StateClosing)
		s.closeSession(ctx)
	}

	s.setState(StateClosed)

	if err := s.transport.Close(); err != nil {
		s.log.WithError(err).Warn("Failed to close transport")
	}

	if s.onClose != nil {
		s.onClose(s)
	}
}

func (s *Session) closeSession(ctx context.Context) {
	req := &CloseSessionRequest{SessionID: s.sessionID}

	data, err := req.MarshalBinary()
	if err == nil {
		data, err = s.exchange(ctx, OpCloseSession, data)
	}
	if err != nil {
		s.log.WithError(err).Warn("Failed to close session")
		return
	}

	var rsp CloseSessionResponse
	rsp.UnmarshalBinary(data)

	if len(data) == 0 || !rsp.Code().Success() {
		s.log.Warnf("Close session returned: %v", rsp.Code())
		return
	}

	s.log.Debugf("Closed session %#08x", s.sessionID)
}

func (s *Session) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// nextSeq advances the outbound sequence number, skipping zero on wrap.
func (s *Session) nextSeq() uint32 {
	s.outSeq++
	if s.outSeq == 0 {
		s.outSeq = 1
	}
	return s.outSeq
}

// exchange sends one IPMI request and waits for its response data.
func (s *Session) exchange(ctx context.Context, op Operation, data []byte) ([]byte, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	s.rqSeq = (s.rqSeq + 1) & 0x3f

	msg := lanMessage{
		Target:  bmcSlaveAddr,
		NetFn:   op.NetFn,
		Source:  remoteSWID,
		Seq:     s.rqSeq,
		Command: op.Command,
		Data:    data,
	}

	pkt, err := s.frame(msg.Pack())
	if err != nil {
		return nil, fmt.Errorf("failed to frame %v: %w", op, err)
	}

	s.log.WithField("priority", PriorityFromContext(ctx)).Debugf("Sending %v (rqSeq %d)", op, msg.Seq)

	return s.roundTrip(ctx, pkt, func(b []byte) ([]byte, bool) {
		payload, ok := s.unframe(b)
		if !ok {
			return nil, false
		}

		var rsp lanMessage
		if err := rsp.Unpack(payload); err != nil {
			s.log.WithError(err).Debug("Dropping response")
			return nil, false
		}

		if rsp.NetFn != op.NetFn.Response() || rsp.Command != op.Command || rsp.Seq != msg.Seq {
			s.log.Debugf("Dropping unrelated response %v/%#02x (rqSeq %d)", rsp.NetFn, rsp.Command, rsp.Seq)
			return nil, false
		}

		return rsp.Data, true
	})
}

// exchangePayload sends an unauthenticated RMCP+ session setup payload and
// waits for the reply of type want carrying the same message tag.
func (s *Session) exchangePayload(ctx context.Context, pt PayloadType, payload []byte, want PayloadType, tag uint8) ([]byte, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var setup lanPlus

	pkt, err := setup.encode(&sessionHeaderV20{PayloadType: pt}, payload)
	if err != nil {
		return nil, err
	}

	return s.roundTrip(ctx, pkt, func(b []byte) ([]byte, bool) {
		h, p, err := setup.decode(b)
		if err != nil {
			s.log.WithError(err).Debug("Dropping packet")
			return nil, false
		}

		if h.PayloadType != want || len(p) == 0 || p[0] != tag {
			return nil, false
		}

		return p, true
	})
}

// roundTrip sends pkt and reads until match accepts a reply or ctx expires.
func (s *Session) roundTrip(ctx context.Context, pkt []byte, match func([]byte) ([]byte, bool)) ([]byte, error) {
	if err := s.transport.Send(ctx, pkt); err != nil {
		return nil, transportFailure("send", err)
	}

	for {
		b, err := s.transport.Receive(ctx)
		if err != nil {
			return nil, transportFailure("receive", err)
		}

		if rsp, ok := match(b); ok {
			return rsp, nil
		}
	}
}

func transportFailure(op string, err error) error {
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}

	var terr *TransportError
	if errors.As(err, &terr) {
		return err
	}

	return &TransportError{Op: op, Err: err}
}

// frame wraps a LAN message in the session header of the negotiated version.
func (s *Session) frame(msg []byte) ([]byte, error) {
	var seq uint32
	if s.established {
		seq = s.nextSeq()
	}

	if s.version == Version20 {
		return s.lanPlus.encode(&sessionHeaderV20{
			PayloadType:   PayloadIPMI,
			Encrypted:     s.lanPlus.confidentiality != ConfidentialityNone,
			Authenticated: s.lanPlus.integrity != IntegrityNone,
			SessionID:     s.sessionID,
			Sequence:      seq,
		}, msg)
	}

	return encodeV15(&sessionHeaderV15{
		AuthType:  s.msgAuth,
		Sequence:  seq,
		SessionID: s.sessionID,
		AuthCode:  authCodeV15(s.msgAuth, s.password, s.sessionID, msg, seq),
	}, msg)
}

// unframe validates a received packet against the session and returns the
// LAN message it carries.
func (s *Session) unframe(b []byte) ([]byte, bool) {
	if s.version == Version20 {
		h, payload, err := s.lanPlus.decode(b)
		if err != nil {
			s.log.WithError(err).Debug("Dropping packet")
			return nil, false
		}

		if h.PayloadType != PayloadIPMI {
			return nil, false
		}

		if s.established {
			if h.SessionID != s.remoteSessionID {
				s.log.Debugf("Dropping packet for session %#08x", h.SessionID)
				return nil, false
			}

			if s.lanPlus.integrity != IntegrityNone && !h.Authenticated {
				s.log.Debug("Dropping unauthenticated packet")
				return nil, false
			}

			if s.lanPlus.confidentiality != ConfidentialityNone && !h.Encrypted {
				s.log.Debug("Dropping unencrypted packet")
				return nil, false
			}

			if !s.inbound.accept(h.Sequence) {
				s.log.Debugf("Dropping packet with sequence %d outside window", h.Sequence)
				return nil, false
			}
		}

		return payload, true
	}

	h, msg, err := decodeV15(b)
	if err != nil {
		s.log.WithError(err).Debug("Dropping packet")
		return nil, false
	}

	if s.established {
		if h.SessionID != s.sessionID {
			s.log.Debugf("Dropping packet for session %#08x", h.SessionID)
			return nil, false
		}

		if h.AuthType != s.msgAuth {
			s.log.Debugf("Dropping packet with authentication type %v", h.AuthType)
			return nil, false
		}

		if h.AuthType != AuthTypeNone {
			code := authCodeV15(h.AuthType, s.password, h.SessionID, msg, h.Sequence)
			if !hmac.Equal(code[:], h.AuthCode[:]) {
				s.log.Debug("Dropping packet with bad authentication code")
				return nil, false
			}
		}

		if !s.inbound.accept(h.Sequence) {
			s.log.Debugf("Dropping packet with sequence %d outside window", h.Sequence)
			return nil, false
		}
	}

	return msg, true
}

// call performs one negotiation step, mapping failures to *NegotiationError.
// minSize is the shortest acceptable successful response.
func (s *Session) call(ctx context.Context, stage string, req Request, rsp Response, minSize int) error {
	data, err := req.MarshalBinary()
	if err != nil {
		return negotiationFailure(stage, err)
	}

	b, err := s.exchange(ctx, req.Operation(), data)
	if err != nil {
		return negotiationFailure(stage, err)
	}

	if len(b) == 0 {
		return malformed(stage, "response carries no completion code")
	}

	if err := rsp.UnmarshalBinary(b); err != nil {
		return malformed(stage, "%v", err)
	}

	if cc := rsp.Code(); !cc.Success() {
		return rejected(stage, uint8(cc), cc)
	}

	if len(b) < minSize {
		return malformed(stage, "response of %d bytes is shorter than %d", len(b), minSize)
	}

	return nil
}

// randomUint32 returns a random non-zero value.
func (s *Session) randomUint32() (uint32, error) {
	var b [4]byte
	for {
		if _, err := io.ReadFull(s.rand, b[:]); err != nil {
			return 0, err
		}

		if v := binary.LittleEndian.Uint32(b[:]); v != 0 {
			return v, nil
		}
	}
}

func (s *Session) nextTag() uint8 {
	s.tag++
	return s.tag
}
