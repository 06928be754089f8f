package ipmi

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/sirupsen/logrus"
)

// Handler answers one IPMI request on behalf of a managed system. It returns
// the response data, completion code first.
type Handler func(ctx context.Context, data []byte) []byte

// Responder is the managed system side of the session protocol. It answers
// channel capability queries, v1.5 session activation and RMCP+ key exchange
// itself and passes every other request of an active session to the Handler
// registered for its operation.
type Responder struct {
	mu sync.Mutex

	log  *logrus.Entry
	rand io.Reader
	guid [16]byte

	users          map[string]responderUser
	kg             string
	authTypes      []AuthType
	v20            bool
	suites         []CipherSuite
	perMessageAuth bool

	handlers   map[Operation]Handler
	challenges map[uint32]*pendingChallenge
	exchanges  map[uint32]*pendingExchange
	sessions   map[uint32]*managedSession
	pendingSeq uint64
}

// maxPending bounds the handshakes started but not yet completed.
const maxPending = 64

type responderUser struct {
	password string
	max      PrivilegeLevel
}

type pendingChallenge struct {
	user      string
	authType  AuthType
	challenge [16]byte
	order     uint64
}

type pendingExchange struct {
	remoteSessionID uint32
	suite           CipherSuite
	max             PrivilegeLevel
	kx              *keyExchange
	order           uint64
}

// managedSession is the managed system's view of an active session.
type managedSession struct {
	id        uint32
	remoteID  uint32
	version   Version
	max       PrivilegeLevel
	privilege PrivilegeLevel

	msgAuth  AuthType
	password [16]byte
	lanPlus  *lanPlus

	inbound seqWindow
	outSeq  uint32
}

func (m *managedSession) nextSeq() uint32 {
	m.outSeq++
	if m.outSeq == 0 {
		m.outSeq = 1
	}
	return m.outSeq
}

// ResponderOption configures a Responder.
type ResponderOption func(*Responder)

// WithUser adds an account allowed to open sessions up to privilege max.
func WithUser(name, password string, max PrivilegeLevel) ResponderOption {
	return func(r *Responder) {
		r.users[name] = responderUser{password: password, max: max}
	}
}

// WithBMCKey sets K_g for two-key RMCP+ logins.
func WithBMCKey(kg string) ResponderOption {
	return func(r *Responder) {
		r.kg = kg
	}
}

// WithAuthTypes sets the v1.5 authentication types the channel offers.
func WithAuthTypes(types ...AuthType) ResponderOption {
	return func(r *Responder) {
		r.authTypes = types
	}
}

// WithCipherSuites restricts the RMCP+ cipher suites accepted in Open
// Session. No suites disables IPMI v2.0 on the channel.
func WithCipherSuites(ids ...uint8) ResponderOption {
	return func(r *Responder) {
		r.suites = r.suites[:0]
		for _, id := range ids {
			if cs, err := LookupCipherSuite(id); err == nil {
				r.suites = append(r.suites, cs)
			}
		}
		r.v20 = len(r.suites) > 0
	}
}

// WithoutPerMessageAuth lets v1.5 sessions send unauthenticated packets
// after activation.
func WithoutPerMessageAuth() ResponderOption {
	return func(r *Responder) {
		r.perMessageAuth = false
	}
}

// WithResponderLogger sets the logger.
func WithResponderLogger(log *logrus.Entry) ResponderOption {
	return func(r *Responder) {
		r.log = log
	}
}

// WithResponderRandom replaces the source of session ids and random numbers.
func WithResponderRandom(rnd io.Reader) ResponderOption {
	return func(r *Responder) {
		r.rand = rnd
	}
}

// WithGUID sets the system GUID reported in RAKP message 2.
func WithGUID(guid [16]byte) ResponderOption {
	return func(r *Responder) {
		r.guid = guid
	}
}

// NewResponder creates a managed system answering for the given users.
func NewResponder(opts ...ResponderOption) *Responder {
	r := &Responder{
		log:            logrus.WithField("component", "responder"),
		rand:           rand.Reader,
		users:          make(map[string]responderUser),
		authTypes:      []AuthType{AuthTypeMD5, AuthTypePassword, AuthTypeMD2},
		perMessageAuth: true,
		handlers:       make(map[Operation]Handler),
		challenges:     make(map[uint32]*pendingChallenge),
		exchanges:      make(map[uint32]*pendingExchange),
		sessions:       make(map[uint32]*managedSession),
	}

	WithCipherSuites(0, 1, 2, 3, 6, 7, 8, 15, 16, 17)(r)

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Handle registers h for requests of operation op.
func (r *Responder) Handle(op Operation, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[op.Key()] = h
}

// Sessions returns the number of active sessions.
func (r *Responder) Sessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.sessions)
}

// Serve answers one received datagram. It returns nil when the datagram is
// dropped. Serve is safe for concurrent use.
func (r *Responder) Serve(ctx context.Context, pkt []byte) []byte {
	if len(pkt) < 5 {
		return nil
	}

	if layers.RMCPClass(pkt[3]&0x0f) == layers.RMCPClassASF {
		reply, err := presencePong(pkt)
		if err != nil {
			r.log.WithError(err).Debug("Dropping ASF message")
			return nil
		}
		return reply
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		reply []byte
		err   error
	)
	if AuthType(pkt[4]) == AuthTypeRMCPPlus {
		reply, err = r.serveV20(ctx, pkt)
	} else {
		reply, err = r.serveV15(ctx, pkt)
	}
	if err != nil {
		r.log.WithError(err).Debug("Dropping request")
		return nil
	}

	return reply
}

// ListenAndServe answers datagrams received on addr until ctx is done.
func (r *Responder) ListenAndServe(ctx context.Context, addr string) error {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	return r.ServePacketConn(ctx, conn)
}

// ServePacketConn answers datagrams received on conn until ctx is done, then
// closes conn.
func (r *Responder) ServePacketConn(ctx context.Context, conn net.PacketConn) error {
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	r.log.Infof("Serving IPMI on %s", conn.LocalAddr())

	buffer := make([]byte, 1024)
	for {
		n, remoteAddr, err := conn.ReadFrom(buffer)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			r.log.Errorf("Failed to read from UDP: %v", err)
			continue
		}

		reply := r.Serve(ctx, append([]byte(nil), buffer[:n]...))
		if reply == nil {
			continue
		}

		if _, err := conn.WriteTo(reply, remoteAddr); err != nil {
			r.log.Errorf("Failed to send response: %v", err)
		}
	}
}

func presencePong(pkt []byte) ([]byte, error) {
	packet := gopacket.NewPacket(pkt, layers.LayerTypeRMCP, gopacket.Default)

	asf, ok := packet.Layer(layers.LayerTypeASF).(*layers.ASF)
	if !ok || asf.Type != asfTypePing {
		return nil, fmt.Errorf("%w: not an ASF presence ping", ErrInvalidPacket)
	}

	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true},
		&layers.RMCP{
			Version:  rmcpVersion1,
			Sequence: rmcpNoAck,
			Class:    layers.RMCPClassASF,
		},
		&layers.ASF{
			ASFDataIdentifier: layers.ASFDataIdentifier{
				Enterprise: ianaASF,
				Type:       asfTypePong,
			},
			Tag: asf.Tag,
		},
		&layers.ASFPresencePong{
			Enterprise: ianaASF,
			IPMI:       true,
			ASFv1:      true,
		},
	)
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// serveV15 handles packets with a v1.5 session header.
func (r *Responder) serveV15(ctx context.Context, pkt []byte) ([]byte, error) {
	h, msg, err := decodeV15(pkt)
	if err != nil {
		return nil, err
	}

	var req lanMessage
	if err := req.Unpack(msg); err != nil {
		return nil, err
	}
	op := Operation{NetFn: req.NetFn, Command: req.Command}

	if h.SessionID == 0 {
		switch op {
		case OpGetChannelAuthCapabilities.Key():
			return r.replyV15(nil, h, &req, r.capabilities(req.Data))
		case OpGetSessionChallenge.Key():
			return r.replyV15(nil, h, &req, r.challenge(req.Data))
		default:
			return r.replyV15(nil, h, &req, []byte{uint8(CompletionInsufficientPrivilege)})
		}
	}

	if pending, ok := r.challenges[h.SessionID]; ok && op == OpActivateSession.Key() {
		return r.activate(h, &req, msg, pending)
	}

	s, ok := r.sessions[h.SessionID]
	if !ok || s.version != Version15 {
		return nil, fmt.Errorf("unknown session %#08x", h.SessionID)
	}

	if s.msgAuth != AuthTypeNone || h.AuthType != AuthTypeNone {
		if h.AuthType != s.msgAuth {
			return nil, fmt.Errorf("session %#08x uses %v, packet carries %v", s.id, s.msgAuth, h.AuthType)
		}

		code := authCodeV15(h.AuthType, s.password, h.SessionID, msg, h.Sequence)
		if !hmac.Equal(code[:], h.AuthCode[:]) {
			return nil, errors.New("bad authentication code")
		}
	}

	if !s.inbound.accept(h.Sequence) {
		return nil, fmt.Errorf("sequence %d outside window", h.Sequence)
	}

	return r.replyV15(s, h, &req, r.dispatch(ctx, s, op, req.Data))
}

// replyV15 frames a response to req. A nil session answers outside a
// session, mirroring the request header.
func (r *Responder) replyV15(s *managedSession, h *sessionHeaderV15, req *lanMessage, data []byte) ([]byte, error) {
	msg := responseMessage(req, data).Pack()

	out := &sessionHeaderV15{SessionID: h.SessionID}
	if s != nil {
		out.AuthType = s.msgAuth
		out.Sequence = s.nextSeq()
		out.AuthCode = authCodeV15(s.msgAuth, s.password, s.id, msg, out.Sequence)
	}

	return encodeV15(out, msg)
}

func responseMessage(req *lanMessage, data []byte) *lanMessage {
	return &lanMessage{
		Target:  req.Source,
		NetFn:   req.NetFn.Response(),
		Source:  req.Target,
		Seq:     req.Seq,
		Command: req.Command,
		Data:    data,
	}
}

func (r *Responder) capabilities(data []byte) []byte {
	var req GetChannelAuthCapabilitiesRequest
	req.UnmarshalBinary(data)

	if req.Channel&ChannelExtendedData != 0 && !r.v20 {
		return []byte{uint8(CompletionInvalidDataField)}
	}

	rsp := &GetChannelAuthCapabilitiesResponse{
		Completion: Completion{CompletionOK},
		Channel:    1,
		AuthStatus: 0x04,
	}
	for _, a := range r.authTypes {
		rsp.AuthTypeSupport |= 1 << a
	}
	if !r.perMessageAuth {
		rsp.AuthStatus |= 0x10
	}
	if req.Channel&ChannelExtendedData != 0 {
		rsp.AuthTypeSupport |= 0x80
		rsp.ExtendedCapabilities = 0x03
	}

	return marshalResponse(rsp)
}

func (r *Responder) challenge(data []byte) []byte {
	var req GetSessionChallengeRequest
	req.UnmarshalBinary(data)

	if !r.offers(req.AuthType) {
		return []byte{uint8(CompletionInvalidDataField)}
	}

	name := string(trimName(req.Username[:]))
	if _, ok := r.users[name]; !ok {
		// invalid user name
		return []byte{0x81}
	}

	id, err := r.newSessionID()
	if err != nil {
		return []byte{uint8(CompletionUnspecified)}
	}

	pending := &pendingChallenge{user: name, authType: req.AuthType, order: r.reservePending()}
	if _, err := io.ReadFull(r.rand, pending.challenge[:]); err != nil {
		return []byte{uint8(CompletionUnspecified)}
	}
	r.challenges[id] = pending

	return marshalResponse(&GetSessionChallengeResponse{
		Completion:         Completion{CompletionOK},
		TemporarySessionID: id,
		Challenge:          pending.challenge,
	})
}

func (r *Responder) offers(a AuthType) bool {
	for _, t := range r.authTypes {
		if t == a {
			return true
		}
	}
	return false
}

func trimName(b []byte) []byte {
	for i, c := range b {
		if c == 0 {
			return b[:i]
		}
	}
	return b
}

// activate verifies an Activate Session request against its challenge.
func (r *Responder) activate(h *sessionHeaderV15, req *lanMessage, msg []byte, pending *pendingChallenge) ([]byte, error) {
	user := r.users[pending.user]
	password := password16(user.password)

	if h.AuthType != pending.authType {
		return nil, fmt.Errorf("activation uses %v, challenge was for %v", h.AuthType, pending.authType)
	}

	code := authCodeV15(h.AuthType, password, h.SessionID, msg, h.Sequence)
	if !hmac.Equal(code[:], h.AuthCode[:]) {
		return nil, errors.New("bad activation authentication code")
	}

	var act ActivateSessionRequest
	act.UnmarshalBinary(req.Data)

	fail := func(cc uint8) ([]byte, error) {
		return r.replyV15(nil, h, req, []byte{cc})
	}

	switch {
	case act.Challenge != pending.challenge:
		// invalid session id in request
		return fail(0x82)
	case act.InitialOutboundSeq == 0:
		return fail(uint8(CompletionInvalidDataField))
	case act.MaxPrivilege > user.max:
		// requested maximum privilege level exceeds user limit
		return fail(0x86)
	}

	delete(r.challenges, h.SessionID)

	id, err := r.newSessionID()
	if err != nil {
		return fail(uint8(CompletionUnspecified))
	}

	inbound, err := r.randomUint32()
	if err != nil {
		return fail(uint8(CompletionUnspecified))
	}

	s := &managedSession{
		id:        id,
		version:   Version15,
		max:       maxPrivilege(act.MaxPrivilege, user.max),
		privilege: PrivilegeUser,
		msgAuth:   pending.authType,
		password:  password,
		outSeq:    act.InitialOutboundSeq - 1,
	}
	if !r.perMessageAuth {
		s.msgAuth = AuthTypeNone
	}
	s.inbound.reset(inbound)
	r.sessions[id] = s

	r.log.Debugf("Activated session %#08x for %q with %v authentication", id, pending.user, pending.authType)

	data := marshalResponse(&ActivateSessionResponse{
		Completion:        Completion{CompletionOK},
		AuthType:          pending.authType,
		SessionID:         id,
		InitialInboundSeq: inbound,
		MaxPrivilege:      s.max,
	})

	rsp := responseMessage(req, data).Pack()

	return encodeV15(&sessionHeaderV15{
		AuthType:  h.AuthType,
		SessionID: h.SessionID,
		AuthCode:  authCodeV15(h.AuthType, password, h.SessionID, rsp, 0),
	}, rsp)
}

func maxPrivilege(requested, limit PrivilegeLevel) PrivilegeLevel {
	if requested == PrivilegeHighest || requested > limit {
		return limit
	}
	return requested
}

// serveV20 handles packets with an RMCP+ session header.
func (r *Responder) serveV20(ctx context.Context, pkt []byte) ([]byte, error) {
	if !r.v20 {
		return nil, errors.New("RMCP+ is disabled")
	}

	inner, err := unwrapRMCP(layers.RMCPClassIPMI, pkt)
	if err != nil {
		return nil, err
	}
	if len(inner) < lanPlusHeaderSize {
		return nil, fmt.Errorf("%w: session header too short", ErrInvalidPacket)
	}

	if id := binary.LittleEndian.Uint32(inner[2:6]); id != 0 {
		return r.serveSessionV20(ctx, id, pkt)
	}

	var setup lanPlus

	h, payload, err := setup.decode(pkt)
	if err != nil {
		return nil, err
	}

	var (
		pt  PayloadType
		rsp []byte
	)
	switch h.PayloadType {
	case PayloadOpenSessionRequest:
		pt, rsp = PayloadOpenSessionResponse, r.openSession(payload)
	case PayloadRAKP1:
		pt, rsp = PayloadRAKP2, r.rakp2(payload)
	case PayloadRAKP3:
		pt, rsp = PayloadRAKP4, r.rakp4(payload)
	default:
		return nil, fmt.Errorf("unexpected payload type %#02x outside a session", uint8(h.PayloadType))
	}
	if rsp == nil {
		return nil, errors.New("key exchange aborted by the remote console")
	}

	return setup.encode(&sessionHeaderV20{PayloadType: pt}, rsp)
}

func (r *Responder) openSession(payload []byte) []byte {
	var req OpenSessionRequest
	req.UnmarshalBinary(payload)

	rsp := &OpenSessionResponse{
		MessageTag:      req.MessageTag,
		RemoteSessionID: req.RemoteSessionID,
	}

	suite, ok := r.matchSuite(req.Auth, req.Integrity, req.Confidentiality)
	switch {
	case len(payload) < openSessionRequestSchema.Size() || req.RemoteSessionID == 0:
		rsp.Status = StatusIllegalParameter
	case !ok:
		rsp.Status = StatusNoCipherSuiteMatch
	case req.MaxPrivilege > PrivilegeOEM:
		rsp.Status = StatusInvalidRole
	}
	if rsp.Status != StatusNoErrors {
		return marshalResponse(rsp)
	}

	id, err := r.newSessionID()
	if err != nil {
		rsp.Status = StatusInsufficientResources
		return marshalResponse(rsp)
	}

	limit := req.MaxPrivilege
	if limit == PrivilegeHighest {
		limit = PrivilegeAdmin
	}

	r.exchanges[id] = &pendingExchange{
		remoteSessionID: req.RemoteSessionID,
		suite:           suite,
		max:             limit,
		order:           r.reservePending(),
	}

	rsp.MaxPrivilege = limit
	rsp.ManagedSessionID = id
	rsp.Auth = suite.Auth
	rsp.Integrity = suite.Integrity
	rsp.Confidentiality = suite.Confidentiality

	return marshalResponse(rsp)
}

func (r *Responder) matchSuite(a AuthAlgorithm, i IntegrityAlgorithm, c ConfidentialityAlgorithm) (CipherSuite, bool) {
	for _, cs := range r.suites {
		if cs.Auth == a && cs.Integrity == i && cs.Confidentiality == c {
			return cs, true
		}
	}
	return CipherSuite{}, false
}

func (r *Responder) rakp2(payload []byte) []byte {
	var req RAKPMessage1
	req.UnmarshalBinary(payload)

	rsp := &RAKPMessage2{MessageTag: req.MessageTag}

	pending, ok := r.exchanges[req.ManagedSessionID]
	if !ok {
		rsp.Status = StatusInvalidSessionID
		return marshalResponse(rsp)
	}
	rsp.RemoteSessionID = pending.remoteSessionID

	name := req.Username
	if int(req.UsernameLength) < len(name) {
		name = name[:req.UsernameLength]
	}

	user, ok := r.users[string(name)]
	priv := PrivilegeLevel(req.Role & 0x0f)
	switch {
	case req.UsernameLength > 16:
		rsp.Status = StatusInvalidNameLength
	case !ok:
		rsp.Status = StatusUnauthorizedName
	case priv > user.max || priv > pending.max:
		rsp.Status = StatusUnauthorizedRole
	}
	if rsp.Status != StatusNoErrors {
		delete(r.exchanges, req.ManagedSessionID)
		return marshalResponse(rsp)
	}

	kx := newKeyExchange(pending.suite, Credentials{Username: string(name), Password: user.password, KG: r.kg}, priv)
	kx.role = req.Role
	kx.remoteSessionID = pending.remoteSessionID
	kx.managedSessionID = req.ManagedSessionID
	kx.remoteRandom = req.RemoteRandom
	kx.managedGUID = r.guid

	if _, err := io.ReadFull(r.rand, kx.managedRandom[:]); err != nil {
		rsp.Status = StatusInsufficientResources
		return marshalResponse(rsp)
	}
	pending.kx = kx

	rsp.ManagedRandom = kx.managedRandom
	rsp.ManagedGUID = kx.managedGUID
	rsp.AuthCode = kx.rakp2AuthCode()

	return marshalResponse(rsp)
}

func (r *Responder) rakp4(payload []byte) []byte {
	var req RAKPMessage3
	req.UnmarshalBinary(payload)

	rsp := &RAKPMessage4{MessageTag: req.MessageTag}

	pending, ok := r.exchanges[req.ManagedSessionID]
	if !ok || pending.kx == nil {
		rsp.Status = StatusInvalidSessionID
		return marshalResponse(rsp)
	}
	rsp.RemoteSessionID = pending.remoteSessionID

	kx := pending.kx
	delete(r.exchanges, req.ManagedSessionID)

	if req.Status != StatusNoErrors {
		return nil
	}

	want := kx.rakp3AuthCode()
	if (want == nil && len(req.AuthCode) != 0) || (want != nil && !hmac.Equal(req.AuthCode, want)) {
		rsp.Status = StatusInvalidIntegrityCheck
		return marshalResponse(rsp)
	}

	kx.deriveKeys()

	s := &managedSession{
		id:        req.ManagedSessionID,
		remoteID:  pending.remoteSessionID,
		version:   Version20,
		max:       PrivilegeLevel(kx.role & 0x0f),
		privilege: PrivilegeUser,
		lanPlus:   kx.lanPlus(),
	}
	s.lanPlus.rand = r.rand
	s.inbound.reset(1)
	r.sessions[s.id] = s

	r.log.Debugf("Activated RMCP+ session %#08x for %q with %v", s.id, kx.username, pending.suite)

	rsp.IntegrityCheck = kx.rakp4ICV()

	return marshalResponse(rsp)
}

func (r *Responder) serveSessionV20(ctx context.Context, id uint32, pkt []byte) ([]byte, error) {
	s, ok := r.sessions[id]
	if !ok || s.version != Version20 {
		return nil, fmt.Errorf("unknown session %#08x", id)
	}

	h, payload, err := s.lanPlus.decode(pkt)
	if err != nil {
		return nil, err
	}

	if h.PayloadType != PayloadIPMI {
		return nil, fmt.Errorf("unsupported payload type %#02x", uint8(h.PayloadType))
	}

	if s.lanPlus.integrity != IntegrityNone && !h.Authenticated {
		return nil, errors.New("unauthenticated packet")
	}

	if !s.inbound.accept(h.Sequence) {
		return nil, fmt.Errorf("sequence %d outside window", h.Sequence)
	}

	var req lanMessage
	if err := req.Unpack(payload); err != nil {
		return nil, err
	}

	data := r.dispatch(ctx, s, Operation{NetFn: req.NetFn, Command: req.Command}, req.Data)

	return s.lanPlus.encode(&sessionHeaderV20{
		PayloadType:   PayloadIPMI,
		Encrypted:     h.Encrypted,
		Authenticated: h.Authenticated,
		SessionID:     s.remoteID,
		Sequence:      s.nextSeq(),
	}, responseMessage(&req, data).Pack())
}

// dispatch answers a request received inside an active session.
func (r *Responder) dispatch(ctx context.Context, s *managedSession, op Operation, data []byte) []byte {
	switch op {
	case OpSetSessionPrivilegeLevel.Key():
		var req SetSessionPrivilegeLevelRequest
		req.UnmarshalBinary(data)

		switch {
		case req.Privilege == PrivilegeHighest:
		case req.Privilege > s.max:
			// requested level exceeds the session limit
			return []byte{0x81}
		default:
			s.privilege = req.Privilege
		}

		return marshalResponse(&SetSessionPrivilegeLevelResponse{
			Completion: Completion{CompletionOK},
			Privilege:  s.privilege,
		})

	case OpCloseSession.Key():
		var req CloseSessionRequest
		req.UnmarshalBinary(data)

		if _, ok := r.sessions[req.SessionID]; !ok {
			// invalid session id
			return []byte{0x87}
		}
		delete(r.sessions, req.SessionID)

		r.log.Debugf("Closed session %#08x", req.SessionID)

		return []byte{uint8(CompletionOK)}
	}

	h, ok := r.handlers[op]
	if !ok {
		return []byte{uint8(CompletionInvalidCommand)}
	}

	rsp := h(ctx, data)
	if len(rsp) == 0 {
		return []byte{uint8(CompletionUnspecified)}
	}

	return rsp
}

// reservePending drops the oldest unfinished handshake while maxPending are
// outstanding and returns the order of the next one.
func (r *Responder) reservePending() uint64 {
	for len(r.challenges)+len(r.exchanges) >= maxPending {
		var (
			oldest   uint64 = math.MaxUint64
			id       uint32
			exchange bool
		)
		for k, p := range r.challenges {
			if p.order < oldest {
				oldest, id, exchange = p.order, k, false
			}
		}
		for k, p := range r.exchanges {
			if p.order < oldest {
				oldest, id, exchange = p.order, k, true
			}
		}

		if exchange {
			delete(r.exchanges, id)
		} else {
			delete(r.challenges, id)
		}
		r.log.Debugf("Dropping unfinished handshake %#08x", id)
	}

	r.pendingSeq++
	return r.pendingSeq
}

func (r *Responder) newSessionID() (uint32, error) {
	for {
		id, err := r.randomUint32()
		if err != nil {
			return 0, err
		}

		_, active := r.sessions[id]
		_, challenged := r.challenges[id]
		_, exchanging := r.exchanges[id]
		if !active && !challenged && !exchanging {
			return id, nil
		}
	}
}

func (r *Responder) randomUint32() (uint32, error) {
	var b [4]byte
	for {
		if _, err := io.ReadFull(r.rand, b[:]); err != nil {
			return 0, err
		}

		if v := binary.LittleEndian.Uint32(b[:]); v != 0 {
			return v, nil
		}
	}
}

type binaryMarshaler interface {
	MarshalBinary() ([]byte, error)
}

// marshalResponse encodes a response, degrading to an unspecified error
// completion when it does not encode.
func marshalResponse(m binaryMarshaler) []byte {
	b, err := m.MarshalBinary()
	if err != nil {
		return []byte{uint8(CompletionUnspecified)}
	}
	return b
}
