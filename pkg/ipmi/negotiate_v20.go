package ipmi

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// negotiateV20 runs the RMCP+ Open Session and RAKP exchange (Section 13.17-13.23).
func (s *Session) negotiateV20(ctx context.Context, cipherSuite uint8, creds Credentials, priv PrivilegeLevel) error {
	proposed, err := LookupCipherSuite(cipherSuite)
	if err != nil {
		return &NegotiationError{Stage: stageOpenSession, Kind: NegotiationUnsupported, Err: err}
	}

	remoteSessionID, err := s.randomUint32()
	if err != nil {
		return negotiationFailure(stageOpenSession, err)
	}

	open, err := s.openSession(ctx, proposed, remoteSessionID, priv)
	if err != nil {
		return err
	}

	suite := CipherSuite{
		ID:              proposed.ID,
		Auth:            open.Auth,
		Integrity:       open.Integrity,
		Confidentiality: open.Confidentiality,
	}
	if !suite.supports() {
		return &NegotiationError{
			Stage: stageOpenSession,
			Kind:  NegotiationUnsupported,
			Err:   fmt.Errorf("managed system selected %v", suite),
		}
	}

	kx := newKeyExchange(suite, creds, priv)
	kx.remoteSessionID = remoteSessionID
	kx.managedSessionID = open.ManagedSessionID

	if _, err := io.ReadFull(s.rand, kx.remoteRandom[:]); err != nil {
		return negotiationFailure(stageRAKP12, err)
	}

	if err := s.rakp12(ctx, kx); err != nil {
		return err
	}

	kx.deriveKeys()

	if err := s.rakp34(ctx, kx); err != nil {
		return err
	}

	s.version = Version20
	s.suite = suite
	s.sessionID = open.ManagedSessionID
	s.remoteSessionID = remoteSessionID
	s.lanPlus = kx.lanPlus()
	s.lanPlus.rand = s.rand
	s.outSeq = 0
	s.inbound.reset(1)
	s.established = true

	s.log.Debugf("Activated RMCP+ session %#08x with %v", s.sessionID, suite)

	return s.setPrivilege(ctx, priv)
}

func (s *Session) openSession(ctx context.Context, suite CipherSuite, remoteSessionID uint32, priv PrivilegeLevel) (*OpenSessionResponse, error) {
	tag := s.nextTag()

	req := &OpenSessionRequest{
		MessageTag:      tag,
		MaxPrivilege:    priv,
		RemoteSessionID: remoteSessionID,
		Auth:            suite.Auth,
		Integrity:       suite.Integrity,
		Confidentiality: suite.Confidentiality,
	}

	data, err := req.MarshalBinary()
	if err != nil {
		return nil, negotiationFailure(stageOpenSession, err)
	}

	b, err := s.exchangePayload(ctx, PayloadOpenSessionRequest, data, PayloadOpenSessionResponse, tag)
	if err != nil {
		return nil, negotiationFailure(stageOpenSession, err)
	}

	rsp := &OpenSessionResponse{}
	rsp.UnmarshalBinary(b)

	if len(b) < 2 {
		return nil, malformed(stageOpenSession, "response carries no status code")
	}

	if rsp.Status != StatusNoErrors {
		return nil, rejected(stageOpenSession, uint8(rsp.Status), rsp.Status)
	}

	if !openSessionResponseSchema.Complete(b) {
		return nil, malformed(stageOpenSession, "response of %d bytes is shorter than %d", len(b), openSessionResponseSchema.Size())
	}

	if rsp.RemoteSessionID != remoteSessionID {
		return nil, malformed(stageOpenSession, "response is for session %#08x", rsp.RemoteSessionID)
	}

	if rsp.ManagedSessionID == 0 {
		return nil, malformed(stageOpenSession, "managed system returned session id 0")
	}

	return rsp, nil
}

func (s *Session) rakp12(ctx context.Context, kx *keyExchange) error {
	tag := s.nextTag()

	data, err := kx.rakp1(tag).MarshalBinary()
	if err != nil {
		return negotiationFailure(stageRAKP12, err)
	}

	b, err := s.exchangePayload(ctx, PayloadRAKP1, data, PayloadRAKP2, tag)
	if err != nil {
		return negotiationFailure(stageRAKP12, err)
	}

	var rsp RAKPMessage2
	rsp.UnmarshalBinary(b)

	if len(b) < 2 {
		return malformed(stageRAKP12, "response carries no status code")
	}

	if rsp.Status != StatusNoErrors {
		return rejected(stageRAKP12, uint8(rsp.Status), rsp.Status)
	}

	if !rakpMessage2Schema.Complete(b) {
		return malformed(stageRAKP12, "response of %d bytes is shorter than %d", len(b), rakpMessage2Schema.Size())
	}

	if rsp.RemoteSessionID != kx.remoteSessionID {
		return malformed(stageRAKP12, "response is for session %#08x", rsp.RemoteSessionID)
	}

	kx.managedRandom = rsp.ManagedRandom
	kx.managedGUID = rsp.ManagedGUID

	if !kx.verifyRAKP2(rsp.AuthCode) {
		return &NegotiationError{
			Stage: stageRAKP12,
			Kind:  NegotiationAuthFailed,
			Err:   errors.New("key exchange authentication code mismatch"),
		}
	}

	return nil
}

func (s *Session) rakp34(ctx context.Context, kx *keyExchange) error {
	tag := s.nextTag()

	req := &RAKPMessage3{
		MessageTag:       tag,
		Status:           StatusNoErrors,
		ManagedSessionID: kx.managedSessionID,
		AuthCode:         kx.rakp3AuthCode(),
	}

	data, err := req.MarshalBinary()
	if err != nil {
		return negotiationFailure(stageRAKP34, err)
	}

	b, err := s.exchangePayload(ctx, PayloadRAKP3, data, PayloadRAKP4, tag)
	if err != nil {
		return negotiationFailure(stageRAKP34, err)
	}

	var rsp RAKPMessage4
	rsp.UnmarshalBinary(b)

	if len(b) < 2 {
		return malformed(stageRAKP34, "response carries no status code")
	}

	if rsp.Status != StatusNoErrors {
		return rejected(stageRAKP34, uint8(rsp.Status), rsp.Status)
	}

	if !rakpMessage4Schema.Complete(b) {
		return malformed(stageRAKP34, "response of %d bytes is shorter than %d", len(b), rakpMessage4Schema.Size())
	}

	if rsp.RemoteSessionID != kx.remoteSessionID {
		return malformed(stageRAKP34, "response is for session %#08x", rsp.RemoteSessionID)
	}

	if !kx.verifyRAKP4(rsp.IntegrityCheck) {
		return &NegotiationError{
			Stage: stageRAKP34,
			Kind:  NegotiationAuthFailed,
			Err:   errors.New("integrity check value mismatch"),
		}
	}

	return nil
}
