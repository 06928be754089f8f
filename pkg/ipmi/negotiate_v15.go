package ipmi

import (
	"context"
	"errors"
	"fmt"
)

// Negotiation stages reported in NegotiationError.
const (
	stageCapabilities = "get channel authentication capabilities"
	stageChallenge    = "get session challenge"
	stageActivate     = "activate session"
	stagePrivilege    = "set session privilege level"
	stageOpenSession  = "open session"
	stageRAKP12       = "rakp message 1"
	stageRAKP34       = "rakp message 3"
)

// negotiate establishes the session using the requested version.
func (s *Session) negotiate(ctx context.Context, version Version, cipherSuite uint8, creds Credentials, priv PrivilegeLevel) error {
	caps, err := s.channelAuthCapabilities(ctx, version, priv)
	if err != nil {
		return err
	}

	if version == VersionAuto {
		version = Version15
		if caps.SupportsV20() {
			version = Version20
		}
	}

	s.log.Debugf("Channel %d supports auth types %#02x, using IPMI v%v", caps.Channel, caps.AuthTypeSupport, version)

	if version == Version20 {
		return s.negotiateV20(ctx, cipherSuite, creds, priv)
	}

	return s.negotiateV15(ctx, caps, creds, priv)
}

// channelAuthCapabilities asks for the IPMI v2.0 extended data unless only
// v1.5 is wanted, falling back to the plain request for BMCs that reject it.
func (s *Session) channelAuthCapabilities(ctx context.Context, version Version, priv PrivilegeLevel) (*GetChannelAuthCapabilitiesResponse, error) {
	req := &GetChannelAuthCapabilitiesRequest{Channel: ChannelCurrent, Privilege: priv}
	if version != Version15 {
		req.Channel |= ChannelExtendedData
	}

	minSize := getChannelAuthCapabilitiesResponseSchema.Size()

	caps := &GetChannelAuthCapabilitiesResponse{}
	err := s.call(ctx, stageCapabilities, req, caps, minSize)
	if err != nil && version == VersionAuto && isRejected(err) {
		s.log.Debug("Extended capabilities rejected, retrying for IPMI v1.5")

		req.Channel = ChannelCurrent
		caps = &GetChannelAuthCapabilitiesResponse{}
		err = s.call(ctx, stageCapabilities, req, caps, minSize)
	}
	if err != nil {
		return nil, err
	}

	return caps, nil
}

func isRejected(err error) bool {
	var nerr *NegotiationError
	return errors.As(err, &nerr) && nerr.Kind == NegotiationRejected
}

// negotiateV15 runs the challenge/response activation (Section 22.15-22.17).
func (s *Session) negotiateV15(ctx context.Context, caps *GetChannelAuthCapabilitiesResponse, creds Credentials, priv PrivilegeLevel) error {
	authType, ok := chooseAuthType(caps, creds.AuthTypes)
	if !ok {
		return &NegotiationError{
			Stage: stageCapabilities,
			Kind:  NegotiationUnsupported,
			Err:   fmt.Errorf("no acceptable authentication type in %#02x", caps.AuthTypeSupport),
		}
	}

	var challenge GetSessionChallengeResponse
	err := s.call(ctx, stageChallenge, &GetSessionChallengeRequest{
		AuthType: authType,
		Username: UserName(creds.Username),
	}, &challenge, getSessionChallengeResponseSchema.Size())
	if err != nil {
		return err
	}

	initialOutbound, err := s.randomUint32()
	if err != nil {
		return negotiationFailure(stageActivate, err)
	}

	s.version = Version15
	s.authType = authType
	s.msgAuth = authType
	s.password = password16(creds.Password)
	s.sessionID = challenge.TemporarySessionID

	var activated ActivateSessionResponse
	err = s.call(ctx, stageActivate, &ActivateSessionRequest{
		AuthType:           authType,
		MaxPrivilege:       priv,
		Challenge:          challenge.Challenge,
		InitialOutboundSeq: initialOutbound,
	}, &activated, activateSessionResponseSchema.Size())
	if err != nil {
		return err
	}

	if activated.SessionID == 0 {
		return malformed(stageActivate, "managed system returned session id 0")
	}

	if activated.InitialInboundSeq == 0 {
		return malformed(stageActivate, "managed system returned initial sequence number 0")
	}

	s.sessionID = activated.SessionID
	s.outSeq = activated.InitialInboundSeq - 1
	s.inbound.reset(initialOutbound)
	s.established = true

	if caps.PerMessageAuthDisabled() {
		s.msgAuth = AuthTypeNone
	}

	s.log.Debugf("Activated session %#08x with %v authentication", s.sessionID, authType)

	return s.setPrivilege(ctx, priv)
}

func (s *Session) setPrivilege(ctx context.Context, priv PrivilegeLevel) error {
	var rsp SetSessionPrivilegeLevelResponse
	err := s.call(ctx, stagePrivilege, &SetSessionPrivilegeLevelRequest{Privilege: priv},
		&rsp, setSessionPrivilegeLevelResponseSchema.Size())
	if err != nil {
		return err
	}

	s.privilege = rsp.Privilege

	return nil
}
