package ipmi

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requestChallenge(t *testing.T, r *Responder) uint32 {
	t.Helper()

	req := GetSessionChallengeRequest{AuthType: AuthTypeMD5}
	copy(req.Username[:], "admin")
	data, err := req.MarshalBinary()
	require.NoError(t, err)

	var rsp GetSessionChallengeResponse
	require.NoError(t, rsp.UnmarshalBinary(r.challenge(data)))
	require.Equal(t, CompletionOK, rsp.Code())

	return rsp.TemporarySessionID
}

func requestOpenSession(t *testing.T, r *Responder) uint32 {
	t.Helper()

	cs, err := LookupCipherSuite(3)
	require.NoError(t, err)

	req := OpenSessionRequest{
		RemoteSessionID: 0x1234,
		Auth:            cs.Auth,
		Integrity:       cs.Integrity,
		Confidentiality: cs.Confidentiality,
	}
	data, err := req.MarshalBinary()
	require.NoError(t, err)

	var rsp OpenSessionResponse
	require.NoError(t, rsp.UnmarshalBinary(r.openSession(data)))
	require.Equal(t, StatusNoErrors, rsp.Status)

	return rsp.ManagedSessionID
}

func TestResponderBoundsUnfinishedHandshakes(t *testing.T) {
	r, dialer := newTestBMC()

	first := requestChallenge(t, r)
	second := requestOpenSession(t, r)
	for i := 0; i < maxPending; i++ {
		if i%2 == 0 {
			requestChallenge(t, r)
		} else {
			requestOpenSession(t, r)
		}
	}

	assert.Equal(t, maxPending, len(r.challenges)+len(r.exchanges))
	assert.NotContains(t, r.challenges, first, "oldest challenge dropped")
	assert.NotContains(t, r.exchanges, second, "oldest key exchange dropped")

	for _, version := range []Version{Version15, Version20} {
		m := newTestManager(dialer, WithVersion(version))

		s, err := m.Open(context.Background(), testTarget, adminCreds, PrivilegeAdmin)
		require.NoError(t, err)
		getDeviceID(t, s)
		s.Close(context.Background())
	}
}
