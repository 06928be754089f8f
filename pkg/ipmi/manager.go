package ipmi

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Credentials authenticate a session.
type Credentials struct {
	Username string
	Password string
	// KG is the BMC key for two-key RMCP+ logins. Empty means Kuid is used.
	KG string
	// AuthTypes is the v1.5 preference order; empty means DefaultAuthTypes.
	AuthTypes []AuthType
}

// Manager opens sessions to managed systems and keeps track of the ones
// still open.
type Manager struct {
	dialer      Dialer
	log         *logrus.Entry
	timeout     time.Duration
	version     Version
	cipherSuite uint8
	rand        io.Reader

	mu       sync.Mutex
	sessions map[*Session]struct{}
}

// Option defines a function type for setting Manager options
type Option func(*Manager)

// WithDialer replaces the UDP dialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) {
		m.dialer = d
	}
}

// WithTimeout sets the per exchange timeout used when the caller's context
// carries no deadline.
func WithTimeout(timeout time.Duration) Option {
	return func(m *Manager) {
		m.timeout = timeout
	}
}

// WithVersion selects the session protocol.
func WithVersion(v Version) Option {
	return func(m *Manager) {
		m.version = v
	}
}

// WithCipherSuite sets the RMCP+ cipher suite proposed in Open Session.
func WithCipherSuite(id uint8) Option {
	return func(m *Manager) {
		m.cipherSuite = id
	}
}

// WithLogger sets the logger sessions derive theirs from.
func WithLogger(log *logrus.Entry) Option {
	return func(m *Manager) {
		m.log = log
	}
}

// WithRandom replaces the source of session ids, random numbers and IVs.
func WithRandom(r io.Reader) Option {
	return func(m *Manager) {
		m.rand = r
	}
}

// NewManager creates a session manager
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		dialer:      &UDPDialer{},
		log:         logrus.WithField("component", "ipmi"),
		timeout:     5 * time.Second,
		cipherSuite: DefaultCipherSuite,
		rand:        rand.Reader,
		sessions:    make(map[*Session]struct{}),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Open dials target and negotiates a session at privilege level priv.
func (m *Manager) Open(ctx context.Context, target Target, creds Credentials, priv PrivilegeLevel) (*Session, error) {
	t, err := m.dialer.Dial(ctx, target)
	if err != nil {
		return nil, negotiationFailure("dial", transportFailure("dial", err))
	}

	s := &Session{
		target:    target,
		transport: t,
		log:       m.log.WithField("target", target.Address()),
		timeout:   m.timeout,
		rand:      m.rand,
		onClose:   m.forget,
	}
	s.setState(StateNegotiating)

	if err := s.negotiate(ctx, m.version, m.cipherSuite, creds, priv); err != nil {
		s.setState(StateClosed)
		t.Close()

		return nil, err
	}

	s.setState(StateActive)

	m.mu.Lock()
	m.sessions[s] = struct{}{}
	m.mu.Unlock()

	return s, nil
}

func (m *Manager) forget(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s)
	m.mu.Unlock()
}

// Sessions returns the number of open sessions.
func (m *Manager) Sessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.sessions)
}

// Close closes every session opened by the manager that is still open.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	open := make([]*Session, 0, len(m.sessions))
	for s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, s := range open {
		g.Go(func() error {
			s.Close(ctx)
			return nil
		})
	}
	g.Wait()
}

// Ping sends an RMCP/ASF presence ping and waits for the pong.
func (m *Manager) Ping(ctx context.Context, target Target) (*Presence, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	t, err := m.dialer.Dial(ctx, target)
	if err != nil {
		return nil, transportFailure("dial", err)
	}
	defer t.Close()

	var tag [1]byte
	if _, err := io.ReadFull(m.rand, tag[:]); err != nil {
		return nil, err
	}

	pkt, err := pingPacket(tag[0])
	if err != nil {
		return nil, fmt.Errorf("failed to build presence ping: %w", err)
	}

	if err := t.Send(ctx, pkt); err != nil {
		return nil, transportFailure("send", err)
	}

	for {
		b, err := t.Receive(ctx)
		if err != nil {
			return nil, transportFailure("receive", err)
		}

		got, presence, err := parsePong(b)
		if err != nil || got != tag[0] {
			m.log.WithField("target", target.Address()).Debug("Dropping unexpected reply to presence ping")
			continue
		}

		return presence, nil
	}
}
