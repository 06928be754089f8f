package ipmi

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"

	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/require"
)

// loopbackDialer connects sessions to an in-process Responder.
type loopbackDialer struct {
	responder *Responder

	mu    sync.Mutex
	conns []*loopback
}

func (d *loopbackDialer) Dial(ctx context.Context, t Target) (Transport, error) {
	l := &loopback{
		responder: d.responder,
		queue:     make(chan []byte, 16),
	}

	d.mu.Lock()
	d.conns = append(d.conns, l)
	d.mu.Unlock()

	return l, nil
}

func (d *loopbackDialer) last() *loopback {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.conns[len(d.conns)-1]
}

// loopback hands every sent packet to the responder and queues its reply.
type loopback struct {
	responder *Responder
	queue     chan []byte

	mu         sync.Mutex
	sent       [][]byte
	priorities []Priority
	closed     bool
	// drop discards the next n requests without an answer.
	drop int
	// sendErr fails every Send.
	sendErr error
	// entered and release, when set, park Send until release is closed.
	entered chan struct{}
	release chan struct{}
	// replies turns the reply into the packets delivered to the session.
	replies func(reply []byte) [][]byte
}

func (l *loopback) Send(ctx context.Context, b []byte) error {
	l.mu.Lock()
	l.sent = append(l.sent, b)
	l.priorities = append(l.priorities, PriorityFromContext(ctx))
	drop := l.drop > 0
	if drop {
		l.drop--
	}
	sendErr, entered, release, replies := l.sendErr, l.entered, l.release, l.replies
	l.mu.Unlock()

	if sendErr != nil {
		return sendErr
	}

	if entered != nil {
		entered <- struct{}{}
		<-release
	}

	if drop {
		return nil
	}

	reply := l.responder.Serve(ctx, b)
	if reply == nil {
		return nil
	}

	pkts := [][]byte{reply}
	if replies != nil {
		pkts = replies(reply)
	}

	for _, p := range pkts {
		l.queue <- p
	}

	return nil
}

func (l *loopback) Receive(ctx context.Context) ([]byte, error) {
	select {
	case b := <-l.queue:
		return b, nil
	case <-ctx.Done():
		return nil, ErrTimeout
	}
}

func (l *loopback) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	return nil
}

func (l *loopback) set(f func(l *loopback)) {
	l.mu.Lock()
	f(l)
	l.mu.Unlock()
}

func (l *loopback) packets() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([][]byte(nil), l.sent...)
}

// sequences returns the session sequence number of every packet.
func sequences(t *testing.T, pkts [][]byte) []uint32 {
	t.Helper()

	var seqs []uint32
	for _, p := range pkts {
		inner, err := unwrapRMCP(layers.RMCPClassIPMI, p)
		require.NoError(t, err)

		if AuthType(inner[0]) == AuthTypeRMCPPlus {
			seqs = append(seqs, binary.LittleEndian.Uint32(inner[6:10]))
		} else {
			seqs = append(seqs, binary.LittleEndian.Uint32(inner[1:5]))
		}
	}

	return seqs
}

// payloadTypes returns the RMCP+ payload type of every RMCP+ packet.
func payloadTypes(t *testing.T, pkts [][]byte) []PayloadType {
	t.Helper()

	var types []PayloadType
	for _, p := range pkts {
		inner, err := unwrapRMCP(layers.RMCPClassIPMI, p)
		require.NoError(t, err)

		if AuthType(inner[0]) == AuthTypeRMCPPlus {
			types = append(types, PayloadType(inner[1]&payloadTypeMask))
		}
	}

	return types
}
