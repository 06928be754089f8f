package ipmi

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"
)

// DefaultPort is the RMCP port of a BMC.
const DefaultPort = 623

// Target addresses a managed system.
type Target struct {
	Host string
	Port int
}

// Address returns host:port, defaulting the port.
func (t Target) Address() string {
	port := t.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(port))
}

func (t Target) String() string {
	return t.Address()
}

// Transport moves datagrams to and from one managed system. Receive returns
// ErrTimeout once the context deadline passes.
type Transport interface {
	Send(ctx context.Context, b []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer opens a Transport to a target.
type Dialer interface {
	Dial(ctx context.Context, t Target) (Transport, error)
}

// Priority is advisory scheduling metadata attached to a request.
type Priority uint8

const (
	PriorityUser Priority = iota
	PrioritySystem
)

func (p Priority) String() string {
	if p == PrioritySystem {
		return "system"
	}
	return "user"
}

type priorityKey struct{}

// WithPriority attaches p to ctx for the transport.
func WithPriority(ctx context.Context, p Priority) context.Context {
	return context.WithValue(ctx, priorityKey{}, p)
}

// PriorityFromContext returns the priority attached to ctx, PriorityUser if
// none is.
func PriorityFromContext(ctx context.Context) Priority {
	if p, ok := ctx.Value(priorityKey{}).(Priority); ok {
		return p
	}
	return PriorityUser
}

// UDPDialer dials RMCP over UDP.
type UDPDialer struct {
	// BufferSize bounds a received datagram.
	BufferSize int
}

func (d *UDPDialer) Dial(ctx context.Context, t Target) (Transport, error) {
	var nd net.Dialer

	conn, err := nd.DialContext(ctx, "udp", t.Address())
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}

	size := d.BufferSize
	if size == 0 {
		size = 1024
	}

	return &udpTransport{conn: conn, buf: make([]byte, size)}, nil
}

type udpTransport struct {
	conn net.Conn
	buf  []byte
}

func (u *udpTransport) Send(ctx context.Context, b []byte) error {
	deadline, _ := ctx.Deadline()
	if err := u.conn.SetWriteDeadline(deadline); err != nil {
		return &TransportError{Op: "send", Err: err}
	}

	if _, err := u.conn.Write(b); err != nil {
		return u.failure(ctx, "send", err)
	}

	return nil
}

func (u *udpTransport) Receive(ctx context.Context) ([]byte, error) {
	deadline, _ := ctx.Deadline()
	if err := u.conn.SetReadDeadline(deadline); err != nil {
		return nil, &TransportError{Op: "receive", Err: err}
	}

	stop := context.AfterFunc(ctx, func() {
		u.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	n, err := u.conn.Read(u.buf)
	if err != nil {
		return nil, u.failure(ctx, "receive", err)
	}

	return append([]byte(nil), u.buf[:n]...), nil
}

func (u *udpTransport) failure(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return &TransportError{Op: op, Err: ctx.Err()}
	}

	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return ErrTimeout
	}

	return &TransportError{Op: op, Err: err}
}

func (u *udpTransport) Close() error {
	return u.conn.Close()
}
