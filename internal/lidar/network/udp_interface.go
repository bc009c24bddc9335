package network

import (
	"errors"
	"net"
	"sync"

	"golang.org/x/net/ipv4"
)

// UDPSocket defines an interface for the send-side UDP socket operations.
// This abstraction enables unit testing without real network connections.
type UDPSocket interface {
	// WriteToUDP sends one datagram to addr.
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)

	// SetBroadcast sets SO_BROADCAST on the socket to the given value.
	SetBroadcast(enabled bool) error

	// SetMulticastTTL sets the IPv4 multicast hop limit.
	SetMulticastTTL(ttl int) error

	// Close closes the socket.
	Close() error

	// LocalAddr returns the local network address.
	LocalAddr() net.Addr
}

// UDPSocketFactory defines an interface for creating UDP sockets.
// This abstraction enables dependency injection of socket creation.
type UDPSocketFactory interface {
	// ListenUDP creates and returns a new UDP socket.
	ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error)
}

// RealUDPSocket wraps *net.UDPConn to implement UDPSocket.
type RealUDPSocket struct {
	conn *net.UDPConn
}

// NewRealUDPSocket wraps an existing *net.UDPConn.
func NewRealUDPSocket(conn *net.UDPConn) *RealUDPSocket {
	return &RealUDPSocket{conn: conn}
}

// WriteToUDP writes a datagram to addr.
func (r *RealUDPSocket) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) {
	return r.conn.WriteToUDP(b, addr)
}

// SetBroadcast applies SO_BROADCAST to the underlying descriptor. The Go
// runtime enables broadcast on every datagram socket, so a unicast sender
// clears it explicitly.
func (r *RealUDPSocket) SetBroadcast(enabled bool) error {
	return setBroadcast(r.conn, enabled)
}

// SetMulticastTTL sets IP_MULTICAST_TTL on the socket.
func (r *RealUDPSocket) SetMulticastTTL(ttl int) error {
	return ipv4.NewPacketConn(r.conn).SetMulticastTTL(ttl)
}

// Close closes the UDP connection.
func (r *RealUDPSocket) Close() error {
	return r.conn.Close()
}

// LocalAddr returns the local network address.
func (r *RealUDPSocket) LocalAddr() net.Addr {
	return r.conn.LocalAddr()
}

// RealUDPSocketFactory implements UDPSocketFactory using net.ListenUDP.
type RealUDPSocketFactory struct{}

// NewRealUDPSocketFactory creates a new RealUDPSocketFactory.
func NewRealUDPSocketFactory() *RealUDPSocketFactory {
	return &RealUDPSocketFactory{}
}

// ListenUDP creates a new unconnected UDP socket.
func (f *RealUDPSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, err
	}
	return NewRealUDPSocket(conn), nil
}

// MockUDPSocket implements UDPSocket for testing.
type MockUDPSocket struct {
	mu sync.Mutex

	// Writes holds copies of every datagram written.
	Writes []MockUDPPacket
	// Closed indicates whether Close was called.
	Closed bool
	// BroadcastCalls records every SetBroadcast value in order.
	BroadcastCalls []bool
	// MulticastTTL holds the value set by SetMulticastTTL.
	MulticastTTL int
	// LocalAddress is returned by LocalAddr.
	LocalAddress *net.UDPAddr

	// WriteError is returned by every WriteToUDP call if set.
	WriteError error
	// ShortWrite makes WriteToUDP report one byte fewer than requested.
	ShortWrite bool
	// FailAfter, when positive, makes WriteToUDP return ErrMockWriteFailed
	// once that many datagrams have been written.
	FailAfter int
	// SetBroadcastError is returned by SetBroadcast if set.
	SetBroadcastError error
	// SetMulticastTTLError is returned by SetMulticastTTL if set.
	SetMulticastTTLError error
}

// ErrMockWriteFailed is returned by MockUDPSocket once FailAfter is reached.
var ErrMockWriteFailed = errors.New("mock write failed")

// MockUDPPacket represents a datagram captured by the mock.
type MockUDPPacket struct {
	Data []byte
	Addr *net.UDPAddr
}

// NewMockUDPSocket creates a new MockUDPSocket.
func NewMockUDPSocket() *MockUDPSocket {
	return &MockUDPSocket{
		LocalAddress: &net.UDPAddr{
			IP:   net.ParseIP("127.0.0.1"),
			Port: 40000,
		},
	}
}

// WriteToUDP records the datagram.
func (m *MockUDPSocket) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Closed {
		return 0, net.ErrClosed
	}
	if m.WriteError != nil {
		return 0, m.WriteError
	}
	if m.ShortWrite {
		return len(b) - 1, nil
	}
	if m.FailAfter > 0 && len(m.Writes) >= m.FailAfter {
		return 0, ErrMockWriteFailed
	}
	data := make([]byte, len(b))
	copy(data, b)
	m.Writes = append(m.Writes, MockUDPPacket{Data: data, Addr: addr})
	return len(b), nil
}

// SetBroadcast records the broadcast option.
func (m *MockUDPSocket) SetBroadcast(enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BroadcastCalls = append(m.BroadcastCalls, enabled)
	return m.SetBroadcastError
}

// SetMulticastTTL records the multicast TTL.
func (m *MockUDPSocket) SetMulticastTTL(ttl int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetMulticastTTLError != nil {
		return m.SetMulticastTTLError
	}
	m.MulticastTTL = ttl
	return nil
}

// Close marks the socket as closed.
func (m *MockUDPSocket) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// LocalAddr returns the mock local address.
func (m *MockUDPSocket) LocalAddr() net.Addr {
	return m.LocalAddress
}

// WriteCount returns the number of datagrams written.
func (m *MockUDPSocket) WriteCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Writes)
}

// MockUDPSocketFactory implements UDPSocketFactory for testing. Every
// ListenUDP call creates a fresh MockUDPSocket so socket recreation is
// observable.
type MockUDPSocketFactory struct {
	// Sockets holds every socket handed out, oldest first.
	Sockets []*MockUDPSocket
	// Error is returned by ListenUDP if set.
	Error error
	// Configure, if set, is applied to each new socket before it is returned.
	Configure func(*MockUDPSocket)
	// ListenCalls records all ListenUDP calls.
	ListenCalls []MockListenCall
}

// MockListenCall records a call to ListenUDP.
type MockListenCall struct {
	Network string
	Addr    *net.UDPAddr
}

// NewMockUDPSocketFactory creates a new MockUDPSocketFactory.
func NewMockUDPSocketFactory() *MockUDPSocketFactory {
	return &MockUDPSocketFactory{}
}

// ListenUDP returns a new mock socket.
func (f *MockUDPSocketFactory) ListenUDP(network string, laddr *net.UDPAddr) (UDPSocket, error) {
	f.ListenCalls = append(f.ListenCalls, MockListenCall{
		Network: network,
		Addr:    laddr,
	})
	if f.Error != nil {
		return nil, f.Error
	}
	s := NewMockUDPSocket()
	if f.Configure != nil {
		f.Configure(s)
	}
	f.Sockets = append(f.Sockets, s)
	return s, nil
}

// Last returns the most recently created socket, or nil.
func (f *MockUDPSocketFactory) Last() *MockUDPSocket {
	if len(f.Sockets) == 0 {
		return nil
	}
	return f.Sockets[len(f.Sockets)-1]
}
