package network

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/banshee-data/lidar-synth/internal/lidar/ouster"
	"github.com/banshee-data/lidar-synth/internal/monitoring"
)

var logf = monitoring.Component("ouster sender")

// DefaultMulticastTTL is the IPv4 multicast hop limit when none is configured.
const DefaultMulticastTTL = 32

var (
	// ErrSocket covers socket creation, option and send failures.
	ErrSocket = errors.New("socket error")
	// ErrShortWrite is returned when fewer bytes than the packet were sent.
	ErrShortWrite = fmt.Errorf("%w: short write", ErrSocket)
	// ErrDestination is returned when the destination cannot be resolved.
	ErrDestination = errors.New("invalid destination")
	// ErrNotReady is returned by Send before a successful Prepare.
	ErrNotReady = errors.New("sender not prepared")
	// ErrSenderClosed is returned after Close.
	ErrSenderClosed = errors.New("sender closed")
)

// PacketStats interface for packet statistics tracking
type PacketStats interface {
	AddPacket(bytes int)
	AddDropped()
}

// Recorder receives a copy of every datagram that was sent successfully.
// broadcast is the socket's SO_BROADCAST mode at send time.
type Recorder interface {
	Record(src, dst *net.UDPAddr, broadcast bool, payload []byte) error
}

// SenderState is the lifecycle state of a UDPSender.
type SenderState int

const (
	SenderUninitialized SenderState = iota
	SenderReady
	SenderClosed
)

func (s SenderState) String() string {
	switch s {
	case SenderUninitialized:
		return "uninitialized"
	case SenderReady:
		return "ready"
	case SenderClosed:
		return "closed"
	}
	return "unknown"
}

// Destination is where packets go. It is re-read on every Prepare.
type Destination struct {
	Address      string
	Port         int
	Broadcast    bool
	MulticastTTL int // 0 uses DefaultMulticastTTL
}

func (d Destination) String() string {
	return net.JoinHostPort(d.Address, strconv.Itoa(d.Port))
}

// UDPSenderConfig contains configuration options for the UDP sender
type UDPSenderConfig struct {
	Factory  UDPSocketFactory // defaults to RealUDPSocketFactory
	Recorder Recorder         // optional capture tap
	Stats    PacketStats      // optional
}

// UDPSender owns one UDP socket and sends Ouster packets through it.
//
// The socket is created lazily by Prepare and recreated whenever the
// broadcast flag changes. It is not safe for concurrent use; the owning
// node serialises calls.
type UDPSender struct {
	factory  UDPSocketFactory
	recorder Recorder
	stats    PacketStats

	socket    UDPSocket
	broadcast bool
	addr      *net.UDPAddr
	closed    bool
	buf       []byte
}

// NewUDPSender creates a sender in the Uninitialized state.
func NewUDPSender(config UDPSenderConfig) *UDPSender {
	factory := config.Factory
	if factory == nil {
		factory = NewRealUDPSocketFactory()
	}
	stats := config.Stats
	if stats == nil {
		stats = noopStats{}
	}
	return &UDPSender{
		factory:  factory,
		recorder: config.Recorder,
		stats:    stats,
		buf:      make([]byte, 0, ouster.MAX_PACKET_SIZE),
	}
}

// noopStats is a PacketStats implementation that does nothing.
type noopStats struct{}

func (noopStats) AddPacket(bytes int) {}
func (noopStats) AddDropped()         {}

// State reports the current lifecycle state.
func (s *UDPSender) State() SenderState {
	switch {
	case s.closed:
		return SenderClosed
	case s.socket != nil && s.addr != nil:
		return SenderReady
	}
	return SenderUninitialized
}

// Broadcast reports the broadcast mode of the current socket.
func (s *UDPSender) Broadcast() bool {
	return s.broadcast
}

// Addr returns the resolved destination, or nil before Prepare.
func (s *UDPSender) Addr() *net.UDPAddr {
	return s.addr
}

// Prepare readies the socket for dst. A change of broadcast mode closes the
// existing socket first. The destination is resolved on every call.
func (s *UDPSender) Prepare(dst Destination) error {
	if s.closed {
		return ErrSenderClosed
	}

	if s.socket != nil && s.broadcast != dst.Broadcast {
		logf("broadcast changed to %t, recreating socket", dst.Broadcast)
		s.reset()
	}

	if s.socket == nil {
		sock, err := s.factory.ListenUDP("udp4", nil)
		if err != nil {
			return fmt.Errorf("%w: opening socket: %v", ErrSocket, err)
		}
		if err := sock.SetBroadcast(dst.Broadcast); err != nil {
			sock.Close()
			return fmt.Errorf("%w: setting broadcast option: %v", ErrSocket, err)
		}
		s.socket = sock
		s.broadcast = dst.Broadcast
	}

	if dst.Port <= 0 || dst.Port > 65535 {
		s.addr = nil
		return fmt.Errorf("%w: port %d out of range", ErrDestination, dst.Port)
	}
	addr, err := net.ResolveUDPAddr("udp4", dst.String())
	if err != nil {
		s.addr = nil
		return fmt.Errorf("%w: resolving %s: %v", ErrDestination, dst, err)
	}

	if addr.IP.IsMulticast() {
		ttl := dst.MulticastTTL
		if ttl <= 0 {
			ttl = DefaultMulticastTTL
		}
		if err := s.socket.SetMulticastTTL(ttl); err != nil {
			s.reset()
			return fmt.Errorf("%w: setting multicast ttl: %v", ErrSocket, err)
		}
	}

	s.addr = addr
	return nil
}

// Send transmits the packet as one datagram. There is no retry; on failure
// the socket is dropped so the next Prepare starts from a fresh one.
func (s *UDPSender) Send(p *ouster.Packet) error {
	if s.closed {
		return ErrSenderClosed
	}
	if s.socket == nil || s.addr == nil {
		return ErrNotReady
	}

	buf, err := p.AppendBinary(s.buf[:0])
	if err != nil {
		return err
	}
	s.buf = buf

	// reset clears s.addr, so keep the destination for the error text
	addr := s.addr
	n, err := s.socket.WriteToUDP(buf, addr)
	if err != nil {
		s.stats.AddDropped()
		s.reset()
		return fmt.Errorf("%w: sending to %s: %v", ErrSocket, addr, err)
	}
	if n != len(buf) {
		s.stats.AddDropped()
		s.reset()
		return fmt.Errorf("%w: sent %d of %d bytes to %s", ErrShortWrite, n, len(buf), addr)
	}
	s.stats.AddPacket(n)

	if s.recorder != nil {
		src, _ := s.socket.LocalAddr().(*net.UDPAddr)
		if err := s.recorder.Record(src, s.addr, s.broadcast, buf); err != nil {
			logf("capture failed: %v", err)
		}
	}
	return nil
}

// Close releases the socket. The sender cannot be used afterwards.
func (s *UDPSender) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	var err error
	if s.socket != nil {
		err = s.socket.Close()
	}
	s.socket = nil
	s.addr = nil
	return err
}

func (s *UDPSender) reset() {
	if s.socket != nil {
		if err := s.socket.Close(); err != nil {
			logf("closing socket: %v", err)
		}
	}
	s.socket = nil
	s.addr = nil
	s.broadcast = false
}
