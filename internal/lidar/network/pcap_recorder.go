package network

import (
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/lidar-synth/internal/timeutil"
)

// PCAP_SNAPLEN is large enough for a 128 channel packet plus headers.
const PCAP_SNAPLEN = 65536

var (
	recorderSrcMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	recorderDstMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
	broadcastMAC   = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
)

// PcapRecorder writes every sent datagram into a pcap stream as a
// synthetic Ethernet/IPv4/UDP frame, so captures open directly in
// Wireshark or in pcap replay tooling.
type PcapRecorder struct {
	mu     sync.Mutex
	w      *pcapgo.Writer
	closer io.Closer
	clock  timeutil.Clock
	buf    gopacket.SerializeBuffer
	ipID   uint16
	count  int
}

// NewPcapRecorder writes the pcap file header to w and returns a recorder.
func NewPcapRecorder(w io.Writer, clock timeutil.Clock) (*PcapRecorder, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(PCAP_SNAPLEN, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}
	return &PcapRecorder{
		w:     pw,
		clock: clock,
		buf:   gopacket.NewSerializeBuffer(),
	}, nil
}

// CreatePcapRecorder creates (or truncates) path and records into it.
func CreatePcapRecorder(path string, clock timeutil.Clock) (*PcapRecorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create pcap file: %w", err)
	}
	r, err := NewPcapRecorder(f, clock)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// Record appends one datagram. A nil or unspecified source is written as
// 0.0.0.0. The Ethernet destination is the broadcast MAC for broadcast
// sends and for 255.255.255.255; the netmask is unknown here, so a directed
// broadcast address alone is not treated as broadcast.
func (r *PcapRecorder) Record(src, dst *net.UDPAddr, broadcast bool, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	srcIP := net.IPv4zero.To4()
	srcPort := 0
	if src != nil {
		if ip := src.IP.To4(); ip != nil {
			srcIP = ip
		}
		srcPort = src.Port
	}
	dstIP := dst.IP.To4()
	if dstIP == nil {
		return fmt.Errorf("pcap recorder: destination %s is not IPv4", dst)
	}

	dstMAC := recorderDstMAC
	if broadcast || dstIP.Equal(net.IPv4bcast) {
		dstMAC = broadcastMAC
	}

	eth := &layers.Ethernet{
		SrcMAC:       recorderSrcMAC,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	r.ipID++
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Id:       r.ipID,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    srcIP,
		DstIP:    dstIP,
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(srcPort),
		DstPort: layers.UDPPort(dst.Port),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return fmt.Errorf("pcap recorder: %w", err)
	}

	if err := r.buf.Clear(); err != nil {
		return fmt.Errorf("pcap recorder: %w", err)
	}
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(r.buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		return fmt.Errorf("pcap recorder: serialize: %w", err)
	}

	data := r.buf.Bytes()
	ci := gopacket.CaptureInfo{
		Timestamp:     r.clock.Now(),
		CaptureLength: len(data),
		Length:        len(data),
	}
	if err := r.w.WritePacket(ci, data); err != nil {
		return fmt.Errorf("pcap recorder: write: %w", err)
	}
	r.count++
	return nil
}

// Count returns the number of datagrams recorded.
func (r *PcapRecorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Close closes the underlying file when the recorder created it.
func (r *PcapRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closer == nil {
		return nil
	}
	err := r.closer.Close()
	r.closer = nil
	return err
}
