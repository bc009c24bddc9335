package ouster

import (
	"encoding/binary"
	"errors"
	"fmt"
)

/*
Ouster Legacy Lidar Data Packet

Every UDP datagram carries exactly 16 azimuth blocks. The block size depends on
the channel count of the sensor, so a 64 channel packet is always 12608 bytes.
All fields are little-endian and packed on 4-byte words with no padding.

AZIMUTH BLOCK (20 + 12 × channels bytes):
├── Timestamp      uint64   word 0-1, nanoseconds
├── MeasurementID  uint16   word 2[0:15], increments per block, wraps at 65536
├── FrameID        uint16   word 2[16:31], increments per rotation, wraps at 65536
├── EncoderCount   uint32   word 3, [0, 90112) for one full rotation
├── Channel data   channels × 12 bytes
│   ├── Range          uint32  millimetres, 0 = no return
│   ├── Reflectivity   uint16
│   ├── SignalPhotons  uint16
│   ├── NoisePhotons   uint16
│   └── Unused         uint16
└── Status         uint32   0xFFFFFFFF = valid, 0 = no data
*/

// Ouster packet structure constants
const (
	BLOCKS_PER_PACKET     = 16                                                            // Azimuth blocks per UDP datagram
	ENCODER_TICKS_PER_REV = 90112                                                         // Encoder counts for one rotation; also the padding sentinel
	CHANNEL_BLOCK_SIZE    = 12                                                            // range(4) + reflectivity(2) + signal(2) + noise(2) + unused(2)
	BLOCK_HEADER_SIZE     = 16                                                            // timestamp(8) + measurement id(2) + frame id(2) + encoder(4)
	BLOCK_STATUS_SIZE     = 4                                                             // trailing status word
	BLOCK_OVERHEAD        = BLOCK_HEADER_SIZE + BLOCK_STATUS_SIZE                         // bytes per block excluding channel data
	MAX_PACKET_SIZE       = BLOCKS_PER_PACKET * (BLOCK_OVERHEAD + 128*CHANNEL_BLOCK_SIZE) // 128 channel packet

	SIGNAL_PHOTONS_VALID = 0xFFFF     // signal photons sentinel marking a channel valid
	BLOCK_STATUS_VALID   = 0xFFFFFFFF // status sentinel marking a block complete
)

var (
	// ErrRowCount is returned for channel counts outside {16, 32, 64, 128}.
	ErrRowCount = errors.New("row count must be either 16, 32, 64 or 128")
	// ErrPacketSize is returned when decoding a buffer of the wrong length.
	ErrPacketSize = errors.New("packet size does not match channel count")
	// ErrChannelLayout is returned when a block's channel slice was resized.
	ErrChannelLayout = errors.New("azimuth block channel count does not match packet")
)

// ChannelCount is the number of vertical channels (rows) carried in each
// azimuth block. Only the four values declared below exist on the wire.
type ChannelCount int

const (
	Channels16  ChannelCount = 16
	Channels32  ChannelCount = 32
	Channels64  ChannelCount = 64
	Channels128 ChannelCount = 128
)

// ChannelCounts lists every supported variant in ascending order.
var ChannelCounts = []ChannelCount{Channels16, Channels32, Channels64, Channels128}

// ParseChannelCount selects the packet variant for a configured row count.
func ParseChannelCount(rows int) (ChannelCount, error) {
	switch ChannelCount(rows) {
	case Channels16, Channels32, Channels64, Channels128:
		return ChannelCount(rows), nil
	}
	return 0, fmt.Errorf("%w, not %d", ErrRowCount, rows)
}

// ChannelCountForPacketSize returns the variant whose packet is exactly size bytes.
func ChannelCountForPacketSize(size int) (ChannelCount, bool) {
	for _, c := range ChannelCounts {
		if c.PacketSize() == size {
			return c, true
		}
	}
	return 0, false
}

func (c ChannelCount) String() string {
	return fmt.Sprintf("%dch", int(c))
}

// BlockSize returns the encoded size of one azimuth block.
func (c ChannelCount) BlockSize() int {
	return BLOCK_OVERHEAD + int(c)*CHANNEL_BLOCK_SIZE
}

// PacketSize returns the encoded size of one data packet (one datagram).
func (c ChannelCount) PacketSize() int {
	return BLOCKS_PER_PACKET * c.BlockSize()
}

// ChannelSample is one channel measurement within an azimuth block.
type ChannelSample struct {
	RangeMM       uint32 // Range in millimetres (0 = no return)
	Reflectivity  uint16
	SignalPhotons uint16 // SIGNAL_PHOTONS_VALID marks the sample valid
	NoisePhotons  uint16
	Unused        uint16
}

// AzimuthBlock is one angular measurement column.
type AzimuthBlock struct {
	Timestamp     uint64          // Nanoseconds since the Unix epoch at block construction
	MeasurementID uint16          // Per-block counter within a frame
	FrameID       uint16          // Per-rotation counter
	EncoderCount  uint32          // Angular position in [0, ENCODER_TICKS_PER_REV)
	Channels      []ChannelSample // len == packet ChannelCount
	Status        uint32          // BLOCK_STATUS_VALID or 0
}

// Packet is exactly one UDP payload: 16 azimuth blocks of a single variant.
// The channel slices of all blocks share one backing array sized at
// construction, so a Packet never changes variant.
type Packet struct {
	Channels ChannelCount
	Blocks   [BLOCKS_PER_PACKET]AzimuthBlock

	samples []ChannelSample
}

// NewPacket returns a zero-initialised packet for the given variant.
func NewPacket(c ChannelCount) *Packet {
	p := &Packet{
		Channels: c,
		samples:  make([]ChannelSample, BLOCKS_PER_PACKET*int(c)),
	}
	for i := range p.Blocks {
		p.Blocks[i].Channels = p.samples[i*int(c) : (i+1)*int(c) : (i+1)*int(c)]
	}
	return p
}

// Reset zeroes every block so the packet can be refilled.
func (p *Packet) Reset() {
	clear(p.samples)
	for i := range p.Blocks {
		b := &p.Blocks[i]
		b.Timestamp = 0
		b.MeasurementID = 0
		b.FrameID = 0
		b.EncoderCount = 0
		b.Status = 0
	}
}

// Size returns the encoded size of the packet.
func (p *Packet) Size() int {
	return p.Channels.PacketSize()
}

// AppendBinary appends the wire encoding of the packet to b.
func (p *Packet) AppendBinary(b []byte) ([]byte, error) {
	rows := int(p.Channels)
	for i := range p.Blocks {
		if len(p.Blocks[i].Channels) != rows {
			return b, fmt.Errorf("%w: block %d has %d channels, packet has %d",
				ErrChannelLayout, i, len(p.Blocks[i].Channels), rows)
		}
	}

	le := binary.LittleEndian
	for i := range p.Blocks {
		blk := &p.Blocks[i]
		b = le.AppendUint64(b, blk.Timestamp)
		b = le.AppendUint16(b, blk.MeasurementID)
		b = le.AppendUint16(b, blk.FrameID)
		b = le.AppendUint32(b, blk.EncoderCount)
		for _, ch := range blk.Channels {
			b = le.AppendUint32(b, ch.RangeMM)
			b = le.AppendUint16(b, ch.Reflectivity)
			b = le.AppendUint16(b, ch.SignalPhotons)
			b = le.AppendUint16(b, ch.NoisePhotons)
			b = le.AppendUint16(b, ch.Unused)
		}
		b = le.AppendUint32(b, blk.Status)
	}
	return b, nil
}

// MarshalBinary returns the wire encoding of the packet.
func (p *Packet) MarshalBinary() ([]byte, error) {
	return p.AppendBinary(make([]byte, 0, p.Size()))
}

// DecodePacket parses one datagram produced by AppendBinary.
func DecodePacket(data []byte, c ChannelCount) (*Packet, error) {
	if _, err := ParseChannelCount(int(c)); err != nil {
		return nil, err
	}
	if len(data) != c.PacketSize() {
		return nil, fmt.Errorf("%w: got %d bytes, want %d for %d channels",
			ErrPacketSize, len(data), c.PacketSize(), c)
	}

	le := binary.LittleEndian
	p := NewPacket(c)
	off := 0
	for i := range p.Blocks {
		blk := &p.Blocks[i]
		blk.Timestamp = le.Uint64(data[off:])
		blk.MeasurementID = le.Uint16(data[off+8:])
		blk.FrameID = le.Uint16(data[off+10:])
		blk.EncoderCount = le.Uint32(data[off+12:])
		off += BLOCK_HEADER_SIZE
		for j := range blk.Channels {
			ch := &blk.Channels[j]
			ch.RangeMM = le.Uint32(data[off:])
			ch.Reflectivity = le.Uint16(data[off+4:])
			ch.SignalPhotons = le.Uint16(data[off+6:])
			ch.NoisePhotons = le.Uint16(data[off+8:])
			ch.Unused = le.Uint16(data[off+10:])
			off += CHANNEL_BLOCK_SIZE
		}
		blk.Status = le.Uint32(data[off:])
		off += BLOCK_STATUS_SIZE
	}
	return p, nil
}

// Valid reports whether the block carries measurements rather than padding.
func (b *AzimuthBlock) Valid() bool {
	return b.Status == BLOCK_STATUS_VALID
}
