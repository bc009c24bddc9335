package ouster

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/lidar-synth/internal/timeutil"
)

var (
	// ErrColumnCount is returned for a negative column count.
	ErrColumnCount = errors.New("column count must not be negative")
	// ErrShortBuffer is returned when the depth buffer holds fewer than
	// columns × rows samples.
	ErrShortBuffer = errors.New("depth buffer shorter than columns x rows")
)

// PacketSink receives every completed packet of a frame in send order.
// The packet is reused after Send returns, so implementations must encode
// or copy it synchronously.
type PacketSink interface {
	Send(p *Packet) error
}

// Frame is one rotation's worth of range-image input.
type Frame struct {
	Depth    []float32 // column-major, NumCols × Channels samples, metres
	NumCols  int
	Channels ChannelCount
	Sweep    Sweep
	FrameID  uint16
}

// Validate checks the column count, the variant and the depth buffer length.
func (f Frame) Validate() error {
	if f.NumCols < 0 {
		return fmt.Errorf("%w, not %d", ErrColumnCount, f.NumCols)
	}
	if _, err := ParseChannelCount(int(f.Channels)); err != nil {
		return err
	}
	rows := int(f.Channels)
	if need := f.NumCols * rows; len(f.Depth) < need {
		return fmt.Errorf("%w: have %d samples, need %d (%d columns x %d rows)",
			ErrShortBuffer, len(f.Depth), need, f.NumCols, rows)
	}
	return nil
}

// FrameReport summarises what a frame put on the wire.
type FrameReport struct {
	FrameID       uint16
	Columns       int // azimuth blocks carrying data
	PaddingBlocks int // blocks appended to fill the final packet
	Packets       int
	Bytes         int
	FirstEncoder  uint32
	LastEncoder   uint32
}

// Batcher assembles frames into packets and hands them to a sink.
type Batcher struct {
	sink  PacketSink
	clock timeutil.Clock
}

// NewBatcher creates a batcher. A nil clock uses the real clock.
func NewBatcher(sink PacketSink, clock timeutil.Clock) *Batcher {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Batcher{sink: sink, clock: clock}
}

// Encode sends one frame. Columns are visited in ascending encoder order,
// 16 per packet; a partial final packet is padded with out-of-data blocks.
// On error, packets flushed before the failing column have already been sent.
func (b *Batcher) Encode(f Frame) (FrameReport, error) {
	report := FrameReport{FrameID: f.FrameID}
	if err := f.Validate(); err != nil {
		return report, err
	}
	rows := int(f.Channels)

	order := NewColumnOrder(f.NumCols)
	packet := NewPacket(f.Channels)
	var measurementID uint16
	filled := 0

	for i := 0; i < order.Len(); i++ {
		position := order.Position(i)

		encoder, err := f.Sweep.EncoderCount(position)
		if err != nil {
			return report, fmt.Errorf("column position %d: %w", position, err)
		}

		// Previous packet is complete, start a new one
		if filled == BLOCKS_PER_PACKET {
			if err := b.flush(packet, &report); err != nil {
				return report, err
			}
			packet.Reset()
			filled = 0
		}

		blk := &packet.Blocks[filled]
		blk.Timestamp = b.now()
		blk.MeasurementID = measurementID
		blk.FrameID = f.FrameID
		blk.EncoderCount = encoder
		measurementID++

		start := order.StorageIndex(position) * rows
		for row, depth := range f.Depth[start : start+rows] {
			blk.Channels[row].RangeMM = RangeMillimetres(depth)
			blk.Channels[row].SignalPhotons = SIGNAL_PHOTONS_VALID
		}
		blk.Status = BLOCK_STATUS_VALID

		if report.Columns == 0 {
			report.FirstEncoder = encoder
		}
		report.LastEncoder = encoder
		report.Columns++
		filled++
	}

	if filled == 0 {
		return report, nil
	}

	for ; filled < BLOCKS_PER_PACKET; filled++ {
		blk := &packet.Blocks[filled]
		blk.Timestamp = b.now()
		blk.MeasurementID = measurementID
		blk.FrameID = f.FrameID
		blk.EncoderCount = ENCODER_TICKS_PER_REV
		measurementID++
		report.PaddingBlocks++
	}
	if err := b.flush(packet, &report); err != nil {
		return report, err
	}
	return report, nil
}

func (b *Batcher) flush(p *Packet, report *FrameReport) error {
	if err := b.sink.Send(p); err != nil {
		return fmt.Errorf("sending packet %d of frame %d: %w", report.Packets, report.FrameID, err)
	}
	report.Packets++
	report.Bytes += p.Size()
	return nil
}

func (b *Batcher) now() uint64 {
	return uint64(b.clock.Now().UnixNano())
}

// RangeMillimetres converts a linear depth in metres to the wire range.
// NaN, negative and zero depths are no-return (0); depths beyond the
// uint32 range saturate.
func RangeMillimetres(depth float32) uint32 {
	mm := depth * 1000
	switch {
	case math.IsNaN(float64(mm)), mm <= 0:
		return 0
	case float64(mm) >= math.MaxUint32:
		return math.MaxUint32
	}
	return uint32(mm)
}
