package ouster

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lidar-synth/internal/timeutil"
)

// recordingSink keeps the wire bytes of every packet it receives.
type recordingSink struct {
	datagrams [][]byte
	failAt    int // 1-based packet number that fails; 0 never fails
	err       error
}

func (s *recordingSink) Send(p *Packet) error {
	if s.failAt != 0 && len(s.datagrams)+1 == s.failAt {
		return s.err
	}
	data, err := p.MarshalBinary()
	if err != nil {
		return err
	}
	s.datagrams = append(s.datagrams, data)
	return nil
}

func (s *recordingSink) decode(t *testing.T, c ChannelCount) []*Packet {
	t.Helper()
	packets := make([]*Packet, 0, len(s.datagrams))
	for i, data := range s.datagrams {
		p, err := DecodePacket(data, c)
		require.NoError(t, err, "datagram %d", i)
		packets = append(packets, p)
	}
	return packets
}

// centredSweep places every column strictly inside one rotation by
// offsetting the azimuth start a quarter column below -π.
func centredSweep(numCols int) Sweep {
	h := 2 * math.Pi / float64(numCols)
	return Sweep{Start: -math.Pi - h/4 + 2*twoPi, Step: -h}
}

// rampDepth returns depths whose millimetre value encodes the sample index.
func rampDepth(numCols int, c ChannelCount) []float32 {
	depth := make([]float32, numCols*int(c))
	for i := range depth {
		depth[i] = float32(i+1) * 0.25
	}
	return depth
}

func newTestBatcher(sink PacketSink) (*Batcher, *timeutil.MockClock) {
	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	clock.SetAutoStep(time.Microsecond)
	return NewBatcher(sink, clock), clock
}

func TestBatcher_PacketCountsAndSizes(t *testing.T) {
	tests := []struct {
		numCols     int
		wantPackets int
		wantPadding int
	}{
		{1, 1, 15},
		{15, 1, 1},
		{16, 1, 0},
		{17, 2, 15},
		{32, 2, 0},
		{100, 7, 12},
	}

	for _, c := range ChannelCounts {
		for _, tt := range tests {
			sink := &recordingSink{}
			b, _ := newTestBatcher(sink)

			report, err := b.Encode(Frame{
				Depth:    rampDepth(tt.numCols, c),
				NumCols:  tt.numCols,
				Channels: c,
				Sweep:    centredSweep(tt.numCols),
				FrameID:  7,
			})
			require.NoError(t, err, "%v cols=%d", c, tt.numCols)

			assert.Equal(t, tt.wantPackets, report.Packets, "%v cols=%d", c, tt.numCols)
			assert.Equal(t, tt.wantPadding, report.PaddingBlocks, "%v cols=%d", c, tt.numCols)
			assert.Equal(t, tt.numCols, report.Columns)
			assert.Equal(t, tt.wantPackets*c.PacketSize(), report.Bytes)
			require.Len(t, sink.datagrams, tt.wantPackets)
			for _, d := range sink.datagrams {
				assert.Len(t, d, c.PacketSize())
			}
		}
	}
}

func TestBatcher_SingleColumnPadding(t *testing.T) {
	sink := &recordingSink{}
	b, _ := newTestBatcher(sink)

	_, err := b.Encode(Frame{
		Depth:    []float32{1.5, 2.25, 0, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15},
		NumCols:  1,
		Channels: Channels16,
		Sweep:    centredSweep(1),
		FrameID:  3,
	})
	require.NoError(t, err)

	packets := sink.decode(t, Channels16)
	require.Len(t, packets, 1)

	data := packets[0].Blocks[0]
	assert.True(t, data.Valid())
	assert.Equal(t, uint16(0), data.MeasurementID)
	assert.Equal(t, uint16(3), data.FrameID)
	assert.Less(t, data.EncoderCount, uint32(ENCODER_TICKS_PER_REV))
	assert.Equal(t, uint32(1500), data.Channels[0].RangeMM)
	assert.Equal(t, uint32(2250), data.Channels[1].RangeMM)
	assert.Equal(t, uint32(0), data.Channels[2].RangeMM)
	for _, ch := range data.Channels {
		assert.Equal(t, uint16(SIGNAL_PHOTONS_VALID), ch.SignalPhotons)
		assert.Zero(t, ch.Reflectivity)
		assert.Zero(t, ch.NoisePhotons)
	}

	for i := 1; i < BLOCKS_PER_PACKET; i++ {
		pad := packets[0].Blocks[i]
		assert.False(t, pad.Valid(), "padding block %d", i)
		assert.Zero(t, pad.Status)
		assert.Equal(t, uint32(ENCODER_TICKS_PER_REV), pad.EncoderCount)
		assert.Equal(t, uint16(i), pad.MeasurementID)
		assert.Equal(t, uint16(3), pad.FrameID)
		assert.NotZero(t, pad.Timestamp)
		for _, ch := range pad.Channels {
			assert.Equal(t, ChannelSample{}, ch)
		}
	}
}

func TestBatcher_FrameProperties(t *testing.T) {
	for _, numCols := range []int{1, 16, 33, 257, 1024} {
		c := Channels64
		sink := &recordingSink{}
		b, _ := newTestBatcher(sink)

		order := NewColumnOrder(numCols)
		_, err := b.Encode(Frame{
			Depth:    rampDepth(numCols, c),
			NumCols:  numCols,
			Channels: c,
			Sweep:    centredSweep(numCols),
			FrameID:  65535,
		})
		require.NoError(t, err)

		var (
			blockIndex  int
			prevEncoder = -1
			prevStamp   uint64
		)
		for _, p := range sink.decode(t, c) {
			for _, blk := range p.Blocks {
				assert.Equal(t, uint16(blockIndex), blk.MeasurementID, "cols=%d block %d", numCols, blockIndex)
				assert.Equal(t, uint16(65535), blk.FrameID)
				assert.Greater(t, blk.Timestamp, prevStamp)
				prevStamp = blk.Timestamp

				if blockIndex >= numCols {
					assert.False(t, blk.Valid())
					assert.Equal(t, uint32(ENCODER_TICKS_PER_REV), blk.EncoderCount)
					blockIndex++
					continue
				}

				require.True(t, blk.Valid())
				require.Less(t, blk.EncoderCount, uint32(ENCODER_TICKS_PER_REV))
				assert.Greater(t, int(blk.EncoderCount), prevEncoder, "cols=%d block %d", numCols, blockIndex)
				prevEncoder = int(blk.EncoderCount)

				// Round trip: the block carries the storage column for its position.
				col := order.StorageIndex(order.Position(blockIndex))
				for row, ch := range blk.Channels {
					want := uint32((col*int(c) + row + 1) * 250)
					require.Equal(t, want, ch.RangeMM, "cols=%d block %d row %d", numCols, blockIndex, row)
				}
				blockIndex++
			}
		}
	}
}

func TestBatcher_MeasurementIDWraps(t *testing.T) {
	numCols := 65536 + 20
	sink := &recordingSink{}
	b, _ := newTestBatcher(sink)

	report, err := b.Encode(Frame{
		Depth:    make([]float32, numCols*16),
		NumCols:  numCols,
		Channels: Channels16,
		Sweep:    centredSweep(numCols),
	})
	require.NoError(t, err)
	assert.Equal(t, numCols, report.Columns)

	packets := sink.decode(t, Channels16)
	last := packets[len(packets)-1]
	// Block 65536 is the first block of packet 4096 and wraps to zero.
	assert.Equal(t, uint16(0), packets[4096].Blocks[0].MeasurementID)
	assert.Equal(t, uint16(19), last.Blocks[3].MeasurementID)
	assert.Equal(t, uint16(31), last.Blocks[15].MeasurementID)
}

func TestBatcher_EncoderOutOfRangeStopsFrame(t *testing.T) {
	// The sweep runs past a full turn at the 30th column sent.
	numCols := 40
	h := 2 * math.Pi / float64(numCols)
	sweep := Sweep{Start: -math.Pi + math.Pi/2 + h/2 + 2*twoPi, Step: -h}

	sink := &recordingSink{}
	b, _ := newTestBatcher(sink)
	report, err := b.Encode(Frame{
		Depth:    rampDepth(numCols, Channels16),
		NumCols:  numCols,
		Channels: Channels16,
		Sweep:    sweep,
	})

	require.ErrorIs(t, err, ErrEncoderRange)
	assert.Equal(t, 29, report.Columns)
	assert.Equal(t, 1, report.Packets, "only the packet completed before the bad column is sent")
	assert.Len(t, sink.datagrams, 1)
}

func TestBatcher_EncoderOutOfRangeFirstColumn(t *testing.T) {
	sink := &recordingSink{}
	b, _ := newTestBatcher(sink)

	_, err := b.Encode(Frame{
		Depth:    rampDepth(16, Channels16),
		NumCols:  16,
		Channels: Channels16,
		Sweep:    Sweep{Start: -1, Step: 0},
	})

	require.ErrorIs(t, err, ErrEncoderRange)
	assert.Empty(t, sink.datagrams)
}

func TestBatcher_SinkErrorAborts(t *testing.T) {
	sendErr := errors.New("boom")
	sink := &recordingSink{failAt: 2, err: sendErr}
	b, _ := newTestBatcher(sink)

	report, err := b.Encode(Frame{
		Depth:    rampDepth(64, Channels32),
		NumCols:  64,
		Channels: Channels32,
		Sweep:    centredSweep(64),
	})

	require.ErrorIs(t, err, sendErr)
	assert.Equal(t, 1, report.Packets)
	assert.Len(t, sink.datagrams, 1)
}

func TestBatcher_SinkErrorOnPaddedPacket(t *testing.T) {
	sendErr := errors.New("boom")
	sink := &recordingSink{failAt: 1, err: sendErr}
	b, _ := newTestBatcher(sink)

	_, err := b.Encode(Frame{
		Depth:    rampDepth(3, Channels16),
		NumCols:  3,
		Channels: Channels16,
		Sweep:    centredSweep(3),
	})

	require.ErrorIs(t, err, sendErr)
	assert.Empty(t, sink.datagrams)
}

func TestBatcher_ZeroColumnsIsNoop(t *testing.T) {
	sink := &recordingSink{}
	b, _ := newTestBatcher(sink)

	report, err := b.Encode(Frame{NumCols: 0, Channels: Channels128, Sweep: Sweep{Start: math.NaN()}})
	require.NoError(t, err)
	assert.Zero(t, report.Packets)
	assert.Empty(t, sink.datagrams)
}

func TestBatcher_InputValidation(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
		want  error
	}{
		{"negative columns", Frame{NumCols: -1, Channels: Channels16}, ErrColumnCount},
		{"short buffer", Frame{NumCols: 2, Channels: Channels16, Depth: make([]float32, 31)}, ErrShortBuffer},
		{"unsupported rows", Frame{NumCols: 1, Channels: ChannelCount(20), Depth: make([]float32, 20)}, ErrRowCount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			b, _ := newTestBatcher(sink)

			_, err := b.Encode(tt.frame)
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, sink.datagrams)
		})
	}
}

func TestBatcher_Timestamps(t *testing.T) {
	sink := &recordingSink{}
	b, clock := newTestBatcher(sink)
	start := clock.Now()

	_, err := b.Encode(Frame{
		Depth:    rampDepth(2, Channels16),
		NumCols:  2,
		Channels: Channels16,
		Sweep:    centredSweep(2),
	})
	require.NoError(t, err)

	p := sink.decode(t, Channels16)[0]
	// The clock stepped once for the read above.
	first := uint64(start.Add(time.Microsecond).UnixNano())
	for i, blk := range p.Blocks {
		assert.Equal(t, first+uint64(i)*1000, blk.Timestamp, "block %d", i)
	}
}

func TestRangeMillimetres(t *testing.T) {
	tests := []struct {
		depth float32
		want  uint32
	}{
		{0, 0},
		{-1, 0},
		{float32(math.NaN()), 0},
		{float32(math.Inf(-1)), 0},
		{float32(math.Inf(1)), math.MaxUint32},
		{1e9, math.MaxUint32},
		{0.0005, 0},
		{0.25, 250},
		{1.5, 1500},
		{12.125, 12125},
		{100, 100000},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, RangeMillimetres(tt.depth), "depth=%v", tt.depth)
	}
}
