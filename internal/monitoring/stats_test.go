package monitoring

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lidar-synth/internal/timeutil"
)

func newTestStats() (*TransmitStats, *timeutil.MockClock) {
	clock := timeutil.NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	return NewTransmitStats(clock), clock
}

func TestTransmitStats_Counters(t *testing.T) {
	ts, clock := newTestStats()

	ts.AddPacket(12608)
	ts.AddPacket(12608)
	ts.AddDropped()
	ts.AddFrame(true)
	ts.AddFrame(false)
	clock.Advance(2 * time.Second)

	snap := ts.GetAndReset()
	assert.Equal(t, int64(2), snap.Packets)
	assert.Equal(t, int64(25216), snap.Bytes)
	assert.Equal(t, int64(1), snap.Dropped)
	assert.Equal(t, int64(1), snap.Frames)
	assert.Equal(t, int64(1), snap.FailedFrames)
	assert.Equal(t, 2*time.Second, snap.Duration)

	// Counters reset
	clock.Advance(time.Second)
	snap = ts.GetAndReset()
	assert.Zero(t, snap.Packets)
	assert.Zero(t, snap.Bytes)
	assert.Zero(t, snap.Frames)
	assert.Equal(t, time.Second, snap.Duration)
}

func TestTransmitStats_ObserveDepth(t *testing.T) {
	ts, _ := newTestStats()

	nan := float32(math.NaN())
	inf := float32(math.Inf(1))
	ts.ObserveDepth([]float32{0, 1, -2, nan, 3, inf})
	ts.ObserveDepth([]float32{5, 7})
	ts.ObserveDepth(nil)

	snap := ts.GetAndReset()
	require.Equal(t, int64(4), snap.ValidRanges)
	assert.InDelta(t, 1.0, snap.RangeMin, 1e-9)
	assert.InDelta(t, 7.0, snap.RangeMax, 1e-9)
	assert.InDelta(t, 4.0, snap.RangeMean, 1e-9)

	// Summary resets with the window
	snap = ts.GetAndReset()
	assert.Zero(t, snap.ValidRanges)
	assert.Zero(t, snap.RangeMin)
	assert.Zero(t, snap.RangeMax)
}

func TestTransmitStats_AllNoReturn(t *testing.T) {
	ts, _ := newTestStats()
	ts.ObserveDepth([]float32{0, 0, -1})

	snap := ts.GetAndReset()
	assert.Zero(t, snap.ValidRanges)
	assert.Zero(t, snap.RangeMean)
}

func TestTransmitStats_Concurrent(t *testing.T) {
	ts, _ := newTestStats()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				ts.AddPacket(10)
				ts.ObserveDepth([]float32{1, 2})
			}
		}()
	}
	wg.Wait()

	snap := ts.GetAndReset()
	assert.Equal(t, int64(800), snap.Packets)
	assert.Equal(t, int64(8000), snap.Bytes)
	assert.Equal(t, int64(1600), snap.ValidRanges)
	assert.InDelta(t, 1.5, snap.RangeMean, 1e-9)
}

func TestTransmitStats_LogStats(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})

	ts, clock := newTestStats()

	// Idle window logs nothing
	clock.Advance(time.Second)
	ts.LogStats()
	assert.Empty(t, lines)

	ts.AddPacket(1024 * 1024)
	ts.AddFrame(true)
	ts.AddFrame(false)
	ts.AddDropped()
	ts.ObserveDepth([]float32{2, 4})
	clock.Advance(time.Second)
	ts.LogStats()

	require.Len(t, lines, 1)
	line := lines[0]
	assert.True(t, strings.HasPrefix(line, "Transmit stats (/sec): 1.00 MB, 1.0 packets, 1.0 frames"), line)
	assert.Contains(t, line, "2 returns (2.00-4.00 m, mean 3.00 m)")
	assert.Contains(t, line, "1 frames failed")
	assert.Contains(t, line, "1 dropped")
}

func TestFormatWithCommas(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{65536, "65,536"},
		{1234567, "1,234,567"},
		{-1234, "-1,234"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatWithCommas(tt.in))
	}
}
