package monitoring

import (
	"fmt"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/lidar-synth/internal/timeutil"
)

// TransmitStats tracks sender and frame statistics with thread-safe operations.
// It satisfies the sender's packet statistics interface.
type TransmitStats struct {
	mu           sync.Mutex
	clock        timeutil.Clock
	packetCount  int64
	byteCount    int64
	droppedCount int64
	frameCount   int64
	failedFrames int64

	rangeCount int64
	rangeSum   float64
	rangeMin   float64
	rangeMax   float64
	scratch    []float64

	lastReset time.Time
}

// TransmitSnapshot is one window of TransmitStats.
type TransmitSnapshot struct {
	Packets      int64
	Bytes        int64
	Dropped      int64
	Frames       int64
	FailedFrames int64
	Duration     time.Duration

	// Valid (positive, finite) depth samples seen and their summary in metres.
	ValidRanges int64
	RangeMin    float64
	RangeMax    float64
	RangeMean   float64
}

// NewTransmitStats creates a new TransmitStats instance. A nil clock uses the
// real clock.
func NewTransmitStats(clock timeutil.Clock) *TransmitStats {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	ts := &TransmitStats{clock: clock, lastReset: clock.Now()}
	ts.resetRanges()
	return ts
}

// AddPacket increments packet count and byte count
func (ts *TransmitStats) AddPacket(bytes int) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.packetCount++
	ts.byteCount += int64(bytes)
}

// AddDropped increments dropped packet count
func (ts *TransmitStats) AddDropped() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.droppedCount++
}

// AddFrame counts one Compute outcome.
func (ts *TransmitStats) AddFrame(ok bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ok {
		ts.frameCount++
	} else {
		ts.failedFrames++
	}
}

// ObserveDepth folds the valid samples of a depth buffer into the window's
// range summary. Zero, negative and non-finite samples are no-returns and
// are skipped.
func (ts *TransmitStats) ObserveDepth(depth []float32) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	valid := ts.scratch[:0]
	for _, d := range depth {
		v := float64(d)
		if v > 0 && !math.IsInf(v, 1) {
			valid = append(valid, v)
		}
	}
	ts.scratch = valid
	if len(valid) == 0 {
		return
	}

	ts.rangeMin = math.Min(ts.rangeMin, floats.Min(valid))
	ts.rangeMax = math.Max(ts.rangeMax, floats.Max(valid))
	ts.rangeSum += stat.Mean(valid, nil) * float64(len(valid))
	ts.rangeCount += int64(len(valid))
}

// GetAndReset returns current stats and resets counters
func (ts *TransmitStats) GetAndReset() TransmitSnapshot {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := ts.clock.Now()
	snap := TransmitSnapshot{
		Packets:      ts.packetCount,
		Bytes:        ts.byteCount,
		Dropped:      ts.droppedCount,
		Frames:       ts.frameCount,
		FailedFrames: ts.failedFrames,
		Duration:     now.Sub(ts.lastReset),
		ValidRanges:  ts.rangeCount,
	}
	if ts.rangeCount > 0 {
		snap.RangeMin = ts.rangeMin
		snap.RangeMax = ts.rangeMax
		snap.RangeMean = ts.rangeSum / float64(ts.rangeCount)
	}

	ts.packetCount = 0
	ts.byteCount = 0
	ts.droppedCount = 0
	ts.frameCount = 0
	ts.failedFrames = 0
	ts.resetRanges()
	ts.lastReset = now

	return snap
}

func (ts *TransmitStats) resetRanges() {
	ts.rangeCount = 0
	ts.rangeSum = 0
	ts.rangeMin = math.Inf(1)
	ts.rangeMax = math.Inf(-1)
}

// LogStats logs the current window and resets it. Nothing is logged for an
// idle window.
func (ts *TransmitStats) LogStats() {
	snap := ts.GetAndReset()
	if msg := snap.String(); msg != "" {
		Logf("%s", msg)
	}
}

// String formats the snapshot as a one-line rate summary.
func (s TransmitSnapshot) String() string {
	if s.Packets == 0 && s.Dropped == 0 && s.Frames == 0 && s.FailedFrames == 0 {
		return ""
	}
	secs := s.Duration.Seconds()
	if secs <= 0 {
		secs = 1
	}

	msg := fmt.Sprintf("Transmit stats (/sec): %.2f MB, %.1f packets, %.1f frames",
		float64(s.Bytes)/secs/(1024*1024), float64(s.Packets)/secs, float64(s.Frames)/secs)
	if s.ValidRanges > 0 {
		msg += fmt.Sprintf(", %s returns (%.2f-%.2f m, mean %.2f m)",
			FormatWithCommas(s.ValidRanges), s.RangeMin, s.RangeMax, s.RangeMean)
	}
	if s.FailedFrames > 0 {
		msg += fmt.Sprintf(", %d frames failed", s.FailedFrames)
	}
	if s.Dropped > 0 {
		msg += fmt.Sprintf(", %d dropped", s.Dropped)
	}
	return msg
}

// FormatWithCommas formats a number with thousands separators
func FormatWithCommas(n int64) string {
	if n < 0 {
		return "-" + FormatWithCommas(-n)
	}
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	result := ""
	for i, char := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result += ","
		}
		result += string(char)
	}
	return result
}
