// Package node is the per-invocation entry point that turns one range image
// into a frame of Ouster UDP packets. A host owns one State per node
// instance and calls Compute once per evaluation tick.
package node

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/banshee-data/lidar-synth/internal/lidar/network"
	"github.com/banshee-data/lidar-synth/internal/lidar/ouster"
	"github.com/banshee-data/lidar-synth/internal/monitoring"
	"github.com/banshee-data/lidar-synth/internal/timeutil"
)

// ExecutionState is the completion signal written to Outputs.ExecOut.
type ExecutionState int

const (
	ExecDisabled ExecutionState = iota
	ExecEnabled
)

func (e ExecutionState) String() string {
	if e == ExecEnabled {
		return "enabled"
	}
	return "disabled"
}

// Inputs are read once per invocation.
type Inputs struct {
	LinearDepthData      []float32 // NumCols × NumRows, column-major, metres
	NumCols              int
	NumRows              int        // 16, 32, 64 or 128
	AzimuthRange         [2]float32 // radians; only the start is used
	HorizontalResolution float32    // degrees per column

	IPAddress    string
	Port         int
	Broadcast    bool
	MulticastTTL int // 0 uses network.DefaultMulticastTTL
}

// Destination returns the UDP destination described by the inputs.
func (in Inputs) Destination() network.Destination {
	return network.Destination{
		Address:      in.IPAddress,
		Port:         in.Port,
		Broadcast:    in.Broadcast,
		MulticastTTL: in.MulticastTTL,
	}
}

// Outputs are written only when Compute succeeds.
type Outputs struct {
	ExecOut ExecutionState
	Report  ouster.FrameReport
}

// Options configures a new State. Zero values use real sockets and the
// real clock.
type Options struct {
	SocketFactory network.UDPSocketFactory
	Recorder      network.Recorder
	Stats         network.PacketStats
	Clock         timeutil.Clock
}

// State is the persistent per-node state: the frame counter and the owned
// sender. It must not be shared between nodes.
type State struct {
	ID uuid.UUID

	frames  uint32
	last    ouster.FrameReport
	sender  *network.UDPSender
	batcher *ouster.Batcher
	busy    atomic.Bool
	logf    monitoring.LogFunc
}

// NewState creates the state for one node instance.
func NewState(opts Options) *State {
	sender := network.NewUDPSender(network.UDPSenderConfig{
		Factory:  opts.SocketFactory,
		Recorder: opts.Recorder,
		Stats:    opts.Stats,
	})
	id := uuid.New()
	return &State{
		ID:      id,
		sender:  sender,
		batcher: ouster.NewBatcher(sender, opts.Clock),
		logf:    monitoring.Component(fmt.Sprintf("ouster-node[%s]", id)),
	}
}

// FrameID is the frame id the next successful Compute will stamp.
func (s *State) FrameID() uint16 {
	return uint16(s.frames)
}

// LastReport is the report of the most recent Compute, including a failed
// one. After a failure it counts the packets flushed before the error.
func (s *State) LastReport() ouster.FrameReport {
	return s.last
}

// Sender exposes the owned sender for inspection.
func (s *State) Sender() *network.UDPSender {
	return s.sender
}

// Close releases the socket. It is the teardown hook for the node.
func (s *State) Close() error {
	return s.sender.Close()
}

// Compute sends one frame. On success the frame counter advances and
// out.ExecOut is set; on failure out is left untouched, the counter is
// unchanged and the error matches one of the kinds in this package.
// Packets flushed before a failure stay sent and are counted in LastReport.
func Compute(st *State, in Inputs, out *Outputs) (err error) {
	if st == nil {
		return fmt.Errorf("%w: nil state", ErrInternal)
	}
	if !st.busy.CompareAndSwap(false, true) {
		st.logf("frame %d rejected: %v", st.FrameID(), ErrReentrant)
		return ErrReentrant
	}
	defer st.busy.Store(false)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic during packet assembly: %v", ErrInternal, r)
		}
		if err != nil {
			st.logf("frame %d failed: %v", st.FrameID(), err)
		}
	}()

	st.last = ouster.FrameReport{FrameID: st.FrameID()}
	report, err := st.compute(in)
	st.last = report
	if err != nil {
		return classify(err)
	}

	st.frames++
	if out != nil {
		out.ExecOut = ExecEnabled
		out.Report = report
	}
	return nil
}

func (s *State) compute(in Inputs) (ouster.FrameReport, error) {
	channels, err := ouster.ParseChannelCount(in.NumRows)
	if err != nil {
		return ouster.FrameReport{}, err
	}

	frame := ouster.Frame{
		Depth:    in.LinearDepthData,
		NumCols:  in.NumCols,
		Channels: channels,
		Sweep:    ouster.NewSweep(in.AzimuthRange[0], in.HorizontalResolution),
		FrameID:  s.FrameID(),
	}
	// Reject bad input before the socket is touched
	if err := frame.Validate(); err != nil {
		return ouster.FrameReport{FrameID: frame.FrameID}, err
	}

	if err := s.sender.Prepare(in.Destination()); err != nil {
		return ouster.FrameReport{FrameID: frame.FrameID}, err
	}
	return s.batcher.Encode(frame)
}
