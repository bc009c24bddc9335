// Command ouster-synth renders synthetic range images and streams them as
// Ouster lidar UDP packets, one frame per tick.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/banshee-data/lidar-synth/internal/config"
	"github.com/banshee-data/lidar-synth/internal/lidar/network"
	"github.com/banshee-data/lidar-synth/internal/lidar/node"
	"github.com/banshee-data/lidar-synth/internal/lidar/synthetic"
	"github.com/banshee-data/lidar-synth/internal/lidardb"
	"github.com/banshee-data/lidar-synth/internal/monitoring"
	"github.com/banshee-data/lidar-synth/internal/security"
	"github.com/banshee-data/lidar-synth/internal/timeutil"
	"github.com/banshee-data/lidar-synth/internal/version"
)

var (
	configFile    = flag.String("config", "", "Path to JSON transmitter config (built-in defaults when empty)")
	ipAddress     = flag.String("ip", "127.0.0.1", "Destination IP address")
	port          = flag.Int("port", 8037, "Destination UDP port")
	broadcast     = flag.Bool("broadcast", false, "Enable SO_BROADCAST and send to a broadcast address")
	numRows       = flag.Int("rows", 64, "Channel rows per column (16, 32, 64 or 128)")
	numCols       = flag.Int("cols", 1024, "Columns per frame")
	azimuthStart  = flag.Float64("azimuth-start", 0, "Azimuth range start in radians (default: -pi less a quarter column)")
	resolution    = flag.Float64("resolution", 0, "Horizontal resolution in degrees per column (default: 360/cols)")
	frameRate     = flag.Float64("rate", 10, "Frames per second")
	maxFrames     = flag.Int("frames", 0, "Stop after this many frames (0 = run until interrupted)")
	pcapOut       = flag.String("pcap-out", "", "Also write every sent datagram to this pcap file")
	dbFile        = flag.String("db", "", "Record a transmit ledger in this SQLite database")
	statsInterval = flag.Duration("stats-interval", 5*time.Second, "Statistics logging interval")
	showVersion   = flag.Bool("version", false, "Print version and exit")
)

// Options are the host settings that are not part of the transmitter config.
type Options struct {
	MaxFrames     int
	PcapOut       string
	DBPath        string
	Clock         timeutil.Clock
	SocketFactory network.UDPSocketFactory
}

// Summary reports what a run did.
type Summary struct {
	SessionID    uuid.UUID
	FramesOK     int
	FramesFailed int
	Packets      int // datagrams on the wire, failed frames included
	Bytes        int
}

// applyFlags overrides config fields with every flag set on the command line.
func applyFlags(cfg *config.TransmitterConfig, fs *flag.FlagSet) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "ip":
			cfg.IPAddress = ipAddress
		case "port":
			cfg.Port = port
		case "broadcast":
			cfg.Broadcast = broadcast
		case "rows":
			cfg.NumRows = numRows
		case "cols":
			cfg.NumCols = numCols
		case "azimuth-start":
			cfg.AzimuthStart = azimuthStart
		case "resolution":
			cfg.HorizontalResolution = resolution
		case "rate":
			cfg.FrameRateHz = frameRate
		case "stats-interval":
			s := statsInterval.String()
			cfg.StatsInterval = &s
		}
	})
}

func loadConfig(path string) (*config.TransmitterConfig, error) {
	if path == "" {
		return config.EmptyTransmitterConfig(), nil
	}
	return config.LoadTransmitterConfig(path)
}

// run transmits frames until ctx is cancelled or MaxFrames frames have been
// attempted. Frame failures are logged and counted; the next tick retries
// with fresh input.
func run(ctx context.Context, cfg *config.TransmitterConfig, opts Options) (Summary, error) {
	var summary Summary

	if err := cfg.Validate(); err != nil {
		return summary, fmt.Errorf("invalid configuration: %w", err)
	}
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	sceneCfg := synthetic.DefaultConfig(cfg.GetNumCols(), cfg.GetNumRows())
	sceneCfg.FrameRate = cfg.GetFrameRateHz()
	sceneCfg.Seed = cfg.GetSceneSeed()
	var gen *synthetic.Generator
	if cfg.GetNumCols() > 0 {
		var err error
		if gen, err = synthetic.NewGenerator(sceneCfg); err != nil {
			return summary, err
		}
	}

	stats := monitoring.NewTransmitStats(clock)
	nodeOpts := node.Options{
		SocketFactory: opts.SocketFactory,
		Stats:         stats,
		Clock:         clock,
	}

	if opts.PcapOut != "" {
		rec, err := network.CreatePcapRecorder(opts.PcapOut, clock)
		if err != nil {
			return summary, err
		}
		defer func() {
			if err := rec.Close(); err != nil {
				log.Printf("Failed to close pcap capture: %v", err)
			}
			log.Printf("Wrote %d datagrams to %s", rec.Count(), opts.PcapOut)
		}()
		nodeOpts.Recorder = rec
	}

	registry := node.NewRegistry(nodeOpts)
	defer func() {
		if err := registry.Close(); err != nil {
			log.Printf("Failed to close node state: %v", err)
		}
	}()
	state := registry.State("ouster-synth")

	var ledger *lidardb.TransmitDB
	if opts.DBPath != "" {
		var err error
		ledger, err = lidardb.NewTransmitDB(opts.DBPath)
		if err != nil {
			return summary, fmt.Errorf("failed to open transmit ledger: %w", err)
		}
		defer ledger.Close()

		dst := cfg.NodeInputs(nil).Destination()
		summary.SessionID, err = ledger.StartSession(lidardb.Session{
			NodeID:      state.ID,
			Destination: dst.String(),
			Broadcast:   dst.Broadcast,
			NumRows:     cfg.GetNumRows(),
			NumCols:     cfg.GetNumCols(),
		})
		if err != nil {
			return summary, err
		}
		defer func() {
			if err := ledger.EndSession(summary.SessionID); err != nil {
				log.Printf("Failed to end transmit session: %v", err)
			}
		}()
	}

	log.Printf("Sending %dx%d frames to %s at %.1f Hz (node %s)",
		cfg.GetNumCols(), cfg.GetNumRows(), cfg.NodeInputs(nil).Destination(), cfg.GetFrameRateHz(), state.ID)

	ticker := clock.NewTicker(cfg.GetFramePeriod())
	defer ticker.Stop()
	statsTicker := clock.NewTicker(cfg.GetStatsInterval())
	defer statsTicker.Stop()

	attempted := 0
	for opts.MaxFrames == 0 || attempted < opts.MaxFrames {
		select {
		case <-ctx.Done():
			stats.LogStats()
			return summary, nil
		case <-statsTicker.C():
			stats.LogStats()
			continue
		case <-ticker.C():
		}

		var depth []float32
		if gen != nil {
			depth = gen.NextFrame()
			stats.ObserveDepth(depth)
		}

		var out node.Outputs
		err := node.Compute(state, cfg.NodeInputs(depth), &out)
		attempted++
		stats.AddFrame(err == nil)
		if err != nil {
			summary.FramesFailed++
		} else {
			summary.FramesOK++
		}

		// Failed frames may still have flushed packets before the error
		report := state.LastReport()
		summary.Packets += report.Packets
		summary.Bytes += report.Bytes

		if ledger != nil {
			if lerr := ledger.RecordFrame(summary.SessionID, lidardb.NewFrameRecord(report, err)); lerr != nil {
				log.Printf("Failed to record frame: %v", lerr)
			}
		}
	}

	stats.LogStats()
	return summary, nil
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println("ouster-synth", version.String())
		return
	}

	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment from .env")
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		log.Fatalf("Invalid environment: %v", err)
	}
	applyFlags(cfg, flag.CommandLine)

	for _, out := range []string{*pcapOut, *dbFile} {
		if out == "" {
			continue
		}
		if err := security.ValidateOutputPath(out); err != nil {
			log.Fatalf("Invalid output path: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := run(ctx, cfg, Options{
		MaxFrames: *maxFrames,
		PcapOut:   *pcapOut,
		DBPath:    *dbFile,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("ouster-synth: %v", err)
		os.Exit(1)
	}
	log.Printf("Sent %d frames (%d failed), %s packets, %s bytes",
		summary.FramesOK, summary.FramesFailed,
		monitoring.FormatWithCommas(int64(summary.Packets)), monitoring.FormatWithCommas(int64(summary.Bytes)))
}
