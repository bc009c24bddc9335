// Package main provides an offline inspector for Ouster lidar captures.
// It decodes every UDP payload in a pcap file as an Ouster packet and
// reports per-frame block counts, id continuity and encoder order.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/lidar-synth/internal/lidar/ouster"
)

// Config holds configuration for the inspection.
type Config struct {
	PCAPFile string
	Rows     int // 0 infers the variant from each payload size
	UDPPort  int // 0 accepts any destination port
	JSON     bool
}

// FrameSummary describes the blocks of one frame id run.
type FrameSummary struct {
	FrameID            uint16 `json:"frame_id"`
	Channels           int    `json:"channels"`
	Packets            int    `json:"packets"`
	ValidBlocks        int    `json:"valid_blocks"`
	PaddingBlocks      int    `json:"padding_blocks"`
	FirstMeasurementID uint16 `json:"first_measurement_id"`
	LastMeasurementID  uint16 `json:"last_measurement_id"`
	FirstEncoder       uint32 `json:"first_encoder"`
	LastEncoder        uint32 `json:"last_encoder"`
	MeasurementGaps    int    `json:"measurement_gaps"`
	EncoderRegressions int    `json:"encoder_regressions"`
	Returns            int    `json:"returns"`

	prevMeasurement uint16
	prevEncoder     uint32
	blocks          int
}

// Result holds the results of the inspection.
type Result struct {
	PCAPFile  string          `json:"pcap_file"`
	Datagrams int             `json:"datagrams"`
	Decoded   int             `json:"decoded"`
	Skipped   int             `json:"skipped"`
	Frames    []*FrameSummary `json:"frames"`
}

func main() {
	config := parseFlags()

	if config.PCAPFile == "" {
		fmt.Fprintln(os.Stderr, "Error: PCAP file is required")
		flag.Usage()
		os.Exit(1)
	}

	f, err := os.Open(config.PCAPFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	result, err := inspect(f, config)
	if err != nil {
		log.Fatalf("Inspection failed: %v", err)
	}
	result.PCAPFile = config.PCAPFile

	if config.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			log.Fatalf("Failed to encode result: %v", err)
		}
		return
	}
	printSummary(os.Stdout, result)
}

func parseFlags() Config {
	config := Config{}

	flag.StringVar(&config.PCAPFile, "pcap", "", "Path to PCAP file (required)")
	flag.IntVar(&config.Rows, "rows", 0, "Channel rows per block (16, 32, 64 or 128; 0 = infer from packet size)")
	flag.IntVar(&config.UDPPort, "port", 0, "Only inspect datagrams sent to this UDP port (0 = any)")
	flag.BoolVar(&config.JSON, "json", false, "Print the result as JSON")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Decodes Ouster lidar packets from a pcap capture and summarises each frame.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -pcap capture.pcap\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -pcap capture.pcap -rows 64 -port 7502 -json\n", os.Args[0])
	}

	flag.Parse()
	return config
}

// inspect reads a pcap stream and summarises its Ouster frames. A new frame
// starts whenever the frame id changes.
func inspect(r io.Reader, config Config) (*Result, error) {
	var fixed ouster.ChannelCount
	if config.Rows != 0 {
		c, err := ouster.ParseChannelCount(config.Rows)
		if err != nil {
			return nil, err
		}
		fixed = c
	}

	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read pcap header: %w", err)
	}

	result := &Result{}
	var current *FrameSummary
	for {
		data, _, err := pr.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return result, fmt.Errorf("failed to read packet %d: %w", result.Datagrams+1, err)
		}

		pkt := gopacket.NewPacket(data, pr.LinkType(), gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok {
			continue
		}
		if config.UDPPort != 0 && int(udp.DstPort) != config.UDPPort {
			continue
		}
		result.Datagrams++

		c := fixed
		if c == 0 {
			if c, ok = ouster.ChannelCountForPacketSize(len(udp.Payload)); !ok {
				result.Skipped++
				continue
			}
		}
		p, err := ouster.DecodePacket(udp.Payload, c)
		if err != nil {
			result.Skipped++
			continue
		}
		result.Decoded++

		for i := range p.Blocks {
			blk := &p.Blocks[i]
			if current == nil || blk.FrameID != current.FrameID || int(c) != current.Channels {
				current = &FrameSummary{FrameID: blk.FrameID, Channels: int(c)}
				result.Frames = append(result.Frames, current)
			}
			current.addBlock(blk, i == 0)
		}
	}
	return result, nil
}

func (f *FrameSummary) addBlock(blk *ouster.AzimuthBlock, packetStart bool) {
	if packetStart || f.blocks == 0 {
		f.Packets++
	}
	if f.blocks == 0 {
		f.FirstMeasurementID = blk.MeasurementID
	} else if blk.MeasurementID != f.prevMeasurement+1 {
		f.MeasurementGaps++
	}
	f.prevMeasurement = blk.MeasurementID
	f.LastMeasurementID = blk.MeasurementID
	f.blocks++

	if !blk.Valid() {
		f.PaddingBlocks++
		return
	}
	if f.ValidBlocks == 0 {
		f.FirstEncoder = blk.EncoderCount
	} else if blk.EncoderCount < f.prevEncoder {
		f.EncoderRegressions++
	}
	f.prevEncoder = blk.EncoderCount
	f.LastEncoder = blk.EncoderCount
	f.ValidBlocks++

	for _, ch := range blk.Channels {
		if ch.RangeMM != 0 {
			f.Returns++
		}
	}
}

func printSummary(w io.Writer, result *Result) {
	fmt.Fprintf(w, "%s: %d datagrams, %d decoded, %d skipped, %d frames\n",
		result.PCAPFile, result.Datagrams, result.Decoded, result.Skipped, len(result.Frames))
	if len(result.Frames) == 0 {
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FRAME\tCH\tPACKETS\tVALID\tPADDING\tMEASUREMENT IDS\tENCODER\tRETURNS\tISSUES")
	for _, f := range result.Frames {
		issues := "-"
		if f.MeasurementGaps > 0 || f.EncoderRegressions > 0 {
			issues = fmt.Sprintf("%d id gaps, %d encoder regressions", f.MeasurementGaps, f.EncoderRegressions)
		}
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\t%d-%d\t%d-%d\t%d\t%s\n",
			f.FrameID, f.Channels, f.Packets, f.ValidBlocks, f.PaddingBlocks,
			f.FirstMeasurementID, f.LastMeasurementID, f.FirstEncoder, f.LastEncoder, f.Returns, issues)
	}
	tw.Flush()
}
