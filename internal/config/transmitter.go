// Package config loads the transmitter configuration file. Every field is
// optional; Get* accessors supply the default for a missing field.
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/lidar-synth/internal/lidar/node"
	"github.com/banshee-data/lidar-synth/internal/lidar/ouster"
)

// DefaultConfigPath is the canonical location of the defaults file.
const DefaultConfigPath = "config/transmitter.defaults.json"

// TransmitterConfig holds the node inputs that do not change per frame
// plus the host loop settings. Pointer fields distinguish "unset" from
// zero values so a partial file can be layered over the defaults.
type TransmitterConfig struct {
	// Destination
	IPAddress    *string `json:"ip_address,omitempty"`
	Port         *int    `json:"port,omitempty"`
	Broadcast    *bool   `json:"broadcast,omitempty"`
	MulticastTTL *int    `json:"multicast_ttl,omitempty"`

	// Range image geometry
	NumRows              *int     `json:"num_rows,omitempty"`
	NumCols              *int     `json:"num_cols,omitempty"`
	AzimuthStart         *float64 `json:"azimuth_start,omitempty"`         // radians
	HorizontalResolution *float64 `json:"horizontal_resolution,omitempty"` // degrees per column

	// Host loop
	FrameRateHz   *float64 `json:"frame_rate_hz,omitempty"`
	StatsInterval *string  `json:"stats_interval,omitempty"` // duration string like "5s"
	SceneSeed     *int64   `json:"scene_seed,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrInt64(v int64) *int64       { return &v }

// EmptyTransmitterConfig returns a config with every field unset.
func EmptyTransmitterConfig() *TransmitterConfig {
	return &TransmitterConfig{}
}

// DefaultTransmitterConfig returns a config with every field set to its default.
func DefaultTransmitterConfig() *TransmitterConfig {
	empty := EmptyTransmitterConfig()
	return &TransmitterConfig{
		IPAddress:            ptrString(empty.GetIPAddress()),
		Port:                 ptrInt(empty.GetPort()),
		Broadcast:            ptrBool(empty.GetBroadcast()),
		MulticastTTL:         ptrInt(empty.GetMulticastTTL()),
		NumRows:              ptrInt(empty.GetNumRows()),
		NumCols:              ptrInt(empty.GetNumCols()),
		AzimuthStart:         ptrFloat64(empty.GetAzimuthStart()),
		HorizontalResolution: ptrFloat64(empty.GetHorizontalResolution()),
		FrameRateHz:          ptrFloat64(empty.GetFrameRateHz()),
		StatsInterval:        ptrString(empty.GetStatsInterval().String()),
		SceneSeed:            ptrInt64(empty.GetSceneSeed()),
	}
}

// LoadTransmitterConfig reads and validates a JSON config file.
func LoadTransmitterConfig(path string) (*TransmitterConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTransmitterConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the working directory
// or one of its ancestors, so tests in nested packages find it too.
func MustLoadDefaultConfig() *TransmitterConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from cmd/tools/ouster-inspect/
		"../../../../" + DefaultConfigPath, // from internal/lidar/node/
	}
	for _, path := range candidates {
		if cfg, err := LoadTransmitterConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks every set field and the sweep as a whole.
func (c *TransmitterConfig) Validate() error {
	if c.IPAddress != nil && *c.IPAddress == "" {
		return fmt.Errorf("ip_address must not be empty")
	}

	if c.Port != nil {
		if *c.Port <= 0 || *c.Port > 65535 {
			return fmt.Errorf("port must be between 1 and 65535, got %d", *c.Port)
		}
	}

	if c.MulticastTTL != nil {
		if *c.MulticastTTL < 0 || *c.MulticastTTL > 255 {
			return fmt.Errorf("multicast_ttl must be between 0 and 255, got %d", *c.MulticastTTL)
		}
	}

	if c.NumRows != nil {
		if _, err := ouster.ParseChannelCount(*c.NumRows); err != nil {
			return fmt.Errorf("num_rows: %w", err)
		}
	}

	if c.NumCols != nil && *c.NumCols < 0 {
		return fmt.Errorf("num_cols must be non-negative, got %d", *c.NumCols)
	}

	if c.HorizontalResolution != nil {
		if r := *c.HorizontalResolution; !(r > 0) || math.IsInf(r, 0) {
			return fmt.Errorf("horizontal_resolution must be positive, got %v", r)
		}
	}

	if c.AzimuthStart != nil {
		if a := *c.AzimuthStart; math.IsNaN(a) || math.IsInf(a, 0) {
			return fmt.Errorf("azimuth_start must be finite, got %v", a)
		}
	}

	if c.FrameRateHz != nil {
		if r := *c.FrameRateHz; !(r > 0) || r > 1000 {
			return fmt.Errorf("frame_rate_hz must be in (0, 1000], got %v", r)
		}
	}

	if c.StatsInterval != nil && *c.StatsInterval != "" {
		if _, err := time.ParseDuration(*c.StatsInterval); err != nil {
			return fmt.Errorf("invalid stats_interval '%s': %w", *c.StatsInterval, err)
		}
	}

	return c.ValidateSweep()
}

// ValidateSweep checks that every column of the configured image maps to
// an encoder count inside one rotation. Encoder counts rise monotonically
// over the send order, so the first and last columns bound the rest.
func (c *TransmitterConfig) ValidateSweep() error {
	order := ouster.NewColumnOrder(c.GetNumCols())
	if order.Len() == 0 {
		return nil
	}
	sweep := c.Sweep()
	for _, i := range []int{0, order.Len() - 1} {
		if _, err := sweep.EncoderCount(order.Position(i)); err != nil {
			return fmt.Errorf("azimuth_start %v with horizontal_resolution %v: column %d of %d: %w",
				c.GetAzimuthStart(), c.GetHorizontalResolution(), i, order.Len(), err)
		}
	}
	return nil
}

// Sweep returns the angle mapping the node will use for this config.
func (c *TransmitterConfig) Sweep() ouster.Sweep {
	return ouster.NewSweep(float32(c.GetAzimuthStart()), float32(c.GetHorizontalResolution()))
}

// NodeInputs builds the per-frame node inputs around a depth buffer.
func (c *TransmitterConfig) NodeInputs(depth []float32) node.Inputs {
	return node.Inputs{
		LinearDepthData:      depth,
		NumCols:              c.GetNumCols(),
		NumRows:              c.GetNumRows(),
		AzimuthRange:         [2]float32{float32(c.GetAzimuthStart()), float32(c.GetAzimuthStart() + 2*math.Pi)},
		HorizontalResolution: float32(c.GetHorizontalResolution()),
		IPAddress:            c.GetIPAddress(),
		Port:                 c.GetPort(),
		Broadcast:            c.GetBroadcast(),
		MulticastTTL:         c.GetMulticastTTL(),
	}
}

func (c *TransmitterConfig) GetIPAddress() string {
	if c.IPAddress == nil || *c.IPAddress == "" {
		return "127.0.0.1"
	}
	return *c.IPAddress
}

func (c *TransmitterConfig) GetPort() int {
	if c.Port == nil {
		return 8037
	}
	return *c.Port
}

func (c *TransmitterConfig) GetBroadcast() bool {
	if c.Broadcast == nil {
		return false
	}
	return *c.Broadcast
}

func (c *TransmitterConfig) GetMulticastTTL() int {
	if c.MulticastTTL == nil {
		return 32
	}
	return *c.MulticastTTL
}

func (c *TransmitterConfig) GetNumRows() int {
	if c.NumRows == nil {
		return 64
	}
	return *c.NumRows
}

func (c *TransmitterConfig) GetNumCols() int {
	if c.NumCols == nil {
		return 1024
	}
	return *c.NumCols
}

// GetHorizontalResolution defaults to one full turn over the columns.
func (c *TransmitterConfig) GetHorizontalResolution() float64 {
	if c.HorizontalResolution == nil {
		if n := c.GetNumCols(); n > 0 {
			return 360 / float64(n)
		}
		return 360
	}
	return *c.HorizontalResolution
}

// GetAzimuthStart defaults to -π less a quarter column. Starting at exactly
// -π puts the last column on the full-turn boundary.
func (c *TransmitterConfig) GetAzimuthStart() float64 {
	if c.AzimuthStart == nil {
		step := c.GetHorizontalResolution() * math.Pi / 180
		return -math.Pi - step/4
	}
	return *c.AzimuthStart
}

func (c *TransmitterConfig) GetFrameRateHz() float64 {
	if c.FrameRateHz == nil {
		return 10
	}
	return *c.FrameRateHz
}

// GetFramePeriod is the host tick interval.
func (c *TransmitterConfig) GetFramePeriod() time.Duration {
	return time.Duration(float64(time.Second) / c.GetFrameRateHz())
}

func (c *TransmitterConfig) GetStatsInterval() time.Duration {
	if c.StatsInterval == nil || *c.StatsInterval == "" {
		return 5 * time.Second // default
	}
	d, err := time.ParseDuration(*c.StatsInterval)
	if err != nil {
		return 5 * time.Second // default on parse error
	}
	return d
}

func (c *TransmitterConfig) GetSceneSeed() int64 {
	if c.SceneSeed == nil {
		return 1
	}
	return *c.SceneSeed
}
