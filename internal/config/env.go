package config

import (
	"fmt"
	"strconv"
)

// Environment variables that override the JSON config. Command-line flags
// still take precedence over these.
const (
	EnvIPAddress    = "OUSTER_SYNTH_IP"
	EnvPort         = "OUSTER_SYNTH_PORT"
	EnvBroadcast    = "OUSTER_SYNTH_BROADCAST"
	EnvMulticastTTL = "OUSTER_SYNTH_MULTICAST_TTL"
	EnvNumRows      = "OUSTER_SYNTH_ROWS"
	EnvNumCols      = "OUSTER_SYNTH_COLS"
	EnvFrameRate    = "OUSTER_SYNTH_RATE"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays any set environment variables onto c. Empty values are
// ignored; malformed ones are reported with the variable name.
func (c *TransmitterConfig) ApplyEnv(lookup LookupFunc) error {
	if v, ok := getEnv(lookup, EnvIPAddress); ok {
		c.IPAddress = ptrString(v)
	}
	if err := envInt(lookup, EnvPort, &c.Port); err != nil {
		return err
	}
	if v, ok := getEnv(lookup, EnvBroadcast); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvBroadcast, err)
		}
		c.Broadcast = ptrBool(b)
	}
	if err := envInt(lookup, EnvMulticastTTL, &c.MulticastTTL); err != nil {
		return err
	}
	if err := envInt(lookup, EnvNumRows, &c.NumRows); err != nil {
		return err
	}
	if err := envInt(lookup, EnvNumCols, &c.NumCols); err != nil {
		return err
	}
	if v, ok := getEnv(lookup, EnvFrameRate); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvFrameRate, err)
		}
		c.FrameRateHz = ptrFloat64(f)
	}
	return nil
}

func getEnv(lookup LookupFunc, key string) (string, bool) {
	if lookup == nil {
		return "", false
	}
	v, ok := lookup(key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func envInt(lookup LookupFunc, key string, dst **int) error {
	v, ok := getEnv(lookup, key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = ptrInt(n)
	return nil
}
