//go:build !unix && !windows

package network

import (
	"errors"
	"syscall"
)

// setBroadcast is not supported on this platform.
func setBroadcast(conn syscall.Conn, enabled bool) error {
	return errors.New("SO_BROADCAST not supported on this platform")
}
