//go:build unix

package network

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func setBroadcast(conn syscall.Conn, enabled bool) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	value := 0
	if enabled {
		value = 1
	}
	var sockErr error
	if err := raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, value)
	}); err != nil {
		return err
	}
	return sockErr
}
