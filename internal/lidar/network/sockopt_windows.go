//go:build windows

package network

import (
	"syscall"

	"golang.org/x/sys/windows"
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
		sockErr = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_BROADCAST, value)
	}); err != nil {
		return err
	}
	return sockErr
}
