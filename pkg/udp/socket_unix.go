// SPDX-FileCopyrightText: 2026 Courier Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

//go:build unix && !linux

package udp

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// multicastControl allows one multicast socket per network interface on the same port.
func multicastControl(_, _ string, rawConn syscall.RawConn) (err error) {
	ctrlErr := rawConn.Control(func(fd uintptr) {
		for _, opt := range []int{unix.SO_REUSEADDR, unix.SO_REUSEPORT} {
			if err = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, opt, 1); err != nil {
				return
			}
		}
	})
	if ctrlErr != nil {
		err = ctrlErr
	}
	return
}
