// SPDX-FileCopyrightText: 2026 Courier Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

//go:build linux

package udp

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// multicastControl allows one multicast socket per network interface on the same port. With IP_MULTICAST_ALL
// disabled, each socket only receives the groups joined on itself.
func multicastControl(_, _ string, rawConn syscall.RawConn) (err error) {
	opts := []struct {
		level, opt, value int
	}{
		{unix.SOL_SOCKET, unix.SO_REUSEADDR, 1},
		{unix.SOL_SOCKET, unix.SO_REUSEPORT, 1},
		{unix.IPPROTO_IP, unix.IP_MULTICAST_ALL, 0},
	}

	ctrlErr := rawConn.Control(func(fd uintptr) {
		for _, o := range opts {
			if err = unix.SetsockoptInt(int(fd), o.level, o.opt, o.value); err != nil {
				return
			}
		}
	})
	if ctrlErr != nil {
		err = ctrlErr
	}
	return
}
