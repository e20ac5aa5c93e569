// SPDX-FileCopyrightText: 2026 Courier Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

//go:build !unix

package udp

import (
	"syscall"
)

// multicastControl sets no socket options on this platform. Thus, only one network interface can be used.
var multicastControl func(network, address string, rawConn syscall.RawConn) error
