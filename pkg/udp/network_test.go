// SPDX-FileCopyrightText: 2026 Courier Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package udp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/the-dargon-project/courier-go/pkg/courier"
)

func TestAllowedInterface(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		result  bool
	}{
		{"eth0", nil, true},
		{"eth0", []string{"eth0", "wlan0"}, true},
		{"eth1", []string{"eth0", "wlan0"}, false},
	}

	for _, test := range tests {
		if r := allowedInterface(test.name, test.allowed); r != test.result {
			t.Fatalf("allowedInterface(%q, %v) = %t", test.name, test.allowed, r)
		}
	}
}

// systemTestConfig uses another multicast port than a running daemon.
func systemTestConfig() Config {
	conf := testConfig()
	conf.MulticastGroup = "235.13.33.37:21338"
	return conf
}

func TestSystemNetworkOpen(t *testing.T) {
	links, err := SystemNetwork().Open(systemTestConfig())
	if errors.Is(err, ErrNoInterface) {
		t.Skipf("No multicast capable interface: %v", err)
	}
	require.NoError(t, err)

	defer func() {
		for _, link := range links {
			require.NoError(t, link.Close())
		}
	}()

	port := links[0].UnicastPort()
	require.NotZero(t, port)
	for _, link := range links {
		require.Equal(t, port, link.UnicastPort(), "link %v", link)
	}
}

func TestSystemNetworkTransport(t *testing.T) {
	links, err := SystemNetwork().Open(systemTestConfig())
	if errors.Is(err, ErrNoInterface) {
		t.Skipf("No multicast capable interface: %v", err)
	}
	require.NoError(t, err)
	for _, link := range links {
		require.NoError(t, link.Close())
	}

	a, _ := startTransport(t, SystemNetwork(), systemTestConfig(), nil)
	b, recB := startTransport(t, SystemNetwork(), systemTestConfig(), nil)

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, ok := a.RoutingTable().TryGet(b.Identity().Id); ok {
			break
		} else if time.Now().After(deadline) {
			t.Skip("Multicast loopback between two sockets on this host is unavailable")
		}
		time.Sleep(10 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ping := []byte("ping")
	require.NoError(t, a.SendMessageReliable(ctx, b.Identity().Id, ping))
	require.Eventually(t, func() bool { return recB.count(ping) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, b.Shutdown(context.Background()))
	err = b.SendMessageReliable(ctx, a.Identity().Id, ping)
	require.True(t, errors.Is(err, courier.ErrClosed))
}
