// SPDX-FileCopyrightText: 2026 Courier Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package udp

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/the-dargon-project/courier-go/pkg/udp/internal/buffer"
	"github.com/the-dargon-project/courier-go/pkg/udp/internal/worker"
)

func newTestCore(t *testing.T, network Network) (*coreUdp, *buffer.Pool) {
	t.Helper()

	m, err := newMetrics(nil)
	require.NoError(t, err)

	pool := buffer.NewPool(1024)
	workers := worker.NewPool(context.Background(), "test", 2, 16)
	core := newCoreUdp(pool, workers, m, 16)

	t.Cleanup(func() {
		require.NoError(t, core.Close())
		require.NoError(t, workers.Close())
	})
	return core, pool
}

func TestCoreFanOut(t *testing.T) {
	network := newMemNetwork(0)
	core, pool := newTestCore(t, network)

	var (
		mutex    sync.Mutex
		received [][]byte
	)
	listener := func(_ *Link, _ net.Addr, view *buffer.View) {
		defer view.Release()

		mutex.Lock()
		defer mutex.Unlock()
		received = append(received, append([]byte(nil), view.Bytes()...))
	}
	core.AddListener(listener)
	core.AddListener(listener)

	links, err := network.Open(testConfig())
	require.NoError(t, err)
	core.Start(links)

	sender, err := network.Open(testConfig())
	require.NoError(t, err)

	payload := []byte("datagram")
	_, err = sender[0].Unicast.WriteTo(payload, links[0].Unicast.LocalAddr())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mutex.Lock()
		defer mutex.Unlock()
		return len(received) == 2
	}, time.Second, time.Millisecond)

	for _, r := range received {
		require.True(t, bytes.Equal(payload, r))
	}

	// Only the two pending receives hold a buffer.
	require.Eventually(t, func() bool { return pool.Leased() == 2 }, time.Second, time.Millisecond)
}

func TestCoreSend(t *testing.T) {
	network := newMemNetwork(0)
	core, pool := newTestCore(t, network)

	links, err := network.Open(testConfig())
	require.NoError(t, err)
	core.Start(links)

	peer, err := network.Open(testConfig())
	require.NoError(t, err)

	done := make(chan error, 2)
	require.NoError(t, core.Broadcast(pool.LeaseCopy([]byte("all")), func(err error) { done <- err }))
	require.NoError(t, core.Unicast(links[0], peer[0].Unicast.LocalAddr(), pool.LeaseCopy([]byte("one")),
		func(err error) { done <- err }))

	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("Datagram was not sent")
		}
	}

	buf := make([]byte, 16)
	n, source, err := peer[0].Multicast.ReadFrom(buf)
	require.NoError(t, err)
	require.Equal(t, "all", string(buf[:n]))
	require.Equal(t, links[0].Multicast.LocalAddr().String(), source.String())

	n, _, err = peer[0].Unicast.ReadFrom(buf)
	require.NoError(t, err)
	require.Equal(t, "one", string(buf[:n]))
}

func TestCoreClosed(t *testing.T) {
	core, pool := newTestCore(t, newMemNetwork(0))
	require.NoError(t, core.Close())

	view := pool.LeaseCopy([]byte("late"))
	require.Error(t, core.Broadcast(view, nil))
	require.Zero(t, pool.Leased())
}
