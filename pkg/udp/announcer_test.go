// SPDX-FileCopyrightText: 2026 Courier Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package udp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/the-dargon-project/courier-go/pkg/courier"
	"github.com/the-dargon-project/courier-go/pkg/udp/internal/buffer"
	"github.com/the-dargon-project/courier-go/pkg/udp/internal/wire"
)

// fakeBroadcaster records each broadcast datagram.
type fakeBroadcaster struct {
	mutex     sync.Mutex
	datagrams [][]byte
	err       error
}

func (fb *fakeBroadcaster) Broadcast(view *buffer.View, done func(error)) error {
	defer view.Release()

	fb.mutex.Lock()
	defer fb.mutex.Unlock()

	if fb.err != nil {
		return fb.err
	}

	fb.datagrams = append(fb.datagrams, append([]byte(nil), view.Bytes()...))
	done(nil)
	return nil
}

func (fb *fakeBroadcaster) count() int {
	fb.mutex.Lock()
	defer fb.mutex.Unlock()

	return len(fb.datagrams)
}

func TestAnnouncer(t *testing.T) {
	const interval = 5 * time.Second

	identity := courier.NewRandomIdentity()
	identity.SetProperty(UnicastPortProperty, "1234")

	mock := clock.NewMock()
	fb := &fakeBroadcaster{}
	a := newAnnouncer(identity, fb, buffer.NewPool(wire.MaxTransportSize), mock, interval)
	require.Equal(t, announcerIdle, a.State())

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(stopped)
	}()

	require.Eventually(t, func() bool { return fb.count() == 1 }, time.Second, time.Millisecond)
	require.Equal(t, announcerAnnouncing, a.State())

	// Nothing happens until the interval passed.
	mock.Add(interval / 2)
	require.Never(t, func() bool { return fb.count() > 1 }, 50*time.Millisecond, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		mock.Add(interval)
		return fb.count() >= 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Announcer did not stop")
	}
	require.Equal(t, announcerStopped, a.State())

	fb.mutex.Lock()
	frames, err := wire.DecodeDatagram(fb.datagrams[0])
	fb.mutex.Unlock()
	require.NoError(t, err)
	require.Len(t, frames, 1)

	ann, ok := frames[0].(*wire.AnnouncementDto)
	require.True(t, ok)
	require.Equal(t, identity.Id, ann.Identity.Id)
	port, _ := ann.Identity.Property(UnicastPortProperty)
	require.Equal(t, "1234", port)
}

func TestAnnouncerSwallowsShutdown(t *testing.T) {
	mock := clock.NewMock()
	fb := &fakeBroadcaster{err: courier.ErrClosed}
	a := newAnnouncer(courier.NewRandomIdentity(), fb, buffer.NewPool(wire.MaxTransportSize), mock, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a.Run(ctx)

	require.Equal(t, announcerStopped, a.State())

	// A stopped announcer cannot be restarted.
	a.Run(context.Background())
	require.Equal(t, announcerStopped, a.State())
}
