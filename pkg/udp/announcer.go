// SPDX-FileCopyrightText: 2026 Courier Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package udp

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	log "github.com/sirupsen/logrus"

	"github.com/the-dargon-project/courier-go/pkg/courier"
	"github.com/the-dargon-project/courier-go/pkg/udp/internal/buffer"
	"github.com/the-dargon-project/courier-go/pkg/udp/internal/wire"
)

// broadcaster sends a datagram to every peer, see coreUdp.Broadcast.
type broadcaster interface {
	Broadcast(view *buffer.View, done func(error)) error
}

// announcerState is Idle, Announcing or Stopped.
type announcerState int32

const (
	announcerIdle announcerState = iota
	announcerAnnouncing
	announcerStopped
)

func (s announcerState) String() string {
	switch s {
	case announcerIdle:
		return "idle"
	case announcerAnnouncing:
		return "announcing"
	case announcerStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// announcer periodically broadcasts an AnnouncementDto of the local Identity.
type announcer struct {
	identity *courier.Identity
	out      broadcaster
	pool     *buffer.Pool
	clock    clock.Clock
	interval time.Duration

	state atomic.Int32
}

func newAnnouncer(identity *courier.Identity, out broadcaster, pool *buffer.Pool, clk clock.Clock, interval time.Duration) *announcer {
	return &announcer{
		identity: identity,
		out:      out,
		pool:     pool,
		clock:    clk,
		interval: interval,
	}
}

func (a *announcer) State() announcerState {
	return announcerState(a.state.Load())
}

// Run announces until the context is done.
func (a *announcer) Run(ctx context.Context) {
	if !a.state.CompareAndSwap(int32(announcerIdle), int32(announcerAnnouncing)) {
		return
	}
	defer a.state.Store(int32(announcerStopped))

	for {
		if err := a.announce(ctx); err != nil && ctx.Err() == nil && !errors.Is(err, courier.ErrClosed) {
			log.WithField("identity", a.identity).WithError(err).Warn("Announcement failed")
		}

		timer := a.clock.Timer(a.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return

		case <-timer.C:
		}
	}
}

// announce once and wait until the datagram was sent.
func (a *announcer) announce(ctx context.Context) error {
	frame, err := wire.EncodeFrame(&wire.AnnouncementDto{Identity: a.identity})
	if err != nil {
		return err
	}

	view := a.pool.Lease()
	dw := wire.NewDatagramWriter(view.Raw())
	if !dw.Append(frame) {
		view.Release()
		return wire.ErrFrameTooLarge
	}
	view.SetLen(dw.Finish())

	done := make(chan error, 1)
	if err := a.out.Broadcast(view, func(err error) { done <- err }); err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
