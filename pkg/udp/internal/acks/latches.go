// SPDX-FileCopyrightText: 2026 Courier Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package acks maps in-flight reliable packets to their completion signals.
package acks

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/the-dargon-project/courier-go/pkg/udp/internal/wire"
)

// ErrDuplicateExpectation is returned if an identifier is expected twice. Packet identifiers are generated for
// each send, thus this indicates a programming error.
var ErrDuplicateExpectation = errors.New("acknowledgement is already expected")

// Container of acknowledgement latches.
type Container struct {
	latches sync.Map // map[uuid.UUID]chan struct{}
	pending atomic.Int64
}

// NewContainer creates an empty Container.
func NewContainer() *Container {
	return &Container{}
}

// Expect an acknowledgement for the given packet identifier. The returned channel is closed once it arrived.
func (c *Container) Expect(id uuid.UUID) (<-chan struct{}, error) {
	latch := make(chan struct{})
	if _, loaded := c.latches.LoadOrStore(id, latch); loaded {
		return nil, fmt.Errorf("%w: %v", ErrDuplicateExpectation, id)
	}

	c.pending.Add(1)
	return latch, nil
}

// ProcessAcknowledgements resolves the latches of all known identifiers and returns their amount. Unknown
// identifiers, e.g., from repeated acknowledgements, are ignored.
func (c *Container) ProcessAcknowledgements(acks []*wire.AcknowledgementDto) (resolved int) {
	for _, ack := range acks {
		if latch, ok := c.latches.LoadAndDelete(ack.MessageId); ok {
			c.pending.Add(-1)
			close(latch.(chan struct{}))
			resolved++
		}
	}
	return
}

// Forget an expected identifier without resolving its latch.
func (c *Container) Forget(id uuid.UUID) {
	if _, ok := c.latches.LoadAndDelete(id); ok {
		c.pending.Add(-1)
	}
}

// Pending returns the number of unresolved latches.
func (c *Container) Pending() int {
	return int(c.pending.Load())
}
