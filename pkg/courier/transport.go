// SPDX-FileCopyrightText: 2026 Courier Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package courier

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrNoRoute is returned for a send to a peer without a known RoutingContext.
	ErrNoRoute = errors.New("no route to peer")

	// ErrClosed is returned by operations on a Transport which was already shut down.
	ErrClosed = errors.New("transport is closed")

	// ErrPayloadTooLarge is returned for an unreliable send whose payload does not fit into a single datagram.
	ErrPayloadTooLarge = errors.New("payload exceeds maximum transport size")
)

// Transport is the contract the courier uses to exchange messages, regardless of the underlying network.
type Transport interface {
	// SendMessageBroadcast to every peer reachable by this Transport. The delivery is unreliable.
	SendMessageBroadcast(ctx context.Context, body []byte) error

	// SendMessageReliable to a specific peer. This method blocks until the peer acknowledged the message, the
	// context is done or the Transport was shut down.
	SendMessageReliable(ctx context.Context, peerId uuid.UUID, body []byte) error

	// SendMessageUnreliable to a specific peer. This method returns after the message was handed to the network.
	SendMessageUnreliable(ctx context.Context, peerId uuid.UUID, body []byte) error

	// Shutdown this Transport and cancel all of its background work.
	Shutdown(ctx context.Context) error
}
