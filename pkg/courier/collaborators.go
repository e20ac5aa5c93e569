// SPDX-FileCopyrightText: 2026 Courier Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package courier

import (
	"context"
	"net"

	"github.com/google/uuid"
)

// RoutingContext bundles the address of a peer and the send pipeline to reach it.
type RoutingContext interface {
	// PeerId of the remote peer.
	PeerId() uuid.UUID

	// RemoteAddress where the peer accepts unicast traffic.
	RemoteAddress() net.Addr

	// SendReliable blocks until the message was acknowledged by the peer.
	SendReliable(ctx context.Context, msg MessageDto) error

	// SendUnreliable returns after the message was sent once.
	SendUnreliable(ctx context.Context, msg MessageDto) error
}

// RoutingTable maps peers to their RoutingContexts.
type RoutingTable interface {
	// Register a RoutingContext for a peer.
	Register(peerId uuid.UUID, ctx RoutingContext)

	// Unregister a previously registered RoutingContext. Other contexts of the same peer remain.
	Unregister(peerId uuid.UUID, ctx RoutingContext)

	// TryGet returns the most recently registered RoutingContext of a peer.
	TryGet(peerId uuid.UUID) (RoutingContext, bool)

	// Enumerate all peers with at least one RoutingContext.
	Enumerate() []uuid.UUID
}

// InboundMessageDispatcher receives the messages delivered by a Transport.
type InboundMessageDispatcher interface {
	// DispatchAsync must not block the calling Transport for long.
	DispatchAsync(ctx context.Context, msg MessageDto) error
}

// DispatcherFunc adapts a function to an InboundMessageDispatcher.
type DispatcherFunc func(ctx context.Context, msg MessageDto) error

// DispatchAsync calls f.
func (f DispatcherFunc) DispatchAsync(ctx context.Context, msg MessageDto) error {
	return f(ctx, msg)
}

// Gatekeeper validates the identity a peer claims in its announcements. An error rejects the announcement.
type Gatekeeper interface {
	ValidateWhoAmI(identity *Identity) error
}

// AllowAllGatekeeper accepts every Identity.
type AllowAllGatekeeper struct{}

// ValidateWhoAmI always succeeds.
func (AllowAllGatekeeper) ValidateWhoAmI(*Identity) error {
	return nil
}
