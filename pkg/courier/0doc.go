// SPDX-FileCopyrightText: 2026 Courier Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package courier contains the transport-independent data model of the courier messaging layer and the contracts
// between a Transport and its collaborators.
//
// An Identity names a process on the network. Applications exchange MessageDto values, which a Transport delivers
// either broadcast, reliable (at-least-once) or unreliable. Discovered peers are tracked in a PeerTable, while the
// RoutingTable maps each peer to the RoutingContext used to reach it. Incoming messages are handed to an
// InboundMessageDispatcher; announced identities may be vetted by a Gatekeeper.
//
// Simple in-memory implementations of the tables are available: NewRoutingTable and NewPeerTable.
package courier
