// SPDX-FileCopyrightText: 2026 Courier Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package udp implements a courier.Transport on top of UDP datagrams.
//
// Peers discover each other by periodically multicasting announcements of their courier.Identity on every usable
// network interface. For each discovered peer, a routing context with its own send pipeline is registered in the
// courier.RoutingTable.
//
// Reliable packets are acknowledged by their receiver and resent with an exponential backoff until the
// acknowledgement arrives. The receiving side suppresses duplicates within a time window. Packets exceeding the
// maximum transport size are split into chunks, each of them sent reliably, and reassembled by the receiver. The
// outbound rate towards each peer is governed by an additive increase, multiplicative decrease scheme.
//
// Each datagram starts with a short header, contains one or more CBOR serialized frames and ends with a SHA-256
// checksum. Datagrams with an invalid checksum are dropped.
package udp
