// SPDX-FileCopyrightText: 2026 Courier Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package agent exposes a courier.Transport to local applications.
//
// The WebSocketAgent is a courier.InboundMessageDispatcher which forwards each received message to all connected
// WebSocket clients. Clients might also send messages through the WebSocket. Messages are exchanged as CBOR arrays,
// prefixed by a type code.
//
// The RestAgent offers a small HTTP API to list the known peers, to send messages and to export the metrics.
package agent
