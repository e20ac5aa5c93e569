// SPDX-FileCopyrightText: 2026 Courier Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"context"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/the-dargon-project/courier-go/pkg/courier"
)

type sentMessage struct {
	peer      uuid.UUID
	reliable  bool
	broadcast bool
	body      []byte
}

// fakeNode records every send request and answers with err.
type fakeNode struct {
	mutex sync.Mutex
	sent  []sentMessage
	err   error

	routes *courier.MemoryRoutingTable
	peers  *courier.MemoryPeerTable
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		routes: courier.NewRoutingTable(),
		peers:  courier.NewPeerTable(),
	}
}

func (node *fakeNode) record(msg sentMessage) error {
	node.mutex.Lock()
	defer node.mutex.Unlock()

	node.sent = append(node.sent, msg)
	return node.err
}

func (node *fakeNode) messages() []sentMessage {
	node.mutex.Lock()
	defer node.mutex.Unlock()

	return append([]sentMessage(nil), node.sent...)
}

func (node *fakeNode) SendMessageBroadcast(_ context.Context, body []byte) error {
	return node.record(sentMessage{broadcast: true, body: body})
}

func (node *fakeNode) SendMessageReliable(_ context.Context, peerId uuid.UUID, body []byte) error {
	return node.record(sentMessage{peer: peerId, reliable: true, body: body})
}

func (node *fakeNode) SendMessageUnreliable(_ context.Context, peerId uuid.UUID, body []byte) error {
	return node.record(sentMessage{peer: peerId, body: body})
}

func (node *fakeNode) Shutdown(context.Context) error {
	return nil
}

func (node *fakeNode) RoutingTable() courier.RoutingTable {
	return node.routes
}

func (node *fakeNode) PeerTable() courier.PeerTable {
	return node.peers
}

// fakeRoute is a RoutingContext without a send pipeline.
type fakeRoute struct {
	id   uuid.UUID
	addr net.Addr
}

func (route *fakeRoute) PeerId() uuid.UUID {
	return route.id
}

func (route *fakeRoute) RemoteAddress() net.Addr {
	return route.addr
}

func (route *fakeRoute) SendReliable(context.Context, courier.MessageDto) error {
	return nil
}

func (route *fakeRoute) SendUnreliable(context.Context, courier.MessageDto) error {
	return nil
}
