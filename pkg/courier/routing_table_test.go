// SPDX-FileCopyrightText: 2026 Courier Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package courier

import (
	"context"
	"net"
	"testing"

	"github.com/google/uuid"
)

type mockRoutingContext struct {
	peerId uuid.UUID
	addr   net.Addr
}

func (m *mockRoutingContext) PeerId() uuid.UUID       { return m.peerId }
func (m *mockRoutingContext) RemoteAddress() net.Addr { return m.addr }

func (m *mockRoutingContext) SendReliable(context.Context, MessageDto) error   { return nil }
func (m *mockRoutingContext) SendUnreliable(context.Context, MessageDto) error { return nil }

func TestRoutingTable(t *testing.T) {
	table := NewRoutingTable()
	peer := uuid.New()

	first := &mockRoutingContext{peer, &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 1000}}
	second := &mockRoutingContext{peer, &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 1000}}

	if _, ok := table.TryGet(peer); ok {
		t.Fatal("Empty table returned a context")
	}

	table.Register(peer, first)
	table.Register(peer, first)
	table.Register(peer, second)

	if ctx, ok := table.TryGet(peer); !ok || ctx != second {
		t.Fatalf("Expected latest context, got %v", ctx)
	}

	table.Unregister(peer, second)
	if ctx, ok := table.TryGet(peer); !ok || ctx != first {
		t.Fatalf("Expected first context after unregistering the second, got %v", ctx)
	}

	table.Unregister(peer, first)
	if _, ok := table.TryGet(peer); ok {
		t.Fatal("Table still routes an unregistered peer")
	}
	if l := len(table.Enumerate()); l != 0 {
		t.Fatalf("Table enumerates %d peers", l)
	}
}

func TestPeerTable(t *testing.T) {
	table := NewPeerTable()
	identity := NewRandomIdentity()
	identity.SetProperty("udp_unicast_receive_port", "4242")

	if _, ok := table.Get(identity.Id); ok {
		t.Fatal("Empty table knows a peer")
	}
	if l := len(table.Enumerate()); l != 0 {
		t.Fatalf("Get added a peer, table enumerates %d", l)
	}

	pc := table.GetOrAdd(identity.Id)
	if pc.Identity() != nil {
		t.Fatal("Fresh PeerContext already has an identity")
	}

	pc.HandleInboundPeerIdentityUpdate(identity)

	if again := table.GetOrAdd(identity.Id); again != pc {
		t.Fatal("GetOrAdd created a second PeerContext")
	}
	if known, ok := table.Get(identity.Id); !ok || known != pc {
		t.Fatal("Get misses the added PeerContext")
	}
	if port, _ := pc.Identity().Property("udp_unicast_receive_port"); port != "4242" {
		t.Fatalf("Stored identity has port %q", port)
	}
	if pc.LastSeen().IsZero() {
		t.Fatal("LastSeen was not updated")
	}
	if l := len(table.Enumerate()); l != 1 {
		t.Fatalf("Table enumerates %d peers", l)
	}
}
