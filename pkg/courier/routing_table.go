// SPDX-FileCopyrightText: 2026 Courier Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package courier

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/google/uuid"
)

// MemoryRoutingTable is an in-memory RoutingTable.
type MemoryRoutingTable struct {
	routes map[uuid.UUID][]RoutingContext
	mutex  sync.RWMutex
}

// NewRoutingTable creates an empty MemoryRoutingTable.
func NewRoutingTable() *MemoryRoutingTable {
	return &MemoryRoutingTable{
		routes: make(map[uuid.UUID][]RoutingContext),
	}
}

// Register a RoutingContext for a peer. Registering the same RoutingContext twice has no effect.
func (table *MemoryRoutingTable) Register(peerId uuid.UUID, ctx RoutingContext) {
	table.mutex.Lock()
	defer table.mutex.Unlock()

	for _, known := range table.routes[peerId] {
		if known == ctx {
			return
		}
	}

	table.routes[peerId] = append(table.routes[peerId], ctx)

	log.WithFields(log.Fields{
		"peer":    peerId,
		"address": ctx.RemoteAddress(),
	}).Debug("Routing table registered context")
}

// Unregister a RoutingContext of a peer.
func (table *MemoryRoutingTable) Unregister(peerId uuid.UUID, ctx RoutingContext) {
	table.mutex.Lock()
	defer table.mutex.Unlock()

	contexts := table.routes[peerId]
	for i, known := range contexts {
		if known != ctx {
			continue
		}

		contexts = append(contexts[:i], contexts[i+1:]...)
		if len(contexts) == 0 {
			delete(table.routes, peerId)
		} else {
			table.routes[peerId] = contexts
		}

		log.WithField("peer", peerId).Debug("Routing table unregistered context")
		return
	}
}

// TryGet the most recently registered RoutingContext of a peer.
func (table *MemoryRoutingTable) TryGet(peerId uuid.UUID) (ctx RoutingContext, ok bool) {
	table.mutex.RLock()
	defer table.mutex.RUnlock()

	contexts := table.routes[peerId]
	if len(contexts) == 0 {
		return nil, false
	}
	return contexts[len(contexts)-1], true
}

// Enumerate all routable peers.
func (table *MemoryRoutingTable) Enumerate() []uuid.UUID {
	table.mutex.RLock()
	defer table.mutex.RUnlock()

	peers := make([]uuid.UUID, 0, len(table.routes))
	for peerId := range table.routes {
		peers = append(peers, peerId)
	}
	return peers
}
