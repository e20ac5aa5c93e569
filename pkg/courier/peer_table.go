// SPDX-FileCopyrightText: 2026 Courier Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package courier

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// PeerContext holds everything known about a single peer.
type PeerContext struct {
	PeerId uuid.UUID

	identity *Identity
	lastSeen time.Time
	mutex    sync.RWMutex
}

// HandleInboundPeerIdentityUpdate stores the latest announced Identity of this peer.
func (pc *PeerContext) HandleInboundPeerIdentityUpdate(identity *Identity) {
	pc.mutex.Lock()
	defer pc.mutex.Unlock()

	pc.identity = identity.Clone()
	pc.lastSeen = time.Now()
}

// Identity returns the last announced Identity or nil, if none was received yet.
func (pc *PeerContext) Identity() *Identity {
	pc.mutex.RLock()
	defer pc.mutex.RUnlock()

	return pc.identity
}

// LastSeen is the time of the last Identity update.
func (pc *PeerContext) LastSeen() time.Time {
	pc.mutex.RLock()
	defer pc.mutex.RUnlock()

	return pc.lastSeen
}

// PeerTable keeps a PeerContext for every peer ever discovered.
type PeerTable interface {
	// Get an existing PeerContext without creating one.
	Get(peerId uuid.UUID) (*PeerContext, bool)
	GetOrAdd(peerId uuid.UUID) *PeerContext
	Enumerate() []*PeerContext
}

// MemoryPeerTable is an in-memory PeerTable.
type MemoryPeerTable struct {
	peers sync.Map // map[uuid.UUID]*PeerContext
}

// NewPeerTable creates an empty MemoryPeerTable.
func NewPeerTable() *MemoryPeerTable {
	return &MemoryPeerTable{}
}

func (table *MemoryPeerTable) Get(peerId uuid.UUID) (*PeerContext, bool) {
	pc, ok := table.peers.Load(peerId)
	if !ok {
		return nil, false
	}
	return pc.(*PeerContext), true
}

// GetOrAdd returns the PeerContext for a peer and creates it on the first request.
func (table *MemoryPeerTable) GetOrAdd(peerId uuid.UUID) *PeerContext {
	pc, _ := table.peers.LoadOrStore(peerId, &PeerContext{PeerId: peerId})
	return pc.(*PeerContext)
}

// Enumerate all known PeerContexts.
func (table *MemoryPeerTable) Enumerate() (pcs []*PeerContext) {
	table.peers.Range(func(_, pc interface{}) bool {
		pcs = append(pcs, pc.(*PeerContext))
		return true
	})
	return
}
