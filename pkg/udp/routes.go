// SPDX-FileCopyrightText: 2026 Courier Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package udp

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/the-dargon-project/courier-go/pkg/courier"
	"github.com/the-dargon-project/courier-go/pkg/udp/internal/acks"
	"github.com/the-dargon-project/courier-go/pkg/udp/internal/buffer"
)

// routingContext binds a peer's unicaster to its remote address. It implements courier.RoutingContext.
type routingContext struct {
	*unicaster

	// lastSeen is the clock's UnixNano of the latest announcement.
	lastSeen atomic.Int64
}

func (rc *routingContext) PeerId() uuid.UUID {
	return rc.peer
}

func (rc *routingContext) RemoteAddress() net.Addr {
	return rc.target.Load().remote
}

func (rc *routingContext) touch(now time.Time) {
	rc.lastSeen.Store(now.UnixNano())
}

func (rc *routingContext) idle(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, rc.lastSeen.Load()))
}

// remoteAddress of an announced peer, its source IP combined with the advertised unicast port.
func remoteAddress(source net.Addr, identity *courier.Identity) (*net.UDPAddr, error) {
	srcAddr, ok := source.(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("source address %v is no UDP address", source)
	}

	portStr, ok := identity.Property(UnicastPortProperty)
	if !ok {
		return nil, fmt.Errorf("identity lacks the %s property", UnicastPortProperty)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("parsing unicast port: %w", err)
	} else if port <= 0 || port > 0xFFFF {
		return nil, fmt.Errorf("unicast port %d out of range", port)
	}

	return &net.UDPAddr{IP: srcAddr.IP, Port: port, Zone: srcAddr.Zone}, nil
}

// routeManager creates a routingContext for each announced peer and registers it in the courier.RoutingTable.
// Contexts of peers without an announcement for the configured PeerExpiry are unregistered again. Their
// outstanding reliable sends are still resent until acknowledged or cancelled, as a draining context. A
// draining context is reused if its peer reappears in the meantime.
type routeManager struct {
	self       uuid.UUID
	config     Config
	clock      clock.Clock
	table      courier.RoutingTable
	peers      courier.PeerTable
	gatekeeper courier.Gatekeeper

	core    *coreUdp
	pool    *buffer.Pool
	latches *acks.Container
	metrics *metrics

	mutex    sync.Mutex
	routes   map[uuid.UUID]*routingContext
	draining map[uuid.UUID]*routingContext
	closed   bool
}

func (rm *routeManager) Get(peerId uuid.UUID) (*routingContext, bool) {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	rc, ok := rm.routes[peerId]
	return rc, ok
}

// HandleAnnouncement received on a Link from the source address.
func (rm *routeManager) HandleAnnouncement(link *Link, source net.Addr, identity *courier.Identity) {
	if identity.Id == rm.self {
		return
	}

	logger := log.WithFields(log.Fields{
		"peer":   identity.Id,
		"source": source,
		"nic":    link.Name,
	})

	if err := rm.gatekeeper.ValidateWhoAmI(identity); err != nil {
		logger.WithError(err).Warn("Gatekeeper rejected announced identity")
		return
	}

	remote, err := remoteAddress(source, identity)
	if err != nil {
		logger.WithError(err).Warn("Announcement lacks a usable unicast address")
		return
	}

	rm.peers.GetOrAdd(identity.Id).HandleInboundPeerIdentityUpdate(identity)

	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	if rm.closed {
		return
	}

	now := rm.clock.Now()
	if rc, ok := rm.routes[identity.Id]; ok {
		rc.touch(now)
		rm.relocateLocked(rc, link, remote, logger)
		return
	}

	if rc, ok := rm.draining[identity.Id]; ok {
		delete(rm.draining, identity.Id)

		if rc.revive() {
			rc.touch(now)
			rm.relocateLocked(rc, link, remote, logger)
			rm.registerLocked(rc)

			logger.WithField("remote", remote).Info("Rediscovered expired peer")
			return
		}
	}

	rc := &routingContext{
		unicaster: newUnicaster(rm.self, identity.Id, link, remote, rm.config, rm.clock,
			rm.core, rm.pool, rm.latches, rm.metrics),
	}
	rc.onDrained = func() { rm.drained(rc) }
	rc.touch(now)
	go rc.run()

	rm.registerLocked(rc)

	logger.WithField("remote", remote).Info("Discovered new peer")
}

// relocateLocked moves a context, including its outstanding requests, to the peer's new address.
func (rm *routeManager) relocateLocked(rc *routingContext, link *Link, remote net.Addr, logger *log.Entry) {
	prev := rc.target.Load()
	if prev.link == link && prev.remote.String() == remote.String() {
		return
	}

	logger.WithFields(log.Fields{
		"previous": prev.remote,
		"remote":   remote,
	}).Info("Peer changed its address")
	rc.relocate(link, remote)
}

func (rm *routeManager) registerLocked(rc *routingContext) {
	rm.routes[rc.peer] = rc
	rm.table.Register(rc.peer, rc)
	rm.metrics.peers.Inc()
}

// retireLocked unregisters a route. New sends fail with err while outstanding ones continue.
func (rm *routeManager) retireLocked(rc *routingContext, err error) {
	delete(rm.routes, rc.peer)
	rm.table.Unregister(rc.peer, rc)
	rm.metrics.peers.Dec()

	rc.retire(err)
	rm.draining[rc.peer] = rc
}

// drained is called by a retired context after its outstanding requests are done.
func (rm *routeManager) drained(rc *routingContext) {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	if rm.draining[rc.peer] == rc {
		delete(rm.draining, rc.peer)
	}
}

// Expire routes idle for longer than the PeerExpiry.
func (rm *routeManager) Expire() {
	if rm.config.PeerExpiry <= 0 {
		return
	}

	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	now := rm.clock.Now()
	for _, rc := range rm.routes {
		if idle := rc.idle(now); idle > rm.config.PeerExpiry {
			log.WithFields(log.Fields{
				"peer": rc.peer,
				"idle":        idle,
				"outstanding": rc.outstanding(),
			}).Info("Peer expired")

			rm.retireLocked(rc, fmt.Errorf("%w: peer %v expired", courier.ErrNoRoute, rc.peer))
		}
	}
}

// Run the expiry loop until the context is done.
func (rm *routeManager) Run(ctx context.Context) {
	if rm.config.PeerExpiry <= 0 {
		return
	}

	ticker := rm.clock.Ticker(rm.config.PeerExpiry / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			rm.Expire()
		}
	}
}

// Close all routes, including draining ones. Outstanding sends fail with err.
func (rm *routeManager) Close(err error) {
	rm.mutex.Lock()
	rm.closed = true

	contexts := make([]*routingContext, 0, len(rm.routes)+len(rm.draining))
	for _, rc := range rm.routes {
		rm.table.Unregister(rc.peer, rc)
		rm.metrics.peers.Dec()
		contexts = append(contexts, rc)
	}
	for _, rc := range rm.draining {
		contexts = append(contexts, rc)
	}
	rm.routes = make(map[uuid.UUID]*routingContext)
	rm.draining = make(map[uuid.UUID]*routingContext)
	rm.mutex.Unlock()

	// Closing waits for the run goroutines, which take the mutex once drained.
	for _, rc := range contexts {
		rc.Close(err)
	}
}
