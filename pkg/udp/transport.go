// SPDX-FileCopyrightText: 2026 Courier Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package udp

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/the-dargon-project/courier-go/pkg/courier"
	"github.com/the-dargon-project/courier-go/pkg/udp/internal/acks"
	"github.com/the-dargon-project/courier-go/pkg/udp/internal/buffer"
	"github.com/the-dargon-project/courier-go/pkg/udp/internal/dedup"
	"github.com/the-dargon-project/courier-go/pkg/udp/internal/reassembly"
	"github.com/the-dargon-project/courier-go/pkg/udp/internal/wire"
	"github.com/the-dargon-project/courier-go/pkg/udp/internal/worker"
)

// Collaborators of a Transport. Only the Dispatcher is mandatory; all other fields have defaults.
type Collaborators struct {
	// Dispatcher receives each inbound message.
	Dispatcher courier.InboundMessageDispatcher

	// RoutingTable defaults to a new courier.MemoryRoutingTable.
	RoutingTable courier.RoutingTable
	// PeerTable defaults to a new courier.MemoryPeerTable.
	PeerTable courier.PeerTable
	// Gatekeeper defaults to courier.AllowAllGatekeeper.
	Gatekeeper courier.Gatekeeper

	// Registerer for the metrics; nil uses a private registry.
	Registerer prometheus.Registerer
	// Network defaults to SystemNetwork.
	Network Network
	// Clock defaults to the wall clock.
	Clock clock.Clock
}

// Transport is a courier.Transport over UDP.
type Transport struct {
	config   Config
	identity *courier.Identity
	collab   Collaborators

	metrics     *metrics
	pool        *buffer.Pool
	workers     *worker.Pool
	core        *coreUdp
	latches     *acks.Container
	filter      *dedup.Filter
	reassembler *reassembly.Reassembler
	routes      *routeManager
	dispatcher  *dispatcher
	announcer   *announcer

	ctx    context.Context
	cancel context.CancelFunc
	loops  sync.WaitGroup

	started atomic.Bool
	closed  atomic.Bool
}

var _ courier.Transport = (*Transport)(nil)

// New creates a Transport for the local Identity. Call Start afterwards.
func New(config Config, identity *courier.Identity, collab Collaborators) (*Transport, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if identity == nil {
		return nil, fmt.Errorf("missing identity")
	}
	if collab.Dispatcher == nil {
		return nil, fmt.Errorf("missing inbound message dispatcher")
	}

	if collab.RoutingTable == nil {
		collab.RoutingTable = courier.NewRoutingTable()
	}
	if collab.PeerTable == nil {
		collab.PeerTable = courier.NewPeerTable()
	}
	if collab.Gatekeeper == nil {
		collab.Gatekeeper = courier.AllowAllGatekeeper{}
	}
	if collab.Network == nil {
		collab.Network = SystemNetwork()
	}
	if collab.Clock == nil {
		collab.Clock = clock.New()
	}

	m, err := newMetrics(collab.Registerer)
	if err != nil {
		return nil, fmt.Errorf("registering metrics: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	t := &Transport{
		config:   config,
		identity: identity,
		collab:   collab,
		metrics:  m,
		pool:     buffer.NewPool(config.MaxTransportSize),
		latches:  acks.NewContainer(),
		filter:   dedup.NewFilter(config.dedupConfig(), collab.Clock),
		ctx:      ctx,
		cancel:   cancel,
	}

	t.workers = worker.NewPool(ctx, "udp-receive", config.Workers, config.QueueDepth)
	t.core = newCoreUdp(t.pool, t.workers, m, config.QueueDepth)

	t.routes = &routeManager{
		self:       identity.Id,
		config:     config,
		clock:      collab.Clock,
		table:      collab.RoutingTable,
		peers:      collab.PeerTable,
		gatekeeper: collab.Gatekeeper,
		core:       t.core,
		pool:       t.pool,
		latches:    t.latches,
		metrics:    m,
		routes:     make(map[uuid.UUID]*routingContext),
		draining:   make(map[uuid.UUID]*routingContext),
	}

	t.dispatcher = &dispatcher{
		ctx:     ctx,
		self:    identity.Id,
		config:  config,
		core:    t.core,
		pool:    t.pool,
		latches: t.latches,
		filter:  t.filter,
		routes:  t.routes,
		app:     collab.Dispatcher,
		metrics: m,
	}
	t.reassembler = reassembly.NewReassembler(config.reassemblyConfig(), t.dispatcher.HandleReassembled)
	t.dispatcher.reassembler = t.reassembler

	t.core.AddListener(t.dispatcher.HandleDatagram)
	t.announcer = newAnnouncer(identity, t.core, t.pool, collab.Clock, config.AnnounceInterval)

	return t, nil
}

// Identity of this node.
func (t *Transport) Identity() *courier.Identity {
	return t.identity
}

// RoutingTable containing the discovered peers.
func (t *Transport) RoutingTable() courier.RoutingTable {
	return t.collab.RoutingTable
}

// PeerTable containing the discovered peers' identities.
func (t *Transport) PeerTable() courier.PeerTable {
	return t.collab.PeerTable
}

// Links opened by Start.
func (t *Transport) Links() []*Link {
	return t.core.Links()
}

// Start opens the sockets and starts announcing.
func (t *Transport) Start() error {
	if t.closed.Load() {
		return courier.ErrClosed
	}
	if !t.started.CompareAndSwap(false, true) {
		return fmt.Errorf("transport was already started")
	}

	links, err := t.collab.Network.Open(t.config)
	if err != nil {
		return err
	}

	t.core.Start(links)
	t.identity.SetProperty(UnicastPortProperty, strconv.Itoa(t.core.UnicastPort()))

	for _, loop := range []func(context.Context){t.filter.Run, t.routes.Run, t.announcer.Run} {
		loop := loop
		t.loops.Add(1)
		go func() {
			defer t.loops.Done()
			loop(t.ctx)
		}()
	}

	log.WithFields(log.Fields{
		"identity": t.identity,
		"links":    len(links),
		"port":     t.core.UnicastPort(),
	}).Info("Started UDP transport")
	return nil
}

// Shutdown stops all background work. Outstanding sends fail with courier.ErrClosed.
func (t *Transport) Shutdown(ctx context.Context) error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}

	log.WithField("identity", t.identity.Id).Info("Shutting down UDP transport")

	t.cancel()
	t.routes.Close(courier.ErrClosed)

	var errs *multierror.Error
	if err := t.core.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}

	loopsDone := make(chan struct{})
	go func() {
		t.loops.Wait()
		close(loopsDone)
	}()

	select {
	case <-loopsDone:
	case <-ctx.Done():
		errs = multierror.Append(errs, fmt.Errorf("waiting for background loops: %w", ctx.Err()))
	}

	if err := t.workers.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}

func (t *Transport) route(peerId uuid.UUID) (courier.RoutingContext, error) {
	if t.closed.Load() {
		return nil, courier.ErrClosed
	}

	rc, ok := t.collab.RoutingTable.TryGet(peerId)
	if !ok {
		return nil, fmt.Errorf("%w: %v", courier.ErrNoRoute, peerId)
	}
	return rc, nil
}

func (t *Transport) message(receiverId uuid.UUID, body []byte) courier.MessageDto {
	return courier.MessageDto{
		SenderId:   t.identity.Id,
		ReceiverId: receiverId,
		Body:       body,
	}
}

// SendMessageReliable to a peer, blocking until its acknowledgement arrived.
func (t *Transport) SendMessageReliable(ctx context.Context, peerId uuid.UUID, body []byte) error {
	rc, err := t.route(peerId)
	if err != nil {
		return err
	}
	return rc.SendReliable(ctx, t.message(peerId, body))
}

// SendMessageUnreliable to a peer, blocking until it was transmitted once.
func (t *Transport) SendMessageUnreliable(ctx context.Context, peerId uuid.UUID, body []byte) error {
	rc, err := t.route(peerId)
	if err != nil {
		return err
	}
	return rc.SendUnreliable(ctx, t.message(peerId, body))
}

// SendMessageBroadcast on every Link, unreliable and without rate limiting.
func (t *Transport) SendMessageBroadcast(ctx context.Context, body []byte) error {
	if t.closed.Load() {
		return courier.ErrClosed
	}

	pkt := &wire.PacketDto{
		Id:         uuid.New(),
		SenderId:   t.identity.Id,
		ReceiverId: uuid.Nil,
		Message:    &wire.MessageBody{MessageDto: t.message(uuid.Nil, body)},
	}

	frame, err := wire.EncodeFrame(pkt)
	if err != nil {
		return err
	}

	view := t.pool.Lease()
	dw := wire.NewDatagramWriter(view.Raw())
	if !dw.Append(frame) {
		view.Release()
		return fmt.Errorf("%w: %d bytes exceed %d", courier.ErrPayloadTooLarge,
			len(frame), wire.MaxFrameSize(t.config.MaxTransportSize))
	}
	view.SetLen(dw.Finish())

	done := make(chan error, 1)
	if err := t.core.Broadcast(view, func(err error) { done <- err }); err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
