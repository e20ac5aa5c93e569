// SPDX-FileCopyrightText: 2026 Courier Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package udp

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/the-dargon-project/courier-go/pkg/courier"
	"github.com/the-dargon-project/courier-go/pkg/udp/internal/acks"
	"github.com/the-dargon-project/courier-go/pkg/udp/internal/buffer"
	"github.com/the-dargon-project/courier-go/pkg/udp/internal/ratelimit"
	"github.com/the-dargon-project/courier-go/pkg/udp/internal/wire"
)

// sendRequest is one PacketDto queued for transmission.
type sendRequest struct {
	id       uuid.UUID
	frame    []byte
	reliable bool

	// latch is resolved by the acknowledgement of a reliable request.
	latch <-chan struct{}
	// sent is closed after an unreliable request was transmitted.
	sent chan struct{}

	sendCount int
	nextSend  time.Time
	// lossReported is set once an overdue resend was reported to the governor, until it is sent again.
	lossReported bool

	cancelled atomic.Bool
}

func (req *sendRequest) signal() <-chan struct{} {
	if req.reliable {
		return req.latch
	}
	return req.sent
}

func (req *sendRequest) acknowledged() bool {
	select {
	case <-req.latch:
		return true
	default:
		return false
	}
}

// unicastSender transmits a datagram to a single address; implemented by coreUdp.
type unicastSender interface {
	Unicast(link *Link, dest net.Addr, view *buffer.View, done func(error)) error
}

// unicastTarget is the Link and address a peer is reached by.
type unicastTarget struct {
	link   *Link
	remote net.Addr
}

// unicaster is the send pipeline towards one peer. Each tick, acknowledged requests are dropped and both due
// resends and new requests are transmitted within the budget of the rate limiting governor.
//
// A retired unicaster refuses new sends but keeps resending its outstanding requests. It stops by itself once
// these are done, unless it is revived before.
type unicaster struct {
	self   uuid.UUID
	peer   uuid.UUID
	target atomic.Pointer[unicastTarget]

	config   Config
	clock    clock.Clock
	core     unicastSender
	pool     *buffer.Pool
	latches  *acks.Container
	governor *ratelimit.Governor
	metrics  *metrics
	logger   *log.Entry

	mutex       sync.Mutex
	unprocessed []*sendRequest
	closed      chan struct{}
	closeErr    error
	retireErr   error
	drained     bool
	// pending counts the requests of inTransport, readable outside of the run goroutine.
	pending int

	// onDrained is called by the run goroutine after a retired unicaster finished its requests.
	onDrained func()

	// inTransport is only accessed by the run goroutine.
	inTransport []*sendRequest

	stopped chan struct{}
}

func newUnicaster(self, peer uuid.UUID, link *Link, remote net.Addr, config Config, clk clock.Clock,
	core unicastSender, pool *buffer.Pool, latches *acks.Container, m *metrics) *unicaster {
	u := &unicaster{
		self:     self,
		peer:     peer,
		config:   config,
		clock:    clk,
		core:     core,
		pool:     pool,
		latches:  latches,
		governor: ratelimit.NewGovernor(config.rateLimitConfig(), clk),
		metrics:  m,
		logger:   log.WithField("peer", peer),
		closed:   make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	u.target.Store(&unicastTarget{link: link, remote: remote})
	return u
}

func (u *unicaster) String() string {
	return fmt.Sprintf("Unicaster(%v, %v)", u.peer, u.target.Load().remote)
}

// relocate all future transmissions, including resends of outstanding requests.
func (u *unicaster) relocate(link *Link, remote net.Addr) {
	u.target.Store(&unicastTarget{link: link, remote: remote})
}

// retire refuses new sends with err. Outstanding requests are still resent.
func (u *unicaster) retire(err error) {
	u.mutex.Lock()
	defer u.mutex.Unlock()

	u.retireErr = err
}

// revive a retired unicaster. This fails after it was drained or closed.
func (u *unicaster) revive() bool {
	u.mutex.Lock()
	defer u.mutex.Unlock()

	select {
	case <-u.closed:
		return false
	default:
	}

	if u.drained {
		return false
	}
	u.retireErr = nil
	return true
}

// checkDrained marks a retired unicaster without outstanding requests as drained.
func (u *unicaster) checkDrained() bool {
	u.mutex.Lock()
	defer u.mutex.Unlock()

	if u.retireErr != nil && len(u.unprocessed) == 0 && u.pending == 0 {
		u.drained = true
	}
	return u.drained
}

// outstanding requests, both unprocessed and in transport.
func (u *unicaster) outstanding() int {
	u.mutex.Lock()
	defer u.mutex.Unlock()

	return len(u.unprocessed) + u.pending
}

// run the tick loop until Close.
func (u *unicaster) run() {
	defer close(u.stopped)

	ticker := u.clock.Ticker(u.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-u.closed:
			u.cleanup()
			return

		case <-ticker.C:
			u.tick()

			if u.checkDrained() {
				u.logger.Debug("Retired unicaster finished its outstanding requests")
				if u.onDrained != nil {
					u.onDrained()
				}
				return
			}
		}
	}
}

// Close stops the pipeline. Pending and future sends fail with err.
func (u *unicaster) Close(err error) {
	u.mutex.Lock()
	select {
	case <-u.closed:
	default:
		u.closeErr = err
		close(u.closed)
	}
	u.mutex.Unlock()

	<-u.stopped
}

func (u *unicaster) cleanup() {
	u.mutex.Lock()
	pending := append(u.unprocessed, u.inTransport...)
	u.unprocessed = nil
	u.pending = 0
	u.mutex.Unlock()

	u.inTransport = nil
	for _, req := range pending {
		if req.reliable {
			u.latches.Forget(req.id)
		}
	}
}

func (u *unicaster) enqueue(reqs []*sendRequest) error {
	u.mutex.Lock()
	defer u.mutex.Unlock()

	select {
	case <-u.closed:
		return u.closeErr
	default:
	}

	if u.retireErr != nil {
		return u.retireErr
	}
	u.unprocessed = append(u.unprocessed, reqs...)
	return nil
}

// await the completion of all requests. On a done context, the requests are cancelled.
func (u *unicaster) await(ctx context.Context, reqs []*sendRequest) error {
	for _, req := range reqs {
		select {
		case <-req.signal():

		case <-ctx.Done():
			for _, r := range reqs {
				r.cancelled.Store(true)
			}
			return ctx.Err()

		case <-u.closed:
			return u.closeErr
		}
	}
	return nil
}

func (u *unicaster) newPacket(body wire.Body, reliable bool) *wire.PacketDto {
	return &wire.PacketDto{
		Id:         uuid.New(),
		SenderId:   u.self,
		ReceiverId: u.peer,
		Message:    body,
		Reliable:   reliable,
	}
}

// requests serializes a message into one request or, for oversized reliable messages, one request per chunk.
func (u *unicaster) requests(msg courier.MessageDto, reliable bool) ([]*sendRequest, error) {
	pkt := u.newPacket(&wire.MessageBody{MessageDto: msg}, reliable)
	frame, err := wire.EncodeFrame(pkt)
	if err != nil {
		return nil, err
	}

	maxFrame := wire.MaxFrameSize(u.config.MaxTransportSize)
	if len(frame) <= maxFrame {
		return []*sendRequest{{id: pkt.Id, frame: frame, reliable: reliable}}, nil
	} else if !reliable {
		return nil, fmt.Errorf("%w: %d bytes exceed %d", courier.ErrPayloadTooLarge, len(frame), maxFrame)
	}

	chunks := wire.SplitChunks(uuid.New(), frame, wire.ChunkSize(u.config.MaxTransportSize))
	reqs := make([]*sendRequest, len(chunks))
	for i, chunk := range chunks {
		chunkPkt := u.newPacket(chunk, true)
		chunkFrame, chunkErr := wire.EncodeFrame(chunkPkt)
		if chunkErr != nil {
			return nil, chunkErr
		} else if len(chunkFrame) > maxFrame {
			return nil, fmt.Errorf("%w: chunk frame of %d bytes", wire.ErrFrameTooLarge, len(chunkFrame))
		}

		reqs[i] = &sendRequest{id: chunkPkt.Id, frame: chunkFrame, reliable: true}
	}

	u.logger.WithFields(log.Fields{
		"multipart": chunks[0].MultiPartMessageId,
		"chunks":    len(chunks),
		"size":      len(frame),
	}).Debug("Split oversized packet into chunks")
	return reqs, nil
}

// SendReliable blocks until every chunk of msg was acknowledged.
func (u *unicaster) SendReliable(ctx context.Context, msg courier.MessageDto) error {
	reqs, err := u.requests(msg, true)
	if err != nil {
		return err
	}

	for i, req := range reqs {
		if req.latch, err = u.latches.Expect(req.id); err != nil {
			u.logger.WithError(err).Error("Registering acknowledgement latch failed")

			for _, prev := range reqs[:i] {
				u.latches.Forget(prev.id)
			}
			return err
		}
	}

	if err := u.enqueue(reqs); err != nil {
		for _, req := range reqs {
			u.latches.Forget(req.id)
		}
		return err
	}

	return u.await(ctx, reqs)
}

// SendUnreliable blocks until msg was transmitted once.
func (u *unicaster) SendUnreliable(ctx context.Context, msg courier.MessageDto) error {
	reqs, err := u.requests(msg, false)
	if err != nil {
		return err
	}
	reqs[0].sent = make(chan struct{})

	if err := u.enqueue(reqs); err != nil {
		return err
	}
	return u.await(ctx, reqs)
}

// jitter subtracts a random share of up to ResendJitter from the delay.
func (u *unicaster) jitter(delay time.Duration) time.Duration {
	return delay - time.Duration(rand.Float64()*u.config.ResendJitter*float64(delay))
}

func (u *unicaster) tick() {
	now := u.clock.Now()
	budget := u.governor.Tick()

	var (
		ready   []*sendRequest
		waiting []*sendRequest
		loss    bool
	)

	for _, req := range u.inTransport {
		switch {
		case req.acknowledged():

		case req.cancelled.Load():
			u.latches.Forget(req.id)

		case now.Before(req.nextSend):
			waiting = append(waiting, req)

		default:
			ready = append(ready, req)
			if !req.lossReported {
				req.lossReported = true
				loss = true
			}
		}
	}

	u.mutex.Lock()
	fresh := u.unprocessed
	u.unprocessed = nil
	u.mutex.Unlock()

	for _, req := range fresh {
		if req.cancelled.Load() {
			if req.reliable {
				u.latches.Forget(req.id)
			}
			continue
		}
		ready = append(ready, req)
	}

	if loss {
		u.governor.HandlePacketLoss()
	}

	n := len(ready)
	if n > budget {
		n = budget
	}
	if n > 0 && !u.governor.Take(n) {
		n = 0
	}

	send, deferred := ready[:n], ready[n:]

	var backlog []*sendRequest
	for _, req := range deferred {
		if req.sendCount > 0 {
			waiting = append(waiting, req)
		} else {
			backlog = append(backlog, req)
		}
	}
	if len(backlog) > 0 {
		u.mutex.Lock()
		u.unprocessed = append(backlog, u.unprocessed...)
		u.mutex.Unlock()
	}

	if len(send) > 0 {
		u.transmit(send)
	}

	for _, req := range send {
		if !req.reliable {
			continue
		}

		if req.sendCount > 0 {
			u.metrics.resends.Inc()
		}
		req.nextSend = now.Add(u.jitter(u.config.resendDelay(req.sendCount)))
		req.sendCount++
		req.lossReported = false
		waiting = append(waiting, req)
	}

	u.inTransport = waiting

	u.mutex.Lock()
	u.pending = len(waiting)
	u.mutex.Unlock()
}

// transmit packs the requests' frames into as few datagrams as possible.
func (u *unicaster) transmit(reqs []*sendRequest) {
	var (
		view     *buffer.View
		dw       *wire.DatagramWriter
		sentReqs []*sendRequest
	)

	flush := func() {
		if view == nil {
			return
		}

		view.SetLen(dw.Finish())
		unreliable := sentReqs
		target := u.target.Load()
		err := u.core.Unicast(target.link, target.remote, view, func(err error) {
			for _, req := range unreliable {
				close(req.sent)
			}
		})
		if err != nil {
			u.logger.WithError(err).Debug("Enqueuing datagram failed")
		}

		view, dw, sentReqs = nil, nil, nil
	}

	for _, req := range reqs {
		if dw != nil && !dw.Fits(len(req.frame)) {
			flush()
		}
		if dw == nil {
			view = u.pool.Lease()
			dw = wire.NewDatagramWriter(view.Raw()[:u.config.MaxTransportSize])
		}

		dw.Append(req.frame)
		if !req.reliable {
			sentReqs = append(sentReqs, req)
		}
	}
	flush()
}
