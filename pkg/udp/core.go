// SPDX-FileCopyrightText: 2026 Courier Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package udp

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/the-dargon-project/courier-go/pkg/courier"
	"github.com/the-dargon-project/courier-go/pkg/udp/internal/buffer"
	"github.com/the-dargon-project/courier-go/pkg/udp/internal/worker"
)

// datagramListener receives each inbound datagram. The View must be released by the listener.
type datagramListener func(link *Link, source net.Addr, view *buffer.View)

// outbound is a queued datagram. A nil link broadcasts on every Link.
type outbound struct {
	link *Link
	dest net.Addr
	view *buffer.View
	done func(error)
}

// coreUdp owns the Links, runs a receive loop for each socket and a single send loop.
type coreUdp struct {
	pool    *buffer.Pool
	workers *worker.Pool
	metrics *metrics

	linksMutex sync.RWMutex
	links      []*Link

	listenersMutex sync.RWMutex
	listeners      []datagramListener

	sendQueue chan outbound

	ctx     context.Context
	cancel  context.CancelFunc
	group   errgroup.Group
	closing atomic.Bool
}

func newCoreUdp(pool *buffer.Pool, workers *worker.Pool, m *metrics, queueDepth int) *coreUdp {
	ctx, cancel := context.WithCancel(context.Background())
	return &coreUdp{
		pool:      pool,
		workers:   workers,
		metrics:   m,
		sendQueue: make(chan outbound, queueDepth),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// AddListener for inbound datagrams. Listeners should be added before Start.
func (c *coreUdp) AddListener(l datagramListener) {
	c.listenersMutex.Lock()
	defer c.listenersMutex.Unlock()

	c.listeners = append(c.listeners, l)
}

// Start the receive loops of each Link and the send loop.
func (c *coreUdp) Start(links []*Link) {
	c.linksMutex.Lock()
	c.links = append(c.links, links...)
	c.linksMutex.Unlock()

	for _, link := range links {
		for _, conn := range []net.PacketConn{link.Multicast, link.Unicast} {
			link, conn := link, conn
			c.group.Go(func() error {
				c.receive(link, conn)
				return nil
			})
		}
	}

	c.group.Go(func() error {
		c.send()
		return nil
	})
}

// Links currently in use.
func (c *coreUdp) Links() []*Link {
	c.linksMutex.RLock()
	defer c.linksMutex.RUnlock()

	links := make([]*Link, len(c.links))
	copy(links, c.links)
	return links
}

// UnicastPort shared by all Links.
func (c *coreUdp) UnicastPort() int {
	c.linksMutex.RLock()
	defer c.linksMutex.RUnlock()

	if len(c.links) == 0 {
		return 0
	}
	return c.links[0].UnicastPort()
}

// receive loops on one socket. Each datagram is handed to the worker pool before the next read is issued.
func (c *coreUdp) receive(link *Link, conn net.PacketConn) {
	logger := log.WithFields(log.Fields{
		"nic":   link.Name,
		"local": conn.LocalAddr(),
	})
	logger.Debug("Starting receive loop")

	for {
		view := c.pool.Lease()
		n, source, err := conn.ReadFrom(view.Raw())
		if err != nil {
			view.Release()

			if c.closing.Load() || errors.Is(err, net.ErrClosed) {
				logger.Debug("Stopping receive loop")
				return
			}

			logger.WithError(err).Warn("Receiving datagram failed")
			continue
		}

		view.SetLen(n)
		c.metrics.datagramsReceived.Inc()

		owned := view.Transfer()
		if !c.workers.TrySubmit(func(context.Context) error {
			c.fanOut(link, source, owned)
			return nil
		}) {
			owned.Release()

			if c.closing.Load() {
				c.metrics.drop(dropShutdown)
			} else {
				c.metrics.drop(dropOverload)
				logger.WithField("source", source).Debug("Dropped datagram, worker queue is full")
			}
		}
	}
}

// fanOut hands a shared View to each listener and releases the own one afterwards.
func (c *coreUdp) fanOut(link *Link, source net.Addr, view *buffer.View) {
	defer view.Release()

	c.listenersMutex.RLock()
	listeners := c.listeners
	c.listenersMutex.RUnlock()

	for _, l := range listeners {
		l(link, source, view.Share())
	}
}

func (c *coreUdp) enqueue(out outbound) error {
	if c.closing.Load() {
		out.view.Release()
		return courier.ErrClosed
	}

	select {
	case c.sendQueue <- out:
		return nil
	case <-c.ctx.Done():
		out.view.Release()
		return courier.ErrClosed
	}
}

// Broadcast a datagram on each Link's multicast socket. The View's ownership is passed; done is called after the
// datagram was sent, if it was enqueued.
func (c *coreUdp) Broadcast(view *buffer.View, done func(error)) error {
	return c.enqueue(outbound{view: view, done: done})
}

// Unicast a datagram to dest via a Link's unicast socket. The View's ownership is passed; done is called after the
// datagram was sent, if it was enqueued.
func (c *coreUdp) Unicast(link *Link, dest net.Addr, view *buffer.View, done func(error)) error {
	return c.enqueue(outbound{link: link, dest: dest, view: view, done: done})
}

func (c *coreUdp) send() {
	for {
		select {
		case <-c.ctx.Done():
			return

		case out := <-c.sendQueue:
			c.transmit(out)
		}
	}
}

func (c *coreUdp) transmit(out outbound) {
	defer out.view.Release()

	var errs *multierror.Error
	if out.link == nil {
		for _, link := range c.Links() {
			if _, err := link.Multicast.WriteTo(out.view.Bytes(), link.Group); err != nil {
				errs = multierror.Append(errs, err)
			} else {
				c.metrics.datagramsSent.Inc()
			}
		}
	} else {
		if _, err := out.link.Unicast.WriteTo(out.view.Bytes(), out.dest); err != nil {
			errs = multierror.Append(errs, err)
		} else {
			c.metrics.datagramsSent.Inc()
		}
	}

	err := errs.ErrorOrNil()
	if err != nil && !c.closing.Load() {
		log.WithFields(log.Fields{
			"link": out.link,
			"dest": out.dest,
		}).WithError(err).Debug("Sending datagram failed")
	}

	if out.done != nil {
		out.done(err)
	}
}

// Close all Links and wait for the loops. Queued datagrams are discarded.
func (c *coreUdp) Close() error {
	if !c.closing.CompareAndSwap(false, true) {
		return nil
	}
	c.cancel()

	var errs *multierror.Error
	for _, link := range c.Links() {
		if err := link.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	_ = c.group.Wait()

	for {
		select {
		case out := <-c.sendQueue:
			out.view.Release()
			if out.done != nil {
				out.done(courier.ErrClosed)
			}

		default:
			return errs.ErrorOrNil()
		}
	}
}
