// SPDX-FileCopyrightText: 2026 Courier Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package udp

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// memNetwork is an in-memory Network. Each Open creates a new host with one Link. Every datagram is dropped with
// the configured loss probability.
type memNetwork struct {
	mutex  sync.Mutex
	rand   *rand.Rand
	loss   float64
	hosts  int
	conns  map[string]*memConn
	groups map[string][]*memConn

	delivered atomic.Int64
	dropped   atomic.Int64
}

func newMemNetwork(loss float64) *memNetwork {
	return &memNetwork{
		rand:   rand.New(rand.NewSource(23)),
		loss:   loss,
		conns:  make(map[string]*memConn),
		groups: make(map[string][]*memConn),
	}
}

func (n *memNetwork) SetLoss(loss float64) {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	n.loss = loss
}

func (n *memNetwork) Open(config Config) ([]*Link, error) {
	group, err := net.ResolveUDPAddr("udp4", config.MulticastGroup)
	if err != nil {
		return nil, err
	}

	n.mutex.Lock()
	defer n.mutex.Unlock()

	n.hosts++
	ip := net.IPv4(10, 0, byte(n.hosts>>8), byte(n.hosts))

	port := config.UnicastPort
	if port == 0 {
		port = 40000 + n.hosts
	}

	mcast := n.newConn(&net.UDPAddr{IP: ip, Port: group.Port})
	ucast := n.newConn(&net.UDPAddr{IP: ip, Port: port})
	n.groups[group.String()] = append(n.groups[group.String()], mcast)

	return []*Link{{
		Name:      fmt.Sprintf("mem%d", n.hosts),
		Multicast: mcast,
		Unicast:   ucast,
		Group:     group,
	}}, nil
}

func (n *memNetwork) newConn(addr *net.UDPAddr) *memConn {
	c := &memConn{
		network: n,
		addr:    addr,
		inbox:   make(chan memDatagram, 1024),
		closed:  make(chan struct{}),
	}
	n.conns[addr.String()] = c
	return c
}

func (n *memNetwork) deliver(source *net.UDPAddr, data []byte, dest net.Addr) {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	if n.loss > 0 && n.rand.Float64() < n.loss {
		n.dropped.Add(1)
		return
	}

	var targets []*memConn
	if members, ok := n.groups[dest.String()]; ok {
		targets = members
	} else if c, ok := n.conns[dest.String()]; ok {
		targets = []*memConn{c}
	}

	for _, target := range targets {
		dgram := memDatagram{source: source, data: append([]byte(nil), data...)}
		select {
		case target.inbox <- dgram:
			n.delivered.Add(1)
		default:
			n.dropped.Add(1)
		}
	}
}

type memDatagram struct {
	source *net.UDPAddr
	data   []byte
}

// memConn is an in-memory net.PacketConn.
type memConn struct {
	network   *memNetwork
	addr      *net.UDPAddr
	inbox     chan memDatagram
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *memConn) ReadFrom(b []byte) (int, net.Addr, error) {
	select {
	case dgram := <-c.inbox:
		return copy(b, dgram.data), dgram.source, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *memConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
	}

	c.network.deliver(c.addr, b, addr)
	return len(b), nil
}

func (c *memConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *memConn) LocalAddr() net.Addr {
	return c.addr
}

func (c *memConn) SetDeadline(time.Time) error {
	return nil
}

func (c *memConn) SetReadDeadline(time.Time) error {
	return nil
}

func (c *memConn) SetWriteDeadline(time.Time) error {
	return nil
}
