// SPDX-FileCopyrightText: 2026 Courier Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package udp

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
)

// ErrNoInterface is returned if no network interface is usable for multicast.
var ErrNoInterface = errors.New("no usable network interface")

// Link bundles the sockets bound to one network interface.
type Link struct {
	// Name of the network interface.
	Name string

	// Multicast receives the group's traffic and sends announcements and broadcasts.
	Multicast net.PacketConn

	// Unicast receives and sends peer specific traffic.
	Unicast net.PacketConn

	// Group is the destination of announcements and broadcasts.
	Group net.Addr
}

// UnicastPort on which this Link accepts unicast traffic.
func (link *Link) UnicastPort() int {
	if addr, ok := link.Unicast.LocalAddr().(*net.UDPAddr); ok {
		return addr.Port
	}
	return 0
}

// Close both sockets.
func (link *Link) Close() error {
	var errs *multierror.Error
	for _, conn := range []net.PacketConn{link.Multicast, link.Unicast} {
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

func (link *Link) String() string {
	return fmt.Sprintf("%s (unicast %v)", link.Name, link.Unicast.LocalAddr())
}

// Network opens the Links used by a Transport. All Links must share the same unicast port.
type Network interface {
	Open(config Config) ([]*Link, error)
}

// SystemNetwork opens real UDP sockets on each usable network interface.
func SystemNetwork() Network {
	return systemNetwork{}
}

type systemNetwork struct{}

// usableInterface checks if an interface is operationally up, supports multicast and is able to send, i.e., has an
// IPv4 address.
func usableInterface(ifi net.Interface) (net.IP, bool) {
	const flags = net.FlagUp | net.FlagRunning | net.FlagMulticast
	if ifi.Flags&flags != flags {
		return nil, false
	}

	addrs, err := ifi.Addrs()
	if err != nil {
		return nil, false
	}
	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok {
			if ip4 := ipNet.IP.To4(); ip4 != nil {
				return ip4, true
			}
		}
	}
	return nil, false
}

func allowedInterface(name string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == name {
			return true
		}
	}
	return false
}

func (systemNetwork) Open(config Config) ([]*Link, error) {
	group, err := net.ResolveUDPAddr("udp4", config.MulticastGroup)
	if err != nil {
		return nil, err
	}

	ifis, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var (
		links []*Link
		errs  *multierror.Error
		port  = config.UnicastPort
	)

	for _, ifi := range ifis {
		ip, ok := usableInterface(ifi)
		if !ok || !allowedInterface(ifi.Name, config.Interfaces) {
			continue
		}

		link, linkErr := openLink(ifi, ip, group, port, config)
		if linkErr != nil {
			log.WithFields(log.Fields{
				"nic": ifi.Name,
			}).WithError(linkErr).Warn("Failed to open sockets on network interface")

			errs = multierror.Append(errs, fmt.Errorf("%s: %w", ifi.Name, linkErr))
			continue
		}

		// All further unicast sockets reuse the first one's port.
		port = link.UnicastPort()
		links = append(links, link)

		log.WithFields(log.Fields{
			"nic":     ifi.Name,
			"address": ip,
			"port":    port,
		}).Info("Opened sockets on network interface")
	}

	if len(links) == 0 {
		if errs != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoInterface, errs)
		}
		return nil, ErrNoInterface
	}
	return links, nil
}

func openLink(ifi net.Interface, ip net.IP, group *net.UDPAddr, port int, config Config) (link *Link, err error) {
	lc := net.ListenConfig{Control: multicastControl}
	mcast, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf("0.0.0.0:%d", group.Port))
	if err != nil {
		return
	}

	pc := ipv4.NewPacketConn(mcast)
	setup := []func() error{
		func() error { return pc.JoinGroup(&ifi, &net.UDPAddr{IP: group.IP}) },
		func() error { return pc.SetMulticastInterface(&ifi) },
		func() error { return pc.SetMulticastTTL(config.MulticastTTL) },
		func() error { return pc.SetMulticastLoopback(config.MulticastLoopback) },
	}
	for _, f := range setup {
		if err = f(); err != nil {
			_ = mcast.Close()
			return
		}
	}

	ucast, err := net.ListenUDP("udp4", &net.UDPAddr{IP: ip, Port: port})
	if err != nil {
		_ = mcast.Close()
		return
	}

	link = &Link{
		Name:      ifi.Name,
		Multicast: mcast,
		Unicast:   ucast,
		Group:     group,
	}
	return
}
