// SPDX-FileCopyrightText: 2026 Courier Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package udp

import (
	"fmt"
	"net"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/the-dargon-project/courier-go/pkg/udp/internal/dedup"
	"github.com/the-dargon-project/courier-go/pkg/udp/internal/ratelimit"
	"github.com/the-dargon-project/courier-go/pkg/udp/internal/reassembly"
	"github.com/the-dargon-project/courier-go/pkg/udp/internal/wire"
)

const (
	// DefaultMulticastGroup to which announcements and broadcasts are sent.
	DefaultMulticastGroup = "235.13.33.37:21337"

	// UnicastPortProperty is the Identity property advertising a peer's unicast receive port.
	UnicastPortProperty = "udp_unicast_receive_port"
)

// Config of a Transport. Start with DefaultConfig and alter the required fields.
type Config struct {
	// MulticastGroup is the IPv4 multicast group address, including the port.
	MulticastGroup string
	// UnicastPort to receive unicast traffic on; zero picks an ephemeral port.
	UnicastPort int
	// Interfaces restricts the used network interfaces by name; empty allows all usable interfaces.
	Interfaces []string
	// MulticastLoopback delivers multicast datagrams to other processes on the same host.
	MulticastLoopback bool
	// MulticastTTL of outgoing multicast datagrams.
	MulticastTTL int

	// MaxTransportSize is the upper bound of each datagram.
	MaxTransportSize int

	AnnounceInterval time.Duration
	// PeerExpiry unregisters peers which were not announced for this duration; zero disables expiry.
	PeerExpiry time.Duration

	// TickInterval of each peer's send pipeline.
	TickInterval time.Duration
	// ResendMinimum is the initial resend delay, doubled every eight sends up to ResendMaximum.
	ResendMinimum time.Duration
	ResendMaximum time.Duration
	// ResendJitter is the fraction of the resend delay subtracted at random.
	ResendJitter float64

	RateInitial  float64
	RateBase     float64
	RateVelocity float64
	RateDecay    float64
	RateBurst    int

	DedupBuckets           int
	DedupRotation          time.Duration
	DedupCapacity          uint
	DedupFalsePositiveRate float64

	ReassemblyExpiry    time.Duration
	ReassemblyMaxChunks uint32
	// ReassemblyMaxTransfers limits concurrently reassembled messages; chunks of further messages are neither
	// acknowledged nor stored until a transfer completes or expires. Zero means unbounded.
	ReassemblyMaxTransfers int

	// Workers process received datagrams, fed by a queue of QueueDepth entries.
	Workers    int
	QueueDepth int
}

// DefaultConfig of a Transport.
func DefaultConfig() Config {
	rateConf := ratelimit.DefaultConfig()
	dedupConf := dedup.DefaultConfig()
	reassemblyConf := reassembly.DefaultConfig()

	return Config{
		MulticastGroup:    DefaultMulticastGroup,
		UnicastPort:       0,
		MulticastLoopback: true,
		MulticastTTL:      1,

		MaxTransportSize: wire.MaxTransportSize,

		AnnounceInterval: 5 * time.Second,
		PeerExpiry:       30 * time.Second,

		TickInterval:  10 * time.Millisecond,
		ResendMinimum: 2048 * time.Millisecond,
		ResendMaximum: 8000 * time.Millisecond,
		ResendJitter:  0.25,

		RateInitial:  rateConf.InitialRate,
		RateBase:     rateConf.BaseRate,
		RateVelocity: rateConf.Velocity,
		RateDecay:    rateConf.Decay,
		RateBurst:    rateConf.Burst,

		DedupBuckets:           dedupConf.Buckets,
		DedupRotation:          dedupConf.RotationInterval,
		DedupCapacity:          dedupConf.Capacity,
		DedupFalsePositiveRate: dedupConf.FalsePositiveRate,

		ReassemblyExpiry:       reassemblyConf.Expiry,
		ReassemblyMaxChunks:    reassemblyConf.MaxChunks,
		ReassemblyMaxTransfers: reassemblyConf.MaxTransfers,

		Workers:    4,
		QueueDepth: 1024,
	}
}

// Validate the Config. All found problems are reported at once.
func (c Config) Validate() error {
	var errs *multierror.Error

	if addr, err := net.ResolveUDPAddr("udp4", c.MulticastGroup); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("multicast group: %w", err))
	} else if !addr.IP.IsMulticast() {
		errs = multierror.Append(errs, fmt.Errorf("multicast group %v is no multicast address", addr.IP))
	}

	if c.UnicastPort < 0 || c.UnicastPort > 0xFFFF {
		errs = multierror.Append(errs, fmt.Errorf("unicast port %d out of range", c.UnicastPort))
	}
	if c.MulticastTTL < 0 || c.MulticastTTL > 255 {
		errs = multierror.Append(errs, fmt.Errorf("multicast TTL %d out of range", c.MulticastTTL))
	}

	if min := wire.ChunkReserve + wire.HeaderSize + wire.FooterSize + 1; c.MaxTransportSize < min {
		errs = multierror.Append(errs, fmt.Errorf("max transport size %d is below %d", c.MaxTransportSize, min))
	} else if c.MaxTransportSize > 0xFFFF {
		errs = multierror.Append(errs, fmt.Errorf("max transport size %d exceeds %d", c.MaxTransportSize, 0xFFFF))
	}

	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"announce interval", c.AnnounceInterval},
		{"tick interval", c.TickInterval},
		{"resend minimum", c.ResendMinimum},
		{"resend maximum", c.ResendMaximum},
		{"dedup rotation", c.DedupRotation},
		{"reassembly expiry", c.ReassemblyExpiry},
	} {
		if d.value <= 0 {
			errs = multierror.Append(errs, fmt.Errorf("%s %v must be positive", d.name, d.value))
		}
	}

	if c.PeerExpiry < 0 {
		errs = multierror.Append(errs, fmt.Errorf("peer expiry %v is negative", c.PeerExpiry))
	}
	if c.ResendMaximum < c.ResendMinimum {
		errs = multierror.Append(errs, fmt.Errorf("resend maximum %v is below minimum %v", c.ResendMaximum, c.ResendMinimum))
	}
	if c.ResendJitter < 0 || c.ResendJitter >= 1 {
		errs = multierror.Append(errs, fmt.Errorf("resend jitter %f must be within [0, 1)", c.ResendJitter))
	}

	if err := c.rateLimitConfig().Validate(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("rate limit: %w", err))
	}

	if c.DedupBuckets < 2 {
		errs = multierror.Append(errs, fmt.Errorf("dedup needs at least two buckets, not %d", c.DedupBuckets))
	}
	if c.DedupCapacity == 0 {
		errs = multierror.Append(errs, fmt.Errorf("dedup capacity must be positive"))
	}
	if c.DedupFalsePositiveRate <= 0 || c.DedupFalsePositiveRate >= 1 {
		errs = multierror.Append(errs, fmt.Errorf("dedup false positive rate %f must be within (0, 1)", c.DedupFalsePositiveRate))
	}

	if c.ReassemblyMaxTransfers < 0 {
		errs = multierror.Append(errs, fmt.Errorf("reassembly max transfers %d is negative", c.ReassemblyMaxTransfers))
	}

	if c.Workers <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("workers %d must be positive", c.Workers))
	}
	if c.QueueDepth < 0 {
		errs = multierror.Append(errs, fmt.Errorf("queue depth %d is negative", c.QueueDepth))
	}

	return errs.ErrorOrNil()
}

func (c Config) rateLimitConfig() ratelimit.Config {
	return ratelimit.Config{
		InitialRate: c.RateInitial,
		BaseRate:    c.RateBase,
		Velocity:    c.RateVelocity,
		Decay:       c.RateDecay,
		Burst:       c.RateBurst,
	}
}

func (c Config) dedupConfig() dedup.Config {
	return dedup.Config{
		Buckets:           c.DedupBuckets,
		RotationInterval:  c.DedupRotation,
		Capacity:          c.DedupCapacity,
		FalsePositiveRate: c.DedupFalsePositiveRate,
	}
}

func (c Config) reassemblyConfig() reassembly.Config {
	return reassembly.Config{
		Expiry:       c.ReassemblyExpiry,
		MaxChunks:    c.ReassemblyMaxChunks,
		MaxTransfers: c.ReassemblyMaxTransfers,
	}
}

// resendDelay for a packet which was already sent sendCount times, before jitter.
func (c Config) resendDelay(sendCount int) time.Duration {
	shift := sendCount / 8
	if shift > 16 {
		shift = 16
	}

	delay := c.ResendMinimum << shift
	if delay > c.ResendMaximum || delay <= 0 {
		delay = c.ResendMaximum
	}
	return delay
}
