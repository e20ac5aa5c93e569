// SPDX-FileCopyrightText: 2026 Courier Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package udp

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Reasons for dropped datagrams.
const (
	dropChecksum  = "checksum"
	dropMalformed = "malformed"
	dropOverload  = "overload"
	dropShutdown  = "shutdown"
)

// metrics of a Transport. All updates are non-blocking.
type metrics struct {
	datagramsReceived   prometheus.Counter
	datagramsSent       prometheus.Counter
	datagramsDropped    *prometheus.CounterVec
	packetsNotAddressed prometheus.Counter
	packetsDuplicate    prometheus.Counter
	acksReceived        prometheus.Counter
	acksSent            prometheus.Counter
	resends             prometheus.Counter
	reassembled         prometheus.Counter
	chunksRefused       prometheus.Counter
	peers               prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	opts := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{
			Namespace: "courier",
			Subsystem: "udp",
			Name:      name,
			Help:      help,
		}
	}

	m := &metrics{
		datagramsReceived:   prometheus.NewCounter(opts("datagrams_received_total", "Received datagrams.")),
		datagramsSent:       prometheus.NewCounter(opts("datagrams_sent_total", "Sent datagrams.")),
		datagramsDropped:    prometheus.NewCounterVec(opts("datagrams_dropped_total", "Dropped inbound datagrams."), []string{"reason"}),
		packetsNotAddressed: prometheus.NewCounter(opts("packets_not_addressed_total", "Received packets addressed to another peer.")),
		packetsDuplicate:    prometheus.NewCounter(opts("packets_duplicate_total", "Received reliable packets detected as duplicates.")),
		acksReceived:        prometheus.NewCounter(opts("acks_received_total", "Received acknowledgements.")),
		acksSent:            prometheus.NewCounter(opts("acks_sent_total", "Sent acknowledgements.")),
		resends:             prometheus.NewCounter(opts("resends_total", "Resent reliable packets.")),
		reassembled:         prometheus.NewCounter(opts("reassembled_total", "Reassembled multi-part packets.")),
		chunksRefused:       prometheus.NewCounter(opts("chunks_refused_total", "Chunks of new multi-part packets refused at capacity.")),
		peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "courier",
			Subsystem: "udp",
			Name:      "peers",
			Help:      "Peers with a registered routing context.",
		}),
	}

	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	for _, c := range []prometheus.Collector{
		m.datagramsReceived, m.datagramsSent, m.datagramsDropped, m.packetsNotAddressed, m.packetsDuplicate,
		m.acksReceived, m.acksSent, m.resends, m.reassembled, m.chunksRefused, m.peers,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *metrics) drop(reason string) {
	m.datagramsDropped.WithLabelValues(reason).Inc()
}
