// SPDX-FileCopyrightText: 2026 Courier Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package udp

import (
	"context"
	"errors"
	"net"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/the-dargon-project/courier-go/pkg/courier"
	"github.com/the-dargon-project/courier-go/pkg/udp/internal/acks"
	"github.com/the-dargon-project/courier-go/pkg/udp/internal/buffer"
	"github.com/the-dargon-project/courier-go/pkg/udp/internal/dedup"
	"github.com/the-dargon-project/courier-go/pkg/udp/internal/reassembly"
	"github.com/the-dargon-project/courier-go/pkg/udp/internal/wire"
)

// dispatcher processes inbound datagrams: acknowledgements resolve latches, announcements update routes and
// packets addressed to this node are acknowledged, deduplicated, reassembled and handed to the application.
type dispatcher struct {
	ctx    context.Context
	self   uuid.UUID
	config Config

	core        *coreUdp
	pool        *buffer.Pool
	latches     *acks.Container
	filter      *dedup.Filter
	reassembler *reassembly.Reassembler
	routes      *routeManager
	app         courier.InboundMessageDispatcher
	metrics     *metrics
}

func (d *dispatcher) shuttingDown() bool {
	return d.ctx.Err() != nil
}

// HandleDatagram is the coreUdp's datagramListener.
func (d *dispatcher) HandleDatagram(link *Link, source net.Addr, view *buffer.View) {
	frames, err := wire.DecodeDatagram(view.Bytes())
	view.Release()

	if err != nil {
		logger := log.WithFields(log.Fields{
			"source": source,
			"nic":    link.Name,
		}).WithError(err)

		switch {
		case d.shuttingDown():
			d.metrics.drop(dropShutdown)
			logger.Debug("Dropped datagram during shutdown")

		case errors.Is(err, wire.ErrChecksumMismatch):
			d.metrics.drop(dropChecksum)
			logger.Warn("Dropped datagram with invalid checksum")

		default:
			d.metrics.drop(dropMalformed)
			logger.Warn("Dropped undecodable datagram")
		}
		return
	}

	var (
		ackFrames []*wire.AcknowledgementDto
		announces []*wire.AnnouncementDto
		packets   []*wire.PacketDto
	)

	for _, f := range frames {
		switch f := f.(type) {
		case *wire.AcknowledgementDto:
			ackFrames = append(ackFrames, f)
		case *wire.AnnouncementDto:
			announces = append(announces, f)
		case *wire.PacketDto:
			packets = append(packets, f)
		}
	}

	if len(ackFrames) > 0 {
		d.metrics.acksReceived.Add(float64(len(ackFrames)))
		d.latches.ProcessAcknowledgements(ackFrames)
	}

	for _, ann := range announces {
		d.routes.HandleAnnouncement(link, source, ann.Identity)
	}

	if len(packets) > 0 {
		d.handlePackets(packets)
	}
}

func (d *dispatcher) addressed(pkt *wire.PacketDto) bool {
	return pkt.IsBroadcast() || pkt.ReceiverId == d.self
}

func (d *dispatcher) handlePackets(packets []*wire.PacketDto) {
	var (
		reliable   []*wire.PacketDto
		unreliable []*wire.PacketDto
	)

	for _, pkt := range packets {
		switch {
		case pkt.SenderId == d.self:
			// Own broadcasts are looped back by the multicast group.
		case !d.addressed(pkt):
			d.metrics.packetsNotAddressed.Inc()
		case pkt.Reliable:
			if chunk, ok := pkt.Chunk(); ok && !d.reassembler.Admit(chunk) {
				// Unacknowledged, thus resent by the peer later on.
				d.metrics.chunksRefused.Inc()
				log.WithField("packet", pkt).Debug("Refused chunk of a new multi-part packet at capacity")
				continue
			}
			reliable = append(reliable, pkt)
		default:
			unreliable = append(unreliable, pkt)
		}
	}

	// Acknowledge before the duplicate detection; a duplicate indicates a lost acknowledgement.
	d.acknowledge(reliable)

	deliver := unreliable
	if len(reliable) > 0 {
		ids := make([]uuid.UUID, len(reliable))
		for i, pkt := range reliable {
			ids[i] = pkt.Id
		}

		for i, isNew := range d.filter.TestAndInsert(ids) {
			if isNew {
				deliver = append(deliver, reliable[i])
			} else {
				d.metrics.packetsDuplicate.Inc()
			}
		}
	}

	for _, pkt := range deliver {
		if chunk, ok := pkt.Chunk(); ok {
			if err := d.reassembler.HandleChunk(chunk); err != nil {
				log.WithFields(log.Fields{
					"packet": pkt,
					"chunk":  chunk,
				}).WithError(err).Warn("Reassembling multi-part packet failed")
			}
		} else {
			d.dispatch(pkt)
		}
	}
}

// HandleReassembled is the reassembly.Handler. Reassembled packets are neither acknowledged nor deduplicated, as
// both already happened for their chunks.
func (d *dispatcher) HandleReassembled(pkt *wire.PacketDto) {
	d.metrics.reassembled.Inc()

	if !d.addressed(pkt) {
		d.metrics.packetsNotAddressed.Inc()
		return
	}
	d.dispatch(pkt)
}

func (d *dispatcher) dispatch(pkt *wire.PacketDto) {
	body, ok := pkt.Message.(*wire.MessageBody)
	if !ok {
		log.WithField("packet", pkt).Warn("Packet carries no message")
		return
	}

	if d.shuttingDown() {
		log.WithField("packet", pkt).Debug("Discarding received message during shutdown")
		return
	}

	if err := d.app.DispatchAsync(d.ctx, body.MessageDto); err != nil {
		log.WithFields(log.Fields{
			"packet":  pkt,
			"message": body.MessageDto,
		}).WithError(err).Warn("Dispatching received message failed")
	}
}

// acknowledge reliable packets, grouped by their sender. Known senders are answered via their routing context's
// address, unknown ones by a broadcast.
func (d *dispatcher) acknowledge(packets []*wire.PacketDto) {
	if len(packets) == 0 {
		return
	}

	bySender := make(map[uuid.UUID][]*wire.AcknowledgementDto)
	var order []uuid.UUID
	for _, pkt := range packets {
		if _, ok := bySender[pkt.SenderId]; !ok {
			order = append(order, pkt.SenderId)
		}
		bySender[pkt.SenderId] = append(bySender[pkt.SenderId], &wire.AcknowledgementDto{MessageId: pkt.Id})
	}

	for _, sender := range order {
		rc, known := d.routes.Get(sender)

		send := func(view *buffer.View) error {
			if known {
				target := rc.target.Load()
				return d.core.Unicast(target.link, target.remote, view, nil)
			}
			return d.core.Broadcast(view, nil)
		}

		if err := d.sendFrames(bySender[sender], send); err != nil {
			log.WithFields(log.Fields{
				"peer":  sender,
				"known": known,
			}).WithError(err).Debug("Sending acknowledgements failed")
			continue
		}
		d.metrics.acksSent.Add(float64(len(bySender[sender])))
	}
}

// sendFrames packs acknowledgements into datagrams and passes each to send.
func (d *dispatcher) sendFrames(ackFrames []*wire.AcknowledgementDto, send func(*buffer.View) error) error {
	var (
		view *buffer.View
		dw   *wire.DatagramWriter
	)

	flush := func() error {
		if view == nil {
			return nil
		}
		view.SetLen(dw.Finish())
		err := send(view)
		view, dw = nil, nil
		return err
	}

	for _, ack := range ackFrames {
		data, err := wire.EncodeFrame(ack)
		if err != nil {
			if view != nil {
				view.Release()
			}
			return err
		}

		if dw != nil && !dw.Fits(len(data)) {
			if err := flush(); err != nil {
				return err
			}
		}
		if dw == nil {
			view = d.pool.Lease()
			dw = wire.NewDatagramWriter(view.Raw()[:d.config.MaxTransportSize])
		}
		dw.Append(data)
	}
	return flush()
}
