// SPDX-FileCopyrightText: 2026 Courier Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package wire

import (
	"fmt"
	"io"

	"github.com/dtn7/cboring"
	"github.com/google/uuid"

	"github.com/the-dargon-project/courier-go/pkg/courier"
)

// AcknowledgementDto confirms the reception of a reliable PacketDto.
type AcknowledgementDto struct {
	MessageId uuid.UUID
}

func (ack *AcknowledgementDto) FrameType() FrameType {
	return AcknowledgementFrame
}

func (ack *AcknowledgementDto) MarshalCbor(w io.Writer) error {
	return courier.WriteUUID(ack.MessageId, w)
}

func (ack *AcknowledgementDto) UnmarshalCbor(r io.Reader) (err error) {
	ack.MessageId, err = courier.ReadUUID(r)
	return
}

func (ack AcknowledgementDto) String() string {
	return fmt.Sprintf("Ack(%v)", ack.MessageId)
}

// AnnouncementDto advertises a node's Identity.
type AnnouncementDto struct {
	Identity *courier.Identity
}

func (ann *AnnouncementDto) FrameType() FrameType {
	return AnnouncementFrame
}

func (ann *AnnouncementDto) MarshalCbor(w io.Writer) error {
	if ann.Identity == nil {
		return fmt.Errorf("announcement without identity")
	}
	return cboring.Marshal(ann.Identity, w)
}

func (ann *AnnouncementDto) UnmarshalCbor(r io.Reader) error {
	ann.Identity = new(courier.Identity)
	return cboring.Unmarshal(ann.Identity, r)
}

func (ann AnnouncementDto) String() string {
	return fmt.Sprintf("Announcement(%v)", ann.Identity)
}

// BodyType is the type code of a PacketDto's Body.
type BodyType uint64

const (
	MessageBodyType BodyType = 0
	ChunkBodyType   BodyType = 1
)

// Body of a PacketDto, either a *MessageBody or a *MultiPartChunkDto.
type Body interface {
	BodyType() BodyType

	cboring.CborMarshaler
}

// MessageBody carries an application's courier.MessageDto.
type MessageBody struct {
	courier.MessageDto
}

func (mb *MessageBody) BodyType() BodyType {
	return MessageBodyType
}

// PacketDto is the unit of a transport-level send. Its Id is the key for both acknowledgements and the duplicate
// detection. A ReceiverId of uuid.Nil denotes a broadcast.
type PacketDto struct {
	Id         uuid.UUID
	SenderId   uuid.UUID
	ReceiverId uuid.UUID
	Message    Body
	Reliable   bool
}

func (pkt *PacketDto) FrameType() FrameType {
	return PacketFrame
}

// IsBroadcast checks if this PacketDto is addressed to everyone.
func (pkt *PacketDto) IsBroadcast() bool {
	return pkt.ReceiverId == uuid.Nil
}

// Chunk returns the MultiPartChunkDto body, if this PacketDto carries one.
func (pkt *PacketDto) Chunk() (chunk *MultiPartChunkDto, ok bool) {
	chunk, ok = pkt.Message.(*MultiPartChunkDto)
	return
}

func (pkt *PacketDto) MarshalCbor(w io.Writer) error {
	if pkt.Message == nil {
		return fmt.Errorf("packet %v has no body", pkt.Id)
	}

	if err := cboring.WriteArrayLength(6, w); err != nil {
		return err
	}

	for _, id := range []uuid.UUID{pkt.Id, pkt.SenderId, pkt.ReceiverId} {
		if err := courier.WriteUUID(id, w); err != nil {
			return err
		}
	}

	if err := cboring.WriteBoolean(pkt.Reliable, w); err != nil {
		return err
	}

	if err := cboring.WriteUInt(uint64(pkt.Message.BodyType()), w); err != nil {
		return err
	}

	return cboring.Marshal(pkt.Message, w)
}

func (pkt *PacketDto) UnmarshalCbor(r io.Reader) (err error) {
	if l, lErr := cboring.ReadArrayLength(r); lErr != nil {
		return lErr
	} else if l != 6 {
		return fmt.Errorf("wrong array length: %d instead of 6", l)
	}

	for _, id := range []*uuid.UUID{&pkt.Id, &pkt.SenderId, &pkt.ReceiverId} {
		if *id, err = courier.ReadUUID(r); err != nil {
			return
		}
	}

	if pkt.Reliable, err = cboring.ReadBoolean(r); err != nil {
		return
	}

	n, err := cboring.ReadUInt(r)
	if err != nil {
		return
	}

	switch BodyType(n) {
	case MessageBodyType:
		pkt.Message = new(MessageBody)
	case ChunkBodyType:
		pkt.Message = new(MultiPartChunkDto)
	default:
		return fmt.Errorf("no known body type code %d", n)
	}

	return cboring.Unmarshal(pkt.Message, r)
}

func (pkt PacketDto) String() string {
	return fmt.Sprintf("Packet(%v, %v -> %v, reliable: %t)", pkt.Id, pkt.SenderId, pkt.ReceiverId, pkt.Reliable)
}

// MultiPartChunkDto is a fragment of an oversized, serialized PacketDto frame. The valid part of Body is the window
// starting at BodyOffset with BodyLength bytes; decoded chunks always start at offset zero.
type MultiPartChunkDto struct {
	MultiPartMessageId uuid.UUID
	ChunkIndex         uint32
	ChunkCount         uint32

	Body       []byte
	BodyOffset int
	BodyLength int
}

func (chunk *MultiPartChunkDto) BodyType() BodyType {
	return ChunkBodyType
}

// Data returns the valid window of the Body.
func (chunk *MultiPartChunkDto) Data() []byte {
	return chunk.Body[chunk.BodyOffset : chunk.BodyOffset+chunk.BodyLength]
}

func (chunk *MultiPartChunkDto) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(4, w); err != nil {
		return err
	}

	if err := courier.WriteUUID(chunk.MultiPartMessageId, w); err != nil {
		return err
	}

	for _, n := range []uint32{chunk.ChunkIndex, chunk.ChunkCount} {
		if err := cboring.WriteUInt(uint64(n), w); err != nil {
			return err
		}
	}

	return cboring.WriteByteString(chunk.Data(), w)
}

func (chunk *MultiPartChunkDto) UnmarshalCbor(r io.Reader) (err error) {
	if l, lErr := cboring.ReadArrayLength(r); lErr != nil {
		return lErr
	} else if l != 4 {
		return fmt.Errorf("wrong array length: %d instead of 4", l)
	}

	if chunk.MultiPartMessageId, err = courier.ReadUUID(r); err != nil {
		return
	}

	for _, n := range []*uint32{&chunk.ChunkIndex, &chunk.ChunkCount} {
		if v, vErr := cboring.ReadUInt(r); vErr != nil {
			return vErr
		} else if v > 1<<31 {
			return fmt.Errorf("chunk number %d out of range", v)
		} else {
			*n = uint32(v)
		}
	}

	if chunk.ChunkCount == 0 || chunk.ChunkIndex >= chunk.ChunkCount {
		return fmt.Errorf("chunk index %d invalid for %d chunks", chunk.ChunkIndex, chunk.ChunkCount)
	}

	if chunk.Body, err = cboring.ReadByteString(r); err != nil {
		return
	}
	chunk.BodyOffset = 0
	chunk.BodyLength = len(chunk.Body)
	return
}

func (chunk MultiPartChunkDto) String() string {
	return fmt.Sprintf("Chunk(%v, %d/%d, %d bytes)",
		chunk.MultiPartMessageId, chunk.ChunkIndex+1, chunk.ChunkCount, chunk.BodyLength)
}
