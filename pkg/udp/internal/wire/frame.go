// SPDX-FileCopyrightText: 2026 Courier Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package wire implements the framing of the courier's UDP datagrams.
//
// Each datagram holds a header, one or more back-to-back CBOR encoded Frames and a footer with a SHA-256 checksum
// over all preceding bytes. A Frame is one of AcknowledgementDto, AnnouncementDto or PacketDto. Payloads exceeding
// a single datagram are split into MultiPartChunkDtos, each carried by its own PacketDto.
package wire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/dtn7/cboring"
)

// FrameType is the type code preceding each serialized Frame.
type FrameType uint64

const (
	AcknowledgementFrame FrameType = 0
	AnnouncementFrame    FrameType = 1
	PacketFrame          FrameType = 2
)

func (ft FrameType) String() string {
	switch ft {
	case AcknowledgementFrame:
		return "acknowledgement"
	case AnnouncementFrame:
		return "announcement"
	case PacketFrame:
		return "packet"
	default:
		return fmt.Sprintf("unknown(%d)", uint64(ft))
	}
}

// Frame is an element of a datagram. The set of implementations is closed: *AcknowledgementDto,
// *AnnouncementDto and *PacketDto.
type Frame interface {
	FrameType() FrameType

	cboring.CborMarshaler
}

// MarshalFrame writes a Frame wrapped with its type code.
func MarshalFrame(f Frame, w io.Writer) error {
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}

	if err := cboring.WriteUInt(uint64(f.FrameType()), w); err != nil {
		return err
	}

	return cboring.Marshal(f, w)
}

// UnmarshalFrame reads the next Frame based on its type code.
func UnmarshalFrame(r io.Reader) (f Frame, err error) {
	if n, arrErr := cboring.ReadArrayLength(r); arrErr != nil {
		err = arrErr
		return
	} else if n != 2 {
		err = fmt.Errorf("expected array of two elements, got %d", n)
		return
	}

	n, typeErr := cboring.ReadUInt(r)
	if typeErr != nil {
		err = typeErr
		return
	}

	switch FrameType(n) {
	case AcknowledgementFrame:
		f = new(AcknowledgementDto)
	case AnnouncementFrame:
		f = new(AnnouncementDto)
	case PacketFrame:
		f = new(PacketDto)
	default:
		err = fmt.Errorf("no known frame type code %d", n)
		return
	}

	err = cboring.Unmarshal(f, r)
	return
}

// EncodeFrame serializes a Frame into a new byte slice.
func EncodeFrame(f Frame) ([]byte, error) {
	var buff bytes.Buffer
	if err := MarshalFrame(f, &buff); err != nil {
		return nil, err
	}
	return buff.Bytes(), nil
}

// DecodeFrame deserializes exactly one Frame from data.
func DecodeFrame(data []byte) (Frame, error) {
	r := bytes.NewReader(data)

	f, err := UnmarshalFrame(r)
	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after %v frame", r.Len(), f.FrameType())
	}
	return f, nil
}
