// SPDX-FileCopyrightText: 2026 Courier Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package courier

import (
	"fmt"
	"io"

	"github.com/dtn7/cboring"
	"github.com/google/uuid"
)

// MessageDto is an application message. Its Body is opaque to every transport.
//
// A ReceiverId of uuid.Nil addresses every peer, i.e., a broadcast.
type MessageDto struct {
	SenderId   uuid.UUID
	ReceiverId uuid.UUID
	Body       []byte
}

// IsBroadcast checks if this MessageDto is not addressed to a specific peer.
func (msg MessageDto) IsBroadcast() bool {
	return msg.ReceiverId == uuid.Nil
}

// MarshalCbor writes this MessageDto as a CBOR array of three elements.
func (msg *MessageDto) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(3, w); err != nil {
		return err
	}

	for _, id := range []uuid.UUID{msg.SenderId, msg.ReceiverId} {
		if err := WriteUUID(id, w); err != nil {
			return err
		}
	}

	return cboring.WriteByteString(msg.Body, w)
}

// UnmarshalCbor reads a MessageDto from its CBOR representation.
func (msg *MessageDto) UnmarshalCbor(r io.Reader) (err error) {
	if l, lErr := cboring.ReadArrayLength(r); lErr != nil {
		return lErr
	} else if l != 3 {
		return fmt.Errorf("wrong array length: %d instead of 3", l)
	}

	if msg.SenderId, err = ReadUUID(r); err != nil {
		return fmt.Errorf("unmarshalling sender failed: %w", err)
	}
	if msg.ReceiverId, err = ReadUUID(r); err != nil {
		return fmt.Errorf("unmarshalling receiver failed: %w", err)
	}

	msg.Body, err = cboring.ReadByteString(r)
	return
}

func (msg MessageDto) String() string {
	return fmt.Sprintf("Message(%v -> %v, %d bytes)", msg.SenderId, msg.ReceiverId, len(msg.Body))
}
