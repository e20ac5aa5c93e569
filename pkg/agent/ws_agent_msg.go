// SPDX-FileCopyrightText: 2026 Courier Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"fmt"
	"io"

	"github.com/dtn7/cboring"
	"github.com/google/uuid"

	"github.com/the-dargon-project/courier-go/pkg/courier"
)

// webAgentMessage describes a message which might be sent over a WebSocketAgent.
type webAgentMessage interface {
	// typeCode is an unique identifier for each message type.
	typeCode() uint64

	// CborMarshaler must only be implemented for the type's logic.
	// A generic wrapper for the typeCode is available in the marshalCbor and unmarshalCbor functions.
	cboring.CborMarshaler
}

const (
	wamStatusCode  uint64 = 0
	wamMessageCode uint64 = 1
	wamSendCode    uint64 = 2
)

// marshalCbor writes a webAgentMessage wrapped with its type code as CBOR.
func marshalCbor(wam webAgentMessage, w io.Writer) error {
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}

	if err := cboring.WriteUInt(wam.typeCode(), w); err != nil {
		return err
	}

	return cboring.Marshal(wam, w)
}

// unmarshalCbor reads a new webAgentMessage based on its type code from CBOR.
func unmarshalCbor(r io.Reader) (wam webAgentMessage, err error) {
	if n, arrErr := cboring.ReadArrayLength(r); arrErr != nil {
		err = arrErr
		return
	} else if n != 2 {
		err = fmt.Errorf("expected array of two elements, got %d", n)
		return
	}

	n, err := cboring.ReadUInt(r)
	if err != nil {
		return
	}

	switch n {
	case wamStatusCode:
		wam = new(wamStatus)
	case wamMessageCode:
		wam = new(wamMessage)
	case wamSendCode:
		wam = new(wamSend)
	default:
		err = fmt.Errorf("no known WAM type code %d", n)
		return
	}

	err = cboring.Unmarshal(wam, r)
	return
}

// wamStatus answers a client's request; an empty errorMsg signals success.
type wamStatus struct {
	errorMsg string
}

func newStatusMessage(err error) *wamStatus {
	if err == nil {
		return &wamStatus{}
	}
	return &wamStatus{errorMsg: err.Error()}
}

func (_ *wamStatus) typeCode() uint64 {
	return wamStatusCode
}

func (msg *wamStatus) MarshalCbor(w io.Writer) error {
	return cboring.WriteTextString(msg.errorMsg, w)
}

func (msg *wamStatus) UnmarshalCbor(r io.Reader) (err error) {
	msg.errorMsg, err = cboring.ReadTextString(r)
	return
}

// wamMessage forwards a received courier.MessageDto to the client.
type wamMessage struct {
	msg courier.MessageDto
}

func (_ *wamMessage) typeCode() uint64 {
	return wamMessageCode
}

func (msg *wamMessage) MarshalCbor(w io.Writer) error {
	return cboring.Marshal(&msg.msg, w)
}

func (msg *wamMessage) UnmarshalCbor(r io.Reader) error {
	return cboring.Unmarshal(&msg.msg, r)
}

// wamSend is a client's request to send a message. A nil peer denotes a broadcast.
type wamSend struct {
	peer     uuid.UUID
	reliable bool
	body     []byte
}

func (_ *wamSend) typeCode() uint64 {
	return wamSendCode
}

func (msg *wamSend) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(3, w); err != nil {
		return err
	}
	if err := courier.WriteUUID(msg.peer, w); err != nil {
		return err
	}
	if err := cboring.WriteBoolean(msg.reliable, w); err != nil {
		return err
	}
	return cboring.WriteByteString(msg.body, w)
}

func (msg *wamSend) UnmarshalCbor(r io.Reader) (err error) {
	if n, nErr := cboring.ReadArrayLength(r); nErr != nil {
		return nErr
	} else if n != 3 {
		return fmt.Errorf("expected array of three elements, got %d", n)
	}

	if msg.peer, err = courier.ReadUUID(r); err != nil {
		return
	}
	if msg.reliable, err = cboring.ReadBoolean(r); err != nil {
		return
	}
	msg.body, err = cboring.ReadByteString(r)
	return
}
