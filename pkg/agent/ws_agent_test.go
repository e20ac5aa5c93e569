// SPDX-FileCopyrightText: 2026 Courier Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/the-dargon-project/courier-go/pkg/courier"
)

func TestWebAgentMessageCbor(t *testing.T) {
	msgs := []webAgentMessage{
		newStatusMessage(nil),
		&wamStatus{errorMsg: "oops"},
		&wamMessage{msg: courier.MessageDto{SenderId: uuid.New(), ReceiverId: uuid.New(), Body: []byte("hello")}},
		&wamSend{peer: uuid.New(), reliable: true, body: []byte("world")},
		&wamSend{body: []byte{}},
	}

	for _, msg := range msgs {
		var buf bytes.Buffer
		if err := marshalCbor(msg, &buf); err != nil {
			t.Fatalf("marshalling %v errored: %v", msg, err)
		}

		msg2, err := unmarshalCbor(&buf)
		if err != nil {
			t.Fatalf("unmarshalling %v errored: %v", msg, err)
		}
		if msg.typeCode() != msg2.typeCode() {
			t.Fatalf("type code differs: %d != %d", msg.typeCode(), msg2.typeCode())
		}
	}
}

func TestWebAgentMessageUnknownCode(t *testing.T) {
	// [99, ""]
	if _, err := unmarshalCbor(bytes.NewReader([]byte{0x82, 0x18, 0x63, 0x60})); err == nil {
		t.Fatal("unknown type code did not error")
	}
}

func startWebSocketAgent(t *testing.T, transport courier.Transport) (*WebSocketAgent, *websocket.Conn) {
	t.Helper()

	agent := NewWebSocketAgent()
	if transport != nil {
		agent.Attach(transport)
	}

	server := httptest.NewServer(agent)
	t.Cleanup(server.Close)
	t.Cleanup(agent.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	deadline := time.Now().Add(5 * time.Second)
	for agent.Clients() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client was not registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	return agent, conn
}

func writeWam(t *testing.T, conn *websocket.Conn, msg webAgentMessage) {
	t.Helper()

	var buf bytes.Buffer
	if err := marshalCbor(msg, &buf); err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, buf.Bytes()); err != nil {
		t.Fatal(err)
	}
}

func readWam(t *testing.T, conn *websocket.Conn) webAgentMessage {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	messageType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	} else if messageType != websocket.BinaryMessage {
		t.Fatalf("message type %d is not binary", messageType)
	}

	msg, err := unmarshalCbor(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	return msg
}

func TestWebSocketAgentDispatch(t *testing.T) {
	agent, conn := startWebSocketAgent(t, nil)

	dto := courier.MessageDto{SenderId: uuid.New(), ReceiverId: uuid.New(), Body: []byte("ping")}
	if err := agent.DispatchAsync(context.Background(), dto); err != nil {
		t.Fatal(err)
	}

	msg, ok := readWam(t, conn).(*wamMessage)
	if !ok {
		t.Fatal("received message is not a wamMessage")
	}
	if msg.msg.SenderId != dto.SenderId || msg.msg.ReceiverId != dto.ReceiverId || !bytes.Equal(msg.msg.Body, dto.Body) {
		t.Fatalf("received %v, expected %v", msg.msg, dto)
	}
}

func TestWebSocketAgentSend(t *testing.T) {
	node := newFakeNode()
	_, conn := startWebSocketAgent(t, node)

	peer := uuid.New()
	writeWam(t, conn, &wamSend{peer: peer, reliable: true, body: []byte("hello")})

	status, ok := readWam(t, conn).(*wamStatus)
	if !ok {
		t.Fatal("received message is not a wamStatus")
	} else if status.errorMsg != "" {
		t.Fatalf("send failed: %s", status.errorMsg)
	}

	sent := node.messages()
	if len(sent) != 1 {
		t.Fatalf("expected one sent message, got %d", len(sent))
	} else if sent[0].peer != peer || !sent[0].reliable || string(sent[0].body) != "hello" {
		t.Fatalf("unexpected sent message %v", sent[0])
	}
}

func TestWebSocketAgentSendBroadcast(t *testing.T) {
	node := newFakeNode()
	_, conn := startWebSocketAgent(t, node)

	writeWam(t, conn, &wamSend{body: []byte("everyone")})
	if status := readWam(t, conn).(*wamStatus); status.errorMsg != "" {
		t.Fatalf("broadcast failed: %s", status.errorMsg)
	}

	writeWam(t, conn, &wamSend{reliable: true, body: []byte("everyone")})
	if status := readWam(t, conn).(*wamStatus); status.errorMsg == "" {
		t.Fatal("reliable broadcast did not fail")
	}

	if sent := node.messages(); len(sent) != 1 || !sent[0].broadcast {
		t.Fatalf("unexpected sent messages %v", sent)
	}
}

func TestWebSocketAgentSendFailure(t *testing.T) {
	node := newFakeNode()
	node.err = courier.ErrNoRoute
	_, conn := startWebSocketAgent(t, node)

	writeWam(t, conn, &wamSend{peer: uuid.New(), body: []byte("lost")})
	if status := readWam(t, conn).(*wamStatus); status.errorMsg != courier.ErrNoRoute.Error() {
		t.Fatalf("unexpected status %q", status.errorMsg)
	}
}

func TestWebSocketAgentNotAttached(t *testing.T) {
	_, conn := startWebSocketAgent(t, nil)

	writeWam(t, conn, &wamSend{peer: uuid.New(), body: []byte("nowhere")})
	if status := readWam(t, conn).(*wamStatus); status.errorMsg != ErrNotAttached.Error() {
		t.Fatalf("unexpected status %q", status.errorMsg)
	}
}

func TestWebSocketAgentClose(t *testing.T) {
	agent, conn := startWebSocketAgent(t, nil)
	agent.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("connection is still open")
	}

	deadline := time.Now().Add(5 * time.Second)
	for agent.Clients() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client was not unregistered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
