// SPDX-FileCopyrightText: 2026 Courier Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/the-dargon-project/courier-go/pkg/courier"
)

// sendTimeout bounds a client's reliable send request.
const sendTimeout = 30 * time.Second

type webAgentClient struct {
	sync.Mutex

	conn   *websocket.Conn
	agent  *WebSocketAgent
	outbox chan webAgentMessage
	logger *log.Entry

	closed       chan struct{}
	shutdownOnce sync.Once
}

func newWebAgentClient(conn *websocket.Conn, agent *WebSocketAgent) *webAgentClient {
	return &webAgentClient{
		conn:   conn,
		agent:  agent,
		outbox: make(chan webAgentMessage, 64),
		logger: log.WithField("web agent client", conn.RemoteAddr().String()),
		closed: make(chan struct{}),
	}
}

// start blocks until the connection was closed.
func (client *webAgentClient) start() {
	go client.handleOutbox()
	client.handleConn()
}

func (client *webAgentClient) shutdown() {
	client.shutdownOnce.Do(func() {
		client.logger.Debug("Reached shutdown")

		close(client.closed)
		_ = client.conn.Close()
	})
}

// deliver a received message. A client which does not keep up loses messages.
func (client *webAgentClient) deliver(msg courier.MessageDto) {
	select {
	case client.outbox <- &wamMessage{msg: msg}:
	case <-client.closed:
	default:
		client.logger.WithField("message", msg).Warn("Client's outbox is full, dropping message")
	}
}

func (client *webAgentClient) handleOutbox() {
	defer client.shutdown()

	for {
		select {
		case <-client.closed:
			return

		case wam := <-client.outbox:
			if err := client.writeMessage(wam); err != nil {
				client.logger.WithError(err).Warn("Sending message to client errored")
				return
			}
		}
	}
}

func (client *webAgentClient) handleConn() {
	defer client.shutdown()

	for {
		messageType, reader, err := client.conn.NextReader()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				client.logger.WithError(err).Debug("Reader errored due to closed connection")
			} else {
				client.logger.WithError(err).Warn("Opening next Websocket Reader errored")
			}
			return
		} else if messageType != websocket.BinaryMessage {
			client.logger.WithField("message type", messageType).Warn("Websocket Reader's type is not binary")
			return
		}

		msg, err := unmarshalCbor(reader)
		if err != nil {
			client.logger.WithError(err).Warn("Unmarshal CBOR errored")
			return
		}

		switch msg := msg.(type) {
		case *wamSend:
			go client.handleSend(msg)

		default:
			client.logger.WithField("message", msg).Info("Received unknown / unsupported message")
		}
	}
}

// handleSend performs a client's send request and answers with a status.
func (client *webAgentClient) handleSend(msg *wamSend) {
	err := client.send(msg)

	logger := client.logger.WithFields(log.Fields{
		"peer":     msg.peer,
		"reliable": msg.reliable,
	})
	if err != nil {
		logger.WithError(err).Info("Client's send request failed")
	} else {
		logger.Debug("Performed client's send request")
	}

	select {
	case client.outbox <- newStatusMessage(err):
	case <-client.closed:
	}
}

func (client *webAgentClient) send(msg *wamSend) error {
	transport, err := client.agent.attached()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	switch {
	case msg.peer == uuid.Nil && msg.reliable:
		return fmt.Errorf("broadcasts cannot be reliable")
	case msg.peer == uuid.Nil:
		return transport.SendMessageBroadcast(ctx, msg.body)
	case msg.reliable:
		return transport.SendMessageReliable(ctx, msg.peer, msg.body)
	default:
		return transport.SendMessageUnreliable(ctx, msg.peer, msg.body)
	}
}

func (client *webAgentClient) writeMessage(msg webAgentMessage) error {
	client.Lock()
	defer client.Unlock()

	wc, wcErr := client.conn.NextWriter(websocket.BinaryMessage)
	if wcErr != nil {
		return wcErr
	}

	if cborErr := marshalCbor(msg, wc); cborErr != nil {
		return cborErr
	}

	return wc.Close()
}
