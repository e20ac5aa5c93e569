// SPDX-FileCopyrightText: 2026 Courier Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/the-dargon-project/courier-go/pkg/courier"
)

// ErrNotAttached is returned for a client's send request before a Transport was attached.
var ErrNotAttached = errors.New("no transport attached")

// WebSocketAgent forwards received messages to WebSocket clients and their send requests to a courier.Transport.
type WebSocketAgent struct {
	mutex     sync.RWMutex
	clients   map[*webAgentClient]struct{}
	transport courier.Transport
	closed    bool

	upgrader websocket.Upgrader
}

var _ courier.InboundMessageDispatcher = (*WebSocketAgent)(nil)

// NewWebSocketAgent without a Transport. The ServeHTTP function must be bound to the HTTP server.
func NewWebSocketAgent() *WebSocketAgent {
	return &WebSocketAgent{
		clients:  make(map[*webAgentClient]struct{}),
		upgrader: websocket.Upgrader{},
	}
}

// Attach the Transport used for the clients' send requests. As the WebSocketAgent is already the Transport's
// dispatcher, this happens after creating the Transport.
func (w *WebSocketAgent) Attach(transport courier.Transport) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	w.transport = transport
}

func (w *WebSocketAgent) attached() (courier.Transport, error) {
	w.mutex.RLock()
	defer w.mutex.RUnlock()

	if w.transport == nil {
		return nil, ErrNotAttached
	}
	return w.transport, nil
}

// DispatchAsync forwards a message to all clients without blocking.
func (w *WebSocketAgent) DispatchAsync(_ context.Context, msg courier.MessageDto) error {
	w.mutex.RLock()
	defer w.mutex.RUnlock()

	for client := range w.clients {
		client.deliver(msg)
	}
	return nil
}

// ServeHTTP must be bound to a HTTP endpoint, e.g., to /ws by a mux.Router.
func (w *WebSocketAgent) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	conn, connErr := w.upgrader.Upgrade(rw, r, nil)
	if connErr != nil {
		log.WithError(connErr).Warn("Upgrading HTTP request to WebSocket errored")
		return
	}

	client := newWebAgentClient(conn, w)
	if !w.register(client) {
		_ = conn.Close()
		return
	}

	client.start()
	w.unregister(client)
}

func (w *WebSocketAgent) register(client *webAgentClient) bool {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.closed {
		return false
	}
	w.clients[client] = struct{}{}
	return true
}

func (w *WebSocketAgent) unregister(client *webAgentClient) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	delete(w.clients, client)
}

// Clients returns the number of connected clients.
func (w *WebSocketAgent) Clients() int {
	w.mutex.RLock()
	defer w.mutex.RUnlock()

	return len(w.clients)
}

// Close all client connections.
func (w *WebSocketAgent) Close() {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	w.closed = true
	for client := range w.clients {
		client.shutdown()
	}
}
