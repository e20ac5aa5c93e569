// SPDX-FileCopyrightText: 2026 Courier Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/the-dargon-project/courier-go/pkg/courier"
)

// Node is the Transport side used by the RestAgent.
type Node interface {
	courier.Transport

	RoutingTable() courier.RoutingTable
	PeerTable() courier.PeerTable
}

// RestAgent is a small RESTful API for a Node.
type RestAgent struct {
	router *mux.Router
	node   Node

	// MaxBodySize of a message to be sent.
	MaxBodySize int64
	// SendTimeout bounds each send request.
	SendTimeout time.Duration
}

// NewRestAgent registers its handlers on the router. A non-nil Gatherer is exported at /metrics.
func NewRestAgent(router *mux.Router, node Node, gatherer prometheus.Gatherer) (ra *RestAgent) {
	ra = &RestAgent{
		router:      router,
		node:        node,
		MaxBodySize: 1 << 20,
		SendTimeout: sendTimeout,
	}

	ra.router.HandleFunc("/peers", ra.handlePeers).Methods(http.MethodGet)
	ra.router.HandleFunc("/send/{peer}", ra.handleSend).Methods(http.MethodPost)
	ra.router.HandleFunc("/broadcast", ra.handleBroadcast).Methods(http.MethodPost)

	if gatherer != nil {
		ra.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	return ra
}

// ServeHTTP is a http.Handler to be bound to a HTTP endpoint.
func (ra *RestAgent) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ra.router.ServeHTTP(w, r)
}

func (ra *RestAgent) writeJson(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("Failed to write REST response")
	}
}

// handlePeers processes /peers GET requests.
func (ra *RestAgent) handlePeers(w http.ResponseWriter, _ *http.Request) {
	ids := ra.node.RoutingTable().Enumerate()
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	resp := RestPeersResponse{Peers: make([]RestPeer, 0, len(ids))}
	for _, id := range ids {
		peer := RestPeer{Id: id.String()}

		if rc, ok := ra.node.RoutingTable().TryGet(id); ok && rc.RemoteAddress() != nil {
			peer.Address = rc.RemoteAddress().String()
		}

		if pc, ok := ra.node.PeerTable().Get(id); ok {
			if identity := pc.Identity(); identity != nil {
				peer.Properties = identity.Properties()
			}
			peer.LastSeen = pc.LastSeen()
		}

		resp.Peers = append(resp.Peers, peer)
	}

	ra.writeJson(w, http.StatusOK, resp)
}

func (ra *RestAgent) readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, ra.MaxBodySize+1))
	if err != nil {
		return nil, err
	} else if int64(len(body)) > ra.MaxBodySize {
		return nil, fmt.Errorf("body exceeds %d bytes", ra.MaxBodySize)
	}
	return body, nil
}

func sendStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, courier.ErrNoRoute):
		return http.StatusNotFound
	case errors.Is(err, courier.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, courier.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleSend processes /send/{peer} POST requests. The query parameter reliable defaults to true.
func (ra *RestAgent) handleSend(w http.ResponseWriter, r *http.Request) {
	peer, err := uuid.Parse(mux.Vars(r)["peer"])
	if err != nil {
		ra.writeJson(w, http.StatusBadRequest, RestSendResponse{Error: err.Error()})
		return
	}

	reliable := true
	if v := r.URL.Query().Get("reliable"); v != "" {
		if reliable, err = strconv.ParseBool(v); err != nil {
			ra.writeJson(w, http.StatusBadRequest, RestSendResponse{Error: err.Error()})
			return
		}
	}

	body, err := ra.readBody(r)
	if err != nil {
		ra.writeJson(w, http.StatusRequestEntityTooLarge, RestSendResponse{Error: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), ra.SendTimeout)
	defer cancel()

	if reliable {
		err = ra.node.SendMessageReliable(ctx, peer, body)
	} else {
		err = ra.node.SendMessageUnreliable(ctx, peer, body)
	}

	log.WithFields(log.Fields{
		"peer":     peer,
		"reliable": reliable,
		"size":     len(body),
	}).WithError(err).Debug("Processed REST send request")

	resp := RestSendResponse{}
	if err != nil {
		resp.Error = err.Error()
	}
	ra.writeJson(w, sendStatus(err), resp)
}

// handleBroadcast processes /broadcast POST requests.
func (ra *RestAgent) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	body, err := ra.readBody(r)
	if err != nil {
		ra.writeJson(w, http.StatusRequestEntityTooLarge, RestSendResponse{Error: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), ra.SendTimeout)
	defer cancel()

	err = ra.node.SendMessageBroadcast(ctx, body)

	resp := RestSendResponse{}
	if err != nil {
		resp.Error = err.Error()
	}
	ra.writeJson(w, sendStatus(err), resp)
}
