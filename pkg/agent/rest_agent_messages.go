// SPDX-FileCopyrightText: 2026 Courier Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import "time"

// RestPeer describes a known peer in the JSON response of /peers.
type RestPeer struct {
	Id         string            `json:"id"`
	Address    string            `json:"address,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
	LastSeen   time.Time         `json:"last_seen"`
}

// RestPeersResponse describes a JSON response for /peers.
type RestPeersResponse struct {
	Peers []RestPeer `json:"peers"`
}

// RestSendResponse describes a JSON response for /send/{peer} and /broadcast.
type RestSendResponse struct {
	Error string `json:"error"`
}
