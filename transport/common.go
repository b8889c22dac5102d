// Copyright 2022 The camlink Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package transport

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/alwitt/camlink/auth"
	"github.com/alwitt/camlink/common"
	"github.com/apex/log"
)

// Envelope the message frame exchanged over a connection
type Envelope struct {
	// Event the message kind
	Event string `json:"event"`
	// Payload the message body. Opaque to the transport.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// InboundHandler callback processing one inbound message from a connection
type InboundHandler func(conn Connection, msg Envelope)

// Connection one live client connection
type Connection interface {
	// ID the transport assigned connection ID
	ID() string
	// Identity the authenticated identity presented at handshake
	Identity() auth.Identity
	// Send queue an outbound message. Never blocks on the peer.
	Send(event string, payload interface{}) error
	// Close tear down the connection
	Close() error
}

// Hub connection table with named group multicast
type Hub interface {
	// Add track a new connection
	Add(conn Connection)
	// Remove drop a connection and its group memberships
	Remove(connectionID string)
	// Get fetch a connection by ID
	Get(connectionID string) (Connection, bool)
	// Join add a connection to a named group
	Join(group, connectionID string)
	// Leave remove a connection from a named group
	Leave(group, connectionID string)
	// Publish send a message to every member of a group. Per-recipient
	// failures are logged and suppressed.
	Publish(group, event string, payload interface{})
	// SendTo send a message to one connection
	SendTo(connectionID, event string, payload interface{}) error
	// ConnectionCount number of tracked connections
	ConnectionCount() int
	// CloseAll close every tracked connection
	CloseAll()
}

// hubImpl implements Hub
type hubImpl struct {
	common.Component
	lock   sync.RWMutex
	conns  map[string]Connection
	groups map[string]map[string]bool
}

// GetHub define a new connection Hub
func GetHub(instance string) (Hub, error) {
	logTags := log.Fields{
		"module": "transport", "component": "hub", "instance": instance,
	}
	return &hubImpl{
		Component: common.Component{LogTags: logTags},
		conns:     map[string]Connection{},
		groups:    map[string]map[string]bool{},
	}, nil
}

// Add track a new connection
func (h *hubImpl) Add(conn Connection) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.conns[conn.ID()] = conn
}

// Remove drop a connection and its group memberships
func (h *hubImpl) Remove(connectionID string) {
	h.lock.Lock()
	defer h.lock.Unlock()
	delete(h.conns, connectionID)
	for _, members := range h.groups {
		delete(members, connectionID)
	}
}

// Get fetch a connection by ID
func (h *hubImpl) Get(connectionID string) (Connection, bool) {
	h.lock.RLock()
	defer h.lock.RUnlock()
	conn, ok := h.conns[connectionID]
	return conn, ok
}

// Join add a connection to a named group
func (h *hubImpl) Join(group, connectionID string) {
	h.lock.Lock()
	defer h.lock.Unlock()
	members, ok := h.groups[group]
	if !ok {
		members = map[string]bool{}
		h.groups[group] = members
	}
	members[connectionID] = true
}

// Leave remove a connection from a named group
func (h *hubImpl) Leave(group, connectionID string) {
	h.lock.Lock()
	defer h.lock.Unlock()
	if members, ok := h.groups[group]; ok {
		delete(members, connectionID)
	}
}

// Publish send a message to every member of a group
func (h *hubImpl) Publish(group, event string, payload interface{}) {
	// Snapshot membership, then send outside the lock
	h.lock.RLock()
	targets := make([]Connection, 0, len(h.groups[group]))
	for connectionID := range h.groups[group] {
		if conn, ok := h.conns[connectionID]; ok {
			targets = append(targets, conn)
		}
	}
	h.lock.RUnlock()
	for _, conn := range targets {
		if err := conn.Send(event, payload); err != nil {
			log.WithError(err).WithFields(h.LogTags).Warnf(
				"Dropped '%s' broadcast to connection '%s'", event, conn.ID(),
			)
		}
	}
}

// SendTo send a message to one connection
func (h *hubImpl) SendTo(connectionID, event string, payload interface{}) error {
	conn, ok := h.Get(connectionID)
	if !ok {
		return fmt.Errorf("connection '%s' is not present", connectionID)
	}
	return conn.Send(event, payload)
}

// ConnectionCount number of tracked connections
func (h *hubImpl) ConnectionCount() int {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return len(h.conns)
}

// CloseAll close every tracked connection
func (h *hubImpl) CloseAll() {
	h.lock.RLock()
	targets := make([]Connection, 0, len(h.conns))
	for _, conn := range h.conns {
		targets = append(targets, conn)
	}
	h.lock.RUnlock()
	for _, conn := range targets {
		_ = conn.Close()
	}
}
