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
	"time"

	"github.com/alwitt/camlink/auth"
	"github.com/alwitt/camlink/common"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ClientSession a websocket backed Connection with its serving loops
type ClientSession interface {
	Connection
	// Serve start the write pump and run the read loop. Blocks until the
	// connection closes; inbound messages are handed to the handler one at
	// a time in arrival order.
	Serve(wg *sync.WaitGroup, handler InboundHandler)
}

// wsClientSessionImpl implements ClientSession over a gorilla websocket
type wsClientSessionImpl struct {
	common.Component
	id           string
	identity     auth.Identity
	raw          *websocket.Conn
	outbound     chan Envelope
	closed       chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
	pingInterval time.Duration
	pongTimeout  time.Duration
	maxMsgBytes  int64
}

// GetWebsocketClientSession define a ClientSession over an upgraded websocket
func GetWebsocketClientSession(
	identity auth.Identity, raw *websocket.Conn, config common.WebsocketConfig,
) (ClientSession, error) {
	if raw == nil {
		return nil, fmt.Errorf("client session requires a live websocket")
	}
	id := uuid.New().String()
	logTags := log.Fields{
		"module":     "transport",
		"component":  "ws-client-session",
		"connection": id,
		"client":     identity.ClientID,
		"role":       string(identity.Role),
	}
	return &wsClientSessionImpl{
		Component:    common.Component{LogTags: logTags},
		id:           id,
		identity:     identity,
		raw:          raw,
		outbound:     make(chan Envelope, config.SendBufferLen),
		closed:       make(chan struct{}),
		writeTimeout: time.Second * time.Duration(config.WriteTimeout),
		pingInterval: time.Second * time.Duration(config.PingInterval),
		pongTimeout:  time.Second * time.Duration(config.PongTimeout),
		maxMsgBytes:  config.MaxMessageBytes,
	}, nil
}

// ID the transport assigned connection ID
func (c *wsClientSessionImpl) ID() string {
	return c.id
}

// Identity the authenticated identity presented at handshake
func (c *wsClientSessionImpl) Identity() auth.Identity {
	return c.identity
}

// Send queue an outbound message. Drops instead of blocking when the peer
// is not draining its buffer.
func (c *wsClientSessionImpl) Send(event string, payload interface{}) error {
	serialized, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame := Envelope{Event: event, Payload: serialized}
	select {
	case <-c.closed:
		return fmt.Errorf("connection '%s' already closed", c.id)
	default:
	}
	select {
	case c.outbound <- frame:
		return nil
	default:
		return fmt.Errorf("outbound buffer full on connection '%s'", c.id)
	}
}

// Close tear down the connection
func (c *wsClientSessionImpl) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		if err := c.raw.Close(); err != nil {
			log.WithError(err).WithFields(c.LogTags).Debug("Websocket close failed")
		}
	})
	return nil
}

// Serve start the write pump and run the read loop
func (c *wsClientSessionImpl) Serve(wg *sync.WaitGroup, handler InboundHandler) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writePump()
	}()
	c.readLoop(handler)
	_ = c.Close()
}

// writePump drain the outbound buffer onto the socket, pinging periodically
func (c *wsClientSessionImpl) writePump() {
	defer log.WithFields(c.LogTags).Debug("Write pump exiting")
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case frame := <-c.outbound:
			_ = c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.raw.WriteJSON(&frame); err != nil {
				log.WithError(err).WithFields(c.LogTags).Debug("Frame write failed")
				_ = c.Close()
				return
			}
		case <-ticker.C:
			_ = c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.raw.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.WithError(err).WithFields(c.LogTags).Debug("Ping write failed")
				_ = c.Close()
				return
			}
		}
	}
}

// readLoop decode inbound frames and hand them to the handler in order
func (c *wsClientSessionImpl) readLoop(handler InboundHandler) {
	defer log.WithFields(c.LogTags).Debug("Read loop exiting")
	c.raw.SetReadLimit(c.maxMsgBytes)
	_ = c.raw.SetReadDeadline(time.Now().Add(c.pongTimeout))
	c.raw.SetPongHandler(func(string) error {
		return c.raw.SetReadDeadline(time.Now().Add(c.pongTimeout))
	})
	for {
		_, raw, err := c.raw.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err, websocket.CloseNormalClosure, websocket.CloseGoingAway,
			) {
				log.WithError(err).WithFields(c.LogTags).Debug("Read failed")
			}
			return
		}
		var frame Envelope
		if err := json.Unmarshal(raw, &frame); err != nil {
			log.WithError(err).WithFields(c.LogTags).Debug("Undecodable inbound frame")
			// Hand over with an empty event so the caller can report the error
			frame = Envelope{}
		}
		handler(c, frame)
	}
}
