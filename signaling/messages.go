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

package signaling

import (
	"encoding/json"
	"time"
)

// Broadcast group names
const (
	// GroupProducers every registered producer connection
	GroupProducers = "producers"
	// GroupConsumers every registered consumer connection
	GroupConsumers = "consumers"
)

// Inbound event names
const (
	EventRegisterProducer = "register-producer"
	EventRegisterConsumer = "register-consumer"
	EventStartMonitoring  = "start-monitoring"
	EventStopMonitoring   = "stop-monitoring"
	EventOffer            = "offer"
	EventAnswer           = "answer"
	EventICECandidate     = "ice-candidate"
	EventHeartbeatPing    = "heartbeat-ping"
	EventCrewSignOn       = "crew-sign-on"
	EventCrewSignOff      = "crew-sign-off"
)

// Outbound event names
const (
	EventProducerRegistered = "producer-registered"
	EventConsumerRegistered = "consumer-registered"
	EventProducerOnline     = "producer-online"
	EventProducerOffline    = "producer-offline"
	EventMonitoringStarted  = "monitoring-started"
	EventMonitoringStopped  = "monitoring-stopped"
	EventSessionEnded       = "session-ended"
	EventSessionTimeout     = "session-timeout"
	EventCrewSignOnAck      = "crew-sign-on-ack"
	EventCrewSignOffAck     = "crew-sign-off-ack"
	EventHeartbeatPong      = "heartbeat-pong"
	EventError              = "error"
)

// Client visible error codes
const (
	ErrCodeAuthInvalidToken = "AUTH_INVALID_TOKEN"
	ErrCodeAuthInvalidRole  = "AUTH_INVALID_ROLE"

	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeOperationNotAllowed = "OPERATION_NOT_ALLOWED"
	ErrCodeClientNotRegistered = "CLIENT_NOT_REGISTERED"

	ErrCodeSessionProducerOffline = "SESSION_PRODUCER_OFFLINE"
	ErrCodeSessionAlreadyExists   = "SESSION_ALREADY_EXISTS"
	ErrCodeSessionNotFound        = "SESSION_NOT_FOUND"
	ErrCodeSessionNotAuthorized   = "SESSION_NOT_AUTHORIZED"

	ErrCodeSignalingMissingData        = "SIGNALING_MISSING_DATA"
	ErrCodeSignalingInvalidTarget      = "SIGNALING_INVALID_TARGET"
	ErrCodeSignalingInvalidPairing     = "SIGNALING_INVALID_PAIRING"
	ErrCodeSignalingNoSession          = "SIGNALING_NO_SESSION"
	ErrCodeSignalingUnauthorizedSender = "SIGNALING_UNAUTHORIZED_SENDER"

	ErrCodeCrewEventUnauthorized   = "CREW_EVENT_UNAUTHORIZED"
	ErrCodeCrewEventInvalidPayload = "CREW_EVENT_INVALID_PAYLOAD"

	ErrCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"

	ErrCodeInternalError = "INTERNAL_ERROR"
)

// Session teardown reasons carried by notifications
const (
	ReasonDisconnect         = "disconnect"
	ReasonHeartbeatTimeout   = "heartbeat-timeout"
	ReasonProducerTimeout    = "producer-timeout"
	ReasonProducerDisconnect = "producer-disconnect"
	ReasonConsumerDisconnect = "consumer-disconnect"
	ReasonSessionTimeout     = "session-timeout"
)

// ==========================================================================
// Inbound payloads

// StartMonitoringRequest payload of start-monitoring
type StartMonitoringRequest struct {
	// ProducerID the producer to claim
	ProducerID string `json:"producerId" validate:"required"`
}

// StopMonitoringRequest payload of stop-monitoring
type StopMonitoringRequest struct {
	// ProducerID the producer whose session to release
	ProducerID string `json:"producerId" validate:"required"`
}

// OfferRequest payload of an inbound offer
type OfferRequest struct {
	// TargetID the peer client to forward to
	TargetID string `json:"targetId" validate:"required"`
	// Offer opaque SDP offer blob
	Offer json.RawMessage `json:"offer" validate:"required"`
}

// AnswerRequest payload of an inbound answer
type AnswerRequest struct {
	// TargetID the peer client to forward to
	TargetID string `json:"targetId" validate:"required"`
	// Answer opaque SDP answer blob
	Answer json.RawMessage `json:"answer" validate:"required"`
}

// ICECandidateRequest payload of an inbound ICE candidate
type ICECandidateRequest struct {
	// TargetID the peer client to forward to
	TargetID string `json:"targetId" validate:"required"`
	// Candidate opaque ICE candidate blob
	Candidate json.RawMessage `json:"candidate" validate:"required"`
}

// CrewEventRequest payload of crew-sign-on / crew-sign-off
type CrewEventRequest struct {
	// EmployeeID the crew member's employee ID
	EmployeeID string `json:"employeeId" validate:"required"`
	// Name the crew member's display name
	Name string `json:"name" validate:"required"`
	// ProducerID client supplied producer attribution. Ignored; the broker
	// substitutes the sender's authenticated identity.
	ProducerID string `json:"producerId,omitempty"`
	// Timestamp optional client supplied event time
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// ==========================================================================
// Outbound payloads

// ProducerRegisteredResponse reply to register-producer
type ProducerRegisteredResponse struct {
	ProducerID string    `json:"producerId"`
	Timestamp  time.Time `json:"timestamp"`
}

// OnlineProducer one producer in a consumer registration snapshot
type OnlineProducer struct {
	ProducerID  string    `json:"producerId"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// ConsumerRegisteredResponse reply to register-consumer
type ConsumerRegisteredResponse struct {
	ConsumerID      string           `json:"consumerId"`
	OnlineProducers []OnlineProducer `json:"onlineProducers"`
	Timestamp       time.Time        `json:"timestamp"`
}

// ProducerOnlineNotification broadcast when a producer registers
type ProducerOnlineNotification struct {
	ProducerID string    `json:"producerId"`
	Timestamp  time.Time `json:"timestamp"`
}

// ProducerOfflineNotification broadcast when a producer goes offline
type ProducerOfflineNotification struct {
	ProducerID string    `json:"producerId"`
	Reason     string    `json:"reason"`
	Timestamp  time.Time `json:"timestamp"`
}

// MonitoringStartedResponse reply to start-monitoring
type MonitoringStartedResponse struct {
	ProducerID string `json:"producerId"`
	// SessionID currently always equals ProducerID. Kept for forward
	// compatibility.
	SessionID string     `json:"sessionId"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// MonitoringStoppedResponse reply to stop-monitoring
type MonitoringStoppedResponse struct {
	ProducerID string    `json:"producerId"`
	Timestamp  time.Time `json:"timestamp"`
}

// SessionEndedNotification broadcast when a session is torn down
type SessionEndedNotification struct {
	ProducerID string    `json:"producerId"`
	ConsumerID string    `json:"consumerId"`
	Reason     string    `json:"reason"`
	Timestamp  time.Time `json:"timestamp"`
}

// SessionTimeoutNotification sent to the owning consumer on inactivity reap
type SessionTimeoutNotification struct {
	ProducerID string    `json:"producerId"`
	Timestamp  time.Time `json:"timestamp"`
}

// OfferForward offer delivered to its target
type OfferForward struct {
	FromID string          `json:"fromId"`
	Offer  json.RawMessage `json:"offer"`
}

// AnswerForward answer delivered to its target
type AnswerForward struct {
	FromID string          `json:"fromId"`
	Answer json.RawMessage `json:"answer"`
}

// ICECandidateForward ICE candidate delivered to its target
type ICECandidateForward struct {
	FromID    string          `json:"fromId"`
	Candidate json.RawMessage `json:"candidate"`
}

// CrewEventBroadcast crew event fanned out to the consumers group
type CrewEventBroadcast struct {
	EmployeeID string    `json:"employeeId"`
	Name       string    `json:"name"`
	Timestamp  time.Time `json:"timestamp"`
	// ProducerID the sender's authenticated identity, regardless of what
	// the inbound payload claimed
	ProducerID string `json:"producerId"`
	EventType  string `json:"eventType"`
}

// CrewEventAck reply to the crew event sender
type CrewEventAck struct {
	EmployeeID string    `json:"employeeId"`
	Timestamp  time.Time `json:"timestamp"`
}

// HeartbeatPong reply to heartbeat-ping
type HeartbeatPong struct {
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse structured operational failure reported to the sender
type ErrorResponse struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// BrokerStats read-only operational snapshot
type BrokerStats struct {
	OnlineProducers int `json:"online_producers"`
	OnlineConsumers int `json:"online_consumers"`
	ActiveSessions  int `json:"active_sessions"`
	Connections     int `json:"connections"`
}
