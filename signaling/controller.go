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
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/alwitt/camlink/auth"
	"github.com/alwitt/camlink/common"
	"github.com/alwitt/camlink/liveness"
	"github.com/alwitt/camlink/ratelimit"
	"github.com/alwitt/camlink/registry"
	"github.com/alwitt/camlink/session"
	"github.com/alwitt/camlink/transport"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
)

// ConnectionController the broker core. Owns every client visible state
// transition between connection accept and connection close.
type ConnectionController interface {
	// NewClient track a freshly accepted connection
	NewClient(conn transport.Connection)
	// ClientClosed run the disconnect cascade for a closed connection
	ClientClosed(conn transport.Connection)
	// HandleInbound process one inbound message from a connection.
	//
	// The transport calls this serially per connection, so two messages from
	// the same client are never processed concurrently.
	HandleInbound(conn transport.Connection, msg transport.Envelope)
	// StartMaintenance start the periodic liveness and session scans
	StartMaintenance() error
	// StopMaintenance stop the periodic scans
	StopMaintenance() error
	// GetStats read-only operational snapshot
	GetStats() BrokerStats
}

// livenessScanRequest task param requesting one heartbeat timeout scan
type livenessScanRequest struct{}

// sessionScanRequest task param requesting one session inactivity scan
type sessionScanRequest struct{}

// connectionControllerImpl implements ConnectionController
type connectionControllerImpl struct {
	common.Component
	hub               transport.Hub
	presence          registry.PresenceRegistry
	sessions          session.Registry
	limiter           ratelimit.Limiter
	tracker           liveness.Tracker
	validate          *validator.Validate
	inactivityTimeout time.Duration
	sessionScanInt    time.Duration
	livenessScanInt   time.Duration
	rootContext       context.Context
	wg                *sync.WaitGroup
	tp                common.TaskProcessor
	livenessTimer     common.IntervalTimer
	sessionTimer      common.IntervalTimer
	timestamp         func() time.Time
}

// GetConnectionController define a new ConnectionController
func GetConnectionController(
	ctxt context.Context,
	wg *sync.WaitGroup,
	hub transport.Hub,
	presence registry.PresenceRegistry,
	sessions session.Registry,
	limiter ratelimit.Limiter,
	tracker liveness.Tracker,
	sessionConfig common.SessionConfig,
	heartbeatConfig common.HeartbeatConfig,
) (ConnectionController, error) {
	if hub == nil || presence == nil || sessions == nil || limiter == nil || tracker == nil {
		return nil, fmt.Errorf("connection controller requires all support components")
	}
	logTags := log.Fields{
		"module": "signaling", "component": "connection-controller",
	}
	tp, err := common.GetNewTaskProcessorInstance("broker-maintenance", 4, ctxt)
	if err != nil {
		return nil, err
	}
	livenessTimer, err := common.GetIntervalTimerInstance("liveness-scan", ctxt, wg)
	if err != nil {
		return nil, err
	}
	sessionTimer, err := common.GetIntervalTimerInstance("session-scan", ctxt, wg)
	if err != nil {
		return nil, err
	}
	instance := &connectionControllerImpl{
		Component:         common.Component{LogTags: logTags},
		hub:               hub,
		presence:          presence,
		sessions:          sessions,
		limiter:           limiter,
		tracker:           tracker,
		validate:          validator.New(),
		inactivityTimeout: time.Second * time.Duration(sessionConfig.InactivityTimeout),
		sessionScanInt:    time.Second * time.Duration(sessionConfig.ScanInterval),
		livenessScanInt:   time.Second * time.Duration(heartbeatConfig.ScanInterval),
		rootContext:       ctxt,
		wg:                wg,
		tp:                tp,
		livenessTimer:     livenessTimer,
		sessionTimer:      sessionTimer,
		timestamp:         time.Now,
	}
	if err := tp.AddToTaskExecutionMap(
		reflect.TypeOf(livenessScanRequest{}), instance.processLivenessScan,
	); err != nil {
		return nil, err
	}
	if err := tp.AddToTaskExecutionMap(
		reflect.TypeOf(sessionScanRequest{}), instance.processSessionScan,
	); err != nil {
		return nil, err
	}
	return instance, nil
}

// ==========================================================================
// Connection lifecycle

// NewClient track a freshly accepted connection
func (c *connectionControllerImpl) NewClient(conn transport.Connection) {
	c.hub.Add(conn)
	log.WithFields(c.LogTags).Infof(
		"Accepted %s connection '%s' for client '%s'",
		conn.Identity().Role, conn.ID(), conn.Identity().ClientID,
	)
}

// ClientClosed run the disconnect cascade for a closed connection
func (c *connectionControllerImpl) ClientClosed(conn transport.Connection) {
	connectionID := conn.ID()
	identity := conn.Identity()
	// Cascades key off the connection, not the client ID. A client which
	// reconnected owns a newer connection; its registration must survive the
	// old connection's close.
	switch identity.Role {
	case auth.RoleProducer:
		if entry, ok := c.presence.GetProducerByConnection(connectionID); ok {
			c.producerGone(entry.ClientID, ReasonProducerDisconnect, ReasonDisconnect)
		}
	case auth.RoleConsumer:
		if entry, ok := c.presence.GetConsumerByConnection(connectionID); ok {
			for _, ended := range c.sessions.EndByConsumerConnection(connectionID) {
				c.announceSessionEnded(ended, ReasonConsumerDisconnect)
			}
			c.presence.RemoveConsumer(entry.ClientID)
		}
	}
	c.limiter.ResetAll(identity.ClientID)
	c.hub.Remove(connectionID)
	log.WithFields(c.LogTags).Infof(
		"Connection '%s' of client '%s' closed", connectionID, identity.ClientID,
	)
}

// producerGone flip a producer offline and cascade onto its session
func (c *connectionControllerImpl) producerGone(
	producerID, sessionReason, offlineReason string,
) {
	c.tracker.Remove(producerID)
	if ended, ok := c.sessions.End(producerID); ok {
		c.announceSessionEnded(ended, sessionReason)
	}
	c.presence.RemoveProducer(producerID)
	c.hub.Publish(GroupConsumers, EventProducerOffline, ProducerOfflineNotification{
		ProducerID: producerID, Reason: offlineReason, Timestamp: c.timestamp(),
	})
}

// announceSessionEnded fan the teardown out to the consumers group
func (c *connectionControllerImpl) announceSessionEnded(ended session.Session, reason string) {
	c.hub.Publish(GroupConsumers, EventSessionEnded, SessionEndedNotification{
		ProducerID: ended.ProducerID,
		ConsumerID: ended.ConsumerID,
		Reason:     reason,
		Timestamp:  c.timestamp(),
	})
}

// ==========================================================================
// Inbound dispatch

// HandleInbound process one inbound message from a connection
func (c *connectionControllerImpl) HandleInbound(conn transport.Connection, msg transport.Envelope) {
	switch msg.Event {
	case EventRegisterProducer:
		c.handleRegisterProducer(conn)
	case EventRegisterConsumer:
		c.handleRegisterConsumer(conn)
	case EventStartMonitoring:
		c.handleStartMonitoring(conn, msg.Payload)
	case EventStopMonitoring:
		c.handleStopMonitoring(conn, msg.Payload)
	case EventOffer, EventAnswer, EventICECandidate:
		c.handleSignaling(conn, msg.Event, msg.Payload)
	case EventHeartbeatPing:
		c.handleHeartbeatPing(conn)
	case EventCrewSignOn, EventCrewSignOff:
		c.handleCrewEvent(conn, msg.Event, msg.Payload)
	case "":
		c.sendError(conn, ErrCodeInvalidRequest, "message could not be decoded", nil)
	default:
		c.sendError(
			conn, ErrCodeInvalidRequest, fmt.Sprintf("unknown event '%s'", msg.Event), nil,
		)
	}
}

// sendError report a structured operational failure to the sender
func (c *connectionControllerImpl) sendError(
	conn transport.Connection, code, message string, details map[string]interface{},
) {
	if err := conn.Send(EventError, ErrorResponse{
		Code: code, Message: message, Timestamp: c.timestamp(), Details: details,
	}); err != nil {
		log.WithError(err).WithFields(c.LogTags).Debugf(
			"Unable to report '%s' to connection '%s'", code, conn.ID(),
		)
	}
}

// decodePayload unmarshal and validate an inbound payload
func (c *connectionControllerImpl) decodePayload(payload json.RawMessage, target interface{}) error {
	if len(payload) == 0 {
		return fmt.Errorf("missing payload")
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return err
	}
	return c.validate.Struct(target)
}

// ==========================================================================
// Registration

// handleRegisterProducer process register-producer
func (c *connectionControllerImpl) handleRegisterProducer(conn transport.Connection) {
	identity := conn.Identity()
	if identity.Role != auth.RoleProducer {
		c.sendError(
			conn, ErrCodeAuthInvalidRole, "connection is not authorized as a producer", nil,
		)
		return
	}
	if _, err := c.presence.RegisterProducer(identity.ClientID, conn.ID()); err != nil {
		log.WithError(err).WithFields(c.LogTags).Errorf(
			"Producer '%s' registration failed", identity.ClientID,
		)
		c.sendError(conn, ErrCodeInternalError, "registration failed", nil)
		return
	}
	c.hub.Join(GroupProducers, conn.ID())
	// Registration counts as the first heartbeat
	c.tracker.RecordPing(identity.ClientID)
	now := c.timestamp()
	if err := conn.Send(EventProducerRegistered, ProducerRegisteredResponse{
		ProducerID: identity.ClientID, Timestamp: now,
	}); err != nil {
		log.WithError(err).WithFields(c.LogTags).Debugf(
			"Producer '%s' registration reply dropped", identity.ClientID,
		)
	}
	c.hub.Publish(GroupConsumers, EventProducerOnline, ProducerOnlineNotification{
		ProducerID: identity.ClientID, Timestamp: now,
	})
}

// handleRegisterConsumer process register-consumer
func (c *connectionControllerImpl) handleRegisterConsumer(conn transport.Connection) {
	identity := conn.Identity()
	if identity.Role != auth.RoleConsumer {
		c.sendError(
			conn, ErrCodeAuthInvalidRole, "connection is not authorized as a consumer", nil,
		)
		return
	}
	if _, err := c.presence.RegisterConsumer(identity.ClientID, conn.ID()); err != nil {
		log.WithError(err).WithFields(c.LogTags).Errorf(
			"Consumer '%s' registration failed", identity.ClientID,
		)
		c.sendError(conn, ErrCodeInternalError, "registration failed", nil)
		return
	}
	c.hub.Join(GroupConsumers, conn.ID())
	online := c.presence.ListOnlineProducers()
	snapshot := make([]OnlineProducer, 0, len(online))
	for _, entry := range online {
		snapshot = append(snapshot, OnlineProducer{
			ProducerID: entry.ClientID, ConnectedAt: entry.RegisteredAt,
		})
	}
	if err := conn.Send(EventConsumerRegistered, ConsumerRegisteredResponse{
		ConsumerID: identity.ClientID, OnlineProducers: snapshot, Timestamp: c.timestamp(),
	}); err != nil {
		log.WithError(err).WithFields(c.LogTags).Debugf(
			"Consumer '%s' registration reply dropped", identity.ClientID,
		)
	}
}

// registeredSender resolve the sender's presence entry by its connection
func (c *connectionControllerImpl) registeredSender(
	conn transport.Connection,
) (registry.ClientEntry, bool) {
	switch conn.Identity().Role {
	case auth.RoleProducer:
		return c.presence.GetProducerByConnection(conn.ID())
	case auth.RoleConsumer:
		return c.presence.GetConsumerByConnection(conn.ID())
	}
	return registry.ClientEntry{}, false
}

// ==========================================================================
// Monitoring sessions

// handleStartMonitoring process start-monitoring
func (c *connectionControllerImpl) handleStartMonitoring(
	conn transport.Connection, payload json.RawMessage,
) {
	if conn.Identity().Role != auth.RoleConsumer {
		c.sendError(
			conn, ErrCodeOperationNotAllowed, "only consumers start monitoring sessions", nil,
		)
		return
	}
	sender, ok := c.registeredSender(conn)
	if !ok {
		c.sendError(conn, ErrCodeClientNotRegistered, "register before starting a session", nil)
		return
	}
	var request StartMonitoringRequest
	if err := c.decodePayload(payload, &request); err != nil {
		c.sendError(conn, ErrCodeInvalidRequest, "start-monitoring requires a producerId", nil)
		return
	}
	if !c.presence.IsProducerOnline(request.ProducerID) {
		c.sendError(
			conn, ErrCodeSessionProducerOffline,
			fmt.Sprintf("producer '%s' is not online", request.ProducerID), nil,
		)
		return
	}
	created, err := c.sessions.Create(request.ProducerID, sender.ClientID, conn.ID())
	if err != nil {
		if existsErr, ok := err.(*session.ExistsError); ok {
			// Restarting your own session is an activity refresh, not a conflict
			if existing, found := c.sessions.Get(request.ProducerID); found &&
				existing.ConsumerConnection == conn.ID() {
				_ = c.sessions.RefreshActivity(request.ProducerID)
				startedAt := existing.StartedAt
				c.reply(conn, EventMonitoringStarted, MonitoringStartedResponse{
					ProducerID: request.ProducerID,
					SessionID:  request.ProducerID,
					StartedAt:  &startedAt,
					Timestamp:  c.timestamp(),
				})
				return
			}
			c.sendError(
				conn, ErrCodeSessionAlreadyExists,
				fmt.Sprintf("producer '%s' is already being monitored", request.ProducerID),
				map[string]interface{}{"existingConsumerId": existsErr.ExistingConsumerID},
			)
			return
		}
		c.sendError(conn, ErrCodeInternalError, "session creation failed", nil)
		return
	}
	c.reply(conn, EventMonitoringStarted, MonitoringStartedResponse{
		ProducerID: created.ProducerID,
		SessionID:  created.ProducerID,
		Timestamp:  c.timestamp(),
	})
}

// handleStopMonitoring process stop-monitoring
func (c *connectionControllerImpl) handleStopMonitoring(
	conn transport.Connection, payload json.RawMessage,
) {
	if conn.Identity().Role != auth.RoleConsumer {
		c.sendError(
			conn, ErrCodeOperationNotAllowed, "only consumers stop monitoring sessions", nil,
		)
		return
	}
	if _, ok := c.registeredSender(conn); !ok {
		c.sendError(conn, ErrCodeClientNotRegistered, "register before stopping a session", nil)
		return
	}
	var request StopMonitoringRequest
	if err := c.decodePayload(payload, &request); err != nil {
		c.sendError(conn, ErrCodeInvalidRequest, "stop-monitoring requires a producerId", nil)
		return
	}
	if !c.sessions.HasActive(request.ProducerID) {
		c.sendError(
			conn, ErrCodeSessionNotFound,
			fmt.Sprintf("no active session on producer '%s'", request.ProducerID), nil,
		)
		return
	}
	if !c.sessions.ValidateOwnership(request.ProducerID, conn.ID()) {
		c.sendError(
			conn, ErrCodeSessionNotAuthorized, "session belongs to another consumer", nil,
		)
		return
	}
	// A deliberate stop is private to the owner; no session-ended broadcast
	c.sessions.End(request.ProducerID)
	c.reply(conn, EventMonitoringStopped, MonitoringStoppedResponse{
		ProducerID: request.ProducerID, Timestamp: c.timestamp(),
	})
}

// reply send a success payload back to the sender
func (c *connectionControllerImpl) reply(
	conn transport.Connection, event string, payload interface{},
) {
	if err := conn.Send(event, payload); err != nil {
		log.WithError(err).WithFields(c.LogTags).Debugf(
			"Reply '%s' to connection '%s' dropped", event, conn.ID(),
		)
	}
}

// ==========================================================================
// Signaling relay

// signalingShape decoded common shape of a signaling message
type signalingShape struct {
	targetID string
	blob     json.RawMessage
}

// decodeSignaling pull the target and blob out of one signaling payload
func (c *connectionControllerImpl) decodeSignaling(
	event string, payload json.RawMessage,
) (signalingShape, error) {
	switch event {
	case EventOffer:
		var request OfferRequest
		if err := c.decodePayload(payload, &request); err != nil {
			return signalingShape{}, err
		}
		return signalingShape{targetID: request.TargetID, blob: request.Offer}, nil
	case EventAnswer:
		var request AnswerRequest
		if err := c.decodePayload(payload, &request); err != nil {
			return signalingShape{}, err
		}
		return signalingShape{targetID: request.TargetID, blob: request.Answer}, nil
	case EventICECandidate:
		var request ICECandidateRequest
		if err := c.decodePayload(payload, &request); err != nil {
			return signalingShape{}, err
		}
		return signalingShape{targetID: request.TargetID, blob: request.Candidate}, nil
	}
	return signalingShape{}, fmt.Errorf("'%s' is not a signaling event", event)
}

// handleSignaling relay offer / answer / ice-candidate to its target
func (c *connectionControllerImpl) handleSignaling(
	conn transport.Connection, event string, payload json.RawMessage,
) {
	sender, registered := c.registeredSender(conn)
	if !registered {
		c.sendError(conn, ErrCodeClientNotRegistered, "register before signaling", nil)
		return
	}
	shape, err := c.decodeSignaling(event, payload)
	if err == nil && string(shape.blob) == "null" {
		// An explicit JSON null passes the required check but carries no body
		err = fmt.Errorf("'%s' payload body is null", event)
	}
	if err != nil {
		c.sendError(
			conn, ErrCodeSignalingMissingData,
			fmt.Sprintf("'%s' requires a targetId and a payload body", event), nil,
		)
		return
	}
	decision := c.limiter.Check(sender.ClientID, event)
	if !decision.Allowed {
		c.sendError(
			conn, ErrCodeRateLimitExceeded,
			fmt.Sprintf("'%s' ceiling of %d per window reached", event, decision.Limit),
			map[string]interface{}{
				"limit":   decision.Limit,
				"resetAt": decision.ResetAt,
			},
		)
		return
	}

	senderRole := conn.Identity().Role
	// Signaling only flows between a producer and a consumer
	var producerID string
	switch senderRole {
	case auth.RoleProducer:
		if _, isProducer := c.presence.GetProducer(shape.targetID); isProducer {
			c.sendError(
				conn, ErrCodeSignalingInvalidPairing, "signaling peers must hold opposite roles", nil,
			)
			return
		}
		if !c.presence.IsConsumerOnline(shape.targetID) {
			c.sendError(
				conn, ErrCodeSignalingInvalidTarget,
				fmt.Sprintf("target '%s' is not available", shape.targetID), nil,
			)
			return
		}
		producerID = sender.ClientID
	case auth.RoleConsumer:
		if _, isConsumer := c.presence.GetConsumer(shape.targetID); isConsumer {
			c.sendError(
				conn, ErrCodeSignalingInvalidPairing, "signaling peers must hold opposite roles", nil,
			)
			return
		}
		if !c.presence.IsProducerOnline(shape.targetID) {
			c.sendError(
				conn, ErrCodeSignalingInvalidTarget,
				fmt.Sprintf("target '%s' is not available", shape.targetID), nil,
			)
			return
		}
		producerID = shape.targetID
	}

	active, hasSession := c.sessions.Get(producerID)
	if !hasSession {
		c.sendError(
			conn, ErrCodeSignalingNoSession,
			fmt.Sprintf("no active session on producer '%s'", producerID), nil,
		)
		return
	}
	authorized := false
	switch senderRole {
	case auth.RoleProducer:
		authorized = active.ConsumerID == shape.targetID
	case auth.RoleConsumer:
		authorized = active.ConsumerConnection == conn.ID()
	}
	if !authorized {
		c.sendError(
			conn, ErrCodeSignalingUnauthorizedSender,
			"sender is not a party to the active session", nil,
		)
		return
	}
	_ = c.sessions.RefreshActivity(producerID)

	delivered := c.forward(event, sender.ClientID, shape)
	if delivered != nil {
		log.WithError(delivered).WithFields(c.LogTags).Warnf(
			"Relay of '%s' from '%s' to '%s' failed", event, sender.ClientID, shape.targetID,
		)
		c.sendError(
			conn, ErrCodeSignalingInvalidTarget,
			fmt.Sprintf("delivery to '%s' failed", shape.targetID), nil,
		)
	}
}

// forward deliver the signaling payload to the target's live connection
func (c *connectionControllerImpl) forward(
	event, fromID string, shape signalingShape,
) error {
	var targetConn string
	if entry, ok := c.presence.GetProducer(shape.targetID); ok {
		targetConn = entry.ConnectionID
	} else if entry, ok := c.presence.GetConsumer(shape.targetID); ok {
		targetConn = entry.ConnectionID
	} else {
		return fmt.Errorf("target '%s' vanished", shape.targetID)
	}
	switch event {
	case EventOffer:
		return c.hub.SendTo(targetConn, EventOffer, OfferForward{FromID: fromID, Offer: shape.blob})
	case EventAnswer:
		return c.hub.SendTo(targetConn, EventAnswer, AnswerForward{FromID: fromID, Answer: shape.blob})
	case EventICECandidate:
		return c.hub.SendTo(
			targetConn, EventICECandidate, ICECandidateForward{FromID: fromID, Candidate: shape.blob},
		)
	}
	return fmt.Errorf("'%s' is not a signaling event", event)
}

// ==========================================================================
// Heartbeat

// handleHeartbeatPing process heartbeat-ping
func (c *connectionControllerImpl) handleHeartbeatPing(conn transport.Connection) {
	if conn.Identity().Role != auth.RoleProducer {
		c.sendError(conn, ErrCodeOperationNotAllowed, "only producers send heartbeats", nil)
		return
	}
	sender, ok := c.registeredSender(conn)
	if !ok {
		c.sendError(conn, ErrCodeClientNotRegistered, "register before sending heartbeats", nil)
		return
	}
	record := c.tracker.RecordPing(sender.ClientID)
	c.presence.RefreshProducer(sender.ClientID)
	c.reply(conn, EventHeartbeatPong, HeartbeatPong{Timestamp: record.Timestamp})
}

// ==========================================================================
// Crew events

// handleCrewEvent process crew-sign-on / crew-sign-off
func (c *connectionControllerImpl) handleCrewEvent(
	conn transport.Connection, event string, payload json.RawMessage,
) {
	if conn.Identity().Role != auth.RoleProducer {
		c.sendError(conn, ErrCodeCrewEventUnauthorized, "only producers report crew events", nil)
		return
	}
	sender, ok := c.registeredSender(conn)
	if !ok {
		c.sendError(conn, ErrCodeClientNotRegistered, "register before reporting crew events", nil)
		return
	}
	var request CrewEventRequest
	if err := c.decodePayload(payload, &request); err != nil {
		c.sendError(
			conn, ErrCodeCrewEventInvalidPayload,
			"crew events require an employeeId and a name", nil,
		)
		return
	}
	decision := c.limiter.Check(sender.ClientID, event)
	if !decision.Allowed {
		c.sendError(
			conn, ErrCodeRateLimitExceeded,
			fmt.Sprintf("'%s' ceiling of %d per window reached", event, decision.Limit),
			map[string]interface{}{
				"limit":   decision.Limit,
				"resetAt": decision.ResetAt,
			},
		)
		return
	}
	eventTime := c.timestamp()
	if request.Timestamp != nil {
		eventTime = *request.Timestamp
	}
	// The broadcast attributes the event to the authenticated sender, never
	// to whatever producerId the payload claimed
	c.hub.Publish(GroupConsumers, event, CrewEventBroadcast{
		EmployeeID: request.EmployeeID,
		Name:       request.Name,
		Timestamp:  eventTime,
		ProducerID: sender.ClientID,
		EventType:  event,
	})
	ackEvent := EventCrewSignOnAck
	if event == EventCrewSignOff {
		ackEvent = EventCrewSignOffAck
	}
	c.reply(conn, ackEvent, CrewEventAck{
		EmployeeID: request.EmployeeID, Timestamp: c.timestamp(),
	})
}

// ==========================================================================
// Periodic maintenance

// StartMaintenance start the periodic liveness and session scans
func (c *connectionControllerImpl) StartMaintenance() error {
	if err := c.tp.StartEventLoop(c.wg); err != nil {
		return err
	}
	if err := c.livenessTimer.Start(c.livenessScanInt, func() error {
		return c.tp.Submit(c.rootContext, livenessScanRequest{})
	}); err != nil {
		return err
	}
	return c.sessionTimer.Start(c.sessionScanInt, func() error {
		return c.tp.Submit(c.rootContext, sessionScanRequest{})
	})
}

// StopMaintenance stop the periodic scans
func (c *connectionControllerImpl) StopMaintenance() error {
	_ = c.livenessTimer.Stop()
	_ = c.sessionTimer.Stop()
	return c.tp.StopEventLoop()
}

// processLivenessScan run one heartbeat timeout scan and announce the fallout
func (c *connectionControllerImpl) processLivenessScan(param interface{}) error {
	if _, ok := param.(livenessScanRequest); !ok {
		return fmt.Errorf("unexpected param type %s", reflect.TypeOf(param))
	}
	for _, event := range c.tracker.Scan() {
		c.hub.Publish(GroupConsumers, EventProducerOffline, ProducerOfflineNotification{
			ProducerID: event.ProducerID,
			Reason:     ReasonHeartbeatTimeout,
			Timestamp:  c.timestamp(),
		})
		if event.EndedSession != nil {
			c.announceSessionEnded(*event.EndedSession, ReasonProducerTimeout)
		}
	}
	return nil
}

// processSessionScan reap sessions idle past the inactivity timeout
func (c *connectionControllerImpl) processSessionScan(param interface{}) error {
	if _, ok := param.(sessionScanRequest); !ok {
		return fmt.Errorf("unexpected param type %s", reflect.TypeOf(param))
	}
	for _, idle := range c.sessions.ScanTimedOut(c.inactivityTimeout) {
		ended, ok := c.sessions.End(idle.ProducerID)
		if !ok {
			continue
		}
		log.WithFields(c.LogTags).Infof(
			"Reaped idle session on producer '%s'", ended.ProducerID,
		)
		if err := c.hub.SendTo(
			ended.ConsumerConnection, EventSessionTimeout, SessionTimeoutNotification{
				ProducerID: ended.ProducerID, Timestamp: c.timestamp(),
			},
		); err != nil {
			log.WithError(err).WithFields(c.LogTags).Debugf(
				"Timeout notice to connection '%s' dropped", ended.ConsumerConnection,
			)
		}
		c.announceSessionEnded(ended, ReasonSessionTimeout)
	}
	return nil
}

// ==========================================================================
// Introspection

// GetStats read-only operational snapshot
func (c *connectionControllerImpl) GetStats() BrokerStats {
	return BrokerStats{
		OnlineProducers: len(c.presence.ListOnlineProducers()),
		OnlineConsumers: len(c.presence.ListOnlineConsumers()),
		ActiveSessions:  c.sessions.CountActive(),
		Connections:     c.hub.ConnectionCount(),
	}
}
