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

package liveness

import (
	"fmt"
	"sync"
	"time"

	"github.com/alwitt/camlink/common"
	"github.com/alwitt/camlink/registry"
	"github.com/alwitt/camlink/session"
	"github.com/apex/log"
)

// PingRecord result of recording a producer heartbeat
type PingRecord struct {
	// Valid whether the ping was accepted
	Valid bool
	// Timestamp when the ping was recorded
	Timestamp time.Time
}

// TimeoutEvent one producer flipped offline by a timeout scan
type TimeoutEvent struct {
	// ProducerID the producer which went silent
	ProducerID string
	// LastPing the last heartbeat received from it
	LastPing time.Time
	// EndedSession the session torn down by the cascade, if one existed
	EndedSession *session.Session
}

// Tracker tracks producer heartbeats and drives the timeout cascade
type Tracker interface {
	// RecordPing store the current time as the producer's last heartbeat
	RecordPing(producerID string) PingRecord
	// Remove drop the producer's heartbeat entry
	Remove(producerID string)
	// Scan flip producers silent past the timeout to offline, ending their
	// sessions. Returns the resulting events for the caller to announce.
	Scan() []TimeoutEvent
}

// trackerImpl implements Tracker
type trackerImpl struct {
	common.Component
	lock      sync.Mutex
	lastPing  map[string]time.Time
	timeout   time.Duration
	presence  registry.PresenceRegistry
	sessions  session.Registry
	timestamp func() time.Time
}

// GetTracker define a new heartbeat Tracker
func GetTracker(
	instance string,
	config common.HeartbeatConfig,
	presence registry.PresenceRegistry,
	sessions session.Registry,
) (Tracker, error) {
	if presence == nil || sessions == nil {
		return nil, fmt.Errorf("heartbeat tracker requires presence and session registries")
	}
	logTags := log.Fields{
		"module": "liveness", "component": "heartbeat-tracker", "instance": instance,
	}
	return &trackerImpl{
		Component: common.Component{LogTags: logTags},
		lastPing:  map[string]time.Time{},
		timeout:   time.Second * time.Duration(config.Timeout),
		presence:  presence,
		sessions:  sessions,
		timestamp: time.Now,
	}, nil
}

// RecordPing store the current time as the producer's last heartbeat
func (t *trackerImpl) RecordPing(producerID string) PingRecord {
	if len(producerID) == 0 {
		return PingRecord{Valid: false, Timestamp: t.timestamp()}
	}
	t.lock.Lock()
	defer t.lock.Unlock()
	now := t.timestamp()
	t.lastPing[producerID] = now
	return PingRecord{Valid: true, Timestamp: now}
}

// Remove drop the producer's heartbeat entry
func (t *trackerImpl) Remove(producerID string) {
	t.lock.Lock()
	defer t.lock.Unlock()
	delete(t.lastPing, producerID)
}

// expired list producers whose last ping is older than the timeout
func (t *trackerImpl) expired() map[string]time.Time {
	t.lock.Lock()
	defer t.lock.Unlock()
	now := t.timestamp()
	result := map[string]time.Time{}
	for producerID, seen := range t.lastPing {
		if now.Sub(seen) > t.timeout {
			result[producerID] = seen
		}
	}
	return result
}

// Scan flip silent producers offline and end their sessions
func (t *trackerImpl) Scan() []TimeoutEvent {
	events := []TimeoutEvent{}
	for producerID, lastPing := range t.expired() {
		if !t.presence.IsProducerOnline(producerID) {
			continue
		}
		log.WithFields(t.LogTags).Warnf(
			"Producer '%s' silent since %s, marking offline", producerID, lastPing,
		)
		t.presence.MarkProducerOffline(producerID)
		event := TimeoutEvent{ProducerID: producerID, LastPing: lastPing}
		if ended, ok := t.sessions.End(producerID); ok {
			event.EndedSession = &ended
		}
		events = append(events, event)
	}
	return events
}
