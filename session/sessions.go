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

package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/alwitt/camlink/common"
	"github.com/apex/log"
)

// Status lifecycle status of a monitoring session
type Status string

const (
	// StatusActive the session is live
	StatusActive Status = "active"
	// StatusEnded the session has been torn down
	StatusEnded Status = "ended"
)

// Session a consumer's exclusive monitoring claim on one producer
type Session struct {
	// ProducerID the producer being monitored. Keys the session.
	ProducerID string
	// ConsumerID the consumer holding the claim
	ConsumerID string
	// ConsumerConnection the transport connection the claim was made from
	ConsumerConnection string
	// StartedAt when the session was created
	StartedAt time.Time
	// LastActivityAt watermark of the most recent signaling traffic
	LastActivityAt time.Time
	// Status current session status
	Status Status
}

// ExistsError returned when a producer already has an active session
type ExistsError struct {
	// ProducerID the contested producer
	ProducerID string
	// ExistingConsumerID the consumer holding the current claim
	ExistingConsumerID string
}

// Error implement error
func (e *ExistsError) Error() string {
	return fmt.Sprintf(
		"producer '%s' already monitored by consumer '%s'", e.ProducerID, e.ExistingConsumerID,
	)
}

// Registry tracks active monitoring sessions, at most one per producer
type Registry interface {
	// Create start a new session. Fails with *ExistsError if the producer
	// already has an active session.
	Create(producerID, consumerID, consumerConnection string) (Session, error)
	// End atomically remove and return the session keyed by this producer
	End(producerID string) (Session, bool)
	// EndByConsumerConnection end every session created from this connection
	EndByConsumerConnection(consumerConnection string) []Session
	// Get fetch the active session keyed by this producer
	Get(producerID string) (Session, bool)
	// HasActive whether this producer has an active session
	HasActive(producerID string) bool
	// ValidateOwnership whether the active session for this producer was
	// created from this exact connection
	ValidateOwnership(producerID, consumerConnection string) bool
	// RefreshActivity update the activity watermark of an active session
	RefreshActivity(producerID string) bool
	// ScanTimedOut list active sessions idle longer than the threshold.
	// Pure read; the caller decides to end them.
	ScanTimedOut(threshold time.Duration) []Session
	// CountActive number of active sessions
	CountActive() int
}

// registryImpl implements Registry
type registryImpl struct {
	common.Component
	lock       sync.Mutex
	byProducer map[string]Session
	timestamp  func() time.Time
}

// GetRegistry define a new session Registry
func GetRegistry(instance string) (Registry, error) {
	logTags := log.Fields{
		"module": "session", "component": "registry", "instance": instance,
	}
	return &registryImpl{
		Component:  common.Component{LogTags: logTags},
		byProducer: map[string]Session{},
		timestamp:  time.Now,
	}, nil
}

// Create start a new session for a producer
func (r *registryImpl) Create(
	producerID, consumerID, consumerConnection string,
) (Session, error) {
	if len(producerID) == 0 || len(consumerID) == 0 || len(consumerConnection) == 0 {
		return Session{}, fmt.Errorf("session requires producer, consumer, and connection IDs")
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	if existing, ok := r.byProducer[producerID]; ok {
		return Session{}, &ExistsError{
			ProducerID: producerID, ExistingConsumerID: existing.ConsumerID,
		}
	}
	now := r.timestamp()
	newSession := Session{
		ProducerID:         producerID,
		ConsumerID:         consumerID,
		ConsumerConnection: consumerConnection,
		StartedAt:          now,
		LastActivityAt:     now,
		Status:             StatusActive,
	}
	r.byProducer[producerID] = newSession
	log.WithFields(r.LogTags).Infof(
		"Consumer '%s' started monitoring producer '%s'", consumerID, producerID,
	)
	return newSession, nil
}

// End remove and return the session keyed by this producer
func (r *registryImpl) End(producerID string) (Session, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	existing, ok := r.byProducer[producerID]
	if !ok {
		return Session{}, false
	}
	delete(r.byProducer, producerID)
	existing.Status = StatusEnded
	log.WithFields(r.LogTags).Infof(
		"Session on producer '%s' by consumer '%s' ended", producerID, existing.ConsumerID,
	)
	return existing, true
}

// EndByConsumerConnection end every session created from this connection
func (r *registryImpl) EndByConsumerConnection(consumerConnection string) []Session {
	r.lock.Lock()
	defer r.lock.Unlock()
	ended := []Session{}
	for producerID, existing := range r.byProducer {
		if existing.ConsumerConnection == consumerConnection {
			delete(r.byProducer, producerID)
			existing.Status = StatusEnded
			ended = append(ended, existing)
		}
	}
	if len(ended) > 0 {
		log.WithFields(r.LogTags).Infof(
			"Ended %d sessions held by connection '%s'", len(ended), consumerConnection,
		)
	}
	return ended
}

// Get fetch the active session keyed by this producer
func (r *registryImpl) Get(producerID string) (Session, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	existing, ok := r.byProducer[producerID]
	return existing, ok
}

// HasActive whether this producer has an active session
func (r *registryImpl) HasActive(producerID string) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	_, ok := r.byProducer[producerID]
	return ok
}

// ValidateOwnership whether the producer's session belongs to this connection
func (r *registryImpl) ValidateOwnership(producerID, consumerConnection string) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	existing, ok := r.byProducer[producerID]
	return ok && existing.ConsumerConnection == consumerConnection
}

// RefreshActivity update the activity watermark of an active session
func (r *registryImpl) RefreshActivity(producerID string) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	existing, ok := r.byProducer[producerID]
	if !ok {
		return false
	}
	now := r.timestamp()
	// The watermark never moves backwards
	if now.After(existing.LastActivityAt) {
		existing.LastActivityAt = now
		r.byProducer[producerID] = existing
	}
	return true
}

// ScanTimedOut list active sessions idle longer than the threshold
func (r *registryImpl) ScanTimedOut(threshold time.Duration) []Session {
	r.lock.Lock()
	defer r.lock.Unlock()
	now := r.timestamp()
	result := []Session{}
	for _, existing := range r.byProducer {
		if now.Sub(existing.LastActivityAt) > threshold {
			result = append(result, existing)
		}
	}
	return result
}

// CountActive number of active sessions
func (r *registryImpl) CountActive() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.byProducer)
}
