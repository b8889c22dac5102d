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

package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/alwitt/camlink/common"
	"github.com/apex/log"
)

// ClientStatus presence status of a registered client
type ClientStatus string

const (
	// StatusOnline the client is considered live
	StatusOnline ClientStatus = "online"
	// StatusOffline the client is considered not live, pending removal
	StatusOffline ClientStatus = "offline"
)

// ClientEntry one registered producer or consumer
type ClientEntry struct {
	// ClientID unique ID of the client within its role
	ClientID string
	// ConnectionID the transport connection currently serving this client
	ConnectionID string
	// RegisteredAt when the client registered
	RegisteredAt time.Time
	// LastSeenAt when the client last showed activity
	LastSeenAt time.Time
	// Status current presence status
	Status ClientStatus
}

// PresenceRegistry tracks online producers and consumers in two disjoint namespaces.
//
// All reads return copies; the registry owns the authoritative records.
type PresenceRegistry interface {
	RegisterProducer(clientID, connectionID string) (ClientEntry, error)
	RemoveProducer(clientID string) bool
	GetProducer(clientID string) (ClientEntry, bool)
	GetProducerByConnection(connectionID string) (ClientEntry, bool)
	ListOnlineProducers() []ClientEntry
	MarkProducerOffline(clientID string)
	RefreshProducer(clientID string) bool
	IsProducerOnline(clientID string) bool

	RegisterConsumer(clientID, connectionID string) (ClientEntry, error)
	RemoveConsumer(clientID string) bool
	GetConsumer(clientID string) (ClientEntry, bool)
	GetConsumerByConnection(connectionID string) (ClientEntry, bool)
	ListOnlineConsumers() []ClientEntry
	MarkConsumerOffline(clientID string)
	RefreshConsumer(clientID string) bool
	IsConsumerOnline(clientID string) bool
}

// clientIndex by-identity and by-connection indices over one client namespace
type clientIndex struct {
	byID   map[string]ClientEntry
	byConn map[string]string
}

// presenceRegistryImpl implements PresenceRegistry
type presenceRegistryImpl struct {
	common.Component
	lock      sync.RWMutex
	producers clientIndex
	consumers clientIndex
	timestamp func() time.Time
}

// GetPresenceRegistry define a new PresenceRegistry
func GetPresenceRegistry(instance string) (PresenceRegistry, error) {
	logTags := log.Fields{
		"module": "registry", "component": "presence", "instance": instance,
	}
	return &presenceRegistryImpl{
		Component: common.Component{LogTags: logTags},
		producers: clientIndex{byID: map[string]ClientEntry{}, byConn: map[string]string{}},
		consumers: clientIndex{byID: map[string]ClientEntry{}, byConn: map[string]string{}},
		timestamp: time.Now,
	}, nil
}

// register insert or replace an entry. Last-writer-wins on either key.
func (r *presenceRegistryImpl) register(
	idx *clientIndex, clientID, connectionID string,
) (ClientEntry, error) {
	if len(clientID) == 0 || len(connectionID) == 0 {
		return ClientEntry{}, fmt.Errorf("registration requires non-empty client and connection IDs")
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	now := r.timestamp()
	// Drop stale index entries being displaced by this registration
	if existing, ok := idx.byID[clientID]; ok && existing.ConnectionID != connectionID {
		delete(idx.byConn, existing.ConnectionID)
	}
	if otherID, ok := idx.byConn[connectionID]; ok && otherID != clientID {
		delete(idx.byID, otherID)
	}
	entry := ClientEntry{
		ClientID:     clientID,
		ConnectionID: connectionID,
		RegisteredAt: now,
		LastSeenAt:   now,
		Status:       StatusOnline,
	}
	idx.byID[clientID] = entry
	idx.byConn[connectionID] = clientID
	return entry, nil
}

func (r *presenceRegistryImpl) remove(idx *clientIndex, clientID string) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	entry, ok := idx.byID[clientID]
	if !ok {
		return false
	}
	delete(idx.byID, clientID)
	if current, ok := idx.byConn[entry.ConnectionID]; ok && current == clientID {
		delete(idx.byConn, entry.ConnectionID)
	}
	return true
}

func (r *presenceRegistryImpl) get(idx *clientIndex, clientID string) (ClientEntry, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	entry, ok := idx.byID[clientID]
	return entry, ok
}

func (r *presenceRegistryImpl) getByConn(
	idx *clientIndex, connectionID string,
) (ClientEntry, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	clientID, ok := idx.byConn[connectionID]
	if !ok {
		return ClientEntry{}, false
	}
	entry, ok := idx.byID[clientID]
	return entry, ok
}

func (r *presenceRegistryImpl) listOnline(idx *clientIndex) []ClientEntry {
	r.lock.RLock()
	defer r.lock.RUnlock()
	result := make([]ClientEntry, 0, len(idx.byID))
	for _, entry := range idx.byID {
		if entry.Status == StatusOnline {
			result = append(result, entry)
		}
	}
	return result
}

func (r *presenceRegistryImpl) markOffline(idx *clientIndex, clientID string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if entry, ok := idx.byID[clientID]; ok {
		entry.Status = StatusOffline
		idx.byID[clientID] = entry
	}
}

func (r *presenceRegistryImpl) refresh(idx *clientIndex, clientID string) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	entry, ok := idx.byID[clientID]
	if !ok {
		return false
	}
	entry.LastSeenAt = r.timestamp()
	entry.Status = StatusOnline
	idx.byID[clientID] = entry
	return true
}

func (r *presenceRegistryImpl) isOnline(idx *clientIndex, clientID string) bool {
	r.lock.RLock()
	defer r.lock.RUnlock()
	entry, ok := idx.byID[clientID]
	return ok && entry.Status == StatusOnline
}

// RegisterProducer insert or replace a producer entry
func (r *presenceRegistryImpl) RegisterProducer(
	clientID, connectionID string,
) (ClientEntry, error) {
	entry, err := r.register(&r.producers, clientID, connectionID)
	if err == nil {
		log.WithFields(r.LogTags).Debugf("Producer '%s' registered on '%s'", clientID, connectionID)
	}
	return entry, err
}

// RemoveProducer drop a producer entry
func (r *presenceRegistryImpl) RemoveProducer(clientID string) bool {
	return r.remove(&r.producers, clientID)
}

// GetProducer fetch a producer entry by client ID
func (r *presenceRegistryImpl) GetProducer(clientID string) (ClientEntry, bool) {
	return r.get(&r.producers, clientID)
}

// GetProducerByConnection fetch a producer entry by connection ID
func (r *presenceRegistryImpl) GetProducerByConnection(connectionID string) (ClientEntry, bool) {
	return r.getByConn(&r.producers, connectionID)
}

// ListOnlineProducers list all producers currently online
func (r *presenceRegistryImpl) ListOnlineProducers() []ClientEntry {
	return r.listOnline(&r.producers)
}

// MarkProducerOffline flip a producer entry to offline
func (r *presenceRegistryImpl) MarkProducerOffline(clientID string) {
	r.markOffline(&r.producers, clientID)
}

// RefreshProducer update a producer's last seen watermark, flipping it back online
func (r *presenceRegistryImpl) RefreshProducer(clientID string) bool {
	return r.refresh(&r.producers, clientID)
}

// IsProducerOnline whether this producer is registered and online
func (r *presenceRegistryImpl) IsProducerOnline(clientID string) bool {
	return r.isOnline(&r.producers, clientID)
}

// RegisterConsumer insert or replace a consumer entry
func (r *presenceRegistryImpl) RegisterConsumer(
	clientID, connectionID string,
) (ClientEntry, error) {
	entry, err := r.register(&r.consumers, clientID, connectionID)
	if err == nil {
		log.WithFields(r.LogTags).Debugf("Consumer '%s' registered on '%s'", clientID, connectionID)
	}
	return entry, err
}

// RemoveConsumer drop a consumer entry
func (r *presenceRegistryImpl) RemoveConsumer(clientID string) bool {
	return r.remove(&r.consumers, clientID)
}

// GetConsumer fetch a consumer entry by client ID
func (r *presenceRegistryImpl) GetConsumer(clientID string) (ClientEntry, bool) {
	return r.get(&r.consumers, clientID)
}

// GetConsumerByConnection fetch a consumer entry by connection ID
func (r *presenceRegistryImpl) GetConsumerByConnection(connectionID string) (ClientEntry, bool) {
	return r.getByConn(&r.consumers, connectionID)
}

// ListOnlineConsumers list all consumers currently online
func (r *presenceRegistryImpl) ListOnlineConsumers() []ClientEntry {
	return r.listOnline(&r.consumers)
}

// MarkConsumerOffline flip a consumer entry to offline
func (r *presenceRegistryImpl) MarkConsumerOffline(clientID string) {
	r.markOffline(&r.consumers, clientID)
}

// RefreshConsumer update a consumer's last seen watermark, flipping it back online
func (r *presenceRegistryImpl) RefreshConsumer(clientID string) bool {
	return r.refresh(&r.consumers, clientID)
}

// IsConsumerOnline whether this consumer is registered and online
func (r *presenceRegistryImpl) IsConsumerOnline(clientID string) bool {
	return r.isOnline(&r.consumers, clientID)
}
