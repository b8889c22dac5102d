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

package ratelimit

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/alwitt/camlink/common"
	"github.com/apex/log"
)

// Decision outcome of a rate limit check
type Decision struct {
	// Allowed whether the event may proceed
	Allowed bool
	// Current number of events counted in the window, including this one if allowed
	Current int
	// Limit the ceiling for this event kind
	Limit int
	// ResetAt when the window frees up again
	ResetAt time.Time
}

// Limiter per-(client, event kind) sliding window rate limiter
type Limiter interface {
	// Check count an event against the window. If allowed, the event is recorded.
	Check(clientID, eventKind string) Decision
	// ResetAll drop every counter belonging to this client
	ResetAll(clientID string)
}

// slidingWindowLimiterImpl implements Limiter
type slidingWindowLimiterImpl struct {
	common.Component
	lock           sync.Mutex
	window         time.Duration
	ceilings       map[string]int
	defaultCeiling int
	counters       map[string][]time.Time
	timestamp      func() time.Time
}

// GetSlidingWindowLimiter define a new sliding window Limiter
func GetSlidingWindowLimiter(
	instance string, config common.RateLimitConfig,
) (Limiter, error) {
	if config.WindowSec < 1 {
		return nil, fmt.Errorf("rate limit window must be at least one second")
	}
	logTags := log.Fields{
		"module": "ratelimit", "component": "sliding-window", "instance": instance,
	}
	return &slidingWindowLimiterImpl{
		Component: common.Component{LogTags: logTags},
		window:    time.Second * time.Duration(config.WindowSec),
		ceilings: map[string]int{
			"offer":         config.Offer,
			"answer":        config.Answer,
			"ice-candidate": config.ICECandidate,
			"crew-sign-on":  config.CrewSignOn,
			"crew-sign-off": config.CrewSignOff,
		},
		defaultCeiling: config.Default,
		counters:       map[string][]time.Time{},
		timestamp:      time.Now,
	}, nil
}

// counterKey the (client, event kind) counter key
func counterKey(clientID, eventKind string) string {
	return fmt.Sprintf("%s:%s", clientID, eventKind)
}

// Check count an event against the window
func (l *slidingWindowLimiterImpl) Check(clientID, eventKind string) Decision {
	limit, ok := l.ceilings[eventKind]
	if !ok {
		limit = l.defaultCeiling
	}

	l.lock.Lock()
	defer l.lock.Unlock()
	now := l.timestamp()
	cutoff := now.Add(-l.window)
	key := counterKey(clientID, eventKind)

	// Lazily prune entries which have fallen out of the window
	retained := l.counters[key][:0]
	for _, seen := range l.counters[key] {
		if seen.After(cutoff) {
			retained = append(retained, seen)
		}
	}

	resetAt := func() time.Time {
		if len(retained) > 0 {
			return retained[0].Add(l.window)
		}
		return now.Add(l.window)
	}()

	if len(retained) >= limit {
		l.counters[key] = retained
		log.WithFields(l.LogTags).Debugf(
			"Client '%s' over '%s' ceiling %d", clientID, eventKind, limit,
		)
		return Decision{Allowed: false, Current: len(retained), Limit: limit, ResetAt: resetAt}
	}

	retained = append(retained, now)
	l.counters[key] = retained
	return Decision{Allowed: true, Current: len(retained), Limit: limit, ResetAt: resetAt}
}

// ResetAll drop every counter belonging to this client
func (l *slidingWindowLimiterImpl) ResetAll(clientID string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	prefix := fmt.Sprintf("%s:", clientID)
	for key := range l.counters {
		if strings.HasPrefix(key, prefix) {
			delete(l.counters, key)
		}
	}
}
