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
	"testing"
	"time"

	"github.com/alwitt/camlink/common"
	"github.com/alwitt/camlink/registry"
	"github.com/alwitt/camlink/session"
	"github.com/stretchr/testify/assert"
)

func TestHeartbeatTracker(t *testing.T) {
	assert := assert.New(t)

	presence, err := registry.GetPresenceRegistry("testing")
	assert.Nil(err)
	sessions, err := session.GetRegistry("testing")
	assert.Nil(err)

	uut, err := GetTracker(
		"testing", common.HeartbeatConfig{ExpectedInterval: 30, Timeout: 90, ScanInterval: 30},
		presence, sessions,
	)
	assert.Nil(err)
	uutc := uut.(*trackerImpl)

	current := time.Date(2022, 6, 1, 12, 0, 0, 0, time.UTC)
	uutc.timestamp = func() time.Time { return current }

	// Case 0: empty producer ID is refused
	{
		record := uut.RecordPing("")
		assert.False(record.Valid)
	}

	// Case 1: pings are recorded with the tracker clock
	{
		record := uut.RecordPing("cam-1")
		assert.True(record.Valid)
		assert.Equal(current, record.Timestamp)
	}

	// Case 2: nothing expires inside the timeout
	{
		_, err := presence.RegisterProducer("cam-1", "conn-1")
		assert.Nil(err)
		current = current.Add(time.Second * 89)
		assert.Empty(uut.Scan())
		assert.True(presence.IsProducerOnline("cam-1"))
	}

	// Case 3: a silent producer is flipped offline with its session ended
	{
		_, err := presence.RegisterConsumer("mon-1", "conn-2")
		assert.Nil(err)
		_, err = sessions.Create("cam-1", "mon-1", "conn-2")
		assert.Nil(err)
		current = current.Add(time.Second * 2)
		events := uut.Scan()
		assert.Len(events, 1)
		assert.Equal("cam-1", events[0].ProducerID)
		assert.NotNil(events[0].EndedSession)
		assert.Equal("mon-1", events[0].EndedSession.ConsumerID)
		assert.False(presence.IsProducerOnline("cam-1"))
		assert.False(sessions.HasActive("cam-1"))
	}

	// Case 4: an already offline producer is not reported again
	{
		assert.Empty(uut.Scan())
	}

	// Case 5: a fresh ping keeps a producer out of later scans
	{
		_, err := presence.RegisterProducer("cam-2", "conn-3")
		assert.Nil(err)
		uut.RecordPing("cam-2")
		current = current.Add(time.Second * 60)
		uut.RecordPing("cam-2")
		current = current.Add(time.Second * 60)
		assert.Empty(uut.Scan())
		assert.True(presence.IsProducerOnline("cam-2"))
	}

	// Case 6: removed producers drop out of tracking
	{
		uut.Remove("cam-2")
		current = current.Add(time.Hour)
		assert.Empty(uut.Scan())
	}
}
