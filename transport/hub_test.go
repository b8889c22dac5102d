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
	"fmt"
	"sync"
	"testing"

	"github.com/alwitt/camlink/auth"
	"github.com/stretchr/testify/assert"
)

// testConnection an in-memory Connection capturing outbound messages
type testConnection struct {
	id       string
	identity auth.Identity
	lock     sync.Mutex
	sent     []string
	failSend bool
	closed   bool
}

func newTestConnection(id string, role auth.Role) *testConnection {
	return &testConnection{
		id: id, identity: auth.Identity{ClientID: fmt.Sprintf("client-%s", id), Role: role},
	}
}

func (c *testConnection) ID() string { return c.id }

func (c *testConnection) Identity() auth.Identity { return c.identity }

func (c *testConnection) Send(event string, payload interface{}) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.failSend {
		return fmt.Errorf("send refused")
	}
	c.sent = append(c.sent, event)
	return nil
}

func (c *testConnection) Close() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.closed = true
	return nil
}

func (c *testConnection) sentEvents() []string {
	c.lock.Lock()
	defer c.lock.Unlock()
	result := make([]string, len(c.sent))
	copy(result, c.sent)
	return result
}

func TestHubConnectionTracking(t *testing.T) {
	assert := assert.New(t)

	uut, err := GetHub("testing")
	assert.Nil(err)

	conn1 := newTestConnection("conn-1", auth.RoleProducer)
	conn2 := newTestConnection("conn-2", auth.RoleConsumer)

	// Case 1: track connections
	{
		uut.Add(conn1)
		uut.Add(conn2)
		assert.Equal(2, uut.ConnectionCount())
		fetched, ok := uut.Get("conn-1")
		assert.True(ok)
		assert.Equal("conn-1", fetched.ID())
	}

	// Case 2: direct send reaches only the target
	{
		assert.Nil(uut.SendTo("conn-2", "hello", nil))
		assert.Empty(conn1.sentEvents())
		assert.Equal([]string{"hello"}, conn2.sentEvents())
		assert.NotNil(uut.SendTo("conn-9", "hello", nil))
	}

	// Case 3: removal drops the connection
	{
		uut.Remove("conn-1")
		assert.Equal(1, uut.ConnectionCount())
		_, ok := uut.Get("conn-1")
		assert.False(ok)
	}
}

func TestHubGroupPublish(t *testing.T) {
	assert := assert.New(t)

	uut, err := GetHub("testing")
	assert.Nil(err)

	conn1 := newTestConnection("conn-1", auth.RoleConsumer)
	conn2 := newTestConnection("conn-2", auth.RoleConsumer)
	conn3 := newTestConnection("conn-3", auth.RoleProducer)
	uut.Add(conn1)
	uut.Add(conn2)
	uut.Add(conn3)
	uut.Join("consumers", "conn-1")
	uut.Join("consumers", "conn-2")
	uut.Join("producers", "conn-3")

	// Case 1: publish reaches all group members and nobody else
	{
		uut.Publish("consumers", "update", nil)
		assert.Equal([]string{"update"}, conn1.sentEvents())
		assert.Equal([]string{"update"}, conn2.sentEvents())
		assert.Empty(conn3.sentEvents())
	}

	// Case 2: per-recipient send failure does not block the rest
	{
		conn1.failSend = true
		uut.Publish("consumers", "second", nil)
		assert.Equal([]string{"update"}, conn1.sentEvents())
		assert.Equal([]string{"update", "second"}, conn2.sentEvents())
	}

	// Case 3: leaving the group stops delivery
	{
		uut.Leave("consumers", "conn-2")
		uut.Publish("consumers", "third", nil)
		assert.Equal([]string{"update", "second"}, conn2.sentEvents())
	}

	// Case 4: removing a connection purges its memberships
	{
		uut.Join("consumers", "conn-2")
		uut.Remove("conn-2")
		uut.Publish("consumers", "fourth", nil)
		assert.Equal([]string{"update", "second"}, conn2.sentEvents())
	}

	// Case 5: publish on an unknown group is a no-op
	{
		uut.Publish("nobody", "fifth", nil)
	}

	// Case 6: close all tears down every tracked connection
	{
		uut.CloseAll()
		assert.True(conn3.closed)
	}
}
