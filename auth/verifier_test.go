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

package auth

import (
	"testing"
	"time"

	"github.com/alwitt/camlink/common"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
)

func signTestToken(
	t *testing.T, secret, subject, role string, expiresIn time.Duration,
) string {
	claims := signalTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		},
		Role: role,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	assert.Nil(t, err)
	return signed
}

func TestJWTTokenVerifier(t *testing.T) {
	assert := assert.New(t)

	secret := "unit-test-secret"
	uut, err := GetJWTTokenVerifier(common.AuthConfig{TokenSecret: secret})
	assert.Nil(err)

	// Case 0: empty secret is rejected at construction
	{
		_, err := GetJWTTokenVerifier(common.AuthConfig{})
		assert.NotNil(err)
	}

	// Case 1: valid producer token
	{
		token := signTestToken(t, secret, "camera-01", "producer", time.Hour)
		identity, err := uut.Verify(token)
		assert.Nil(err)
		assert.Equal("camera-01", identity.ClientID)
		assert.Equal(RoleProducer, identity.Role)
	}

	// Case 2: valid consumer token
	{
		token := signTestToken(t, secret, "monitor-01", "consumer", time.Hour)
		identity, err := uut.Verify(token)
		assert.Nil(err)
		assert.Equal("monitor-01", identity.ClientID)
		assert.Equal(RoleConsumer, identity.Role)
	}

	// Case 3: wrong signing secret
	{
		token := signTestToken(t, "other-secret", "camera-01", "producer", time.Hour)
		_, err := uut.Verify(token)
		assert.NotNil(err)
	}

	// Case 4: expired token
	{
		token := signTestToken(t, secret, "camera-01", "producer", -time.Hour)
		_, err := uut.Verify(token)
		assert.NotNil(err)
	}

	// Case 5: missing subject
	{
		token := signTestToken(t, secret, "", "producer", time.Hour)
		_, err := uut.Verify(token)
		assert.NotNil(err)
	}

	// Case 6: unknown role
	{
		token := signTestToken(t, secret, "camera-01", "admin", time.Hour)
		_, err := uut.Verify(token)
		assert.NotNil(err)
	}

	// Case 7: garbage token
	{
		_, err := uut.Verify("not-a-token")
		assert.NotNil(err)
	}
}
