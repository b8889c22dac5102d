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
	"fmt"

	"github.com/alwitt/camlink/common"
	"github.com/apex/log"
	"github.com/golang-jwt/jwt/v4"
)

// Role the client population role carried by a verified token
type Role string

const (
	// RoleProducer camera side client. Owns a stream, emits crew events, heartbeats.
	RoleProducer Role = "producer"
	// RoleConsumer monitoring side client. Claims sessions on producers.
	RoleConsumer Role = "consumer"
)

// Identity authenticated identity extracted from a handshake token
type Identity struct {
	// ClientID unique ID of the client within its role
	ClientID string
	// Role the client role
	Role Role
}

// TokenVerifier verifies opaque handshake tokens into client identities
type TokenVerifier interface {
	Verify(token string) (Identity, error)
}

// signalTokenClaims the JWT claims carried by a handshake token
type signalTokenClaims struct {
	jwt.RegisteredClaims
	// Role the client role claim
	Role string `json:"role"`
}

// jwtTokenVerifierImpl implements TokenVerifier over HS256 JWTs
type jwtTokenVerifierImpl struct {
	common.Component
	secret []byte
}

// GetJWTTokenVerifier define a new HS256 JWT based TokenVerifier
func GetJWTTokenVerifier(config common.AuthConfig) (TokenVerifier, error) {
	if len(config.TokenSecret) == 0 {
		return nil, fmt.Errorf("token verifier requires a non-empty secret")
	}
	logTags := log.Fields{
		"module": "auth", "component": "jwt-verifier",
	}
	return &jwtTokenVerifierImpl{
		Component: common.Component{LogTags: logTags},
		secret:    []byte(config.TokenSecret),
	}, nil
}

// Verify parse and validate a handshake token, returning the client identity
func (v *jwtTokenVerifierImpl) Verify(token string) (Identity, error) {
	claims := signalTokenClaims{}
	parsed, err := jwt.ParseWithClaims(
		token, &claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected token signing method %s", t.Method.Alg())
			}
			return v.secret, nil
		},
	)
	if err != nil {
		log.WithError(err).WithFields(v.LogTags).Debug("Token rejected")
		return Identity{}, err
	}
	if !parsed.Valid {
		return Identity{}, fmt.Errorf("token failed validation")
	}
	if len(claims.Subject) == 0 {
		return Identity{}, fmt.Errorf("token missing subject claim")
	}
	switch Role(claims.Role) {
	case RoleProducer, RoleConsumer:
	default:
		return Identity{}, fmt.Errorf("token carries unknown role '%s'", claims.Role)
	}
	return Identity{ClientID: claims.Subject, Role: Role(claims.Role)}, nil
}
