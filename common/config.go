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

package common

import "github.com/spf13/viper"

// ===============================================================================
// Auth Related Config

// AuthConfig defines parameters for verifying client handshake tokens
type AuthConfig struct {
	// TokenSecret is the HMAC secret used to verify handshake JWTs
	TokenSecret string `mapstructure:"token_secret" json:"-" validate:"required"`
}

// ===============================================================================
// HTTP Related Config

// HTTPServerConfig defines the HTTP server parameters
type HTTPServerConfig struct {
	// ListenOn is the interface the HTTP server will listen on
	ListenOn string `mapstructure:"listen_on" json:"listen_on" validate:"required,ip"`
	// Port is the port the HTTP server will listen on
	Port uint16 `mapstructure:"listen_port" json:"listen_port" validate:"required,gt=0,lt=65536"`
	// ReadTimeout is the maximum duration for reading the entire
	// request, including the body in seconds. A zero or negative
	// value means there will be no timeout.
	ReadTimeout int `mapstructure:"read_timeout_sec" json:"read_timeout_sec" validate:"gte=0"`
	// WriteTimeout is the maximum duration before timing out
	// writes of the response in seconds. A zero or negative value
	// means there will be no timeout.
	WriteTimeout int `mapstructure:"write_timeout_sec" json:"write_timeout_sec" validate:"gte=0"`
	// IdleTimeout is the maximum amount of time to wait for the
	// next request when keep-alives are enabled in seconds. If
	// IdleTimeout is zero, the value of ReadTimeout is used. If
	// both are zero, there is no timeout.
	IdleTimeout int `mapstructure:"idle_timeout_sec" json:"idle_timeout_sec" validate:"gte=0"`
}

// HTTPRequestLogging defines HTTP request logging parameters
type HTTPRequestLogging struct {
	// RequestIDHeader is the HTTP header containing the API request ID
	RequestIDHeader string `mapstructure:"request_id_header" json:"request_id_header"`
	// DoNotLogHeaders is the list of headers to not include in logging metadata
	DoNotLogHeaders []string `mapstructure:"do_not_log_headers" json:"do_not_log_headers"`
}

// HTTPConfig defines HTTP API / server parameters
type HTTPConfig struct {
	// Server defines HTTP server parameters
	Server HTTPServerConfig `mapstructure:"server_config" json:"server_config" validate:"required,dive"`
	// Logging defines operation logging parameters
	Logging HTTPRequestLogging `mapstructure:"logging_config" json:"logging_config" validate:"required,dive"`
	// CORSAllowedOrigin is the origin allowed on cross-origin requests. "*" allows any.
	CORSAllowedOrigin string `mapstructure:"cors_allowed_origin" json:"cors_allowed_origin" validate:"required"`
	// PathPrefix is the end-point path prefix for the APIs
	PathPrefix string `mapstructure:"path_prefix" json:"path_prefix" validate:"required"`
}

// ===============================================================================
// Websocket Transport Related Config

// WebsocketConfig defines websocket connection handling parameters
type WebsocketConfig struct {
	// MaxMessageBytes is the read limit applied to inbound frames
	MaxMessageBytes int64 `mapstructure:"max_message_bytes" json:"max_message_bytes" validate:"gte=1024"`
	// SendBufferLen is the per-connection outbound message buffer depth.
	//
	// Sends against a full buffer are dropped, never blocked on.
	SendBufferLen int `mapstructure:"send_buffer_len" json:"send_buffer_len" validate:"gte=1"`
	// WriteTimeout is the max duration of a single frame write in seconds
	WriteTimeout int `mapstructure:"write_timeout_sec" json:"write_timeout_sec" validate:"gte=1"`
	// PingInterval is the duration between protocol level pings in seconds
	PingInterval int `mapstructure:"ping_interval_sec" json:"ping_interval_sec" validate:"gte=1"`
	// PongTimeout is the max duration to wait for a protocol level pong in seconds
	PongTimeout int `mapstructure:"pong_timeout_sec" json:"pong_timeout_sec" validate:"gte=1"`
}

// ===============================================================================
// Session Related Config

// SessionConfig defines monitoring session management parameters
type SessionConfig struct {
	// InactivityTimeout is the max duration in seconds a session can go without
	// signaling traffic before being reaped
	InactivityTimeout int `mapstructure:"inactivity_timeout_sec" json:"inactivity_timeout_sec" validate:"gte=1"`
	// ScanInterval is the duration between inactivity scans in seconds
	ScanInterval int `mapstructure:"scan_interval_sec" json:"scan_interval_sec" validate:"gte=1"`
}

// ===============================================================================
// Heartbeat Related Config

// HeartbeatConfig defines producer liveness tracking parameters
type HeartbeatConfig struct {
	// ExpectedInterval is the expected producer ping interval in seconds
	ExpectedInterval int `mapstructure:"expected_interval_sec" json:"expected_interval_sec" validate:"gte=1"`
	// Timeout is the silence duration in seconds after which a producer is offline
	Timeout int `mapstructure:"timeout_sec" json:"timeout_sec" validate:"gte=1"`
	// ScanInterval is the duration between timeout scans in seconds
	ScanInterval int `mapstructure:"scan_interval_sec" json:"scan_interval_sec" validate:"gte=1"`
}

// ===============================================================================
// Rate Limit Related Config

// RateLimitConfig defines per-client event rate ceilings over a sliding window
type RateLimitConfig struct {
	// WindowSec is the sliding window length in seconds
	WindowSec int `mapstructure:"window_sec" json:"window_sec" validate:"gte=1"`
	// Offer is the ceiling for offer messages per window
	Offer int `mapstructure:"offer" json:"offer" validate:"gte=1"`
	// Answer is the ceiling for answer messages per window
	Answer int `mapstructure:"answer" json:"answer" validate:"gte=1"`
	// ICECandidate is the ceiling for ICE candidate messages per window
	ICECandidate int `mapstructure:"ice_candidate" json:"ice_candidate" validate:"gte=1"`
	// CrewSignOn is the ceiling for crew sign-on events per window
	CrewSignOn int `mapstructure:"crew_sign_on" json:"crew_sign_on" validate:"gte=1"`
	// CrewSignOff is the ceiling for crew sign-off events per window
	CrewSignOff int `mapstructure:"crew_sign_off" json:"crew_sign_off" validate:"gte=1"`
	// Default is the ceiling applied to any other event kind per window
	Default int `mapstructure:"default" json:"default" validate:"gte=1"`
}

// ===============================================================================
// Complete Config

// SystemConfig defines the complete system config for the signaling server
type SystemConfig struct {
	// Auth are the handshake token verification configs
	Auth AuthConfig `mapstructure:"auth" json:"auth" validate:"required,dive"`
	// API are the HTTP API server configs
	API HTTPConfig `mapstructure:"api" json:"api" validate:"required,dive"`
	// Websocket are the websocket transport configs
	Websocket WebsocketConfig `mapstructure:"websocket" json:"websocket" validate:"required,dive"`
	// Session are the monitoring session configs
	Session SessionConfig `mapstructure:"session" json:"session" validate:"required,dive"`
	// Heartbeat are the producer liveness configs
	Heartbeat HeartbeatConfig `mapstructure:"heartbeat" json:"heartbeat" validate:"required,dive"`
	// RateLimit are the signaling rate limit configs
	RateLimit RateLimitConfig `mapstructure:"rate_limit" json:"rate_limit" validate:"required,dive"`
}

// ===============================================================================

// InstallDefaultConfigValues installs default config parameters in viper
func InstallDefaultConfigValues() {
	// Default API server settings
	viper.SetDefault("api.path_prefix", "/")
	viper.SetDefault("api.cors_allowed_origin", "*")
	viper.SetDefault("api.server_config.listen_on", "0.0.0.0")
	viper.SetDefault("api.server_config.listen_port", 3000)
	viper.SetDefault("api.server_config.read_timeout_sec", 0)
	viper.SetDefault("api.server_config.write_timeout_sec", 0)
	viper.SetDefault("api.server_config.idle_timeout_sec", 600)
	viper.SetDefault("api.logging_config.request_id_header", "Camlink-Request-ID")
	viper.SetDefault(
		"api.logging_config.do_not_log_headers", []string{
			"WWW-Authenticate", "Authorization", "Proxy-Authenticate", "Proxy-Authorization",
		},
	)

	// Default websocket settings
	viper.SetDefault("websocket.max_message_bytes", 65536)
	viper.SetDefault("websocket.send_buffer_len", 64)
	viper.SetDefault("websocket.write_timeout_sec", 10)
	viper.SetDefault("websocket.ping_interval_sec", 20)
	viper.SetDefault("websocket.pong_timeout_sec", 60)

	// Default session settings
	viper.SetDefault("session.inactivity_timeout_sec", 300)
	viper.SetDefault("session.scan_interval_sec", 30)

	// Default heartbeat settings
	viper.SetDefault("heartbeat.expected_interval_sec", 30)
	viper.SetDefault("heartbeat.timeout_sec", 90)
	viper.SetDefault("heartbeat.scan_interval_sec", 30)

	// Default rate limit settings
	viper.SetDefault("rate_limit.window_sec", 60)
	viper.SetDefault("rate_limit.offer", 30)
	viper.SetDefault("rate_limit.answer", 30)
	viper.SetDefault("rate_limit.ice_candidate", 60)
	viper.SetDefault("rate_limit.crew_sign_on", 10)
	viper.SetDefault("rate_limit.crew_sign_off", 10)
	viper.SetDefault("rate_limit.default", 60)
}
