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

package apis

import (
	"net/http"
	"strings"
	"sync"

	"github.com/alwitt/camlink/auth"
	"github.com/alwitt/camlink/common"
	"github.com/alwitt/camlink/signaling"
	"github.com/alwitt/camlink/transport"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/gorilla/websocket"
)

// APIRestSignalingHandler REST handler for the signaling broker
type APIRestSignalingHandler struct {
	goutils.RestAPIHandler
	verifier   auth.TokenVerifier
	controller signaling.ConnectionController
	upgrader   websocket.Upgrader
	wsConfig   common.WebsocketConfig
	wg         *sync.WaitGroup
}

// GetAPIRestSignalingHandler define APIRestSignalingHandler
func GetAPIRestSignalingHandler(
	verifier auth.TokenVerifier,
	controller signaling.ConnectionController,
	httpConfig *common.HTTPConfig,
	wsConfig common.WebsocketConfig,
	wg *sync.WaitGroup,
) (APIRestSignalingHandler, error) {
	logTags := log.Fields{
		"module":    "rest",
		"component": "signaling",
	}
	allowedOrigin := httpConfig.CORSAllowedOrigin
	return APIRestSignalingHandler{
		RestAPIHandler: goutils.RestAPIHandler{
			Component: goutils.Component{
				LogTags: logTags,
				LogTagModifiers: []goutils.LogMetadataModifier{
					goutils.ModifyLogMetadataByRestRequestParam,
				},
			},
			CallRequestIDHeaderField: &httpConfig.Logging.RequestIDHeader,
			DoNotLogHeaders: func() map[string]bool {
				result := map[string]bool{}
				for _, v := range httpConfig.Logging.DoNotLogHeaders {
					result[v] = true
				}
				return result
			}(),
		},
		verifier:   verifier,
		controller: controller,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if allowedOrigin == "*" {
					return true
				}
				return r.Header.Get("Origin") == allowedOrigin
			},
		},
		wsConfig: wsConfig,
		wg:       wg,
	}, nil
}

// =======================================================================
// Websocket entry

// handshakeToken pull the handshake token from the request. Browser clients
// pass it as a query parameter; others may use a bearer header.
func handshakeToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); len(token) > 0 {
		return token
	}
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}

// Signal godoc
// @Summary Signaling websocket entry point
// @Description Authenticate the caller and upgrade the connection to a
// websocket serving the signaling protocol. The handshake token is taken
// from the "token" query parameter or a bearer Authorization header.
// @tags Signaling
// @Produce json
// @Param Camlink-Request-ID header string false "User provided request ID to match against logs"
// @Param token query string false "Handshake JWT"
// @Success 101 {string} string "protocol switch"
// @Failure 401 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/signal [get]
func (h APIRestSignalingHandler) Signal(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())

	identity, err := h.verifier.Verify(handshakeToken(r))
	if err != nil {
		msg := "Handshake token rejected"
		log.WithError(err).WithFields(localLogTags).Info(msg)
		if err := h.WriteRESTResponse(
			w, http.StatusUnauthorized,
			h.GetStdRESTErrorMsg(r.Context(), http.StatusUnauthorized, msg, err.Error()),
			nil,
		); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
		return
	}

	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client on failure
		log.WithError(err).WithFields(localLogTags).Error("Websocket upgrade failed")
		return
	}

	clientSession, err := transport.GetWebsocketClientSession(identity, raw, h.wsConfig)
	if err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Unable to define client session")
		_ = raw.Close()
		return
	}

	h.controller.NewClient(clientSession)
	clientSession.Serve(h.wg, h.controller.HandleInbound)
	h.controller.ClientClosed(clientSession)
}

// SignalHandler Wrapper around Signal
func (h APIRestSignalingHandler) SignalHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Signal(w, r)
	}
}

// Write logging support
func (h APIRestSignalingHandler) Write(p []byte) (n int, err error) {
	log.WithFields(h.LogTags).Infof("%s", p)
	return len(p), nil
}

// =======================================================================
// Introspection

// APIRestRespBrokerStats response of the status query
type APIRestRespBrokerStats struct {
	goutils.RestAPIBaseResponse
	// Stats the broker operational snapshot
	Stats signaling.BrokerStats `json:"stats"`
}

// Status godoc
// @Summary Broker operational status
// @Description Report online client, session, and connection counts
// @tags Signaling
// @Produce json
// @Param Camlink-Request-ID header string false "User provided request ID to match against logs"
// @Success 200 {object} APIRestRespBrokerStats "success"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Header 200,500 {string} Camlink-Request-ID "Request ID to match against logs"
// @Router /v1/status [get]
func (h APIRestSignalingHandler) Status(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	resp := APIRestRespBrokerStats{
		RestAPIBaseResponse: h.GetStdRESTSuccessMsg(r.Context()),
		Stats:               h.controller.GetStats(),
	}
	if err := h.WriteRESTResponse(w, http.StatusOK, &resp, nil); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// StatusHandler Wrapper around Status
func (h APIRestSignalingHandler) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Status(w, r)
	}
}

// =======================================================================
// Health Checks

// Alive godoc
// @Summary For signaling REST API liveness check
// @Description Will return success to indicate signaling REST API module is live
// @tags Signaling
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /alive [get]
func (h APIRestSignalingHandler) Alive(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	if err := h.WriteRESTResponse(
		w, http.StatusOK, h.GetStdRESTSuccessMsg(r.Context()), nil,
	); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// AliveHandler Wrapper around Alive
func (h APIRestSignalingHandler) AliveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Alive(w, r)
	}
}

// Ready godoc
// @Summary For signaling REST API readiness check
// @Description Will return success if signaling REST API module is ready for use
// @tags Signaling
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /ready [get]
func (h APIRestSignalingHandler) Ready(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	if err := h.WriteRESTResponse(
		w, http.StatusOK, h.GetStdRESTSuccessMsg(r.Context()), nil,
	); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// ReadyHandler Wrapper around Ready
func (h APIRestSignalingHandler) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Ready(w, r)
	}
}
