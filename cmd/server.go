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

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/alwitt/camlink/apis"
	"github.com/alwitt/camlink/auth"
	"github.com/alwitt/camlink/common"
	"github.com/alwitt/camlink/liveness"
	"github.com/alwitt/camlink/ratelimit"
	"github.com/alwitt/camlink/registry"
	"github.com/alwitt/camlink/session"
	"github.com/alwitt/camlink/signaling"
	"github.com/alwitt/camlink/transport"
	"github.com/apex/log"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// RunSignalingServer run the signaling server
func RunSignalingServer(
	runTimeContext context.Context,
	config *common.SystemConfig,
	instance string,
	wg *sync.WaitGroup,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "signaling-server",
		"instance":  instance,
	}

	verifier, err := auth.GetJWTTokenVerifier(config.Auth)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define token verifier")
		return err
	}

	hub, err := transport.GetHub(instance)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define connection hub")
		return err
	}

	presence, err := registry.GetPresenceRegistry(instance)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define presence registry")
		return err
	}

	sessions, err := session.GetRegistry(instance)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define session registry")
		return err
	}

	limiter, err := ratelimit.GetSlidingWindowLimiter(instance, config.RateLimit)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define rate limiter")
		return err
	}

	tracker, err := liveness.GetTracker(instance, config.Heartbeat, presence, sessions)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define heartbeat tracker")
		return err
	}

	localCtxt, lclCancel := context.WithCancel(runTimeContext)
	defer lclCancel()

	controller, err := signaling.GetConnectionController(
		localCtxt, wg, hub, presence, sessions, limiter, tracker, config.Session, config.Heartbeat,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define connection controller")
		return err
	}
	if err := controller.StartMaintenance(); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to start maintenance loops")
		return err
	}

	httpHandler, err := apis.GetAPIRestSignalingHandler(
		verifier, controller, &config.API, config.Websocket, wg,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define HTTP handler")
		return err
	}

	// -------------------------------------------------------------------
	// Start the HTTP server

	router := mux.NewRouter()
	mainRouter := apis.RegisterPathPrefix(router, config.API.PathPrefix, nil)

	// Signaling websocket entry
	_ = apis.RegisterPathPrefix(mainRouter, "/v1/signal", map[string]http.HandlerFunc{
		"get": httpHandler.SignalHandler(),
	})

	// Operational status
	_ = apis.RegisterPathPrefix(mainRouter, "/v1/status", map[string]http.HandlerFunc{
		"get": httpHandler.StatusHandler(),
	})

	// Health check
	_ = apis.RegisterPathPrefix(mainRouter, "/alive", map[string]http.HandlerFunc{
		"get": httpHandler.AliveHandler(),
	})
	_ = apis.RegisterPathPrefix(mainRouter, "/ready", map[string]http.HandlerFunc{
		"get": httpHandler.ReadyHandler(),
	})

	// Add logging
	router.Use(func(next http.Handler) http.Handler {
		return handlers.CombinedLoggingHandler(httpHandler, next)
	})

	// Add CORS
	corsMiddleware := handlers.CORS(
		handlers.AllowedOrigins([]string{config.API.CORSAllowedOrigin}),
		handlers.AllowedMethods([]string{"GET", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
	)

	serverListen := fmt.Sprintf(
		"%s:%d", config.API.Server.ListenOn, config.API.Server.Port,
	)
	httpSrv := &http.Server{
		Addr:         serverListen,
		ReadTimeout:  time.Second * time.Duration(config.API.Server.ReadTimeout),
		WriteTimeout: time.Second * time.Duration(config.API.Server.WriteTimeout),
		IdleTimeout:  time.Second * time.Duration(config.API.Server.IdleTimeout),
		Handler:      h2c.NewHandler(corsMiddleware(router), &http2.Server{}),
	}

	// Cancel runtime context on shutdown
	httpSrv.RegisterOnShutdown(lclCancel)

	// Start the server
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("HTTP Server Failure")
		}
	}()

	log.WithFields(logTags).Infof("Started HTTP server on http://%s", serverListen)

	// ============================================================================

	<-runTimeContext.Done()

	// Stop the maintenance loops before dropping clients
	if err := controller.StopMaintenance(); err != nil {
		log.WithError(err).WithFields(logTags).Error("Failure during maintenance stop")
	}
	hub.CloseAll()

	// Stop the HTTP server
	{
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			log.WithError(err).Error("Failure during HTTP shutdown")
		}
	}

	return nil
}
