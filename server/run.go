// Copyright 2025 AgentMesh
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server wires the core together and runs the HTTP surface.
package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"agentmesh/core/config"
	"agentmesh/core/executor"
	"agentmesh/core/gateway"
	"agentmesh/core/llm"
	"agentmesh/core/memory"
	"agentmesh/core/orchestrator"
	"agentmesh/core/shared/crypto"
	"agentmesh/core/shared/logger"
	"agentmesh/core/store"
	"agentmesh/core/workflow"
)

// Run starts the core service and blocks until shutdown
func Run() {
	slog := logger.New("server")

	databaseURL, err := config.DatabaseURL()
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	st, err := store.Open(databaseURL)
	if err != nil {
		log.Fatalf("❌ Failed to open storage: %v", err)
	}
	defer st.Close()
	log.Println("✅ Storage connected")

	schedulerSecret, err := config.SchedulerSecret()
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	provisionSecret, err := config.ProvisioningSecret()
	if err != nil {
		log.Printf("⚠️ Tenant provisioning disabled: %v", err)
		provisionSecret = ""
	}

	llmAPIKey, err := config.LLMAPIKey()
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	llmClient, err := llm.NewClient(llm.Config{
		APIKey:  llmAPIKey,
		BaseURL: config.LLMBaseURL(),
	})
	if err != nil {
		log.Fatalf("❌ Failed to create LLM client: %v", err)
	}

	internalBaseURL, err := config.InternalBaseURL()
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	dispatcher := gateway.NewHTTPDispatcher(internalBaseURL, schedulerSecret)

	envelope := crypto.NewEnvelope(config.Keys{})
	audit := gateway.NewAuditEmitter(st, 1000, 2)
	auth := gateway.NewAuthenticator(st)

	memService := memory.NewService(st, memory.NewEmbeddingClient(
		config.EmbeddingAPIKey(), config.EmbeddingBaseURL()))

	exec := executor.New(st, memService, llmClient, dispatcher, audit)
	orch := orchestrator.New(st, &orchestratorDispatcher{store: st, exec: exec})
	workflows := workflow.New(st, &agentRunner{store: st, exec: exec}, orch)

	// Global pre-auth limiter: Redis when configured, storage-backed
	// buckets otherwise. Both fall back in-process on outage.
	var globalLimiter gateway.RateLimiter = gateway.NewDurableRateLimiter(st, 600, time.Minute)
	if redisURL := config.RedisURL(); redisURL != "" {
		redisLimiter, err := gateway.NewRedisRateLimiter(redisURL, 600, time.Minute, globalLimiter)
		if err != nil {
			log.Printf("⚠️ Redis unavailable, using durable rate limiter: %v", err)
		} else {
			defer redisLimiter.Close()
			globalLimiter = redisLimiter
			log.Println("✅ Redis rate limiter enabled")
		}
	}

	gw := gateway.New(gateway.Config{
		Store:           st,
		Authenticator:   auth,
		Audit:           audit,
		Dispatcher:      dispatcher,
		Workflows:       workflows,
		Envelope:        envelope,
		SchedulerSecret: schedulerSecret,
		ProvisionSecret: provisionSecret,
		GlobalLimiter:   globalLimiter,
	})

	r := mux.NewRouter()
	gw.Register(r)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}).Methods(http.MethodGet)

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: []string{config.AllowedOrigin()},
		AllowedMethods: []string{http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{
			"authorization", "content-type", "x-agent-key",
			"x-scheduler-secret", "x-signature", "x-correlation-id",
		},
		OptionsSuccessStatus: http.StatusNoContent,
	})

	port := config.Optional("PORT", "8080")
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      corsMiddleware.Handler(r),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("✅ AgentMesh core listening on :%s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	slog.Info("", "", "shutting down", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	if err := audit.Shutdown(ctx); err != nil {
		log.Printf("Audit queue shutdown error: %v", err)
	}
	log.Println("Shutdown complete")
}
