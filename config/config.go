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

// Package config resolves process configuration from environment
// variables lazily. Nothing here is required at process start: a
// missing value fails the specific request that needs it.
package config

import (
	"fmt"
	"os"
)

// Environment variable names
const (
	EnvDatabaseURL       = "DATABASE_URL"
	EnvRedisURL          = "REDIS_URL"
	EnvLLMAPIKey         = "LLM_API_KEY"
	EnvLLMBaseURL        = "LLM_BASE_URL"
	EnvEmbeddingAPIKey   = "EMBEDDING_API_KEY"
	EnvEmbeddingBaseURL  = "EMBEDDING_BASE_URL"
	EnvEncryptionKey     = "ENCRYPTION_MASTER_KEY"
	EnvLegacyKeyV1       = "SERVICE_ROLE_KEY"
	EnvSchedulerSecret   = "SCHEDULER_SECRET"
	EnvProvisionSecret   = "PROVISIONING_SECRET"
	EnvAllowedOrigin     = "ALLOWED_ORIGIN"
	EnvInternalBaseURL   = "INTERNAL_BASE_URL"
	EnvCurrentKeyVersion = "ENCRYPTION_KEY_VERSION"
)

// CurrentKeyVersionDefault is used when ENCRYPTION_KEY_VERSION is unset
const CurrentKeyVersionDefault = "key-v2"

// Require returns the named environment variable or an error naming it.
// Used for values whose absence must fail the current request.
func Require(name string) (string, error) {
	v := os.Getenv(name)
	if v == "" {
		return "", fmt.Errorf("missing required environment variable: %s", name)
	}
	return v, nil
}

// Optional returns the named environment variable or the fallback
func Optional(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

// DatabaseURL returns the storage connection string
func DatabaseURL() (string, error) { return Require(EnvDatabaseURL) }

// RedisURL returns the optional Redis connection string ("" when unset)
func RedisURL() string { return os.Getenv(EnvRedisURL) }

// LLMAPIKey returns the LLM provider API key
func LLMAPIKey() (string, error) { return Require(EnvLLMAPIKey) }

// LLMBaseURL returns the LLM provider base URL
func LLMBaseURL() string { return Optional(EnvLLMBaseURL, "https://api.anthropic.com") }

// EmbeddingAPIKey returns the embedding provider API key ("" when unset;
// memory degrades gracefully without it)
func EmbeddingAPIKey() string { return os.Getenv(EnvEmbeddingAPIKey) }

// EmbeddingBaseURL returns the embedding provider base URL
func EmbeddingBaseURL() string { return Optional(EnvEmbeddingBaseURL, "https://api.openai.com") }

// SchedulerSecret returns the shared secret for internal dispatch
func SchedulerSecret() (string, error) { return Require(EnvSchedulerSecret) }

// ProvisioningSecret returns the secret guarding tenant provisioning
func ProvisioningSecret() (string, error) { return Require(EnvProvisionSecret) }

// AllowedOrigin returns the CORS origin echoed on responses
func AllowedOrigin() string { return Optional(EnvAllowedOrigin, "*") }

// InternalBaseURL returns the base URL for internal handler dispatch
func InternalBaseURL() (string, error) { return Require(EnvInternalBaseURL) }

// CurrentKeyVersion returns the key version new envelopes are written under
func CurrentKeyVersion() string {
	return Optional(EnvCurrentKeyVersion, CurrentKeyVersionDefault)
}

// Keys resolves envelope master secrets per key version. The legacy
// key-v1 secret aliases the storage service-role key for backward
// compatibility with payloads written before versioned keys existed.
type Keys struct{}

// MasterSecret returns the master secret for a key version
func (Keys) MasterSecret(keyID string) (string, error) {
	switch keyID {
	case "key-v1":
		return Require(EnvLegacyKeyV1)
	case CurrentKeyVersion():
		return Require(EnvEncryptionKey)
	default:
		return "", fmt.Errorf("no master secret configured for key version %s", keyID)
	}
}

// CurrentKeyID returns the key version new payloads are encrypted under
func (Keys) CurrentKeyID() string { return CurrentKeyVersion() }
