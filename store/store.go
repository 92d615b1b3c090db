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

// Package store implements the durable storage layer on a relational
// database with a vector-search extension. All SQL lives here; callers
// see typed operations only.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"agentmesh/core/shared/logger"
)

// Store errors
var (
	ErrNotFound      = errors.New("row not found")
	ErrTerminalState = errors.New("command is in a terminal state")
	ErrStateConsumed = errors.New("oauth state already used")
	ErrConflict      = errors.New("uniqueness conflict")
)

// Store wraps the database handle and owns every query the core issues
type Store struct {
	db  *sql.DB
	log *logger.Logger
}

// Open connects to the database and verifies the connection
func Open(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Store{db: db, log: logger.New("store")}, nil
}

// NewWithDB wraps an existing handle (used by tests with sqlmock)
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db, log: logger.New("store")}
}

// Close releases the underlying connection pool
func (s *Store) Close() error {
	return s.db.Close()
}

// execWithRetry makes up to three attempts at a write, retrying transient
// failures with linear backoff, matching the platform's audit-write behavior.
func (s *Store) execWithRetry(ctx context.Context, query string, args ...interface{}) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if _, err = s.db.ExecContext(ctx, query, args...); err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
		select {
		case <-time.After(time.Duration(100*(attempt+1)) * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// isTransient reports whether a storage error is worth retrying
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"too many connections",
		"deadlock detected",
		"serialization failure",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// marshalJSON serializes a metadata map for a jsonb column; nil maps
// become SQL NULL rather than the string "null".
func marshalJSON(m map[string]interface{}) (interface{}, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return b, nil
}

// unmarshalJSON deserializes a nullable jsonb column
func unmarshalJSON(raw []byte) map[string]interface{} {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

// vectorLiteral renders an embedding as a pgvector literal, e.g. "[0.1,0.2]"
func vectorLiteral(embedding []float64) string {
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = fmt.Sprintf("%g", v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
