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

package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"agentmesh/core/shared/logger"
	"agentmesh/core/shared/types"
)

const (
	// MaxSummaryLength bounds the stored summary
	MaxSummaryLength = 2000

	// RetrievalK is how many memories similarity search returns
	RetrievalK = 5

	// RetrievalThreshold is the minimum cosine similarity
	RetrievalThreshold = 0.7

	// StorageSkipThreshold: if the agent loop has already consumed this
	// much of its deadline, memory storage is skipped entirely.
	StorageSkipThreshold = 20 * time.Second
)

// MemoryStore is the subset of the storage layer memory needs
type MemoryStore interface {
	MatchAgentMemories(ctx context.Context, agentID string, embedding []float64, k int, threshold float64) ([]types.AgentMemory, error)
	TouchMemories(ctx context.Context, ids []string)
	InsertMemory(ctx context.Context, m *types.AgentMemory) error
}

// Service ties embedding generation to memory retrieval and persistence
type Service struct {
	store      MemoryStore
	embeddings *EmbeddingClient
	log        *logger.Logger
}

// NewService creates a memory service
func NewService(store MemoryStore, embeddings *EmbeddingClient) *Service {
	return &Service{
		store:      store,
		embeddings: embeddings,
		log:        logger.New("memory"),
	}
}

// BuildSummary condenses a command/response pair into a bounded summary
func BuildSummary(command, response string) string {
	command = strings.TrimSpace(command)
	response = strings.TrimSpace(response)

	summary := "Asked: " + command
	if response != "" {
		summary += " | Outcome: " + response
	}

	if len(summary) > MaxSummaryLength {
		summary = summary[:MaxSummaryLength]
	}
	return summary
}

// Retrieve embeds the command and returns the agent's most similar past
// interactions. An embedding failure returns an empty list, never an
// error. Access timestamps are touched fire-and-forget.
func (s *Service) Retrieve(ctx context.Context, agentID, command string) []types.AgentMemory {
	embedding := s.embeddings.Generate(ctx, command)
	if embedding == nil {
		return nil
	}

	memories, err := s.store.MatchAgentMemories(ctx, agentID, embedding, RetrievalK, RetrievalThreshold)
	if err != nil {
		s.log.Warn(agentID, "", "memory retrieval failed", map[string]interface{}{
			"error": err.Error(),
		})
		return nil
	}

	if len(memories) > 0 {
		ids := make([]string, len(memories))
		for i, m := range memories {
			ids[i] = m.ID
		}
		go s.store.TouchMemories(context.Background(), ids)
	}

	return memories
}

// StoreInput carries everything needed to persist one memory
type StoreInput struct {
	AgentID    string
	SessionID  string
	CommandID  string
	Command    string
	Response   string
	ToolNames  []string
	TurnCount  int
	Importance float64
	Elapsed    time.Duration
}

// Store persists one memory best-effort. Embedding failure or an
// elapsed time beyond the skip threshold silently skips storage;
// insert failures are logged only. Memory never blocks the main path.
func (s *Service) Store(ctx context.Context, in StoreInput) {
	if in.Elapsed > StorageSkipThreshold {
		s.log.Debug(in.AgentID, "", "skipping memory storage, deadline nearly consumed", map[string]interface{}{
			"elapsed_ms": in.Elapsed.Milliseconds(),
		})
		return
	}

	summary := BuildSummary(in.Command, in.Response)
	embedding := s.embeddings.Generate(ctx, summary)
	if embedding == nil {
		return
	}

	mem := &types.AgentMemory{
		ID:           uuid.New().String(),
		AgentID:      in.AgentID,
		SessionID:    in.SessionID,
		CommandID:    in.CommandID,
		Summary:      summary,
		Embedding:    embedding,
		CommandText:  in.Command,
		ResponseText: in.Response,
		ToolNames:    in.ToolNames,
		TurnCount:    in.TurnCount,
		Importance:   in.Importance,
	}

	if err := s.store.InsertMemory(ctx, mem); err != nil {
		s.log.Warn(in.AgentID, "", "memory storage failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// FormatForPrompt serializes retrieved memories for the system prompt
// under the RELEVANT PAST INTERACTIONS header. Returns "" when empty.
func FormatForPrompt(memories []types.AgentMemory) string {
	if len(memories) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("RELEVANT PAST INTERACTIONS:\n")
	for i, m := range memories {
		tools := "none"
		if len(m.ToolNames) > 0 {
			tools = strings.Join(m.ToolNames, ", ")
		}
		fmt.Fprintf(&b, "%d. [%s](tools: %s) %s\n",
			i+1, m.CreatedAt.Format("2006-01-02"), tools, m.Summary)
	}
	return b.String()
}
