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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"agentmesh/core/shared/types"
)

type fakeStore struct {
	mu       sync.Mutex
	matched  []types.AgentMemory
	touched  []string
	inserted []*types.AgentMemory
}

func (f *fakeStore) MatchAgentMemories(ctx context.Context, agentID string, embedding []float64, k int, threshold float64) ([]types.AgentMemory, error) {
	return f.matched, nil
}

func (f *fakeStore) TouchMemories(ctx context.Context, ids []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched = append(f.touched, ids...)
}

func (f *fakeStore) InsertMemory(ctx context.Context, m *types.AgentMemory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, m)
	return nil
}

func embeddingServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			t.Error("missing bearer token")
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"embedding": []float64{0.1, 0.2, 0.3}},
			},
		})
	}))
}

func TestBuildSummary(t *testing.T) {
	s := BuildSummary("find contacts named Ada", "Found 1 contact: Ada Lovelace.")
	if !strings.Contains(s, "find contacts named Ada") {
		t.Errorf("summary missing command: %q", s)
	}
	if !strings.Contains(s, "Found 1 contact") {
		t.Errorf("summary missing outcome: %q", s)
	}

	long := BuildSummary(strings.Repeat("a", 3000), "ok")
	if len(long) > MaxSummaryLength {
		t.Errorf("summary exceeds cap: %d", len(long))
	}
}

func TestRetrieveReturnsEmptyWithoutCredential(t *testing.T) {
	svc := NewService(&fakeStore{}, NewEmbeddingClient("", ""))
	if got := svc.Retrieve(context.Background(), "ag-1", "hello"); got != nil {
		t.Errorf("expected nil memories without embedding credential, got %v", got)
	}
}

func TestRetrieveMatchesAndTouches(t *testing.T) {
	server := embeddingServer(t)
	defer server.Close()

	store := &fakeStore{matched: []types.AgentMemory{
		{ID: "m1", Summary: "Asked: earlier thing", Similarity: 0.91},
	}}
	svc := NewService(store, NewEmbeddingClient("emb-key", server.URL))

	memories := svc.Retrieve(context.Background(), "ag-1", "find contacts")
	if len(memories) != 1 {
		t.Fatalf("expected 1 memory, got %d", len(memories))
	}

	// Touch is fire-and-forget; give it a moment
	deadline := time.Now().Add(time.Second)
	for {
		store.mu.Lock()
		n := len(store.touched)
		store.mu.Unlock()
		if n == 1 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.touched) != 1 || store.touched[0] != "m1" {
		t.Errorf("expected touch of m1, got %v", store.touched)
	}
}

func TestStoreSkipsWhenDeadlineNearlyConsumed(t *testing.T) {
	server := embeddingServer(t)
	defer server.Close()

	store := &fakeStore{}
	svc := NewService(store, NewEmbeddingClient("emb-key", server.URL))

	svc.Store(context.Background(), StoreInput{
		AgentID: "ag-1",
		Command: "cmd",
		Elapsed: 21 * time.Second,
	})

	if len(store.inserted) != 0 {
		t.Errorf("expected storage skip past threshold, got %d inserts", len(store.inserted))
	}
}

func TestStoreInsertsMemory(t *testing.T) {
	server := embeddingServer(t)
	defer server.Close()

	store := &fakeStore{}
	svc := NewService(store, NewEmbeddingClient("emb-key", server.URL))

	svc.Store(context.Background(), StoreInput{
		AgentID:    "ag-1",
		SessionID:  "sess-1",
		CommandID:  "cmd-1",
		Command:    "find contacts named Ada",
		Response:   "Found 1 contact.",
		ToolNames:  []string{"crm_search"},
		TurnCount:  2,
		Importance: 0.5,
		Elapsed:    2 * time.Second,
	})

	if len(store.inserted) != 1 {
		t.Fatalf("expected 1 insert, got %d", len(store.inserted))
	}
	m := store.inserted[0]
	if m.AgentID != "ag-1" || m.TurnCount != 2 || len(m.Embedding) != 3 {
		t.Errorf("unexpected memory row: %+v", m)
	}
}

func TestFormatForPrompt(t *testing.T) {
	created := time.Date(2025, 6, 14, 10, 0, 0, 0, time.UTC)
	out := FormatForPrompt([]types.AgentMemory{
		{Summary: "Asked: thing one", ToolNames: []string{"crm_search", "crm_get"}, CreatedAt: created},
		{Summary: "Asked: thing two", CreatedAt: created},
	})

	if !strings.HasPrefix(out, "RELEVANT PAST INTERACTIONS:\n") {
		t.Errorf("missing section header: %q", out)
	}
	if !strings.Contains(out, "1. [2025-06-14](tools: crm_search, crm_get) Asked: thing one") {
		t.Errorf("bad first line: %q", out)
	}
	if !strings.Contains(out, "2. [2025-06-14](tools: none) Asked: thing two") {
		t.Errorf("bad second line: %q", out)
	}

	if FormatForPrompt(nil) != "" {
		t.Error("empty memories must format to empty string")
	}
}
