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

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCallSendsMessagesRequest(t *testing.T) {
	var gotPath, gotAPIKey, gotVersion string
	var gotBody Request

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}

		resp := Response{
			ID:         "msg_01",
			Role:       "assistant",
			StopReason: StopEndTurn,
			Content:    []ContentBlock{{Type: BlockText, Text: "Found 1 contact: Ada Lovelace."}},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client, err := NewClient(Config{APIKey: "sk-test", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	resp, err := client.Call(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "find contacts named Ada"}},
		System:   "security rules",
	})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}

	if gotPath != "/v1/messages" {
		t.Errorf("expected /v1/messages, got %s", gotPath)
	}
	if gotAPIKey != "sk-test" {
		t.Errorf("missing x-api-key header")
	}
	if gotVersion != DefaultAPIVersion {
		t.Errorf("missing anthropic-version header")
	}
	if gotBody.Model != DefaultModel {
		t.Errorf("expected default model fill-in, got %q", gotBody.Model)
	}
	if gotBody.MaxTokens != DefaultMaxTokens {
		t.Errorf("expected default max tokens fill-in, got %d", gotBody.MaxTokens)
	}

	if ExtractText(resp) != "Found 1 contact: Ada Lovelace." {
		t.Errorf("unexpected text: %q", ExtractText(resp))
	}
	if WantsToolUse(resp) {
		t.Error("end_turn response should not want tool use")
	}
}

func TestCallSurfacesUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"type":"rate_limit_error"}}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{APIKey: "sk-test", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	_, err = client.Call(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hello"}},
	})

	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if upstream.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", upstream.StatusCode)
	}
}

func TestExtractToolUses(t *testing.T) {
	resp := &Response{
		StopReason: StopToolUse,
		Content: []ContentBlock{
			{Type: BlockText, Text: "Let me search."},
			{Type: BlockToolUse, ID: "tu_1", Name: "crm_search", Input: map[string]interface{}{"q": "Ada"}},
			{Type: BlockToolUse, ID: "tu_2", Name: "crm_get", Input: map[string]interface{}{"id": "c1"}},
		},
	}

	uses := ExtractToolUses(resp)
	if len(uses) != 2 {
		t.Fatalf("expected 2 tool uses, got %d", len(uses))
	}
	if uses[0].Name != "crm_search" || uses[1].Name != "crm_get" {
		t.Errorf("tool uses out of order: %v", uses)
	}
	if !WantsToolUse(resp) {
		t.Error("tool_use stop reason should want tool use")
	}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Error("expected error for missing API key")
	}
}
