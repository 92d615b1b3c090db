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

// Package memory implements per-agent semantic memory: embedding
// generation, similarity retrieval, and best-effort persistence.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// EmbeddingTimeout bounds the external embedding call
	EmbeddingTimeout = 3 * time.Second

	// DefaultEmbeddingModel is the model requested from the provider
	DefaultEmbeddingModel = "text-embedding-3-small"
)

// EmbeddingClient calls the external embedding endpoint. A nil client
// or any failure degrades to no embedding, never to an error on the
// main path.
type EmbeddingClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewEmbeddingClient creates a client; an empty apiKey yields a client
// whose Generate always returns nil.
func NewEmbeddingClient(apiKey, baseURL string) *EmbeddingClient {
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	return &EmbeddingClient{
		apiKey:     apiKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		model:      DefaultEmbeddingModel,
		httpClient: &http.Client{Timeout: EmbeddingTimeout},
	}
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Generate returns the embedding vector for text, or nil on any
// failure (absent credential, timeout, provider error). Callers must
// treat nil as "no memory available", not as an error.
func (c *EmbeddingClient) Generate(ctx context.Context, text string) []float64 {
	if c == nil || c.apiKey == "" || text == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, EmbeddingTimeout)
	defer cancel()

	body, err := json.Marshal(embeddingRequest{Model: c.model, Input: text})
	if err != nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil
	}

	return parsed.Data[0].Embedding
}
