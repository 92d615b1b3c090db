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

// Package main is the entry point for the AgentMesh core service.
//
// The core accepts commands addressed to AI agents, routes them through
// an authenticated, capability-gated API surface, and executes them as
// tool-using LLM conversations or as structured workflows.
//
// Usage:
//
//	./core
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8080)
//	DATABASE_URL - PostgreSQL connection string
//	LLM_API_KEY - Messages API key
//	EMBEDDING_API_KEY - Embedding provider key (optional)
//	SCHEDULER_SECRET - Shared secret for internal dispatch
//	INTERNAL_BASE_URL - Base URL for downstream handlers
package main

import (
	"agentmesh/core/server"
)

func main() {
	server.Run()
}
