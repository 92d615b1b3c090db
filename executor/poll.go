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

// Package executor runs agent commands: the tool-use conversation loop
// and the polling primitive workflow steps use to synchronize with
// asynchronously-completing commands.
package executor

import (
	"context"
	"time"

	"agentmesh/core/shared/types"
)

const (
	// PollInterval is the delay between status reads
	PollInterval = 500 * time.Millisecond

	// MaxPollTimeout clamps the caller-supplied poll budget
	MaxPollTimeout = 24 * time.Second
)

// PollStatus classifies the poll outcome
type PollStatus string

const (
	PollCompleted PollStatus = "completed"
	PollFailed    PollStatus = "failed"
	PollCancelled PollStatus = "cancelled"
	PollTimeout   PollStatus = "timeout"
)

// PollResult is the terminal observation of one poll
type PollResult struct {
	Status PollStatus
	Output interface{}
	Error  string
}

// CommandReader reads command state; satisfied by the store
type CommandReader interface {
	GetCommandStatus(ctx context.Context, commandID string) (types.CommandStatus, map[string]interface{}, error)
}

// PollUntilTerminal reads the command's status every 500 ms until it
// reaches a terminal state or the clamped timeout elapses
func PollUntilTerminal(ctx context.Context, reader CommandReader, commandID string, timeout time.Duration) PollResult {
	if timeout <= 0 || timeout > MaxPollTimeout {
		timeout = MaxPollTimeout
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		status, metadata, err := reader.GetCommandStatus(ctx, commandID)
		if err == nil {
			switch status {
			case types.CommandStatusCompleted:
				var output interface{}
				if metadata != nil {
					output = metadata["result"]
				}
				return PollResult{Status: PollCompleted, Output: output}
			case types.CommandStatusCancelled:
				return PollResult{Status: PollCancelled, Error: "Command was cancelled"}
			case types.CommandStatusFailed:
				errMsg := "Command failed"
				if metadata != nil {
					if m, ok := metadata["error"].(string); ok && m != "" {
						errMsg = m
					}
				}
				return PollResult{Status: PollFailed, Error: errMsg}
			}
		}

		if time.Now().After(deadline) {
			return PollResult{Status: PollTimeout}
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return PollResult{Status: PollTimeout}
		}
	}
}
