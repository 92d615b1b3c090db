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

// Package orchestrator fans one command out to several agents, collects
// partial results under a single deadline, and merges them.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"agentmesh/core/shared/logger"
	"agentmesh/core/shared/types"
)

// Orchestrator Prometheus metrics
var (
	orchestrationRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentmesh_orchestration_runs_total",
			Help: "Orchestration runs by final status",
		},
		[]string{"status", "strategy"},
	)
	orchestrationFanout = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agentmesh_orchestration_fanout_size",
			Help:    "Agents per orchestration run",
			Buckets: []float64{1, 2, 3, 5, 8, 13},
		},
	)
)

func init() {
	prometheus.MustRegister(orchestrationRuns)
	prometheus.MustRegister(orchestrationFanout)
}

// DefaultTimeout bounds a fan-out when the caller picks none; the cap
// keeps orchestration under the gateway's own request ceiling.
const (
	DefaultTimeout = 20 * time.Second
	MaxTimeout     = 24 * time.Second
)

// Merge strategies
const (
	StrategyFirstCompleted = "first_completed"
	StrategyBestScore      = "best_score"
	StrategyMergeAll       = "merge_all"
	StrategyConsensus      = "consensus"
)

// NoAgentsCompletedMessage is emitted when every dispatch failed or timed out
const NoAgentsCompletedMessage = "No agents completed successfully."

// AgentResult is one fan-out target's outcome
type AgentResult struct {
	AgentID    string   `json:"agent_id"`
	AgentName  string   `json:"agent_name,omitempty"`
	Status     string   `json:"status"` // completed, failed, timed_out
	Response   string   `json:"response,omitempty"`
	ToolCalls  int      `json:"tool_calls"`
	Turns      int      `json:"turns"`
	Score      *float64 `json:"score,omitempty"`
	DurationMS int64    `json:"duration_ms"`
	Error      string   `json:"error,omitempty"`
}

// Input is one orchestration request
type Input struct {
	Command       string
	AgentIDs      []string
	Strategy      string
	Timeout       time.Duration
	WorkflowRunID string
	StepID        string
	CorrelationID string
}

// Output is the merged orchestration result
type Output struct {
	OrchestrationRunID string          `json:"orchestration_run_id"`
	Status             types.RunStatus `json:"status"`
	MergedResponse     string          `json:"merged_response"`
	AgentResults       []AgentResult   `json:"agent_results"`
	DurationMS         int64           `json:"duration_ms"`
}

// AgentDispatcher runs one command against one agent; wired to the
// agent executor by an in-process adapter
type AgentDispatcher interface {
	DispatchToAgent(ctx context.Context, agentID, command, correlationID string) (*AgentResult, error)
}

// RunStore is the slice of storage the orchestrator persists through
type RunStore interface {
	CreateOrchestrationRun(ctx context.Context, run *types.OrchestrationRun) error
	CompleteOrchestrationRun(ctx context.Context, runID string, status types.RunStatus, result string) error
	InsertOrchestrationResponse(ctx context.Context, runID, agentID string) error
	CompleteOrchestrationResponse(ctx context.Context, r *types.OrchestrationResponse) error
	InsertAgentMessage(ctx context.Context, channel, fromID, toID, kind, content string) error
	MarkChannelDelivered(ctx context.Context, channel string) error
}

// Orchestrator coordinates the fan-out
type Orchestrator struct {
	store      RunStore
	dispatcher AgentDispatcher
	log        *logger.Logger
}

// New creates an orchestrator
func New(store RunStore, dispatcher AgentDispatcher) *Orchestrator {
	return &Orchestrator{
		store:      store,
		dispatcher: dispatcher,
		log:        logger.New("orchestrator"),
	}
}

// Orchestrate runs one command against every agent concurrently under a
// single deadline and merges the results under the chosen strategy.
func (o *Orchestrator) Orchestrate(ctx context.Context, in Input) (*Output, error) {
	if len(in.AgentIDs) == 0 {
		return nil, fmt.Errorf("orchestration requires at least one agent")
	}

	strategy := in.Strategy
	if strategy == "" {
		strategy = StrategyMergeAll
	}
	timeout := in.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if timeout > MaxTimeout {
		timeout = MaxTimeout
	}

	start := time.Now()
	runID := uuid.New().String()
	channel := "orchestration:" + runID

	run := &types.OrchestrationRun{
		ID:            runID,
		WorkflowRunID: in.WorkflowRunID,
		StepID:        in.StepID,
		Command:       in.Command,
		AgentIDs:      in.AgentIDs,
		Strategy:      strategy,
		Status:        types.RunStatusRunning,
	}
	if err := o.store.CreateOrchestrationRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create orchestration run: %w", err)
	}

	for _, agentID := range in.AgentIDs {
		if err := o.store.InsertOrchestrationResponse(ctx, runID, agentID); err != nil {
			o.log.Warn(agentID, in.CorrelationID, "failed to insert pending orchestration response", map[string]interface{}{
				"error": err.Error(),
			})
		}
		if err := o.store.InsertAgentMessage(ctx, channel, "", agentID, "task", in.Command); err != nil {
			o.log.Warn(agentID, in.CorrelationID, "failed to insert task message", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	orchestrationFanout.Observe(float64(len(in.AgentIDs)))

	// Fan out; results collect into an agent-id-indexed slice so merges
	// are deterministic regardless of completion order.
	results := make([]AgentResult, len(in.AgentIDs))
	fanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	g, gctx := errgroup.WithContext(fanCtx)
	for i, agentID := range in.AgentIDs {
		i, agentID := i, agentID
		g.Go(func() error {
			dispatchStart := time.Now()
			result, err := o.dispatcher.DispatchToAgent(gctx, agentID, in.Command, in.CorrelationID)
			elapsed := time.Since(dispatchStart).Milliseconds()

			switch {
			case gctx.Err() == context.DeadlineExceeded:
				results[i] = AgentResult{AgentID: agentID, Status: "timed_out", DurationMS: elapsed}
			case err != nil:
				results[i] = AgentResult{AgentID: agentID, Status: "failed", Error: err.Error(), DurationMS: elapsed}
			default:
				result.AgentID = agentID
				if result.DurationMS == 0 {
					result.DurationMS = elapsed
				}
				results[i] = *result
			}
			return nil
		})
	}
	g.Wait()

	// Persist per-agent outcomes outside the expired fan-out context
	persistCtx, persistCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer persistCancel()
	for i := range results {
		r := &results[i]
		if r.Status == "" {
			r.Status = "timed_out"
		}
		if err := o.store.CompleteOrchestrationResponse(persistCtx, &types.OrchestrationResponse{
			OrchestrationRunID: runID,
			AgentID:            r.AgentID,
			Status:             r.Status,
			Response:           r.Response,
			ToolCalls:          r.ToolCalls,
			Turns:              r.Turns,
			Score:              r.Score,
			DurationMS:         r.DurationMS,
			Error:              r.Error,
		}); err != nil {
			o.log.Warn(r.AgentID, in.CorrelationID, "failed to persist orchestration response", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	merged := Merge(strategy, results)
	status := finalStatus(results)

	if err := o.store.MarkChannelDelivered(persistCtx, channel); err != nil {
		o.log.Warn("", in.CorrelationID, "failed to mark channel delivered", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if err := o.store.CompleteOrchestrationRun(persistCtx, runID, status, merged); err != nil {
		o.log.Warn("", in.CorrelationID, "failed to complete orchestration run", map[string]interface{}{
			"error": err.Error(),
		})
	}

	orchestrationRuns.WithLabelValues(string(status), strategy).Inc()

	return &Output{
		OrchestrationRunID: runID,
		Status:             status,
		MergedResponse:     merged,
		AgentResults:       results,
		DurationMS:         time.Since(start).Milliseconds(),
	}, nil
}

// finalStatus derives the run status: completed if anything completed,
// timed_out only when every agent timed out, failed otherwise
func finalStatus(results []AgentResult) types.RunStatus {
	anyCompleted := false
	allTimedOut := true
	for _, r := range results {
		if r.Status == "completed" {
			anyCompleted = true
		}
		if r.Status != "timed_out" {
			allTimedOut = false
		}
	}
	switch {
	case anyCompleted:
		return types.RunStatusCompleted
	case allTimedOut:
		return types.RunStatusTimedOut
	default:
		return types.RunStatusFailed
	}
}

// Merge combines completed responses under the named strategy
func Merge(strategy string, results []AgentResult) string {
	var completed []AgentResult
	for _, r := range results {
		if r.Status == "completed" {
			completed = append(completed, r)
		}
	}
	if len(completed) == 0 {
		return NoAgentsCompletedMessage
	}

	switch strategy {
	case StrategyFirstCompleted:
		return completed[0].Response

	case StrategyBestScore:
		best := completed[0]
		hasScores := false
		for _, r := range completed {
			if r.Score != nil {
				hasScores = true
				break
			}
		}
		if hasScores {
			for _, r := range completed[1:] {
				if r.Score != nil && (best.Score == nil || *r.Score > *best.Score) {
					best = r
				}
			}
		} else {
			for _, r := range completed[1:] {
				if r.DurationMS < best.DurationMS {
					best = r
				}
			}
		}
		return best.Response

	case StrategyConsensus:
		if len(completed) == 1 {
			return completed[0].Response
		}
		var b strings.Builder
		fmt.Fprintf(&b, "%d of %d agents responded. Responses:\n", len(completed), len(results))
		for i, r := range completed {
			fmt.Fprintf(&b, "[%d] %s\n", i+1, r.Response)
		}
		return strings.TrimRight(b.String(), "\n")

	default: // merge_all
		if len(completed) == 1 {
			return completed[0].Response
		}
		parts := make([]string, len(completed))
		for i, r := range completed {
			name := r.AgentName
			if name == "" {
				name = r.AgentID
			}
			parts[i] = fmt.Sprintf("[Agent %s]: %s", name, r.Response)
		}
		return strings.Join(parts, "\n\n")
	}
}
