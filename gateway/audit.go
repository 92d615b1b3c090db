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

package gateway

import (
	"context"
	"sync"
	"time"

	"agentmesh/core/shared/logger"
	"agentmesh/core/shared/types"
	"agentmesh/core/store"
)

// AuditEmitter writes audit events asynchronously through a bounded
// queue so auditing never blocks or fails a request. A full queue
// drops the event with a warning rather than applying backpressure.
type AuditEmitter struct {
	store *store.Store
	queue chan types.AuditEvent
	wg    sync.WaitGroup
	log   *logger.Logger
}

// NewAuditEmitter starts the emitter with the given queue size and workers
func NewAuditEmitter(s *store.Store, queueSize, workers int) *AuditEmitter {
	if queueSize <= 0 {
		queueSize = 1000
	}
	if workers <= 0 {
		workers = 2
	}

	e := &AuditEmitter{
		store: s,
		queue: make(chan types.AuditEvent, queueSize),
		log:   logger.New("audit"),
	}

	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}

	return e
}

// Emit enqueues one audit event
func (e *AuditEmitter) Emit(event types.AuditEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	select {
	case e.queue <- event:
	default:
		e.log.Warn(event.ActorID, "", "audit queue full, dropping event", map[string]interface{}{
			"action": event.Action,
		})
	}
}

func (e *AuditEmitter) worker() {
	defer e.wg.Done()

	for event := range e.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := e.store.LogAuditEvent(ctx, &event); err != nil {
			e.log.Warn(event.ActorID, "", "audit write failed", map[string]interface{}{
				"error":  err.Error(),
				"action": event.Action,
			})
		}
		cancel()
	}
}

// Shutdown drains the queue, bounded by the context
func (e *AuditEmitter) Shutdown(ctx context.Context) error {
	close(e.queue)

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
