/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package events fans worker status changes out to interested components.
// Producers (the connection manager, the liveness monitor) never mutate
// the registry directly; they publish here and the registry subscribes.
package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/carverauto/edgefleet/pkg/clock"
	"github.com/carverauto/edgefleet/pkg/logger"
	"github.com/carverauto/edgefleet/pkg/models"
)

// StatusChange announces that a worker moved to Status at At.
type StatusChange struct {
	WorkerID int                 `json:"workerId"`
	Status   models.WorkerStatus `json:"status"`
	At       time.Time           `json:"at"`
}

// Handler reacts to a status change. A returned error is logged and does
// not affect other subscribers.
type Handler func(StatusChange) error

type subscription struct {
	id      uint64
	name    string
	handler Handler
}

// Bus delivers status changes synchronously, in subscription order.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
	clock  clock.Clock
	logger logger.Logger
}

// NewBus creates an empty bus. A nil clock uses the wall clock.
func NewBus(clk clock.Clock, log logger.Logger) *Bus {
	if clk == nil {
		clk = clock.Real()
	}

	return &Bus{clock: clk, logger: log}
}

// Subscribe registers h under name and returns a function that removes it.
func (b *Bus) Subscribe(name string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, name: name, handler: h})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish stamps the change with the current time and hands it to every
// subscriber. Handlers must not publish recursively while holding locks
// the publisher needs.
func (b *Bus) Publish(workerID int, status models.WorkerStatus) {
	b.deliver(StatusChange{WorkerID: workerID, Status: status, At: b.clock.Now()})
}

// deliver hands an already stamped change to every subscriber.
func (b *Bus) deliver(change StatusChange) {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		if err := b.dispatch(s, change); err != nil {
			b.logger.Error().
				Err(err).
				Str("subscriber", s.name).
				Int("worker_id", change.WorkerID).
				Str("status", string(change.Status)).
				Msg("Status subscriber failed")
		}
	}
}

func (*Bus) dispatch(s subscription, change StatusChange) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errSubscriberPanic, r)
		}
	}()

	return s.handler(change)
}
