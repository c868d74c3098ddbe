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

// Package registry holds the controller's in-memory fleet roster: workers
// waiting for promotion, keyed by serial, and registered workers, keyed by
// their stable id.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/carverauto/edgefleet/pkg/clock"
	"github.com/carverauto/edgefleet/pkg/events"
	"github.com/carverauto/edgefleet/pkg/logger"
	"github.com/carverauto/edgefleet/pkg/models"
)

// Registry is the only owner of fleet membership state. Every method is a
// single critical section; callers only ever see copies.
type Registry struct {
	mu         sync.Mutex
	pending    map[string]*models.PendingEntry
	registered map[int]*models.Registration
	bySerial   map[string]int
	retired    map[int]struct{}
	nextID     int

	clock  clock.Clock
	logger logger.Logger
}

// Counts summarises the roster for metrics and the API.
type Counts struct {
	Pending    int                         `json:"pending"`
	Registered int                         `json:"registered"`
	ByStatus   map[models.WorkerStatus]int `json:"byStatus"`
}

// New creates an empty registry. A nil clock uses the wall clock.
func New(clk clock.Clock, log logger.Logger) *Registry {
	if clk == nil {
		clk = clock.Real()
	}

	return &Registry{
		pending:    make(map[string]*models.PendingEntry),
		registered: make(map[int]*models.Registration),
		bySerial:   make(map[string]int),
		retired:    make(map[int]struct{}),
		clock:      clk,
		logger:     log,
	}
}

// UpsertPending records an unassigned heartbeat. The registered set is never
// touched; a serial that already owns a registration is rejected with a
// *SerialRegisteredError so the caller can apply its conflict policy.
func (r *Registry) UpsertPending(hb *models.Heartbeat) error {
	if hb.Serial == "" {
		return ErrMissingSerial
	}

	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.bySerial[hb.Serial]; ok {
		return &SerialRegisteredError{Serial: hb.Serial, WorkerID: id}
	}

	entry, ok := r.pending[hb.Serial]
	if !ok {
		entry = &models.PendingEntry{}
		r.pending[hb.Serial] = entry
	}

	entry.Heartbeat = *hb
	entry.LastSeenAt = now

	return nil
}

// TouchRegistered bumps LastSeenAt for id and copies the reported plane and
// addresses when they are present.
func (r *Registry) TouchRegistered(id int, hb *models.Heartbeat) error {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.registered[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownWorker, id)
	}

	reg.LastSeenAt = now

	if plane := models.ParseDataPlane(string(hb.ActivePlane)); plane.Valid() {
		reg.ActivePlane = plane
	}

	if hb.DataAddress != "" {
		reg.DataAddress = hb.DataAddress
	}

	if hb.ControlAddress != "" {
		reg.ControlAddress = hb.ControlAddress
	}

	if hb.DisplayIdentifier != "" {
		reg.DisplayIdentifier = hb.DisplayIdentifier
	}

	return nil
}

// Promote moves serial from pending to registered. Without an explicit id the
// next value of a monotonic counter is used; an explicit id moves the counter
// past itself. Ids are never handed out twice.
func (r *Registry) Promote(serial string, explicitID *int) (models.Registration, error) {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.pending[serial]
	if !ok {
		return models.Registration{}, fmt.Errorf("%w: %s", ErrUnknownSerial, serial)
	}

	var id int

	if explicitID != nil {
		id = *explicitID

		if err := r.checkExplicitIDLocked(id); err != nil {
			return models.Registration{}, err
		}

		if id >= r.nextID {
			r.nextID = id + 1
		}
	} else {
		next, err := r.allocateIDLocked()
		if err != nil {
			return models.Registration{}, err
		}

		id = next
	}

	hb := entry.Heartbeat
	reg := &models.Registration{
		WorkerID:          id,
		Serial:            serial,
		DisplayIdentifier: hb.DisplayIdentifier,
		ControlAddress:    hb.ControlAddress,
		DataAddress:       hb.DataAddress,
		ActivePlane:       models.ParseDataPlane(string(hb.ActivePlane)),
		LastSeenAt:        entry.LastSeenAt,
		Status:            models.WorkerStatusRegistered,
		RegisteredAt:      now,
	}

	delete(r.pending, serial)
	r.registered[id] = reg
	r.bySerial[serial] = id

	return *reg, nil
}

func (r *Registry) checkExplicitIDLocked(id int) error {
	if id < 0 || id > models.MaxWorkerID {
		return fmt.Errorf("%w: %d (allowed 0..%d)", ErrInvalidWorkerID, id, models.MaxWorkerID)
	}

	if _, taken := r.registered[id]; taken {
		return fmt.Errorf("%w: %d", ErrWorkerIDInUse, id)
	}

	if _, gone := r.retired[id]; gone {
		return fmt.Errorf("%w: %d", ErrWorkerIDRetired, id)
	}

	return nil
}

func (r *Registry) allocateIDLocked() (int, error) {
	for r.nextID <= models.MaxWorkerID {
		id := r.nextID
		r.nextID++

		_, taken := r.registered[id]
		_, gone := r.retired[id]

		if !taken && !gone {
			return id, nil
		}
	}

	return 0, ErrWorkerIDsExhausted
}

// SetStatus updates the status of id. Unknown ids and transitions outside
// the worker state machine are logged and ignored.
func (r *Registry) SetStatus(id int, status models.WorkerStatus) bool {
	r.mu.Lock()

	reg, ok := r.registered[id]
	if !ok {
		r.mu.Unlock()
		r.logger.Debug().Int("worker_id", id).Str("status", string(status)).Msg("Status update for unknown worker ignored")

		return false
	}

	from := reg.Status
	if !models.CanTransition(from, status) {
		r.mu.Unlock()
		r.logger.Warn().
			Int("worker_id", id).
			Str("from", string(from)).
			Str("to", string(status)).
			Msg("Rejected invalid status transition")

		return false
	}

	reg.Status = status
	r.mu.Unlock()

	if from != status {
		r.logger.Info().
			Int("worker_id", id).
			Str("from", string(from)).
			Str("to", string(status)).
			Msg("Worker status changed")
	}

	return true
}

// HandleStatusChange is the events.Bus subscriber that keeps Status in sync
// with what the connection manager and monitor publish.
func (r *Registry) HandleStatusChange(change events.StatusChange) error {
	r.SetStatus(change.WorkerID, change.Status)
	return nil
}

// Remove forgets a registration. Its id is retired for good.
func (r *Registry) Remove(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.registered[id]
	if !ok {
		return false
	}

	delete(r.registered, id)
	delete(r.bySerial, reg.Serial)
	r.retired[id] = struct{}{}

	return true
}

// RemovePending drops a pending entry.
func (r *Registry) RemovePending(serial string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.pending[serial]; !ok {
		return false
	}

	delete(r.pending, serial)

	return true
}

// SweepPending removes pending entries last seen before cutoff and returns
// their serials.
func (r *Registry) SweepPending(cutoff time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string

	for serial, entry := range r.pending {
		if entry.LastSeenAt.Before(cutoff) {
			delete(r.pending, serial)
			removed = append(removed, serial)
		}
	}

	sort.Strings(removed)

	return removed
}

// Pending returns a copy of every pending entry ordered by serial.
func (r *Registry) Pending() []models.PendingEntry {
	r.mu.Lock()
	out := make([]models.PendingEntry, 0, len(r.pending))

	for _, entry := range r.pending {
		out = append(out, *entry)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Heartbeat.Serial < out[j].Heartbeat.Serial })

	return out
}

// Registered returns a copy of every registration ordered by id.
func (r *Registry) Registered() []models.Registration {
	r.mu.Lock()
	out := make([]models.Registration, 0, len(r.registered))

	for _, reg := range r.registered {
		out = append(out, *reg)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].WorkerID < out[j].WorkerID })

	return out
}

// Get returns a copy of the registration for id.
func (r *Registry) Get(id int) (models.Registration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.registered[id]
	if !ok {
		return models.Registration{}, false
	}

	return *reg, true
}

// GetPending returns a copy of the pending entry for serial.
func (r *Registry) GetPending(serial string) (models.PendingEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.pending[serial]
	if !ok {
		return models.PendingEntry{}, false
	}

	return *entry, true
}

// LookupSerial returns the id registered for serial.
func (r *Registry) LookupSerial(serial string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.bySerial[serial]

	return id, ok
}

// Counts returns roster sizes and the number of registrations per status.
func (r *Registry) Counts() Counts {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := Counts{
		Pending:    len(r.pending),
		Registered: len(r.registered),
		ByStatus:   make(map[models.WorkerStatus]int, len(models.AllWorkerStatuses)),
	}

	for _, status := range models.AllWorkerStatuses {
		c.ByStatus[status] = 0
	}

	for _, reg := range r.registered {
		c.ByStatus[reg.Status]++
	}

	return c
}
