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

package controller

import (
	"errors"

	"github.com/carverauto/edgefleet/pkg/logger"
	"github.com/carverauto/edgefleet/pkg/metrics"
	"github.com/carverauto/edgefleet/pkg/models"
	"github.com/carverauto/edgefleet/pkg/registry"
)

// IngestResult is the soft outcome of one heartbeat. Ingest never fails
// hard; Accepted=false plus Reason is the only failure signal.
type IngestResult struct {
	Accepted bool
	Reason   string
	Outcome  string
}

// Ingest applies worker heartbeats to the registry. It only ever holds the
// registry lock; anything slower is pushed to a goroutine.
type Ingest struct {
	registry *registry.Registry
	channels Channels
	policy   ConflictPolicy
	metrics  *metrics.Fleet
	logger   logger.Logger
}

// NewIngest creates an Ingest. channels is only used by the rebind policy
// and may be nil otherwise.
func NewIngest(reg *registry.Registry, channels Channels, policy ConflictPolicy, fleet *metrics.Fleet, log logger.Logger) *Ingest {
	if policy == "" {
		policy = ConflictIgnore
	}

	return &Ingest{registry: reg, channels: channels, policy: policy, metrics: fleet, logger: log}
}

// HandleHeartbeat routes hb to the pending or registered set.
func (in *Ingest) HandleHeartbeat(hb *models.Heartbeat) IngestResult {
	res := in.handle(hb)
	in.metrics.Heartbeat(res.Outcome)

	return res
}

func (in *Ingest) handle(hb *models.Heartbeat) IngestResult {
	if hb == nil {
		return IngestResult{Reason: "empty heartbeat", Outcome: metrics.OutcomeRejected}
	}

	switch {
	case hb.WorkerID == models.UnassignedWorkerID:
		return in.handleUnassigned(hb)
	case hb.WorkerID < 0 || hb.WorkerID > models.MaxWorkerID:
		in.logger.Warn().Int("worker_id", hb.WorkerID).Str("serial", hb.Serial).Msg("Heartbeat with out of range worker id dropped")
		return IngestResult{Reason: "invalid worker id", Outcome: metrics.OutcomeRejected}
	}

	if err := in.registry.TouchRegistered(hb.WorkerID, hb); err != nil {
		in.logger.Warn().
			Int("worker_id", hb.WorkerID).
			Str("serial", hb.Serial).
			Msg("Heartbeat for unknown worker id dropped")

		return IngestResult{Reason: "unknown worker id", Outcome: metrics.OutcomeUnknown}
	}

	in.logger.Debug().Int("worker_id", hb.WorkerID).Msg("Heartbeat from registered worker")

	return IngestResult{Accepted: true, Outcome: metrics.OutcomeRegistered}
}

func (in *Ingest) handleUnassigned(hb *models.Heartbeat) IngestResult {
	err := in.registry.UpsertPending(hb)
	if err == nil {
		in.logger.Debug().Str("serial", hb.Serial).Msg("Heartbeat from pending worker")
		return IngestResult{Accepted: true, Outcome: metrics.OutcomePending}
	}

	var conflict *registry.SerialRegisteredError
	if !errors.As(err, &conflict) {
		in.logger.Warn().Err(err).Msg("Unassigned heartbeat dropped")
		return IngestResult{Reason: err.Error(), Outcome: metrics.OutcomeRejected}
	}

	if in.policy == ConflictRebind && in.rebind(conflict.WorkerID, hb) {
		return IngestResult{Accepted: true, Reason: "rebound to existing registration", Outcome: metrics.OutcomeConflict}
	}

	in.logger.Warn().
		Str("serial", hb.Serial).
		Int("worker_id", conflict.WorkerID).
		Msg("Unassigned heartbeat from registered serial ignored")

	return IngestResult{Reason: "serial already registered", Outcome: metrics.OutcomeConflict}
}

// rebind treats hb as a heartbeat of registration id and re-tells the
// worker its id, either over the open channel or by arming a reconnect.
func (in *Ingest) rebind(id int, hb *models.Heartbeat) bool {
	if in.registry.TouchRegistered(id, hb) != nil {
		return false
	}

	in.logger.Info().Str("serial", hb.Serial).Int("worker_id", id).Msg("Rebinding restarted worker to its registration")

	if in.channels == nil {
		return true
	}

	if in.channels.IsConnected(id) {
		go in.channels.SendCommand(id, models.CommandUpdateWorkerID, models.WorkerIDAssignment{WorkerID: id})
		return true
	}

	if reg, ok := in.registry.Get(id); ok {
		in.channels.Reconnect(reg)
	}

	return true
}
