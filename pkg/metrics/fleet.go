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

// Package metrics exposes edgefleet fleet instruments over OpenTelemetry.
package metrics

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/carverauto/edgefleet/pkg/models"
)

const (
	meterName = "github.com/carverauto/edgefleet/fleet"

	metricHeartbeatsName        = "edgefleet_heartbeats_total"
	metricConnectAttemptsName   = "edgefleet_connect_attempts_total"
	metricCommandsName          = "edgefleet_commands_total"
	metricMonitorSweepsName     = "edgefleet_monitor_sweeps_total"
	metricReconnectExhaustName  = "edgefleet_reconnects_exhausted_total"
	metricPendingWorkersName    = "edgefleet_pending_workers"
	metricRegisteredWorkersName = "edgefleet_registered_workers"
	metricWorkersByStatusName   = "edgefleet_workers_by_status"
	metricConnectedChannelsName = "edgefleet_connected_channels"

	// Heartbeat outcomes.
	OutcomePending    = "pending"
	OutcomeRegistered = "registered"
	OutcomeUnknown    = "unknown_worker"
	OutcomeConflict   = "serial_conflict"
	OutcomeRejected   = "rejected"
)

var errAlreadyObserving = errors.New("fleet gauges already registered")

// Snapshot is what the observable gauges report on each collection.
type Snapshot struct {
	Pending           int
	Registered        int
	ByStatus          map[models.WorkerStatus]int
	ConnectedChannels int
}

// Fleet holds the counters shared by the controller components. A nil
// *Fleet is valid and records nothing.
type Fleet struct {
	heartbeats         metric.Int64Counter
	connectAttempts    metric.Int64Counter
	commands           metric.Int64Counter
	sweeps             metric.Int64Counter
	reconnectExhausted metric.Int64Counter

	meter        metric.Meter
	registration metric.Registration
}

// New creates the fleet instruments on meter, or on the global meter
// provider when meter is nil.
func New(meter metric.Meter) (*Fleet, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}

	f := &Fleet{meter: meter}

	var err error

	if f.heartbeats, err = meter.Int64Counter(metricHeartbeatsName,
		metric.WithDescription("Heartbeats received by the controller, by outcome")); err != nil {
		return nil, fmt.Errorf("create %s: %w", metricHeartbeatsName, err)
	}

	if f.connectAttempts, err = meter.Int64Counter(metricConnectAttemptsName,
		metric.WithDescription("Command channel connection attempts, by result")); err != nil {
		return nil, fmt.Errorf("create %s: %w", metricConnectAttemptsName, err)
	}

	if f.commands, err = meter.Int64Counter(metricCommandsName,
		metric.WithDescription("Commands pushed to workers, by command and result")); err != nil {
		return nil, fmt.Errorf("create %s: %w", metricCommandsName, err)
	}

	if f.sweeps, err = meter.Int64Counter(metricMonitorSweepsName,
		metric.WithDescription("Liveness monitor passes")); err != nil {
		return nil, fmt.Errorf("create %s: %w", metricMonitorSweepsName, err)
	}

	if f.reconnectExhausted, err = meter.Int64Counter(metricReconnectExhaustName,
		metric.WithDescription("Bounded reconnect procedures that ran out of attempts")); err != nil {
		return nil, fmt.Errorf("create %s: %w", metricReconnectExhaustName, err)
	}

	return f, nil
}

func resultAttr(ok bool) attribute.KeyValue {
	if ok {
		return attribute.String("result", "success")
	}

	return attribute.String("result", "failure")
}

// Heartbeat counts one ingested heartbeat.
func (f *Fleet) Heartbeat(outcome string) {
	if f == nil {
		return
	}

	f.heartbeats.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// ConnectAttempt counts one dial of a command channel.
func (f *Fleet) ConnectAttempt(ok bool) {
	if f == nil {
		return
	}

	f.connectAttempts.Add(context.Background(), 1, metric.WithAttributes(resultAttr(ok)))
}

// Command counts one command push.
func (f *Fleet) Command(command string, ok bool) {
	if f == nil {
		return
	}

	f.commands.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("command", command), resultAttr(ok)))
}

// Sweep counts one liveness monitor pass.
func (f *Fleet) Sweep() {
	if f == nil {
		return
	}

	f.sweeps.Add(context.Background(), 1)
}

// ReconnectExhausted counts a retry procedure that gave up.
func (f *Fleet) ReconnectExhausted() {
	if f == nil {
		return
	}

	f.reconnectExhausted.Add(context.Background(), 1)
}

// Observe registers the roster gauges. snapshot is called once per
// collection cycle.
func (f *Fleet) Observe(snapshot func() Snapshot) error {
	if f == nil {
		return nil
	}

	if f.registration != nil {
		return errAlreadyObserving
	}

	pending, err := f.meter.Int64ObservableGauge(metricPendingWorkersName,
		metric.WithDescription("Workers heard from but not yet promoted"))
	if err != nil {
		return err
	}

	registered, err := f.meter.Int64ObservableGauge(metricRegisteredWorkersName,
		metric.WithDescription("Workers with an assigned id"))
	if err != nil {
		return err
	}

	byStatus, err := f.meter.Int64ObservableGauge(metricWorkersByStatusName,
		metric.WithDescription("Registered workers per status"))
	if err != nil {
		return err
	}

	connected, err := f.meter.Int64ObservableGauge(metricConnectedChannelsName,
		metric.WithDescription("Open command channels"))
	if err != nil {
		return err
	}

	f.registration, err = f.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := snapshot()

		o.ObserveInt64(pending, int64(s.Pending))
		o.ObserveInt64(registered, int64(s.Registered))
		o.ObserveInt64(connected, int64(s.ConnectedChannels))

		for _, status := range models.AllWorkerStatuses {
			o.ObserveInt64(byStatus, int64(s.ByStatus[status]),
				metric.WithAttributes(attribute.String("status", string(status))))
		}

		return nil
	}, pending, registered, byStatus, connected)

	return err
}

// Close unregisters the gauge callback.
func (f *Fleet) Close() error {
	if f == nil || f.registration == nil {
		return nil
	}

	err := f.registration.Unregister()
	f.registration = nil

	return err
}
