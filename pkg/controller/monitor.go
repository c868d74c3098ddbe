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
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/carverauto/edgefleet/pkg/clock"
	"github.com/carverauto/edgefleet/pkg/logger"
	"github.com/carverauto/edgefleet/pkg/metrics"
	"github.com/carverauto/edgefleet/pkg/models"
	"github.com/carverauto/edgefleet/pkg/registry"
)

// MonitorConfig holds the sweep timings. ForgetInactiveAfter of zero keeps
// inactive registrations forever.
type MonitorConfig struct {
	Interval            time.Duration
	StaleThreshold      time.Duration
	ForgetInactiveAfter time.Duration
}

// Monitor periodically reconciles heartbeat freshness with channel state.
type Monitor struct {
	cfg      MonitorConfig
	registry *registry.Registry
	channels Channels
	clock    clock.Clock
	metrics  *metrics.Fleet
	logger   logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a stopped monitor.
func NewMonitor(cfg MonitorConfig, reg *registry.Registry, channels Channels, clk clock.Clock, fleet *metrics.Fleet, log logger.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultMonitorInterval
	}

	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = DefaultStaleThreshold
	}

	if clk == nil {
		clk = clock.Real()
	}

	return &Monitor{
		cfg:      cfg,
		registry: reg,
		channels: channels,
		clock:    clk,
		metrics:  fleet,
		logger:   log,
	}
}

// Start runs sweeps every Interval until Stop or ctx ends.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return errAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	ticker := m.clock.Ticker(m.cfg.Interval)

	go func(done chan struct{}) {
		defer close(done)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				m.Sweep(ctx)
			}
		}
	}(m.done)

	m.logger.Info().
		Dur("interval", m.cfg.Interval).
		Dur("stale_threshold", m.cfg.StaleThreshold).
		Dur("forget_inactive_after", m.cfg.ForgetInactiveAfter).
		Msg("Liveness monitor started")

	return nil
}

// Stop cancels the loop and waits for an in-flight sweep.
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return nil
	}

	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep runs one pass. Reconnect attempts for recovered workers run
// concurrently and Sweep returns once all of them finished.
func (m *Monitor) Sweep(ctx context.Context) {
	now := m.clock.Now()
	cutoff := now.Add(-m.cfg.StaleThreshold)

	var forgetCutoff time.Time
	if m.cfg.ForgetInactiveAfter > 0 {
		forgetCutoff = now.Add(-m.cfg.ForgetInactiveAfter)
	}

	var wg sync.WaitGroup

	for _, reg := range m.registry.Registered() {
		if err := m.checkWorker(ctx, reg, cutoff, forgetCutoff, &wg); err != nil {
			m.logger.Error().Err(err).Int("worker_id", reg.WorkerID).Msg("Liveness check failed")
		}
	}

	wg.Wait()

	for _, serial := range m.registry.SweepPending(cutoff) {
		m.logger.Info().Str("serial", serial).Msg("Forgot stale pending worker")
	}

	m.metrics.Sweep()
}

func (m *Monitor) checkWorker(ctx context.Context, reg models.Registration, cutoff, forgetCutoff time.Time, wg *sync.WaitGroup) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	stale := reg.IsStale(cutoff)

	switch {
	case stale && reg.Status != models.WorkerStatusInactive:
		m.logger.Warn().
			Int("worker_id", reg.WorkerID).
			Str("status", string(reg.Status)).
			Time("last_seen", reg.LastSeenAt).
			Msg("Worker heartbeat stale, marking inactive")

		m.channels.Disconnect(reg.WorkerID, false)

	case stale && !forgetCutoff.IsZero() && reg.IsStale(forgetCutoff):
		if m.registry.Remove(reg.WorkerID) {
			m.channels.Forget(reg.WorkerID)
			m.logger.Info().
				Int("worker_id", reg.WorkerID).
				Str("serial", reg.Serial).
				Time("last_seen", reg.LastSeenAt).
				Msg("Forgot long inactive worker")
		}

	case !stale && reg.Status == models.WorkerStatusInactive:
		m.logger.Info().Int("worker_id", reg.WorkerID).Msg("Inactive worker heartbeating again, reconnecting")

		wg.Add(1)

		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error().Interface("panic", r).Int("worker_id", reg.WorkerID).Msg("Reconnect attempt panicked")
				}
			}()

			if !m.channels.Connect(ctx, reg) {
				m.logger.Warn().Int("worker_id", reg.WorkerID).Msg("Reconnect attempt failed, retrying next sweep")
			}
		}()
	}

	return nil
}
