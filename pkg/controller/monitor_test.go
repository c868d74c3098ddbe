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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/carverauto/edgefleet/pkg/clock"
	"github.com/carverauto/edgefleet/pkg/logger"
	"github.com/carverauto/edgefleet/pkg/models"
	"github.com/carverauto/edgefleet/pkg/registry"
)

const staleThreshold = 15 * time.Second

func newTestMonitor(f *fixture, forget time.Duration) *Monitor {
	return NewMonitor(MonitorConfig{
		Interval:            10 * time.Second,
		StaleThreshold:      staleThreshold,
		ForgetInactiveAfter: forget,
	}, f.registry, f.channels, f.clock, nil, logger.NewTestLogger())
}

func status(t *testing.T, reg *registry.Registry, id int) models.WorkerStatus {
	t.Helper()

	got, ok := reg.Get(id)
	require.True(t, ok)

	return got.Status
}

func TestSweepMarksStaleWorkerInactive(t *testing.T) {
	f := newFixture(t)
	m := newTestMonitor(f, 0)

	stale := f.register(t, "STALE")
	fresh := f.register(t, "FRESH")

	f.time.Advance(staleThreshold + time.Second)
	require.NoError(t, f.registry.TouchRegistered(fresh.WorkerID, heartbeat(fresh.WorkerID, "FRESH")))

	m.Sweep(context.Background())

	assert.Equal(t, models.WorkerStatusInactive, status(t, f.registry, stale.WorkerID))
	assert.Equal(t, models.WorkerStatusActive, status(t, f.registry, fresh.WorkerID))
	assert.False(t, f.channels.IsConnected(stale.WorkerID))

	_, disconnects, reconnects, _ := f.channels.snapshot()
	assert.Equal(t, []int{stale.WorkerID}, disconnects)
	assert.Empty(t, reconnects, "stale disconnect never retries")

	// already inactive: no second disconnect
	m.Sweep(context.Background())

	_, disconnects, _, _ = f.channels.snapshot()
	assert.Len(t, disconnects, 1)
}

func TestSweepReconnectsInactiveWorkerOnFreshHeartbeat(t *testing.T) {
	f := newFixture(t)
	m := newTestMonitor(f, 0)

	reg := f.register(t, "ABC123")

	f.time.Advance(staleThreshold + time.Second)
	m.Sweep(context.Background())
	require.Equal(t, models.WorkerStatusInactive, status(t, f.registry, reg.WorkerID))

	connectsBefore, _, _, _ := f.channels.snapshot()

	require.NoError(t, f.registry.TouchRegistered(reg.WorkerID, heartbeat(reg.WorkerID, "ABC123")))
	m.Sweep(context.Background())

	connects, _, _, _ := f.channels.snapshot()
	assert.Len(t, connects, len(connectsBefore)+1, "exactly one reconnect attempt per pass")
	assert.Equal(t, models.WorkerStatusActive, status(t, f.registry, reg.WorkerID))
}

func TestSweepFailedReconnectWaitsForNextPass(t *testing.T) {
	f := newFixture(t)
	m := newTestMonitor(f, 0)

	reg := f.register(t, "ABC123")
	f.channels.Disconnect(reg.WorkerID, false)

	f.channels.mu.Lock()
	f.channels.connectOK = false
	f.channels.mu.Unlock()

	before, _, _, _ := f.channels.snapshot()

	m.Sweep(context.Background())
	m.Sweep(context.Background())

	connects, _, _, _ := f.channels.snapshot()
	assert.Len(t, connects, len(before)+2)
	assert.Equal(t, models.WorkerStatusInactive, status(t, f.registry, reg.WorkerID))
}

func TestSweepForgetsStalePending(t *testing.T) {
	f := newFixture(t)
	m := newTestMonitor(f, 0)

	require.NoError(t, f.registry.UpsertPending(heartbeat(models.UnassignedWorkerID, "OLD")))
	f.time.Advance(staleThreshold + time.Second)
	require.NoError(t, f.registry.UpsertPending(heartbeat(models.UnassignedWorkerID, "NEW")))

	m.Sweep(context.Background())

	pending := f.registry.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "NEW", pending[0].Heartbeat.Serial)
}

func TestSweepKeepsInactiveWorkersByDefault(t *testing.T) {
	f := newFixture(t)
	m := newTestMonitor(f, 0)

	reg := f.register(t, "ABC123")

	for range 5 {
		f.time.Advance(time.Hour)
		m.Sweep(context.Background())
	}

	assert.Equal(t, models.WorkerStatusInactive, status(t, f.registry, reg.WorkerID))
}

func TestSweepForgetPolicy(t *testing.T) {
	f := newFixture(t)
	m := newTestMonitor(f, time.Hour)

	reg := f.register(t, "ABC123")

	f.time.Advance(staleThreshold + time.Second)
	m.Sweep(context.Background())
	require.Equal(t, models.WorkerStatusInactive, status(t, f.registry, reg.WorkerID))

	f.time.Advance(time.Hour)
	m.Sweep(context.Background())

	_, ok := f.registry.Get(reg.WorkerID)
	assert.False(t, ok)

	_, _, _, forgets := f.channels.snapshot()
	assert.Equal(t, []int{reg.WorkerID}, forgets)

	// the forgotten id is never handed out again
	require.NoError(t, f.registry.UpsertPending(heartbeat(models.UnassignedWorkerID, "ABC123")))

	again, err := f.registry.Promote("ABC123", nil)
	require.NoError(t, err)
	assert.NotEqual(t, reg.WorkerID, again.WorkerID)
}

func TestSweepRecoversPerWorkerPanic(t *testing.T) {
	f := newFixture(t)
	m := newTestMonitor(f, 0)

	bad := f.register(t, "BAD")
	good := f.register(t, "GOOD")
	f.channels.panicOn = bad.WorkerID

	f.time.Advance(staleThreshold + time.Second)

	require.NotPanics(t, func() { m.Sweep(context.Background()) })
	assert.Equal(t, models.WorkerStatusInactive, status(t, f.registry, good.WorkerID))
}

func TestMonitorRunsOnTicker(t *testing.T) {
	f := newFixture(t)

	ctrl := gomock.NewController(t)
	ticker := clock.NewMockTicker(ctrl)
	ticks := make(chan time.Time)

	f.clock.EXPECT().Ticker(10 * time.Second).Return(ticker)
	ticker.EXPECT().Chan().Return((<-chan time.Time)(ticks)).AnyTimes()
	ticker.EXPECT().Stop()

	m := newTestMonitor(f, 0)
	reg := f.register(t, "ABC123")

	require.NoError(t, m.Start(context.Background()))
	require.ErrorIs(t, m.Start(context.Background()), errAlreadyRunning)

	f.time.Advance(staleThreshold + time.Second)
	ticks <- f.time.Now()

	assert.Eventually(t, func() bool {
		got, _ := f.registry.Get(reg.WorkerID)
		return got.Status == models.WorkerStatusInactive
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Stop(context.Background()))
	require.NoError(t, m.Stop(context.Background()))
}
