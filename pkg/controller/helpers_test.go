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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/carverauto/edgefleet/pkg/clock"
	"github.com/carverauto/edgefleet/pkg/events"
	"github.com/carverauto/edgefleet/pkg/logger"
	"github.com/carverauto/edgefleet/pkg/models"
	"github.com/carverauto/edgefleet/pkg/registry"
)

type sentCommand struct {
	id      int
	command string
	data    interface{}
}

// fakeChannels mimics the connection manager: connects and disconnects
// publish the same statuses on the bus.
type fakeChannels struct {
	mu          sync.Mutex
	bus         *events.Bus
	connectOK   bool
	open        map[int]bool
	connects    []int
	disconnects []int
	reconnects  []int
	forgets     []int
	commands    []sentCommand
	panicOn     int
}

func newFakeChannels(bus *events.Bus) *fakeChannels {
	return &fakeChannels{bus: bus, connectOK: true, open: make(map[int]bool), panicOn: -1}
}

func (f *fakeChannels) Connect(_ context.Context, reg models.Registration) bool {
	f.mu.Lock()
	f.connects = append(f.connects, reg.WorkerID)
	ok := f.connectOK
	if ok {
		f.open[reg.WorkerID] = true
	}
	f.mu.Unlock()

	if ok && f.bus != nil {
		f.bus.Publish(reg.WorkerID, models.WorkerStatusActive)
	}

	return ok
}

func (f *fakeChannels) Disconnect(id int, _ bool) {
	if id == f.panicOn {
		panic("disconnect exploded")
	}

	f.mu.Lock()
	f.disconnects = append(f.disconnects, id)
	delete(f.open, id)
	f.mu.Unlock()

	if f.bus != nil {
		f.bus.Publish(id, models.WorkerStatusInactive)
	}
}

func (f *fakeChannels) Reconnect(reg models.Registration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.reconnects = append(f.reconnects, reg.WorkerID)

	return true
}

func (f *fakeChannels) Forget(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.forgets = append(f.forgets, id)
	delete(f.open, id)
}

func (f *fakeChannels) SendCommand(id int, command string, data interface{}) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.open[id] {
		return false
	}

	f.commands = append(f.commands, sentCommand{id: id, command: command, data: data})

	return true
}

func (f *fakeChannels) IsConnected(id int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.open[id]
}

func (f *fakeChannels) State(id int) models.ConnectionState {
	if f.IsConnected(id) {
		return models.ConnectionConnected
	}

	return models.ConnectionDisconnected
}

func (f *fakeChannels) ConnectedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.open)
}

func (*fakeChannels) Close() {}

func (f *fakeChannels) snapshot() (connects, disconnects, reconnects, forgets []int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]int(nil), f.connects...),
		append([]int(nil), f.disconnects...),
		append([]int(nil), f.reconnects...),
		append([]int(nil), f.forgets...)
}

func (f *fakeChannels) sent() []sentCommand {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]sentCommand(nil), f.commands...)
}

// manualTime backs a MockClock's Now.
type manualTime struct {
	mu  sync.Mutex
	now time.Time
}

func (m *manualTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.now
}

func (m *manualTime) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.now = m.now.Add(d)
}

func newMockClock(t *testing.T) (*clock.MockClock, *manualTime) {
	t.Helper()

	ctrl := gomock.NewController(t)
	mt := &manualTime{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}

	mc := clock.NewMockClock(ctrl)
	mc.EXPECT().Now().DoAndReturn(mt.Now).AnyTimes()

	return mc, mt
}

// fixture is a registry and bus wired like the service does it.
type fixture struct {
	clock    *clock.MockClock
	time     *manualTime
	bus      *events.Bus
	registry *registry.Registry
	channels *fakeChannels
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mc, mt := newMockClock(t)
	log := logger.NewTestLogger()

	f := &fixture{clock: mc, time: mt}
	f.bus = events.NewBus(mc, log)
	f.registry = registry.New(mc, log)
	f.bus.Subscribe("registry", f.registry.HandleStatusChange)
	f.channels = newFakeChannels(f.bus)

	return f
}

func heartbeat(id int, serial string) *models.Heartbeat {
	return &models.Heartbeat{
		WorkerID:          id,
		Serial:            serial,
		DisplayIdentifier: "Brave-Otter",
		ControlAddress:    "10.0.100.20",
		ActivePlane:       models.DataPlaneEthernet,
		DataAddress:       "10.0.100.20",
		Timestamp:         1,
	}
}

// register promotes serial and connects it so it is ACTIVE.
func (f *fixture) register(t *testing.T, serial string) models.Registration {
	t.Helper()

	require.NoError(t, f.registry.UpsertPending(heartbeat(models.UnassignedWorkerID, serial)))

	reg, err := f.registry.Promote(serial, nil)
	require.NoError(t, err)
	require.True(t, f.channels.Connect(context.Background(), reg))

	reg, ok := f.registry.Get(reg.WorkerID)
	require.True(t, ok)
	require.Equal(t, models.WorkerStatusActive, reg.Status)

	return reg
}
