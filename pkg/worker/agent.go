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

// Package worker implements the worker daemon: the command channel
// endpoint, the standard command handlers and the heartbeat sender.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"

	"github.com/carverauto/edgefleet/pkg/clock"
	"github.com/carverauto/edgefleet/pkg/identity"
	"github.com/carverauto/edgefleet/pkg/logger"
	"github.com/carverauto/edgefleet/pkg/models"
	"github.com/carverauto/edgefleet/pkg/netconf"
)

// AddressFunc returns the IPv4 address of a named interface, or "".
type AddressFunc func(ctx context.Context, iface string) (string, error)

// Agent is one worker process.
type Agent struct {
	cfg        *Config
	serial     string
	display    string
	workerID   atomic.Int64
	network    netconf.Configurator
	subnets    netconf.Subnets
	dispatcher *Dispatcher
	client     *http.Client
	addresses  AddressFunc
	clock      clock.Clock
	logger     logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option customizes an Agent.
type Option func(*Agent)

// WithHTTPClient replaces the client used for heartbeats and probes.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Agent) { a.client = c }
}

// WithAddressFunc replaces the interface address lookup.
func WithAddressFunc(f AddressFunc) Option {
	return func(a *Agent) { a.addresses = f }
}

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(a *Agent) { a.clock = c }
}

// NewAgent builds an unassigned worker for serial. cfg must already be
// validated.
func NewAgent(cfg *Config, serial string, network netconf.Configurator, log logger.Logger, opts ...Option) *Agent {
	a := &Agent{
		cfg:        cfg,
		serial:     serial,
		display:    identity.DisplayIdentifier(serial),
		network:    network,
		subnets:    netconf.Subnets{Ethernet: cfg.EthernetSubnet, Wifi: cfg.WifiSubnet},
		dispatcher: NewDispatcher(log),
		client:     &http.Client{Timeout: cfg.HeartbeatTimeout.OrDefault(DefaultHeartbeatTimeout)},
		addresses:  netconf.InterfaceAddress,
		clock:      clock.Real(),
		logger:     log,
	}

	a.workerID.Store(models.UnassignedWorkerID)

	for _, opt := range opts {
		opt(a)
	}

	a.dispatcher.Register(models.CommandSwitchToEthernet, a.handleSwitchToEthernet)
	a.dispatcher.Register(models.CommandSwitchToWifi, a.handleSwitchToWifi)
	a.dispatcher.Register(models.CommandUpdateWorkerID, a.handleUpdateWorkerID)

	return a
}

// WorkerID returns the assigned id or models.UnassignedWorkerID.
func (a *Agent) WorkerID() int {
	return int(a.workerID.Load())
}

// DisplayIdentifier returns the adjective-animal name derived from the serial.
func (a *Agent) DisplayIdentifier() string {
	return a.display
}

// Dispatcher exposes the command dispatcher for extra registrations.
func (a *Agent) Dispatcher() *Dispatcher {
	return a.dispatcher
}

// Handler routes the command channel and the connectivity probe.
func (a *Agent) Handler() http.Handler {
	r := mux.NewRouter()
	r.Handle(DefaultCommandPath, a.dispatcher)
	r.HandleFunc("/api/connectivity_test", a.handleConnectivityTest).Methods(http.MethodGet)

	return r
}

// Start launches the heartbeat sender.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		a.runHeartbeats(ctx)
	}(a.done)

	a.logger.Info().
		Str("serial", a.serial).
		Str("display_identifier", a.display).
		Dur("interval", a.cfg.HeartbeatInterval.Std()).
		Msg("Worker started")

	return nil
}

// Stop halts the heartbeat sender and waits for it.
func (a *Agent) Stop(ctx context.Context) error {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.mu.Unlock()

	if cancel == nil {
		return nil
	}

	cancel()

	select {
	case <-done:
		a.logger.Info().Msg("Heartbeat loop stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Agent) handleSwitchToEthernet(_ context.Context, _ json.RawMessage) error {
	a.logger.Info().Msg("Received command to switch to the ethernet data plane")

	return a.network.ApplyEthernetDataPlane()
}

func (a *Agent) handleSwitchToWifi(_ context.Context, data json.RawMessage) error {
	var creds models.WifiCredentials

	if len(data) > 0 {
		if err := json.Unmarshal(data, &creds); err != nil {
			return fmt.Errorf("invalid wifi credentials: %w", err)
		}
	}

	a.logger.Info().Str("ssid", creds.SSID).Msg("Received command to switch to the wifi data plane")

	return a.network.ApplyWifiDataPlane(creds.SSID, creds.Password)
}

func (a *Agent) handleUpdateWorkerID(_ context.Context, data json.RawMessage) error {
	var assignment models.WorkerIDAssignment

	if err := json.Unmarshal(data, &assignment); err != nil {
		return fmt.Errorf("invalid worker id assignment: %w", err)
	}

	if assignment.WorkerID < 0 || assignment.WorkerID > models.MaxWorkerID {
		return fmt.Errorf("%w: %d", errInvalidWorkerID, assignment.WorkerID)
	}

	prev := a.workerID.Swap(int64(assignment.WorkerID))
	if prev != int64(assignment.WorkerID) {
		a.logger.Info().
			Int64("previous_worker_id", prev).
			Int("worker_id", assignment.WorkerID).
			Msg("Worker id assigned")
	}

	return nil
}

func (a *Agent) handleConnectivityTest(w http.ResponseWriter, r *http.Request) {
	resp := models.ConnectivityProbeResponse{
		FromIdentifier: a.display,
		Message:        "Connectivity test successful",
		Plane:          netconf.PlaneForAddress(r.RemoteAddr, a.cfg.EthernetSubnet, a.cfg.WifiSubnet),
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		a.logger.Error().Err(err).Msg("Failed to encode connectivity response")
	}
}

func (a *Agent) now() time.Time {
	return a.clock.Now()
}
