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

// Package controller wires the registry, the command channels, heartbeat
// ingest and the liveness monitor into the controller daemon.
package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/carverauto/edgefleet/pkg/clock"
	"github.com/carverauto/edgefleet/pkg/connection"
	"github.com/carverauto/edgefleet/pkg/events"
	"github.com/carverauto/edgefleet/pkg/logger"
	"github.com/carverauto/edgefleet/pkg/metrics"
	"github.com/carverauto/edgefleet/pkg/models"
	"github.com/carverauto/edgefleet/pkg/registry"
)

// Service is the controller process minus its HTTP surface.
type Service struct {
	cfg        *Config
	identifier string
	clock      clock.Clock
	bus        *events.Bus
	registry   *registry.Registry
	channels   Channels
	ingest     *Ingest
	monitor    *Monitor
	metrics    *metrics.Fleet
	logger     logger.Logger

	mu          sync.Mutex
	unsubscribe []func()
}

// Option customizes a Service.
type Option func(*serviceOptions)

type serviceOptions struct {
	clock       clock.Clock
	dialer      connection.Dialer
	channels    Channels
	metrics     *metrics.Fleet
	subscribers map[string]events.Handler
}

// WithClock replaces the wall clock for the registry, bus and monitor.
func WithClock(c clock.Clock) Option {
	return func(o *serviceOptions) { o.clock = c }
}

// WithDialer replaces the websocket dialer of the default channel manager.
func WithDialer(d connection.Dialer) Option {
	return func(o *serviceOptions) { o.dialer = d }
}

// WithChannels replaces the channel manager entirely.
func WithChannels(c Channels) Option {
	return func(o *serviceOptions) { o.channels = c }
}

// WithMetrics records fleet metrics.
func WithMetrics(f *metrics.Fleet) Option {
	return func(o *serviceOptions) { o.metrics = f }
}

// WithStatusSubscriber adds a status bus subscriber, e.g. the NATS sink.
func WithStatusSubscriber(name string, h events.Handler) Option {
	return func(o *serviceOptions) {
		if o.subscribers == nil {
			o.subscribers = make(map[string]events.Handler)
		}

		o.subscribers[name] = h
	}
}

// NewService builds a controller from a validated config. identifier names
// the controller in probe responses.
func NewService(cfg *Config, identifier string, log logger.Logger, opts ...Option) *Service {
	o := &serviceOptions{}
	for _, opt := range opts {
		opt(o)
	}

	if o.clock == nil {
		o.clock = clock.Real()
	}

	if identifier == "" {
		identifier = DefaultIdentifier
	}

	s := &Service{
		cfg:        cfg,
		identifier: identifier,
		clock:      o.clock,
		bus:        events.NewBus(o.clock, log),
		registry:   registry.New(o.clock, log),
		metrics:    o.metrics,
		logger:     log,
	}

	s.channels = o.channels
	if s.channels == nil {
		connOpts := []connection.Option{
			connection.WithResolver(s.registry),
			connection.WithMetrics(o.metrics),
		}

		if o.dialer != nil {
			connOpts = append(connOpts, connection.WithDialer(o.dialer))
		}

		s.channels = connection.NewManager(connection.Config{
			CommandPort:          cfg.WorkerCommandPort,
			ConnectTimeout:       cfg.ConnectTimeout.Std(),
			ReconnectInterval:    cfg.ReconnectInterval.Std(),
			MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		}, s.bus, log, connOpts...)
	}

	// registry first so later subscribers see the updated status
	s.unsubscribe = append(s.unsubscribe,
		s.bus.Subscribe("registry", s.registry.HandleStatusChange),
		s.bus.Subscribe("worker-id-push", s.pushWorkerID),
	)

	for name, h := range o.subscribers {
		s.unsubscribe = append(s.unsubscribe, s.bus.Subscribe(name, h))
	}

	s.ingest = NewIngest(s.registry, s.channels, cfg.SerialConflictPolicy, o.metrics, log)
	s.monitor = NewMonitor(MonitorConfig{
		Interval:            cfg.MonitorInterval.Std(),
		StaleThreshold:      cfg.StaleThreshold.Std(),
		ForgetInactiveAfter: cfg.ForgetInactiveAfter.Std(),
	}, s.registry, s.channels, o.clock, o.metrics, log)

	return s
}

// Start registers the fleet gauges and starts the liveness monitor.
func (s *Service) Start(ctx context.Context) error {
	if s.metrics != nil {
		if err := s.metrics.Observe(s.snapshot); err != nil {
			return fmt.Errorf("failed to register fleet gauges: %w", err)
		}
	}

	if err := s.monitor.Start(ctx); err != nil {
		return err
	}

	s.logger.Info().Str("identifier", s.identifier).Msg("Controller started")

	return nil
}

// Stop halts the monitor and closes every command channel without retry.
func (s *Service) Stop(ctx context.Context) error {
	err := s.monitor.Stop(ctx)

	s.channels.Close()

	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	for _, u := range unsubscribe {
		u()
	}

	if s.metrics != nil {
		if closeErr := s.metrics.Close(); closeErr != nil {
			s.logger.Warn().Err(closeErr).Msg("Failed to unregister fleet gauges")
		}
	}

	s.logger.Info().Msg("Controller stopped")

	return err
}

// Identifier names this controller in probe responses.
func (s *Service) Identifier() string {
	return s.identifier
}

// Registry exposes the roster for read access.
func (s *Service) Registry() *registry.Registry {
	return s.registry
}

// Bus exposes the status bus.
func (s *Service) Bus() *events.Bus {
	return s.bus
}

// Monitor exposes the liveness monitor.
func (s *Service) Monitor() *Monitor {
	return s.monitor
}

// HandleHeartbeat forwards to Ingest.
func (s *Service) HandleHeartbeat(hb *models.Heartbeat) IngestResult {
	return s.ingest.HandleHeartbeat(hb)
}

// Promote assigns an id to a pending worker and opens its command channel.
// A failed connect leaves the registration RECONNECTING with the bounded
// retry procedure armed; the registration is returned either way.
func (s *Service) Promote(ctx context.Context, serial string, explicitID *int) (models.Registration, error) {
	reg, err := s.registry.Promote(serial, explicitID)
	if err != nil {
		return models.Registration{}, err
	}

	s.logger.Info().
		Str("serial", serial).
		Int("worker_id", reg.WorkerID).
		Str("display_identifier", reg.DisplayIdentifier).
		Msg("Worker promoted")

	if !s.channels.Connect(ctx, reg) {
		s.logger.Warn().Int("worker_id", reg.WorkerID).Msg("Initial connect failed, retrying in background")
		s.bus.Publish(reg.WorkerID, models.WorkerStatusReconnecting)
		s.channels.Reconnect(reg)
	}

	if latest, ok := s.registry.Get(reg.WorkerID); ok {
		return latest, nil
	}

	return reg, nil
}

// SendCommand pushes one command to a registered worker. switch_to_wifi
// without credentials uses the configured network.
func (s *Service) SendCommand(id int, command string, data interface{}) (bool, error) {
	if command == "" {
		return false, errCommandRequired
	}

	if _, ok := s.registry.Get(id); !ok {
		return false, fmt.Errorf("%w: %d", registry.ErrUnknownWorker, id)
	}

	if command == models.CommandSwitchToWifi && isEmptyPayload(data) {
		data = models.WifiCredentials{SSID: s.cfg.WifiSSID, Password: s.cfg.WifiPassword}
	}

	return s.channels.SendCommand(id, command, data), nil
}

// Disconnect closes a worker's channel without retry.
func (s *Service) Disconnect(id int) error {
	if _, ok := s.registry.Get(id); !ok {
		return fmt.Errorf("%w: %d", registry.ErrUnknownWorker, id)
	}

	s.channels.Disconnect(id, false)

	return nil
}

// Reconnect arms the bounded retry procedure for a worker. It reports
// false when the channel is already open or retrying.
func (s *Service) Reconnect(id int) (bool, error) {
	reg, ok := s.registry.Get(id)
	if !ok {
		return false, fmt.Errorf("%w: %d", registry.ErrUnknownWorker, id)
	}

	return s.channels.Reconnect(reg), nil
}

// Workers lists registrations with their transport state.
func (s *Service) Workers() []models.WorkerView {
	regs := s.registry.Registered()
	views := make([]models.WorkerView, 0, len(regs))

	for _, reg := range regs {
		views = append(views, models.WorkerView{Registration: reg, Connection: s.channels.State(reg.WorkerID)})
	}

	return views
}

// Worker returns one registration with its transport state.
func (s *Service) Worker(id int) (models.WorkerView, bool) {
	reg, ok := s.registry.Get(id)
	if !ok {
		return models.WorkerView{}, false
	}

	return models.WorkerView{Registration: reg, Connection: s.channels.State(id)}, true
}

// Pending lists workers waiting for promotion.
func (s *Service) Pending() []models.PendingEntry {
	return s.registry.Pending()
}

// pushWorkerID tells a worker its id whenever its channel becomes ACTIVE.
func (s *Service) pushWorkerID(change events.StatusChange) error {
	if change.Status != models.WorkerStatusActive {
		return nil
	}

	if !s.channels.SendCommand(change.WorkerID, models.CommandUpdateWorkerID, models.WorkerIDAssignment{WorkerID: change.WorkerID}) {
		s.logger.Warn().Int("worker_id", change.WorkerID).Msg("Failed to push worker id")
	}

	return nil
}

func (s *Service) snapshot() metrics.Snapshot {
	counts := s.registry.Counts()

	return metrics.Snapshot{
		Pending:           counts.Pending,
		Registered:        counts.Registered,
		ByStatus:          counts.ByStatus,
		ConnectedChannels: s.channels.ConnectedCount(),
	}
}

func isEmptyPayload(data interface{}) bool {
	switch v := data.(type) {
	case nil:
		return true
	case json.RawMessage:
		trimmed := string(v)
		return trimmed == "" || trimmed == "null" || trimmed == "{}"
	case map[string]interface{}:
		return len(v) == 0
	default:
		return false
	}
}
