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

// Package connection maintains the controller's outbound command channel to
// every registered worker: timeout-bounded connects, one receive loop per
// channel and a bounded, cancellable retry procedure on loss.
package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/carverauto/edgefleet/pkg/logger"
	"github.com/carverauto/edgefleet/pkg/metrics"
	"github.com/carverauto/edgefleet/pkg/models"
)

const (
	DefaultCommandPath          = "/worker_ws"
	DefaultCommandPort          = 8001
	DefaultConnectTimeout       = 5 * time.Second
	DefaultReconnectInterval    = 5 * time.Second
	DefaultMaxReconnectAttempts = 5
	defaultWriteTimeout         = 5 * time.Second
)

// Config tunes the manager. Zero values take the defaults above.
type Config struct {
	CommandPort          int
	CommandPath          string
	ConnectTimeout       time.Duration
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
	WriteTimeout         time.Duration
}

func (c *Config) applyDefaults() {
	if c.CommandPort <= 0 {
		c.CommandPort = DefaultCommandPort
	}

	if c.CommandPath == "" {
		c.CommandPath = DefaultCommandPath
	}

	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}

	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = DefaultReconnectInterval
	}

	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}

	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
}

type reconnectTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// channel is the per-worker handle. gen changes whenever the live conn is
// replaced or torn down so late notifications from an old conn are ignored.
type channel struct {
	reg       models.Registration
	conn      Conn
	gen       uint64
	state     models.ConnectionState
	reconnect *reconnectTask
	writeMu   sync.Mutex
}

// Manager owns every command channel. It never touches the registry; status
// changes go to the Publisher.
type Manager struct {
	cfg       Config
	dialer    Dialer
	publisher Publisher
	resolver  Resolver
	metrics   *metrics.Fleet
	logger    logger.Logger

	mu       sync.Mutex
	channels map[int]*channel
	closed   bool
	wg       sync.WaitGroup
}

// Option customises a Manager.
type Option func(*Manager)

// WithDialer replaces the gorilla websocket dialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// WithResolver lets retries pick up address changes from the registry.
func WithResolver(r Resolver) Option {
	return func(m *Manager) { m.resolver = r }
}

// WithMetrics records connect and command outcomes.
func WithMetrics(f *metrics.Fleet) Option {
	return func(m *Manager) { m.metrics = f }
}

// NewManager creates a manager publishing status changes to pub.
func NewManager(cfg Config, pub Publisher, log logger.Logger, opts ...Option) *Manager {
	cfg.applyDefaults()

	m := &Manager{
		cfg:       cfg,
		publisher: pub,
		logger:    log,
		channels:  make(map[int]*channel),
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.dialer == nil {
		m.dialer = &WebsocketDialer{HandshakeTimeout: cfg.ConnectTimeout}
	}

	return m
}

// CommandURL is where a worker at controlAddress accepts the command channel.
func (m *Manager) CommandURL(controlAddress string) string {
	host := net.JoinHostPort(controlAddress, strconv.Itoa(m.cfg.CommandPort))
	return "ws://" + host + m.cfg.CommandPath
}

func (m *Manager) channelLocked(id int) *channel {
	ch, ok := m.channels[id]
	if !ok {
		ch = &channel{state: models.ConnectionDisconnected}
		m.channels[id] = ch
	}

	return ch
}

// Connect makes a single timeout-bounded attempt to open the command
// channel for reg. On success it starts the receive loop and publishes
// ACTIVE. On failure nothing is published and false is returned.
func (m *Manager) Connect(ctx context.Context, reg models.Registration) bool {
	return m.connect(ctx, reg, nil)
}

func (m *Manager) connect(ctx context.Context, reg models.Registration, task *reconnectTask) bool {
	id := reg.WorkerID

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}

	ch := m.channelLocked(id)
	ch.reg = reg

	if ch.conn != nil {
		m.mu.Unlock()
		return true
	}

	if ch.reconnect == nil {
		ch.state = models.ConnectionConnecting
	}

	startGen := ch.gen
	m.mu.Unlock()

	url := m.CommandURL(reg.ControlAddress)

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	conn, err := m.dialer.Dial(dialCtx, url)
	cancel()

	m.metrics.ConnectAttempt(err == nil)

	if err != nil {
		m.logger.Warn().Err(err).Int("worker_id", id).Str("url", url).Msg("Command channel connect failed")

		m.mu.Lock()
		if ch.conn == nil && ch.reconnect == nil && ch.state == models.ConnectionConnecting {
			ch.state = models.ConnectionDisconnected
		}
		m.mu.Unlock()

		return false
	}

	m.mu.Lock()

	switch {
	case m.closed, task != nil && ctx.Err() != nil:
		m.mu.Unlock()
		_ = conn.Close()

		return false
	case ch.conn != nil:
		m.mu.Unlock()
		_ = conn.Close()

		return true
	case ch.gen != startGen:
		// torn down while dialing
		m.mu.Unlock()
		_ = conn.Close()

		return false
	}

	ch.conn = conn
	ch.gen++
	gen := ch.gen
	ch.state = models.ConnectionConnected

	m.wg.Add(1)
	m.mu.Unlock()

	go m.receiveLoop(id, conn, gen)

	m.logger.Info().Int("worker_id", id).Str("url", url).Msg("Command channel connected")
	m.publisher.Publish(id, models.WorkerStatusActive)

	return true
}

func (m *Manager) receiveLoop(id int, conn Conn, gen uint64) {
	defer m.wg.Done()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			m.connectionLost(id, gen, err)
			return
		}

		m.logger.Debug().Int("worker_id", id).Int("bytes", len(msg)).Msg("Message from worker")
	}
}

func (m *Manager) connectionLost(id int, gen uint64, err error) {
	m.mu.Lock()
	ch, ok := m.channels[id]
	stale := !ok || ch.gen != gen || ch.conn == nil
	m.mu.Unlock()

	if stale {
		return
	}

	m.logger.Warn().Err(err).Int("worker_id", id).Msg("Command channel lost")
	m.teardown(id, true, &gen)
}

// Disconnect publishes INACTIVE, cancels any in-flight retry procedure and
// waits for it, and closes the channel. With allowReconnect it then arms
// the bounded retry procedure.
func (m *Manager) Disconnect(id int, allowReconnect bool) {
	m.teardown(id, allowReconnect, nil)
}

// teardown is shared by explicit disconnects and detected losses. When
// expectGen is set the teardown only proceeds if the channel has not moved
// on since that generation.
func (m *Manager) teardown(id int, allowReconnect bool, expectGen *uint64) {
	m.mu.Lock()
	ch := m.channelLocked(id)

	if expectGen != nil && ch.gen != *expectGen {
		m.mu.Unlock()
		return
	}

	task := ch.reconnect
	ch.reconnect = nil

	if task != nil {
		task.cancel()
	}

	conn := ch.conn
	ch.conn = nil
	ch.gen++
	gen := ch.gen
	ch.state = models.ConnectionDisconnected
	m.mu.Unlock()

	if task != nil {
		<-task.done
	}

	if conn != nil {
		_ = conn.Close()
	}

	m.publisher.Publish(id, models.WorkerStatusInactive)

	if !allowReconnect {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || ch.gen != gen || ch.conn != nil || ch.reconnect != nil {
		return
	}

	if ch.reg.ControlAddress == "" && m.resolver == nil {
		m.logger.Warn().Int("worker_id", id).Msg("No known address, reconnect not armed")
		return
	}

	m.startReconnectLocked(id, ch)
}

// Reconnect arms the bounded retry procedure for reg unless the channel is
// already open or retrying.
func (m *Manager) Reconnect(reg models.Registration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}

	ch := m.channelLocked(reg.WorkerID)
	ch.reg = reg

	if ch.conn != nil || ch.reconnect != nil {
		return false
	}

	m.startReconnectLocked(reg.WorkerID, ch)

	return true
}

func (m *Manager) startReconnectLocked(id int, ch *channel) {
	ctx, cancel := context.WithCancel(context.Background())
	task := &reconnectTask{cancel: cancel, done: make(chan struct{})}

	ch.reconnect = task
	ch.state = models.ConnectionReconnecting

	m.wg.Add(1)

	go m.reconnectLoop(ctx, id, task)
}

// reconnectLoop makes up to MaxReconnectAttempts connects spaced
// ReconnectInterval apart. Exhaustion leaves the worker INACTIVE.
func (m *Manager) reconnectLoop(ctx context.Context, id int, task *reconnectTask) {
	defer m.wg.Done()
	defer close(task.done)
	defer task.cancel()

	m.publisher.Publish(id, models.WorkerStatusReconnecting)

	for attempt := 1; attempt <= m.cfg.MaxReconnectAttempts; attempt++ {
		if ctx.Err() != nil {
			return
		}

		reg := m.latestRegistration(id)

		m.logger.Info().
			Int("worker_id", id).
			Int("attempt", attempt).
			Int("max_attempts", m.cfg.MaxReconnectAttempts).
			Msg("Reconnecting command channel")

		if m.connect(ctx, reg, task) {
			m.finishTask(id, task)
			return
		}

		if attempt == m.cfg.MaxReconnectAttempts {
			break
		}

		timer := time.NewTimer(m.cfg.ReconnectInterval)

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	m.mu.Lock()
	ch := m.channels[id]
	exhausted := ch != nil && ch.reconnect == task

	if exhausted {
		ch.reconnect = nil
		ch.state = models.ConnectionDisconnected
	}
	m.mu.Unlock()

	if !exhausted {
		return
	}

	m.metrics.ReconnectExhausted()
	m.logger.Warn().Int("worker_id", id).Int("attempts", m.cfg.MaxReconnectAttempts).Msg("Reconnect attempts exhausted")
	m.publisher.Publish(id, models.WorkerStatusInactive)
}

func (m *Manager) finishTask(id int, task *reconnectTask) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ch := m.channels[id]; ch != nil && ch.reconnect == task {
		ch.reconnect = nil
	}
}

func (m *Manager) latestRegistration(id int) models.Registration {
	if m.resolver != nil {
		if reg, ok := m.resolver.Get(id); ok {
			return reg
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	reg := m.channels[id].reg
	reg.WorkerID = id

	return reg
}

// SendCommand writes one command envelope. It returns false without side
// effects when no channel is open. A failed write is handled like a lost
// connection.
func (m *Manager) SendCommand(id int, command string, data interface{}) bool {
	env, err := models.NewCommandEnvelope(command, data)
	if err != nil {
		m.logger.Error().Err(err).Int("worker_id", id).Str("command", command).Msg("Failed to encode command")
		return false
	}

	payload, err := json.Marshal(env)
	if err != nil {
		m.logger.Error().Err(err).Int("worker_id", id).Str("command", command).Msg("Failed to encode command")
		return false
	}

	m.mu.Lock()
	ch, ok := m.channels[id]

	if !ok || ch.conn == nil {
		m.mu.Unlock()
		m.logger.Warn().Int("worker_id", id).Str("command", command).Msg("No open command channel")
		m.metrics.Command(command, false)

		return false
	}

	conn, gen := ch.conn, ch.gen
	m.mu.Unlock()

	err = m.write(ch, conn, payload)
	m.metrics.Command(command, err == nil)

	if err != nil {
		m.logger.Warn().Err(err).Int("worker_id", id).Str("command", command).Msg("Command write failed")

		// may run on a retry goroutine via a status subscriber, so never wait here
		go m.connectionLost(id, gen, fmt.Errorf("write %s: %w", command, err))

		return false
	}

	m.logger.Debug().Int("worker_id", id).Str("command", command).Msg("Command sent")

	return true
}

func (m *Manager) write(ch *channel, conn Conn, payload []byte) error {
	ch.writeMu.Lock()
	defer ch.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout)); err != nil {
		return err
	}

	return conn.WriteMessage(websocket.TextMessage, payload)
}

// IsConnected reports transport state only, independent of registry status.
func (m *Manager) IsConnected(id int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.channels[id]

	return ok && ch.conn != nil
}

// State returns the channel state for id.
func (m *Manager) State(id int) models.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ch, ok := m.channels[id]; ok {
		return ch.state
	}

	return models.ConnectionDisconnected
}

// ConnectedCount returns the number of open channels.
func (m *Manager) ConnectedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0

	for _, ch := range m.channels {
		if ch.conn != nil {
			n++
		}
	}

	return n
}

// Forget disconnects id without retry and drops its channel state.
func (m *Manager) Forget(id int) {
	m.teardown(id, false, nil)

	m.mu.Lock()
	defer m.mu.Unlock()

	if ch, ok := m.channels[id]; ok && ch.conn == nil && ch.reconnect == nil {
		delete(m.channels, id)
	}
}

// Close disconnects every worker without retry and waits for all receive
// loops and retry procedures to finish.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}

	m.closed = true

	ids := make([]int, 0, len(m.channels))
	for id := range m.channels {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.teardown(id, false, nil)
	}

	m.wg.Wait()
}
