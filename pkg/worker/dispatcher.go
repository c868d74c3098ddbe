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

package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/carverauto/edgefleet/pkg/logger"
	"github.com/carverauto/edgefleet/pkg/models"
)

// HandlerFunc executes one command. data is the raw "data" member of the
// envelope and may be empty.
type HandlerFunc func(ctx context.Context, data json.RawMessage) error

// Dispatcher accepts the controller's command channel and routes each
// envelope to the registered handler. Handlers run inline, one frame at a
// time.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	holder   ConnHolder
	upgrader websocket.Upgrader
	logger   logger.Logger
}

// NewDispatcher returns a dispatcher with no handlers.
func NewDispatcher(log logger.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The controller is a daemon, not a browser.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: log,
	}
}

// Register binds command to h, replacing any earlier binding.
func (d *Dispatcher) Register(command string, h HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.handlers[command] = h
}

// Connected reports whether a controller channel is currently attached.
func (d *Dispatcher) Connected() bool {
	return d.holder.Current() != nil
}

// ServeHTTP upgrades the request and reads envelopes until the channel
// closes. A new connection displaces the previous one.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.logger.Error().
			Err(err).
			Str("remote_addr", r.RemoteAddr).
			Msg("Failed to upgrade command channel")

		return
	}

	d.holder.Replace(conn)

	d.logger.Info().Str("remote_addr", r.RemoteAddr).Msg("Command channel established with controller")

	ctx, cancel := context.WithCancel(context.Background())

	defer func() {
		cancel()
		d.holder.Clear(conn)
		_ = conn.Close()

		d.logger.Info().Str("remote_addr", r.RemoteAddr).Msg("Command channel closed")
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				d.logger.Warn().Err(err).Msg("Command channel to controller lost")
			}

			return
		}

		if err := d.Dispatch(ctx, message); err != nil {
			d.logger.Warn().Err(err).Msg("Command not executed")
		}
	}
}

// Dispatch decodes one frame and runs its handler. Malformed frames,
// missing and unknown commands are returned as errors, never panics.
func (d *Dispatcher) Dispatch(ctx context.Context, frame []byte) error {
	var env models.CommandEnvelope

	if err := json.Unmarshal(frame, &env); err != nil {
		return fmt.Errorf("malformed command frame: %w", err)
	}

	if env.Command == "" {
		return errCommandRequired
	}

	d.mu.RLock()
	h, ok := d.handlers[env.Command]
	d.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %q", errUnknownCommand, env.Command)
	}

	d.logger.Debug().Str("command", env.Command).Msg("Handling command")

	return d.run(ctx, env.Command, h, env.Data)
}

func (*Dispatcher) run(ctx context.Context, command string, h HandlerFunc, data json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: %v", errHandlerPanic, command, r)
		}
	}()

	if err := h(ctx, data); err != nil {
		return fmt.Errorf("%s: %w", command, err)
	}

	return nil
}
