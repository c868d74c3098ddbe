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

package connection

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/carverauto/edgefleet/pkg/models"
)

// Conn is the subset of *websocket.Conn the manager relies on.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer opens a command channel to a worker.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Publisher receives status changes; *events.Bus satisfies it. Publish may
// run on a retry goroutine, so handlers must not call Disconnect inline.
type Publisher interface {
	Publish(workerID int, status models.WorkerStatus)
}

// Resolver returns the latest registration for a worker so retries dial the
// most recently reported address. *registry.Registry satisfies it.
type Resolver interface {
	Get(id int) (models.Registration, bool)
}

// WebsocketDialer dials ws:// command channels with gorilla/websocket.
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
}

// Dial implements Dialer. The context deadline bounds the whole handshake.
func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: d.HandshakeTimeout,
		Proxy:            nil,
	}

	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		return nil, err
	}

	return conn, nil
}
