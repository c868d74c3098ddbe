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
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/edgefleet/pkg/logger"
	"github.com/carverauto/edgefleet/pkg/models"
)

var errHandlerFailed = errors.New("handler failed")

type closeCounter struct {
	mu     sync.Mutex
	closed int
}

func (c *closeCounter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed++

	return nil
}

func (c *closeCounter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

func TestConnHolder(t *testing.T) {
	var h ConnHolder

	first, second := &closeCounter{}, &closeCounter{}

	h.Replace(first)
	assert.Same(t, first, h.Current())

	h.Replace(second)
	assert.Equal(t, 1, first.count(), "displaced handle is closed")
	assert.Same(t, second, h.Current())

	assert.False(t, h.Clear(first), "stale handle cannot clear its replacement")
	assert.Same(t, second, h.Current())

	assert.True(t, h.Clear(second))
	assert.Nil(t, h.Current())
	assert.Equal(t, 0, second.count())
}

func TestDispatch(t *testing.T) {
	d := NewDispatcher(logger.NewTestLogger())

	var got json.RawMessage

	d.Register("echo", func(_ context.Context, data json.RawMessage) error {
		got = data
		return nil
	})
	d.Register("fail", func(context.Context, json.RawMessage) error { return errHandlerFailed })
	d.Register("boom", func(context.Context, json.RawMessage) error { panic("kaboom") })

	ctx := context.Background()

	require.NoError(t, d.Dispatch(ctx, []byte(`{"command":"echo","data":{"x":1}}`)))
	assert.JSONEq(t, `{"x":1}`, string(got))

	require.ErrorContains(t, d.Dispatch(ctx, []byte(`not json`)), "malformed")
	require.ErrorIs(t, d.Dispatch(ctx, []byte(`{"data":{}}`)), errCommandRequired)
	require.ErrorIs(t, d.Dispatch(ctx, []byte(`{"command":"reboot"}`)), errUnknownCommand)
	require.ErrorIs(t, d.Dispatch(ctx, []byte(`{"command":"fail"}`)), errHandlerFailed)
	require.ErrorIs(t, d.Dispatch(ctx, []byte(`{"command":"boom"}`)), errHandlerPanic)
}

func dialDispatcher(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + DefaultCommandPath

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	return conn
}

func TestDispatcherOverWebsocket(t *testing.T) {
	d := NewDispatcher(logger.NewTestLogger())

	received := make(chan string, 4)
	d.Register("ping", func(_ context.Context, data json.RawMessage) error {
		received <- string(data)
		return nil
	})

	mux := http.NewServeMux()
	mux.Handle(DefaultCommandPath, d)

	srv := httptest.NewServer(mux)
	defer srv.Close()

	conn := dialDispatcher(t, srv)
	defer func() { _ = conn.Close() }()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`garbage`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"command":"unknown"}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"command":"ping","data":{"n":1}}`)))

	select {
	case data := <-received:
		assert.JSONEq(t, `{"n":1}`, data)
	case <-time.After(2 * time.Second):
		t.Fatal("command was not dispatched after bad frames")
	}

	assert.True(t, d.Connected())

	second := dialDispatcher(t, srv)
	defer func() { _ = second.Close() }()

	// The first channel is closed by the server once superseded.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)

	require.NoError(t, second.WriteMessage(websocket.TextMessage, []byte(`{"command":"ping","data":{"n":2}}`)))

	select {
	case data := <-received:
		assert.JSONEq(t, `{"n":2}`, data)
	case <-time.After(2 * time.Second):
		t.Fatal("replacement channel not served")
	}

	require.NoError(t, second.Close())
	assert.Eventually(t, func() bool { return !d.Connected() }, 2*time.Second, 10*time.Millisecond)
}

func TestEnvelopeFromController(t *testing.T) {
	env, err := models.NewCommandEnvelope(models.CommandSwitchToEthernet, nil)
	require.NoError(t, err)

	frame, err := json.Marshal(env)
	require.NoError(t, err)

	d := NewDispatcher(logger.NewTestLogger())
	called := false
	d.Register(models.CommandSwitchToEthernet, func(context.Context, json.RawMessage) error {
		called = true
		return nil
	})

	require.NoError(t, d.Dispatch(context.Background(), frame))
	assert.True(t, called)
}
