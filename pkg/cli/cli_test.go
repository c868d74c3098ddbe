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

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	efhttp "github.com/carverauto/edgefleet/pkg/http"
	"github.com/carverauto/edgefleet/pkg/models"
	"github.com/carverauto/edgefleet/pkg/registry"
)

const testKey = "k3y"

// fakeController records requests and answers like the controller API.
type fakeController struct {
	mu      sync.Mutex
	bodies  map[string]string
	workers []models.WorkerView
	pending []models.PendingEntry
}

func newFakeController(t *testing.T) (*fakeController, *httptest.Server) {
	t.Helper()

	f := &fakeController{
		bodies: make(map[string]string),
		workers: []models.WorkerView{{
			Registration: models.Registration{
				WorkerID:          3,
				Serial:            "ABC123",
				DisplayIdentifier: "Brave-Otter",
				Status:            models.WorkerStatusActive,
				ActivePlane:       models.DataPlaneEthernet,
				ControlAddress:    "10.0.100.20",
			},
			Connection: models.ConnectionConnected,
		}},
		pending: []models.PendingEntry{{
			Heartbeat: models.Heartbeat{Serial: "DEF456", DisplayIdentifier: "Calm-Heron", ControlAddress: "10.0.100.21"},
		}},
	}

	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.Header.Get(efhttp.APIKeyHeader) != testKey {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, req)
		})
	})

	api.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		f.reply(w, http.StatusOK, registry.Counts{
			Pending:    1,
			Registered: 1,
			ByStatus:   map[models.WorkerStatus]int{models.WorkerStatusActive: 1},
		})
	}).Methods(http.MethodGet)
	api.HandleFunc("/workers", func(w http.ResponseWriter, _ *http.Request) {
		f.reply(w, http.StatusOK, f.workers)
	}).Methods(http.MethodGet)
	api.HandleFunc("/workers/pending", func(w http.ResponseWriter, _ *http.Request) {
		f.reply(w, http.StatusOK, f.pending)
	}).Methods(http.MethodGet)
	api.HandleFunc("/workers/pending/{serial}/promote", func(w http.ResponseWriter, req *http.Request) {
		f.record(req)

		if mux.Vars(req)["serial"] != "DEF456" {
			f.reply(w, http.StatusNotFound, models.ErrorResponse{Message: "unknown serial", Status: http.StatusNotFound})
			return
		}

		f.reply(w, http.StatusCreated, models.Registration{WorkerID: 9, Serial: "DEF456", Status: models.WorkerStatusActive})
	}).Methods(http.MethodPost)
	api.HandleFunc("/workers/{id}", func(w http.ResponseWriter, _ *http.Request) {
		f.reply(w, http.StatusOK, f.workers[0])
	}).Methods(http.MethodGet)
	api.HandleFunc("/workers/{id}/commands", func(w http.ResponseWriter, req *http.Request) {
		body := f.record(req)

		var cmdReq models.CommandRequest
		_ = json.Unmarshal([]byte(body), &cmdReq)

		f.reply(w, http.StatusOK, models.CommandResult{WorkerID: 3, Command: cmdReq.Command, Success: true})
	}).Methods(http.MethodPost)
	api.HandleFunc("/workers/{id}/disconnect", func(w http.ResponseWriter, _ *http.Request) {
		view := f.workers[0]
		view.Status = models.WorkerStatusInactive
		f.reply(w, http.StatusOK, view)
	}).Methods(http.MethodPost)
	api.HandleFunc("/workers/{id}/reconnect", func(w http.ResponseWriter, _ *http.Request) {
		f.reply(w, http.StatusAccepted, map[string]interface{}{"workerId": 3, "armed": true})
	}).Methods(http.MethodPost)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return f, srv
}

func (*fakeController) reply(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeController) record(req *http.Request) string {
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(req.Body)

	f.mu.Lock()
	defer f.mu.Unlock()

	f.bodies[req.URL.Path] = buf.String()

	return buf.String()
}

func (f *fakeController) body(path string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.bodies[path]
}

func run(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	root := NewRootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--controller", srv.URL, "--api-key", testKey}, args...))

	err := root.ExecuteContext(context.Background())

	return out.String(), err
}

func TestClientErrors(t *testing.T) {
	_, srv := newFakeController(t)

	c := NewClient(srv.URL, "wrong", false)

	_, err := c.Workers(context.Background())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	require.ErrorIs(t, err, errControllerAPI)

	c = NewClient(srv.URL, testKey, false)

	_, err = c.Promote(context.Background(), "NOPE", nil)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "unknown serial", apiErr.Message)
}

func TestNormaliseControllerURL(t *testing.T) {
	assert.Equal(t, defaultControllerURL, normaliseControllerURL(" "))
	assert.Equal(t, "http://10.0.100.1:8001", normaliseControllerURL("10.0.100.1:8001/"))
	assert.Equal(t, "https://ctrl.example", normaliseControllerURL("https://ctrl.example"))
}

func TestWorkersCommand(t *testing.T) {
	_, srv := newFakeController(t)

	out, err := run(t, srv, "workers")
	require.NoError(t, err)
	assert.Contains(t, out, "Brave-Otter")
	assert.Contains(t, out, "10.0.100.20")

	out, err = run(t, srv, "workers", "-o", "json")
	require.NoError(t, err)

	var views []models.WorkerView
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	require.Len(t, views, 1)
	assert.Equal(t, 3, views[0].WorkerID)

	_, err = run(t, srv, "workers", "-o", "yaml")
	require.ErrorIs(t, err, errInvalidOutputFormat)
}

func TestStatusAndPendingCommands(t *testing.T) {
	_, srv := newFakeController(t)

	out, err := run(t, srv, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Registered : 1")

	out, err = run(t, srv, "pending")
	require.NoError(t, err)
	assert.Contains(t, out, "DEF456")
	assert.Contains(t, out, "Calm-Heron")
}

func TestPromoteCommand(t *testing.T) {
	f, srv := newFakeController(t)

	out, err := run(t, srv, "promote", "DEF456")
	require.NoError(t, err)
	assert.Contains(t, out, "Worker ID  : 9")
	assert.JSONEq(t, `{}`, f.body("/api/workers/pending/DEF456/promote"))

	_, err = run(t, srv, "promote", "DEF456", "--id", "0")
	require.NoError(t, err)
	assert.JSONEq(t, `{"workerId":0}`, f.body("/api/workers/pending/DEF456/promote"))
}

func TestCommandCommand(t *testing.T) {
	f, srv := newFakeController(t)

	out, err := run(t, srv, "command", "3", models.CommandSwitchToWifi, "--ssid", "Lab", "--password", "hunter22")
	require.NoError(t, err)
	assert.Contains(t, out, "switch_to_wifi sent to worker 3")
	assert.JSONEq(t,
		`{"command":"switch_to_wifi","data":{"ssid":"Lab","password":"hunter22"}}`,
		f.body("/api/workers/3/commands"))

	_, err = run(t, srv, "command", "3", models.CommandSwitchToWifi)
	require.NoError(t, err)
	assert.JSONEq(t, `{"command":"switch_to_wifi"}`, f.body("/api/workers/3/commands"))

	_, err = run(t, srv, "command", "3", models.CommandUpdateWorkerID, "--data", `{"workerId":4}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"command":"update_worker_id","data":{"workerId":4}}`, f.body("/api/workers/3/commands"))

	_, err = run(t, srv, "command", "3", models.CommandUpdateWorkerID, "--data", `[1]`)
	require.ErrorIs(t, err, errInvalidCommandData)

	_, err = run(t, srv, "command", "255", models.CommandSwitchToEthernet)
	require.ErrorIs(t, err, errInvalidWorkerIDArg)
}

func TestDisconnectAndReconnectCommands(t *testing.T) {
	_, srv := newFakeController(t)

	out, err := run(t, srv, "disconnect", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "Worker 3 is")
	assert.Contains(t, out, "inactive")

	out, err = run(t, srv, "reconnect", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "Reconnecting worker 3")

	out, err = run(t, srv, "worker", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "Channel    : connected")
}

func TestWatchModel(t *testing.T) {
	_, srv := newFakeController(t)

	m := newWatchModel(NewClient(srv.URL, testKey, false), time.Second)

	msg := m.Init()()
	roster, ok := msg.(rosterMsg)
	require.True(t, ok)
	require.NoError(t, roster.err)

	_, cmd := m.Update(roster)
	assert.NotNil(t, cmd)
	assert.Equal(t, 1, m.pending)
	require.Len(t, m.table.Rows(), 1)
	assert.Equal(t, "Brave-Otter", m.table.Rows()[0][1])
	assert.True(t, strings.Contains(m.View(), "1 pending"))

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}
