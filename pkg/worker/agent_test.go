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
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/edgefleet/pkg/identity"
	"github.com/carverauto/edgefleet/pkg/logger"
	"github.com/carverauto/edgefleet/pkg/models"
	"github.com/carverauto/edgefleet/pkg/netconf"
)

const testSerial = "10000000abcdef01"

// fakeController records heartbeats and answers probes.
type fakeController struct {
	mu         sync.Mutex
	heartbeats []models.Heartbeat
	probes     atomic.Int32
	status     int
}

func (f *fakeController) handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		var hb models.Heartbeat
		_ = json.NewDecoder(r.Body).Decode(&hb)

		f.mu.Lock()
		f.heartbeats = append(f.heartbeats, hb)
		status := f.status
		f.mu.Unlock()

		if status != 0 {
			w.WriteHeader(status)
			return
		}

		_ = json.NewEncoder(w).Encode(models.HeartbeatAck{Accepted: true})
	}).Methods(http.MethodPost)
	r.HandleFunc("/api/connectivity_test", func(w http.ResponseWriter, _ *http.Request) {
		f.probes.Add(1)
		_ = json.NewEncoder(w).Encode(models.ConnectivityProbeResponse{
			FromIdentifier: "controller",
			Message:        "ok",
			Plane:          models.DataPlaneEthernet,
		})
	}).Methods(http.MethodGet)

	return r
}

func (f *fakeController) received() []models.Heartbeat {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]models.Heartbeat(nil), f.heartbeats...)
}

func staticAddresses(_ context.Context, iface string) (string, error) {
	switch iface {
	case DefaultEthernetInterface:
		return "10.0.100.23", nil
	case DefaultWifiInterface:
		return "10.0.200.23", nil
	default:
		return "", nil
	}
}

func newTestAgent(t *testing.T, ctrlURL string) (*Agent, *netconf.Memory) {
	t.Helper()

	cfg := &Config{
		ControllerURL:     ctrlURL,
		DataProbeURL:      ctrlURL,
		HeartbeatInterval: models.Duration(10 * time.Millisecond),
	}
	require.NoError(t, cfg.Validate())

	network := netconf.NewMemory(models.DataPlaneEthernet, logger.NewTestLogger())
	agent := NewAgent(cfg, testSerial, network, logger.NewTestLogger(), WithAddressFunc(staticAddresses))

	return agent, network
}

func TestConfigDefaults(t *testing.T) {
	cfg := &Config{EthernetSubnet: "10.0.100", WifiSubnet: "192.168.7.", ControlPort: 70000}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultEthernetSubnet, cfg.EthernetSubnet)
	assert.Equal(t, "192.168.7.", cfg.WifiSubnet)
	assert.Equal(t, DefaultControlPort, cfg.ControlPort)
	assert.Equal(t, DefaultDataPort, cfg.DataPort)
	assert.Equal(t, "eth0", cfg.EthernetInterface)
	assert.Equal(t, "wlan0", cfg.WifiInterface)
	assert.Equal(t, ":8001", cfg.ListenAddr)
	assert.Equal(t, DefaultHeartbeatInterval, cfg.HeartbeatInterval.Std())
}

func TestDerivedControllerURLs(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.Validate())

	network := netconf.NewMemory(models.DataPlaneWifi, logger.NewTestLogger())
	agent := NewAgent(cfg, testSerial, network, logger.NewTestLogger())

	assert.Equal(t, "http://10.0.100.1:8001", agent.controllerURL())

	probe, err := agent.dataProbeURL()
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.200.1:8002", probe)
}

func TestBuildHeartbeat(t *testing.T) {
	ctrl := &fakeController{}
	srv := httptest.NewServer(ctrl.handler())
	defer srv.Close()

	agent, network := newTestAgent(t, srv.URL)

	hb := agent.BuildHeartbeat(context.Background())
	assert.Equal(t, models.UnassignedWorkerID, hb.WorkerID)
	assert.Equal(t, testSerial, hb.Serial)
	assert.Equal(t, identity.DisplayIdentifier(testSerial), hb.DisplayIdentifier)
	assert.Equal(t, "10.0.100.23", hb.ControlAddress)
	assert.Equal(t, "10.0.100.23", hb.DataAddress)
	assert.Equal(t, models.DataPlaneEthernet, hb.ActivePlane)
	assert.True(t, hb.DataPlaneReachable)
	assert.NotZero(t, hb.Timestamp)

	require.NoError(t, network.ApplyWifiDataPlane("ClusterNet", "Password"))

	hb = agent.BuildHeartbeat(context.Background())
	assert.Equal(t, models.DataPlaneWifi, hb.ActivePlane)
	assert.Equal(t, "10.0.200.23", hb.DataAddress)
	assert.Equal(t, "10.0.100.23", hb.ControlAddress)
}

func TestProbeUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	agent, _ := newTestAgent(t, srv.URL)
	assert.False(t, agent.ProbeDataPlane(context.Background()))
}

func TestHeartbeatLoop(t *testing.T) {
	ctrl := &fakeController{}
	srv := httptest.NewServer(ctrl.handler())
	defer srv.Close()

	agent, _ := newTestAgent(t, srv.URL)

	require.NoError(t, agent.Start(context.Background()))
	assert.Eventually(t, func() bool { return len(ctrl.received()) >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, agent.Stop(context.Background()))

	got := ctrl.received()
	assert.Equal(t, testSerial, got[0].Serial)
	assert.Positive(t, ctrl.probes.Load())

	stopped := len(ctrl.received())
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, ctrl.received(), stopped, "no heartbeats after Stop")
}

func TestBeatCountsMisses(t *testing.T) {
	ctrl := &fakeController{status: http.StatusServiceUnavailable}
	srv := httptest.NewServer(ctrl.handler())
	defer srv.Close()

	agent, _ := newTestAgent(t, srv.URL)
	ctx := context.Background()

	misses := 0
	for range 3 {
		misses = agent.beat(ctx, misses)
	}

	assert.Equal(t, 3, misses)

	ctrl.mu.Lock()
	ctrl.status = 0
	ctrl.mu.Unlock()

	assert.Equal(t, 0, agent.beat(ctx, misses))
}

func TestCommandHandlers(t *testing.T) {
	agent, network := newTestAgent(t, "http://127.0.0.1:1")
	ctx := context.Background()
	d := agent.Dispatcher()

	require.NoError(t, d.Dispatch(ctx, []byte(`{"command":"switch_to_wifi","data":{"ssid":"ClusterNet","password":"Password"}}`)))
	assert.Equal(t, models.DataPlaneWifi, network.CurrentPlane())

	require.ErrorIs(t, d.Dispatch(ctx, []byte(`{"command":"switch_to_wifi","data":{"ssid":"x","password":"short"}}`)), netconf.ErrWeakPassword)
	assert.Equal(t, models.DataPlaneWifi, network.CurrentPlane())

	require.NoError(t, d.Dispatch(ctx, []byte(`{"command":"switch_to_ethernet","data":{}}`)))
	assert.Equal(t, models.DataPlaneEthernet, network.CurrentPlane())

	require.NoError(t, d.Dispatch(ctx, []byte(`{"command":"update_worker_id","data":{"workerId":7}}`)))
	assert.Equal(t, 7, agent.WorkerID())

	require.ErrorIs(t, d.Dispatch(ctx, []byte(`{"command":"update_worker_id","data":{"workerId":255}}`)), errInvalidWorkerID)
	assert.Equal(t, 7, agent.WorkerID())
}

func TestConnectivityTestEndpoint(t *testing.T) {
	agent, _ := newTestAgent(t, "http://127.0.0.1:1")

	req := httptest.NewRequest(http.MethodGet, "/api/connectivity_test", http.NoBody)
	req.RemoteAddr = "10.0.200.1:40000"

	rr := httptest.NewRecorder()
	agent.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var resp models.ConnectivityProbeResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, agent.DisplayIdentifier(), resp.FromIdentifier)
	assert.Equal(t, models.DataPlaneWifi, resp.Plane)
}
