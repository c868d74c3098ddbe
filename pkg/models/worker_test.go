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

package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from WorkerStatus
		to   WorkerStatus
		want bool
	}{
		{"promote", WorkerStatusPendingRegistration, WorkerStatusRegistered, true},
		{"first connect", WorkerStatusRegistered, WorkerStatusActive, true},
		{"first connect failed", WorkerStatusRegistered, WorkerStatusReconnecting, true},
		{"connection lost", WorkerStatusActive, WorkerStatusReconnecting, true},
		{"retry success", WorkerStatusReconnecting, WorkerStatusActive, true},
		{"retries exhausted", WorkerStatusReconnecting, WorkerStatusInactive, true},
		{"stale while active", WorkerStatusActive, WorkerStatusInactive, true},
		{"re-armed", WorkerStatusInactive, WorkerStatusActive, true},
		{"never back to pending", WorkerStatusInactive, WorkerStatusPendingRegistration, false},
		{"active never back to registered", WorkerStatusActive, WorkerStatusRegistered, false},
		{"pending cannot jump to active", WorkerStatusPendingRegistration, WorkerStatusActive, false},
		{"pending self loop", WorkerStatusPendingRegistration, WorkerStatusPendingRegistration, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CanTransition(tc.from, tc.to))
		})
	}
}

func TestParseDataPlane(t *testing.T) {
	assert.Equal(t, DataPlaneEthernet, ParseDataPlane("ethernet"))
	assert.Equal(t, DataPlaneWifi, ParseDataPlane("wifi"))
	assert.Equal(t, DataPlaneInvalid, ParseDataPlane("unassigned"))
	assert.Equal(t, DataPlaneInvalid, ParseDataPlane(""))
	assert.False(t, DataPlaneInvalid.Valid())
}

func TestHeartbeatWireNames(t *testing.T) {
	raw := `{"workerId":-1,"serial":"ABC123","displayIdentifier":"Swift-Panda",` +
		`"controlAddress":"10.0.100.7","dataPlaneReachable":true,"activePlane":"wifi",` +
		`"dataAddress":"10.0.200.7","timestamp":1700000000}`

	var hb Heartbeat
	require.NoError(t, json.Unmarshal([]byte(raw), &hb))

	assert.Equal(t, UnassignedWorkerID, hb.WorkerID)
	assert.Equal(t, "ABC123", hb.Serial)
	assert.Equal(t, DataPlaneWifi, hb.ActivePlane)
	assert.True(t, hb.DataPlaneReachable)
	assert.Equal(t, "10.0.200.7", hb.DataAddress)
}

func TestDurationDecoding(t *testing.T) {
	var cfg struct {
		Interval Duration `json:"interval"`
		Raw      Duration `json:"raw"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"interval":"10s","raw":5000000000}`), &cfg))
	assert.Equal(t, 10*time.Second, cfg.Interval.Std())
	assert.Equal(t, 5*time.Second, cfg.Raw.Std())

	var zero Duration
	assert.Equal(t, time.Minute, zero.OrDefault(time.Minute))

	require.Error(t, json.Unmarshal([]byte(`{"interval":true}`), &cfg))
}

func TestNewCommandEnvelope(t *testing.T) {
	env, err := NewCommandEnvelope(CommandSwitchToEthernet, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"command":"switch_to_ethernet","data":{}}`, mustJSON(t, env))

	env, err = NewCommandEnvelope(CommandSwitchToWifi, WifiCredentials{SSID: "ClusterNet", Password: "password1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"command":"switch_to_wifi","data":{"ssid":"ClusterNet","password":"password1"}}`, mustJSON(t, env))
}

func mustJSON(t *testing.T, v interface{}) string {
	t.Helper()

	b, err := json.Marshal(v)
	require.NoError(t, err)

	return string(b)
}
