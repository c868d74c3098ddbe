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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/edgefleet/pkg/config"
	"github.com/carverauto/edgefleet/pkg/logger"
	"github.com/carverauto/edgefleet/pkg/natsutil"
)

func TestConfigDefaults(t *testing.T) {
	cfg := &Config{
		EthernetSubnet: "10.0.100",
		ControlPort:    70000,
		WifiPassword:   "short",
	}

	require.NoError(t, cfg.Validate())

	assert.Equal(t, "10.0.100.", cfg.EthernetSubnet)
	assert.Equal(t, "10.0.200.", cfg.WifiSubnet)
	assert.Equal(t, DefaultControlPort, cfg.ControlPort)
	assert.Equal(t, DefaultDataPort, cfg.DataPort)
	assert.Equal(t, DefaultControlPort, cfg.WorkerCommandPort)
	assert.Equal(t, ":8001", cfg.ListenAddr)
	assert.Equal(t, ":8002", cfg.DataListenAddr)
	assert.Equal(t, DefaultWifiSSID, cfg.WifiSSID)
	assert.Equal(t, DefaultWifiPassword, cfg.WifiPassword)
	assert.Equal(t, DefaultMonitorInterval, cfg.MonitorInterval.Std())
	assert.Equal(t, DefaultStaleThreshold, cfg.StaleThreshold.Std())
	assert.Equal(t, time.Duration(0), cfg.ForgetInactiveAfter.Std())
	assert.Equal(t, DefaultMaxReconnectAttempts, cfg.MaxReconnectAttempts)
	assert.Equal(t, ConflictIgnore, cfg.SerialConflictPolicy)
}

func TestConfigRejects(t *testing.T) {
	cfg := &Config{SerialConflictPolicy: "overwrite"}
	require.ErrorIs(t, cfg.Validate(), errInvalidConflictPolicy)

	cfg = &Config{NATS: &natsutil.Config{Enabled: true}}
	require.Error(t, cfg.Validate())
}

func TestConfigLoadsTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "controller.toml")

	doc := `
ethernet_subnet = "10.1.100."
wifi_subnet = "10.1.200."
control_port = 9001
monitor_interval = "2s"
stale_threshold = "6s"
forget_inactive_after = "1h"
serial_conflict_policy = "rebind"
api_key = "k"

[cors]
allowed_origins = ["https://ops.example"]

[nats]
enabled = true
url = "nats://127.0.0.1:4222"
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	var cfg Config

	loader := config.NewConfig(logger.NewTestLogger())
	require.NoError(t, loader.LoadAndValidate(context.Background(), path, &cfg))

	assert.Equal(t, "10.1.100.", cfg.EthernetSubnet)
	assert.Equal(t, 9001, cfg.ControlPort)
	assert.Equal(t, 9001, cfg.WorkerCommandPort)
	assert.Equal(t, 2*time.Second, cfg.MonitorInterval.Std())
	assert.Equal(t, 6*time.Second, cfg.StaleThreshold.Std())
	assert.Equal(t, time.Hour, cfg.ForgetInactiveAfter.Std())
	assert.Equal(t, ConflictRebind, cfg.SerialConflictPolicy)
	assert.Equal(t, []string{"https://ops.example"}, cfg.CORS.AllowedOrigins)
	require.NotNil(t, cfg.NATS)
	assert.Equal(t, natsutil.DefaultStream, cfg.NATS.Stream)
	assert.Equal(t, natsutil.DefaultSubjectPrefix, cfg.NATS.SubjectPrefix)
}
