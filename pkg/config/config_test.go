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

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/edgefleet/pkg/logger"
	"github.com/carverauto/edgefleet/pkg/models"
)

var errPortRequired = errors.New("port is required")

type testLogging struct {
	Level string `json:"level" toml:"level"`
	Debug bool   `json:"debug" toml:"debug"`
}

type testConfig struct {
	Name     string          `json:"name" toml:"name"`
	Port     int             `json:"port" toml:"port"`
	Interval models.Duration `json:"interval" toml:"interval"`
	Timeout  time.Duration   `json:"timeout" toml:"timeout"`
	Tags     []string        `json:"tags" toml:"tags"`
	Logging  *testLogging    `json:"logging" toml:"logging"`
	Ignored  string          `json:"-"`
}

func (c *testConfig) Validate() error {
	if c.Port == 0 {
		return errPortRequired
	}

	return nil
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestLoadAndValidateJSONFile(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "")

	path := writeFile(t, "controller.json",
		`{"name":"ctl","port":8001,"interval":"10s","tags":["a","b"],"logging":{"level":"debug"}}`)

	var cfg testConfig
	require.NoError(t, NewConfig(logger.NewTestLogger()).LoadAndValidate(context.Background(), path, &cfg))

	assert.Equal(t, "ctl", cfg.Name)
	assert.Equal(t, 8001, cfg.Port)
	assert.Equal(t, 10*time.Second, cfg.Interval.Std())
	assert.Equal(t, []string{"a", "b"}, cfg.Tags)
	require.NotNil(t, cfg.Logging)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadAndValidateTOMLFile(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "file")

	path := writeFile(t, "worker.toml", `
name = "wrk"
port = 8002
interval = "5s"

[logging]
level = "warn"
`)

	var cfg testConfig
	require.NoError(t, NewConfig(nil).LoadAndValidate(context.Background(), path, &cfg))

	assert.Equal(t, "wrk", cfg.Name)
	assert.Equal(t, 5*time.Second, cfg.Interval.Std())
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadAndValidateRunsValidator(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "")

	path := writeFile(t, "bad.json", `{"name":"ctl"}`)

	var cfg testConfig
	err := NewConfig(nil).LoadAndValidate(context.Background(), path, &cfg)
	require.ErrorIs(t, err, errPortRequired)
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "")

	var cfg testConfig
	err := NewConfig(nil).LoadAndValidate(context.Background(), "/nonexistent/edgefleet.json", &cfg)
	require.Error(t, err)
}

func TestInvalidConfigSource(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "kv")

	var cfg testConfig
	err := NewConfig(nil).LoadAndValidate(context.Background(), "", &cfg)
	require.ErrorIs(t, err, errInvalidConfigSource)
}

func TestEnvSource(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "env")
	t.Setenv("CONFIG_ENV_PREFIX", "")
	t.Setenv("EDGEFLEET_CONFIG_JSON", "")
	t.Setenv("EDGEFLEET_NAME", "from-env")
	t.Setenv("EDGEFLEET_PORT", "9000")
	t.Setenv("EDGEFLEET_INTERVAL", "3s")
	t.Setenv("EDGEFLEET_TIMEOUT", "250ms")
	t.Setenv("EDGEFLEET_TAGS", "x, y")
	t.Setenv("EDGEFLEET_LOGGING_DEBUG", "true")

	var cfg testConfig
	require.NoError(t, NewConfig(nil).LoadAndValidate(context.Background(), "", &cfg))

	assert.Equal(t, "from-env", cfg.Name)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 3*time.Second, cfg.Interval.Std())
	assert.Equal(t, 250*time.Millisecond, cfg.Timeout)
	assert.Equal(t, []string{"x", "y"}, cfg.Tags)
	require.NotNil(t, cfg.Logging)
	assert.True(t, cfg.Logging.Debug)
}

func TestEnvSourceInvalidValueIsSkipped(t *testing.T) {
	t.Setenv("EDGEFLEET_PORT", "not-a-number")
	t.Setenv("EDGEFLEET_NAME", "kept")

	var cfg testConfig
	require.NoError(t, NewEnvConfigLoader(nil, "EDGEFLEET_").Load(context.Background(), "", &cfg))

	assert.Equal(t, "kept", cfg.Name)
	assert.Zero(t, cfg.Port)
	assert.Nil(t, cfg.Logging)
}

func TestEnvSourceConfigJSON(t *testing.T) {
	t.Setenv("EF_CONFIG_JSON", `{"name":"json","port":1}`)

	var cfg testConfig
	require.NoError(t, NewEnvConfigLoader(nil, "EF_").Load(context.Background(), "", &cfg))

	assert.Equal(t, "json", cfg.Name)
	assert.Equal(t, 1, cfg.Port)
}

func TestEnvSourceRejectsNonPointer(t *testing.T) {
	loader := NewEnvConfigLoader(nil, "EDGEFLEET_")

	require.ErrorIs(t, loader.Load(context.Background(), "", testConfig{}), ErrDstMustBeNonNilPointer)

	s := "x"
	require.ErrorIs(t, loader.Load(context.Background(), "", &s), ErrDstMustBePointerToStruct)
}
