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

package logger

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

func TestNewOTelWriterValidation(t *testing.T) {
	_, err := NewOTelWriter(context.Background(), OTelConfig{Enabled: false})
	require.ErrorIs(t, err, ErrOTelLoggingDisabled)

	_, err = NewOTelWriter(context.Background(), OTelConfig{Enabled: true})
	require.ErrorIs(t, err, ErrOTelEndpointRequired)
}

func TestInitializeMetricsDisabled(t *testing.T) {
	_, err := InitializeMetrics(context.Background(), MetricsConfig{})
	require.ErrorIs(t, err, ErrOTelMetricsDisabled)
}

func TestOTelWriterIgnoresNonJSON(t *testing.T) {
	provider := sdklog.NewLoggerProvider()
	defer func() { _ = provider.Shutdown(context.Background()) }()

	w := newOTelWriterWithProvider(context.Background(), provider)

	n, err := w.Write([]byte("not json"))
	require.NoError(t, err)
	assert.Equal(t, len("not json"), n)

	line := []byte(`{"level":"warn","component":"monitor","message":"stale","workerId":3}`)
	n, err = w.Write(line)
	require.NoError(t, err)
	assert.Equal(t, len(line), n)

	_, found := w.loggers["monitor"]
	assert.True(t, found)
}

func TestMapZerologLevelToOTEL(t *testing.T) {
	tests := []struct {
		level string
		want  log.Severity
	}{
		{"trace", log.SeverityTrace},
		{"debug", log.SeverityDebug},
		{"INFO", log.SeverityInfo},
		{"warning", log.SeverityWarn},
		{"error", log.SeverityError},
		{"panic", log.SeverityFatal},
		{"other", log.SeverityInfo},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, mapZerologLevelToOTEL(tt.level), tt.level)
	}
}

func TestFormatAttributeValue(t *testing.T) {
	assert.Equal(t, "null", formatAttributeValue(nil))
	assert.Equal(t, "true", formatAttributeValue(true))
	assert.Equal(t, "3", formatAttributeValue(float64(3)))
	assert.JSONEq(t, `{"a":1}`, formatAttributeValue(map[string]interface{}{"a": 1}))

	long := strings.Repeat("x", maxAttributeValueLength+10)
	got := formatAttributeValue(long)
	assert.Len(t, got, maxAttributeValueLength)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestAttributeForFleetFields(t *testing.T) {
	kv := attributeFor("worker_id", float64(7))
	assert.Equal(t, "edgefleet.worker.id", kv.Key)
	assert.Equal(t, log.KindInt64, kv.Value.Kind())
	assert.Equal(t, int64(7), kv.Value.AsInt64())

	kv = attributeFor("serial", "ABC123")
	assert.Equal(t, "edgefleet.worker.serial", kv.Key)
	assert.Equal(t, "ABC123", kv.Value.AsString())

	kv = attributeFor("ratio", 0.5)
	assert.Equal(t, "ratio", kv.Key)
	assert.Equal(t, log.KindFloat64, kv.Value.Kind())

	kv = attributeFor("connected", true)
	assert.Equal(t, log.KindBool, kv.Value.Kind())

	kv = attributeFor("labels", map[string]interface{}{"a": "b"})
	assert.Equal(t, log.KindString, kv.Value.Kind())
	assert.JSONEq(t, `{"a":"b"}`, kv.Value.AsString())
}

func TestSetupTLSConfigMissingCA(t *testing.T) {
	_, err := setupTLSConfig(&TLSConfig{CAFile: "/nonexistent/ca.pem"})
	require.Error(t, err)
}
