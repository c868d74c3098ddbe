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

package metrics

import (
	"context"
	"errors"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/carverauto/edgefleet/pkg/logger"
)

// InitProvider wires the global meter provider to an OTLP collector when
// otelCfg enables it. Disabled export is not an error; it returns nil.
func InitProvider(ctx context.Context, serviceName string, otelCfg *logger.OTelConfig, interval time.Duration) (*sdkmetric.MeterProvider, error) {
	provider, err := logger.InitializeMetrics(ctx, logger.MetricsConfig{
		ServiceName:    serviceName,
		OTel:           otelCfg,
		ExportInterval: interval,
	})
	if errors.Is(err, logger.ErrOTelMetricsDisabled) {
		return nil, nil
	}

	return provider, err
}
