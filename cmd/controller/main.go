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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"

	"github.com/carverauto/edgefleet/pkg/config"
	"github.com/carverauto/edgefleet/pkg/controller"
	"github.com/carverauto/edgefleet/pkg/identity"
	"github.com/carverauto/edgefleet/pkg/lifecycle"
	"github.com/carverauto/edgefleet/pkg/logger"
	"github.com/carverauto/edgefleet/pkg/metrics"
	"github.com/carverauto/edgefleet/pkg/natsutil"
)

var errFailedToLoadConfig = errors.New("failed to load config")

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/edgefleet/controller.json", "Path to controller config file")
	flag.Parse()

	ctx := context.Background()

	cfgLoader := config.NewConfig(nil)

	var cfg controller.Config

	if err := cfgLoader.LoadAndValidate(ctx, *configPath, &cfg); err != nil {
		return fmt.Errorf("%w: %w", errFailedToLoadConfig, err)
	}

	logConfig := cfg.Logging
	if logConfig == nil {
		logConfig = logger.DefaultConfig()
	}

	ctrlLogger, err := lifecycle.CreateComponentLogger(ctx, "controller", logConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	defer func() {
		if err := lifecycle.ShutdownLogger(); err != nil {
			log.Printf("Failed to shutdown logger: %v", err)
		}
	}()

	identifier := cfg.Identifier
	if identifier == "" {
		serial, serialErr := identity.HardwareSerial(ctx)
		if serialErr != nil {
			ctrlLogger.Warn().Err(serialErr).Msg("No hardware serial, using default identifier")
		} else {
			identifier = identity.DisplayIdentifier(serial)
		}
	}

	var opts []controller.Option

	if cfg.Metrics != nil {
		provider, provErr := metrics.InitProvider(ctx, "edgefleet-controller", cfg.Metrics.OTel, cfg.Metrics.ExportInterval.Std())
		if provErr != nil {
			return fmt.Errorf("failed to initialize metrics: %w", provErr)
		}

		if provider != nil {
			defer func() { _ = provider.Shutdown(context.Background()) }()
		}

		fleet, fleetErr := metrics.New(nil)
		if fleetErr != nil {
			return fmt.Errorf("failed to create fleet metrics: %w", fleetErr)
		}

		opts = append(opts, controller.WithMetrics(fleet))
	}

	if cfg.NATS != nil && cfg.NATS.Enabled {
		pub, nc, natsErr := natsutil.Connect(ctx, cfg.NATS, ctrlLogger)
		if natsErr != nil {
			return natsErr
		}
		defer nc.Close()

		opts = append(opts, controller.WithStatusSubscriber("nats", pub.Handler()))
	}

	svc := controller.NewService(&cfg, identifier, ctrlLogger, opts...)
	api := controller.NewAPI(svc, &cfg, ctrlLogger)

	return lifecycle.RunServer(ctx, &lifecycle.ServerOptions{
		ListenAddr:  cfg.ListenAddr,
		ServiceName: "edgefleet-controller",
		Service:     svc,
		Handler:     api.Handler(),
		Listeners: []lifecycle.Listener{
			{Name: "data-plane", Addr: cfg.DataListenAddr, Handler: api.DataHandler()},
		},
		Logger: ctrlLogger,
	})
}
