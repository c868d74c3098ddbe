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
	"github.com/carverauto/edgefleet/pkg/identity"
	"github.com/carverauto/edgefleet/pkg/lifecycle"
	"github.com/carverauto/edgefleet/pkg/logger"
	"github.com/carverauto/edgefleet/pkg/models"
	"github.com/carverauto/edgefleet/pkg/netconf"
	"github.com/carverauto/edgefleet/pkg/worker"
)

var errFailedToLoadConfig = errors.New("failed to load config")

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/edgefleet/worker.json", "Path to worker config file")
	flag.Parse()

	ctx := context.Background()

	cfgLoader := config.NewConfig(nil)

	var cfg worker.Config

	if err := cfgLoader.LoadAndValidate(ctx, *configPath, &cfg); err != nil {
		return fmt.Errorf("%w: %w", errFailedToLoadConfig, err)
	}

	logConfig := cfg.Logging
	if logConfig == nil {
		logConfig = logger.DefaultConfig()
	}

	workerLogger, err := lifecycle.CreateComponentLogger(ctx, "worker", logConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	defer func() {
		if err := lifecycle.ShutdownLogger(); err != nil {
			log.Printf("Failed to shutdown logger: %v", err)
		}
	}()

	serial := cfg.Serial
	if serial == "" {
		if serial, err = identity.HardwareSerial(ctx); err != nil {
			return err
		}
	}

	// workers boot on the ethernet data plane
	network := netconf.NewMemory(models.DataPlaneEthernet, workerLogger)
	agent := worker.NewAgent(&cfg, serial, network, workerLogger)

	return lifecycle.RunServer(ctx, &lifecycle.ServerOptions{
		ListenAddr:  cfg.ListenAddr,
		ServiceName: "edgefleet-worker",
		Service:     agent,
		Handler:     agent.Handler(),
		Logger:      workerLogger,
	})
}
