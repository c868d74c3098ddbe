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

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carverauto/edgefleet/pkg/logger"
)

const defaultShutdownTimeout = 10 * time.Second

// Service is a long-running component started before the HTTP listener and
// stopped after it drains.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Listener is an additional HTTP endpoint served next to the main handler.
type Listener struct {
	Name    string
	Addr    string
	Handler http.Handler
}

// ServerOptions describes one edgefleet process.
type ServerOptions struct {
	ListenAddr      string
	ServiceName     string
	Service         Service
	Handler         http.Handler
	Listeners       []Listener
	ShutdownTimeout time.Duration
	Logger          logger.Logger
}

// RunServer starts the service and then every HTTP listener. It blocks until
// ctx is cancelled, SIGINT/SIGTERM arrives or a listener fails, then shuts
// everything down in reverse order.
func RunServer(ctx context.Context, opts *ServerOptions) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := opts.Logger
	if log == nil {
		log = logger.NewTestLogger()
	}

	if opts.Service != nil {
		if err := opts.Service.Start(ctx); err != nil {
			return fmt.Errorf("failed to start %s: %w", opts.ServiceName, err)
		}
	}

	listeners := opts.Listeners
	if opts.Handler != nil {
		listeners = append([]Listener{{Name: opts.ServiceName, Addr: opts.ListenAddr, Handler: opts.Handler}}, listeners...)
	}

	errCh := make(chan error, len(listeners))
	servers := make([]*http.Server, 0, len(listeners))

	for _, l := range listeners {
		srv := &http.Server{
			Addr:              l.Addr,
			Handler:           l.Handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		servers = append(servers, srv)

		go func(name string) {
			log.Info().Str("service", opts.ServiceName).Str("listener", name).Str("addr", srv.Addr).Msg("HTTP server listening")

			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}(l.Name)
	}

	var runErr error

	select {
	case <-ctx.Done():
		log.Info().Str("service", opts.ServiceName).Msg("Shutdown requested")
	case err := <-errCh:
		runErr = fmt.Errorf("%s listener failed: %w", opts.ServiceName, err)
	}

	timeout := opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Str("addr", srv.Addr).Msg("HTTP server shutdown failed")
		}
	}

	if opts.Service != nil {
		if err := opts.Service.Stop(shutdownCtx); err != nil && runErr == nil {
			runErr = fmt.Errorf("failed to stop %s: %w", opts.ServiceName, err)
		}
	}

	return runErr
}
