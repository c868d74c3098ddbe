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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/carverauto/edgefleet/pkg/models"
)

// missLogEvery throttles repeated heartbeat failure logs.
const missLogEvery = 10

func (a *Agent) runHeartbeats(ctx context.Context) {
	ticker := a.clock.Ticker(a.cfg.HeartbeatInterval.OrDefault(DefaultHeartbeatInterval))
	defer ticker.Stop()

	misses := 0

	for {
		misses = a.beat(ctx, misses)

		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}
	}
}

// beat sends one heartbeat and returns the updated consecutive miss count.
func (a *Agent) beat(ctx context.Context, misses int) int {
	err := a.SendHeartbeat(ctx)
	if err == nil {
		if misses > 0 {
			a.logger.Info().Int("missed", misses).Msg("Controller acknowledged heartbeat again")
		}

		return 0
	}

	if ctx.Err() != nil {
		return misses
	}

	misses++
	if misses%missLogEvery == 1 {
		a.logger.Warn().
			Err(err).
			Int("consecutive_misses", misses).
			Msg("Controller did not acknowledge heartbeat")
	}

	return misses
}

// BuildHeartbeat assembles the current liveness report.
func (a *Agent) BuildHeartbeat(ctx context.Context) models.Heartbeat {
	plane := a.network.CurrentPlane()
	control := a.interfaceAddress(ctx, a.cfg.EthernetInterface)

	data := control
	if plane == models.DataPlaneWifi {
		data = a.interfaceAddress(ctx, a.cfg.WifiInterface)
	}

	return models.Heartbeat{
		WorkerID:           a.WorkerID(),
		Serial:             a.serial,
		DisplayIdentifier:  a.display,
		ControlAddress:     control,
		DataPlaneReachable: a.ProbeDataPlane(ctx),
		ActivePlane:        plane,
		DataAddress:        data,
		Timestamp:          a.now().Unix(),
	}
}

// SendHeartbeat posts one heartbeat to the controller. Only a 200 response
// counts as acknowledged.
func (a *Agent) SendHeartbeat(ctx context.Context) error {
	hb := a.BuildHeartbeat(ctx)

	body, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("failed to marshal heartbeat: %w", err)
	}

	url := a.controllerURL() + "/api/heartbeat"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send heartbeat: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", errHeartbeatRejected, resp.StatusCode)
	}

	var ack models.HeartbeatAck
	if err := json.NewDecoder(resp.Body).Decode(&ack); err == nil && !ack.Accepted {
		a.logger.Debug().Str("reason", ack.Reason).Int("worker_id", hb.WorkerID).Msg("Heartbeat not applied by controller")
	}

	return nil
}

// ProbeDataPlane checks that the controller answers on the active data
// plane.
func (a *Agent) ProbeDataPlane(ctx context.Context) bool {
	base, err := a.dataProbeURL()
	if err != nil {
		a.logger.Debug().Err(err).Msg("Cannot probe data plane")
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/connectivity_test", http.NoBody)
	if err != nil {
		return false
	}

	resp, err := a.client.Do(req)
	if err != nil {
		a.logger.Debug().Err(err).Msg("Data plane probe failed")
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		a.logger.Debug().Int("status", resp.StatusCode).Msg("Data plane probe returned unexpected status")
		return false
	}

	var probe models.ConnectivityProbeResponse
	if err := json.NewDecoder(resp.Body).Decode(&probe); err != nil {
		a.logger.Debug().Err(err).Msg("Data plane probe returned malformed body")
		return false
	}

	a.logger.Debug().
		Str("controller", probe.FromIdentifier).
		Str("plane", string(probe.Plane)).
		Msg("Data plane connectivity verified")

	return true
}

func (a *Agent) controllerURL() string {
	if a.cfg.ControllerURL != "" {
		return a.cfg.ControllerURL
	}

	return fmt.Sprintf("http://%s1:%d", a.cfg.EthernetSubnet, a.cfg.ControlPort)
}

func (a *Agent) dataProbeURL() (string, error) {
	if a.cfg.DataProbeURL != "" {
		return a.cfg.DataProbeURL, nil
	}

	host, err := a.subnets.ControllerAddress(a.network.CurrentPlane())
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("http://%s:%d", host, a.cfg.DataPort), nil
}

func (a *Agent) interfaceAddress(ctx context.Context, iface string) string {
	addr, err := a.addresses(ctx, iface)
	if err != nil {
		a.logger.Debug().Err(err).Str("interface", iface).Msg("Failed to read interface address")
		return ""
	}

	return addr
}
