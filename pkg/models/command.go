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
)

// Commands understood by the worker command dispatcher.
const (
	CommandSwitchToEthernet = "switch_to_ethernet"
	CommandSwitchToWifi     = "switch_to_wifi"
	CommandUpdateWorkerID   = "update_worker_id"
)

// CommandEnvelope is the only frame type on the command channel. There is no
// correlation id and no application-level acknowledgement.
type CommandEnvelope struct {
	Command string          `json:"command"`
	Data    json.RawMessage `json:"data"`
}

// NewCommandEnvelope marshals data into an envelope; nil data becomes {}.
func NewCommandEnvelope(command string, data interface{}) (*CommandEnvelope, error) {
	raw := json.RawMessage(`{}`)

	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}

		raw = encoded
	}

	return &CommandEnvelope{Command: command, Data: raw}, nil
}

// WifiCredentials is the payload of switch_to_wifi.
type WifiCredentials struct {
	SSID     string `json:"ssid"`
	Password string `json:"password"`
}

// WorkerIDAssignment is the payload of update_worker_id.
type WorkerIDAssignment struct {
	WorkerID int `json:"workerId"`
}

// ConnectivityProbeResponse answers a connectivity test on either daemon.
type ConnectivityProbeResponse struct {
	FromIdentifier string    `json:"fromIdentifier"`
	Message        string    `json:"message"`
	Plane          DataPlane `json:"plane"`
}
