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

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	// Error message
	Message string `json:"message"`
	// HTTP status code
	Status int `json:"status"`
}

// HeartbeatAck is returned from the heartbeat endpoint. Heartbeats never
// fail hard; Accepted=false is the soft-failure indicator.
type HeartbeatAck struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// PromoteRequest optionally pins the worker id for a promotion.
type PromoteRequest struct {
	WorkerID *int `json:"workerId,omitempty"`
}

// CommandRequest pushes a command to a registered worker.
type CommandRequest struct {
	Command string      `json:"command"`
	Data    interface{} `json:"data,omitempty"`
}

// CommandResult reports whether the command was written to the channel.
type CommandResult struct {
	WorkerID int    `json:"workerId"`
	Command  string `json:"command"`
	Success  bool   `json:"success"`
}

// WorkerView combines a registration with its transport state for the API.
type WorkerView struct {
	Registration
	Connection ConnectionState `json:"connection"`
}

// CORSConfig controls cross-origin access to the operator API.
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins,omitempty" toml:"allowed_origins"`
	AllowCredentials bool     `json:"allow_credentials,omitempty" toml:"allow_credentials"`
}
