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
	"time"
)

// DataPlane identifies which physical network a worker uses for workload traffic.
type DataPlane string

const (
	DataPlaneEthernet DataPlane = "ethernet"
	DataPlaneWifi     DataPlane = "wifi"
	DataPlaneInvalid  DataPlane = "invalid"
)

// ParseDataPlane maps a wire value onto a DataPlane; anything unknown is invalid.
func ParseDataPlane(s string) DataPlane {
	switch DataPlane(s) {
	case DataPlaneEthernet:
		return DataPlaneEthernet
	case DataPlaneWifi:
		return DataPlaneWifi
	default:
		return DataPlaneInvalid
	}
}

// Valid reports whether the plane is ethernet or wifi.
func (p DataPlane) Valid() bool {
	return p == DataPlaneEthernet || p == DataPlaneWifi
}

// WorkerStatus is the controller's view of a worker's lifecycle.
type WorkerStatus string

const (
	// WorkerStatusPendingRegistration is implicit for pending entries and is
	// never stored on a Registration.
	WorkerStatusPendingRegistration WorkerStatus = "pending_registration"
	WorkerStatusRegistered          WorkerStatus = "registered"
	WorkerStatusActive              WorkerStatus = "active"
	WorkerStatusReconnecting        WorkerStatus = "reconnecting"
	WorkerStatusInactive            WorkerStatus = "inactive"
)

// AllWorkerStatuses lists the statuses a Registration can hold.
var AllWorkerStatuses = []WorkerStatus{ //nolint:gochecknoglobals // fixed enumeration
	WorkerStatusRegistered,
	WorkerStatusActive,
	WorkerStatusReconnecting,
	WorkerStatusInactive,
}

//nolint:gochecknoglobals // transition table
var workerTransitions = map[WorkerStatus][]WorkerStatus{
	WorkerStatusPendingRegistration: {WorkerStatusRegistered},
	WorkerStatusRegistered:          {WorkerStatusActive, WorkerStatusReconnecting, WorkerStatusInactive},
	WorkerStatusActive:              {WorkerStatusReconnecting, WorkerStatusInactive},
	WorkerStatusReconnecting:        {WorkerStatusActive, WorkerStatusInactive},
	WorkerStatusInactive:            {WorkerStatusActive, WorkerStatusReconnecting},
}

// CanTransition reports whether moving from one status to another is part of
// the worker state machine. Re-asserting the current status is always allowed.
func CanTransition(from, to WorkerStatus) bool {
	if from == to {
		return to != WorkerStatusPendingRegistration
	}

	for _, next := range workerTransitions[from] {
		if next == to {
			return true
		}
	}

	return false
}

// ConnectionState is the transport-level state of a command channel.
type ConnectionState string

const (
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionReconnecting ConnectionState = "reconnecting"
)

// UnassignedWorkerID marks a heartbeat from a worker that has not been promoted.
const UnassignedWorkerID = -1

// MaxWorkerID bounds worker ids; ids double as the host octet on the cluster subnets.
const MaxWorkerID = 254

// Heartbeat is the liveness report a worker posts to the controller.
type Heartbeat struct {
	WorkerID           int       `json:"workerId"`
	Serial             string    `json:"serial"`
	DisplayIdentifier  string    `json:"displayIdentifier"`
	ControlAddress     string    `json:"controlAddress"`
	DataPlaneReachable bool      `json:"dataPlaneReachable"`
	ActivePlane        DataPlane `json:"activePlane"`
	DataAddress        string    `json:"dataAddress"`
	// Timestamp is the reporter's own clock; it is never used for staleness.
	Timestamp int64 `json:"timestamp"`
}

// PendingEntry is the latest heartbeat from a worker without an id.
type PendingEntry struct {
	Heartbeat  Heartbeat `json:"heartbeat"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// Registration is a promoted worker with a stable id.
type Registration struct {
	WorkerID          int          `json:"workerId"`
	Serial            string       `json:"serial"`
	DisplayIdentifier string       `json:"displayIdentifier"`
	ControlAddress    string       `json:"controlAddress"`
	DataAddress       string       `json:"dataAddress"`
	ActivePlane       DataPlane    `json:"activePlane"`
	LastSeenAt        time.Time    `json:"lastSeenAt"`
	Status            WorkerStatus `json:"status"`
	RegisteredAt      time.Time    `json:"registeredAt"`
}

// IsStale reports whether the registration has not been heard from since cutoff.
func (r *Registration) IsStale(cutoff time.Time) bool {
	return r.LastSeenAt.Before(cutoff)
}
