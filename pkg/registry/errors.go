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

package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownSerial is returned when promoting a serial that is not pending.
	ErrUnknownSerial = errors.New("unknown serial")
	// ErrUnknownWorker is returned for operations on an id that is not registered.
	ErrUnknownWorker = errors.New("unknown worker id")
	// ErrWorkerIDInUse is returned when an explicit id already belongs to a registration.
	ErrWorkerIDInUse = errors.New("worker id already in use")
	// ErrWorkerIDRetired is returned when an explicit id belonged to a forgotten registration.
	ErrWorkerIDRetired = errors.New("worker id was retired and cannot be reused")
	// ErrInvalidWorkerID is returned for explicit ids outside 0..MaxWorkerID.
	ErrInvalidWorkerID = errors.New("invalid worker id")
	// ErrWorkerIDsExhausted is returned when no automatic id is left.
	ErrWorkerIDsExhausted = errors.New("worker ids exhausted")
	// ErrSerialRegistered is returned when an unassigned heartbeat carries a registered serial.
	ErrSerialRegistered = errors.New("serial already registered")
	// ErrMissingSerial is returned for heartbeats without a serial.
	ErrMissingSerial = errors.New("heartbeat has no serial")
)

// SerialRegisteredError carries the id that owns a serial reported as unassigned.
type SerialRegisteredError struct {
	Serial   string
	WorkerID int
}

func (e *SerialRegisteredError) Error() string {
	return fmt.Sprintf("serial %q already registered as worker %d", e.Serial, e.WorkerID)
}

func (*SerialRegisteredError) Unwrap() error {
	return ErrSerialRegistered
}
