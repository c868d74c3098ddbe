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

package identity

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
)

// ErrSerialUnavailable is returned when neither /proc/cpuinfo nor the host id yield a serial.
var ErrSerialUnavailable = errors.New("hardware serial unavailable")

const cpuinfoPath = "/proc/cpuinfo"

//nolint:gochecknoglobals // swapped in tests
var (
	readCPUInfoSerial = readCPUInfoSerialFrom
	hostIDWithContext = host.HostIDWithContext
)

// HardwareSerial returns the board serial from /proc/cpuinfo (Raspberry Pi
// style "Serial : ..." line). Machines without one fall back to the host id
// reported by gopsutil.
func HardwareSerial(ctx context.Context) (string, error) {
	serial, cpuErr := readCPUInfoSerial(cpuinfoPath)
	if cpuErr == nil && serial != "" {
		return serial, nil
	}

	id, err := hostIDWithContext(ctx)
	if err == nil && strings.TrimSpace(id) != "" {
		return strings.TrimSpace(id), nil
	}

	if err == nil {
		err = cpuErr
	}

	return "", fmt.Errorf("%w: %w", ErrSerialUnavailable, err)
}

func readCPUInfoSerialFrom(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "Serial") {
			continue
		}

		if _, value, found := strings.Cut(line, ":"); found {
			return strings.TrimSpace(value), nil
		}
	}

	if err := scanner.Err(); err != nil {
		return "", err
	}

	return "", ErrSerialUnavailable
}
