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

// Package netconf is the worker's view of its network planes. Physical
// provisioning lives outside edgefleet; this package only tracks the active
// plane, derives planes from addresses and reads interface addresses.
package netconf

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"sync"

	"github.com/carverauto/edgefleet/pkg/logger"
	"github.com/carverauto/edgefleet/pkg/models"
)

var (
	ErrInvalidCurrentPlane = errors.New("cannot switch planes from an invalid current plane")
	ErrMissingSSID         = errors.New("wifi ssid is required")
	ErrWeakPassword        = errors.New("wifi password must be at least 8 characters")
)

const (
	// MinWifiPasswordLength is the WPA2 minimum passphrase length.
	MinWifiPasswordLength = 8

	DefaultEthernetSubnet = "10.0.100."
	DefaultWifiSubnet     = "10.0.200."
)

// Configurator switches the worker's data plane. Implementations may block.
type Configurator interface {
	ApplyEthernetDataPlane() error
	ApplyWifiDataPlane(ssid, password string) error
	CurrentPlane() models.DataPlane
}

// Memory records plane switches without touching the host.
type Memory struct {
	mu     sync.RWMutex
	plane  models.DataPlane
	ssid   string
	logger logger.Logger
}

var _ Configurator = (*Memory)(nil)

// NewMemory starts on the given plane.
func NewMemory(initial models.DataPlane, log logger.Logger) *Memory {
	return &Memory{plane: initial, logger: log}
}

func (m *Memory) ApplyEthernetDataPlane() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.plane {
	case models.DataPlaneEthernet:
		m.logger.Info().Msg("Already on the ethernet data plane")
		return nil
	case models.DataPlaneWifi:
		m.plane = models.DataPlaneEthernet
		m.ssid = ""
		m.logger.Info().Msg("Switched to the ethernet data plane")

		return nil
	default:
		return ErrInvalidCurrentPlane
	}
}

func (m *Memory) ApplyWifiDataPlane(ssid, password string) error {
	if err := ValidateWifiCredentials(ssid, password); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.plane == models.DataPlaneWifi && m.ssid == ssid {
		m.logger.Info().Str("ssid", ssid).Msg("Already on the wifi data plane")
		return nil
	}

	m.plane = models.DataPlaneWifi
	m.ssid = ssid
	m.logger.Info().Str("ssid", ssid).Msg("Switched to the wifi data plane")

	return nil
}

func (m *Memory) CurrentPlane() models.DataPlane {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.plane
}

// SSID returns the network joined on the wifi plane.
func (m *Memory) SSID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.ssid
}

// ValidateWifiCredentials applies the same rules as the config loader.
func ValidateWifiCredentials(ssid, password string) error {
	if strings.TrimSpace(ssid) == "" {
		return ErrMissingSSID
	}

	if len(password) < MinWifiPasswordLength {
		return ErrWeakPassword
	}

	return nil
}

// PlaneForAddress derives the plane a request arrived on from its source
// address. addr may carry a port.
func PlaneForAddress(addr, ethernetPrefix, wifiPrefix string) models.DataPlane {
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}

	switch {
	case ethernetPrefix != "" && strings.HasPrefix(host, ethernetPrefix):
		return models.DataPlaneEthernet
	case wifiPrefix != "" && strings.HasPrefix(host, wifiPrefix):
		return models.DataPlaneWifi
	default:
		return models.DataPlaneInvalid
	}
}

// subnetPattern matches the first three octets of an IPv4 /24 with a
// trailing dot, e.g. "10.0.100.".
//
//nolint:gochecknoglobals // compiled once
var subnetPattern = regexp.MustCompile(
	`^(?:25[0-5]|2[0-4]\d|1\d{2}|[1-9]\d?)\.(?:25[0-5]|2[0-4]\d|1\d{2}|[1-9]\d?|0)\.(?:25[0-5]|2[0-4]\d|1\d{2}|[1-9]\d?|0)\.$`,
)

// ValidSubnetPrefix reports whether s looks like "a.b.c.".
func ValidSubnetPrefix(s string) bool {
	return subnetPattern.MatchString(s)
}

// ValidPort reports whether p is a usable TCP port.
func ValidPort(p int) bool {
	return p >= 1 && p <= 65535
}

// Subnets holds the two /24 prefixes, written with a trailing dot
// ("10.0.100.").
type Subnets struct {
	Ethernet string
	Wifi     string
}

// Prefix returns the prefix for plane.
func (s Subnets) Prefix(plane models.DataPlane) (string, error) {
	switch plane {
	case models.DataPlaneEthernet:
		return s.Ethernet, nil
	case models.DataPlaneWifi:
		return s.Wifi, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrInvalidCurrentPlane, plane)
	}
}

// ControllerAddress is the controller's fixed .1 host on plane.
func (s Subnets) ControllerAddress(plane models.DataPlane) (string, error) {
	prefix, err := s.Prefix(plane)
	if err != nil {
		return "", err
	}

	return prefix + "1", nil
}
