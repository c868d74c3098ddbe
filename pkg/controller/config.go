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

package controller

import (
	"errors"
	"fmt"
	"time"

	"github.com/carverauto/edgefleet/pkg/logger"
	"github.com/carverauto/edgefleet/pkg/models"
	"github.com/carverauto/edgefleet/pkg/natsutil"
	"github.com/carverauto/edgefleet/pkg/netconf"
)

// ConflictPolicy decides what happens when an unassigned heartbeat arrives
// for a serial that already owns a registration.
type ConflictPolicy string

const (
	// ConflictIgnore logs and drops the heartbeat; the registration stays.
	ConflictIgnore ConflictPolicy = "ignore"
	// ConflictRebind counts the heartbeat for the existing registration and
	// re-tells the worker its id.
	ConflictRebind ConflictPolicy = "rebind"
)

const (
	DefaultControlPort          = 8001
	DefaultDataPort             = 8002
	DefaultMonitorInterval      = 10 * time.Second
	DefaultStaleThreshold       = 15 * time.Second
	DefaultConnectTimeout       = 5 * time.Second
	DefaultReconnectInterval    = 5 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultWifiSSID             = "ClusterNet"
	DefaultWifiPassword         = "Password"
	DefaultIdentifier           = "controller"
	defaultMetricsInterval      = 30 * time.Second
)

var errInvalidConflictPolicy = errors.New("invalid serial_conflict_policy")

// Config configures the controller daemon.
type Config struct {
	// ListenAddr serves heartbeats and the operator API; defaults to
	// ":<control_port>".
	ListenAddr string `json:"listen_addr,omitempty" toml:"listen_addr"`
	// DataListenAddr serves the data plane probe; defaults to ":<data_port>".
	DataListenAddr string `json:"data_listen_addr,omitempty" toml:"data_listen_addr"`
	EthernetSubnet string `json:"ethernet_subnet" toml:"ethernet_subnet"`
	WifiSubnet     string `json:"wifi_subnet" toml:"wifi_subnet"`
	ControlPort    int    `json:"control_port" toml:"control_port"`
	DataPort       int    `json:"data_port" toml:"data_port"`
	// WorkerCommandPort is where workers accept the command channel;
	// defaults to control_port.
	WorkerCommandPort int `json:"worker_command_port,omitempty" toml:"worker_command_port"`
	// Identifier names the controller in probe responses. Empty derives it
	// from the hardware serial.
	Identifier   string `json:"identifier,omitempty" toml:"identifier"`
	WifiSSID     string `json:"wifi_ssid" toml:"wifi_ssid"`
	WifiPassword string `json:"wifi_password" toml:"wifi_password"`

	MonitorInterval      models.Duration `json:"monitor_interval,omitempty" toml:"monitor_interval"`
	StaleThreshold       models.Duration `json:"stale_threshold,omitempty" toml:"stale_threshold"`
	ForgetInactiveAfter  models.Duration `json:"forget_inactive_after,omitempty" toml:"forget_inactive_after"`
	SerialConflictPolicy ConflictPolicy  `json:"serial_conflict_policy,omitempty" toml:"serial_conflict_policy"`
	ConnectTimeout       models.Duration `json:"connect_timeout,omitempty" toml:"connect_timeout"`
	ReconnectInterval    models.Duration `json:"reconnect_interval,omitempty" toml:"reconnect_interval"`
	MaxReconnectAttempts int             `json:"max_reconnect_attempts,omitempty" toml:"max_reconnect_attempts"`

	APIKey  string            `json:"api_key,omitempty" toml:"api_key"`
	CORS    models.CORSConfig `json:"cors" toml:"cors"`
	Logging *logger.Config    `json:"logging,omitempty" toml:"logging"`
	Metrics *MetricsConfig    `json:"metrics,omitempty" toml:"metrics"`
	NATS    *natsutil.Config  `json:"nats,omitempty" toml:"nats"`
}

// MetricsConfig enables OTLP metric export.
type MetricsConfig struct {
	OTel           *logger.OTelConfig `json:"otel,omitempty" toml:"otel"`
	ExportInterval models.Duration    `json:"export_interval,omitempty" toml:"export_interval"`
}

// Validate fills defaults and rejects settings that cannot be defaulted.
func (c *Config) Validate() error {
	if !netconf.ValidSubnetPrefix(c.EthernetSubnet) {
		c.EthernetSubnet = netconf.DefaultEthernetSubnet
	}

	if !netconf.ValidSubnetPrefix(c.WifiSubnet) {
		c.WifiSubnet = netconf.DefaultWifiSubnet
	}

	if !netconf.ValidPort(c.ControlPort) {
		c.ControlPort = DefaultControlPort
	}

	if !netconf.ValidPort(c.DataPort) {
		c.DataPort = DefaultDataPort
	}

	if !netconf.ValidPort(c.WorkerCommandPort) {
		c.WorkerCommandPort = c.ControlPort
	}

	if c.ListenAddr == "" {
		c.ListenAddr = fmt.Sprintf(":%d", c.ControlPort)
	}

	if c.DataListenAddr == "" {
		c.DataListenAddr = fmt.Sprintf(":%d", c.DataPort)
	}

	if c.WifiSSID == "" {
		c.WifiSSID = DefaultWifiSSID
	}

	if netconf.ValidateWifiCredentials(c.WifiSSID, c.WifiPassword) != nil {
		c.WifiPassword = DefaultWifiPassword
	}

	c.MonitorInterval = models.Duration(c.MonitorInterval.OrDefault(DefaultMonitorInterval))
	c.StaleThreshold = models.Duration(c.StaleThreshold.OrDefault(DefaultStaleThreshold))
	c.ConnectTimeout = models.Duration(c.ConnectTimeout.OrDefault(DefaultConnectTimeout))
	c.ReconnectInterval = models.Duration(c.ReconnectInterval.OrDefault(DefaultReconnectInterval))

	if c.ForgetInactiveAfter < 0 {
		c.ForgetInactiveAfter = 0
	}

	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}

	switch c.SerialConflictPolicy {
	case "":
		c.SerialConflictPolicy = ConflictIgnore
	case ConflictIgnore, ConflictRebind:
	default:
		return fmt.Errorf("%w: %q", errInvalidConflictPolicy, c.SerialConflictPolicy)
	}

	if c.Metrics != nil {
		c.Metrics.ExportInterval = models.Duration(c.Metrics.ExportInterval.OrDefault(defaultMetricsInterval))
	}

	if c.NATS != nil {
		if err := c.NATS.Validate(); err != nil {
			return fmt.Errorf("nats: %w", err)
		}
	}

	return nil
}
