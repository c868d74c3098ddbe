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
	"fmt"
	"time"

	"github.com/carverauto/edgefleet/pkg/logger"
	"github.com/carverauto/edgefleet/pkg/models"
	"github.com/carverauto/edgefleet/pkg/netconf"
)

const (
	DefaultEthernetSubnet    = netconf.DefaultEthernetSubnet
	DefaultWifiSubnet        = netconf.DefaultWifiSubnet
	DefaultControlPort       = 8001
	DefaultDataPort          = 8002
	DefaultEthernetInterface = "eth0"
	DefaultWifiInterface     = "wlan0"
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultHeartbeatTimeout  = 5 * time.Second
	DefaultCommandPath       = "/worker_ws"
)

// Config configures the worker daemon.
type Config struct {
	EthernetSubnet    string `json:"ethernet_subnet" toml:"ethernet_subnet"`
	WifiSubnet        string `json:"wifi_subnet" toml:"wifi_subnet"`
	ControlPort       int    `json:"control_port" toml:"control_port"`
	DataPort          int    `json:"data_port" toml:"data_port"`
	EthernetInterface string `json:"ethernet_interface" toml:"ethernet_interface"`
	WifiInterface     string `json:"wifi_interface" toml:"wifi_interface"`
	// ListenAddr defaults to ":<control_port>".
	ListenAddr        string          `json:"listen_addr,omitempty" toml:"listen_addr"`
	HeartbeatInterval models.Duration `json:"heartbeat_interval,omitempty" toml:"heartbeat_interval"`
	HeartbeatTimeout  models.Duration `json:"heartbeat_timeout,omitempty" toml:"heartbeat_timeout"`
	// ControllerURL and DataProbeURL override the addresses derived from the
	// subnets, e.g. "http://127.0.0.1:8001".
	ControllerURL string         `json:"controller_url,omitempty" toml:"controller_url"`
	DataProbeURL  string         `json:"data_probe_url,omitempty" toml:"data_probe_url"`
	Serial        string         `json:"serial,omitempty" toml:"serial"`
	Logging       *logger.Config `json:"logging,omitempty" toml:"logging"`
}

// Validate replaces missing or malformed values with the defaults.
func (c *Config) Validate() error {
	if !netconf.ValidSubnetPrefix(c.EthernetSubnet) {
		c.EthernetSubnet = DefaultEthernetSubnet
	}

	if !netconf.ValidSubnetPrefix(c.WifiSubnet) {
		c.WifiSubnet = DefaultWifiSubnet
	}

	if !netconf.ValidPort(c.ControlPort) {
		c.ControlPort = DefaultControlPort
	}

	if !netconf.ValidPort(c.DataPort) {
		c.DataPort = DefaultDataPort
	}

	if c.EthernetInterface == "" {
		c.EthernetInterface = DefaultEthernetInterface
	}

	if c.WifiInterface == "" {
		c.WifiInterface = DefaultWifiInterface
	}

	if c.ListenAddr == "" {
		c.ListenAddr = fmt.Sprintf(":%d", c.ControlPort)
	}

	c.HeartbeatInterval = models.Duration(c.HeartbeatInterval.OrDefault(DefaultHeartbeatInterval))
	c.HeartbeatTimeout = models.Duration(c.HeartbeatTimeout.OrDefault(DefaultHeartbeatTimeout))

	return nil
}
