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

package netconf

import (
	"context"
	"net"
	"strings"

	psnet "github.com/shirou/gopsutil/v3/net"
)

//nolint:gochecknoglobals // swapped in tests
var interfacesWithContext = psnet.InterfacesWithContext

// InterfaceAddress returns the first IPv4 address bound to the named
// interface, or "" when it has none.
func InterfaceAddress(ctx context.Context, name string) (string, error) {
	ifaces, err := interfacesWithContext(ctx)
	if err != nil {
		return "", err
	}

	for _, iface := range ifaces {
		if iface.Name != name {
			continue
		}

		if addr := firstIPv4(iface.Addrs); addr != "" {
			return addr, nil
		}
	}

	return "", nil
}

func firstIPv4(addrs psnet.InterfaceAddrList) string {
	for _, a := range addrs {
		if ip := parseIPv4(a.Addr); ip != "" {
			return ip
		}
	}

	return ""
}

// parseIPv4 accepts "10.0.100.5/24" or a bare address.
func parseIPv4(addr string) string {
	host := addr
	if i := strings.IndexByte(addr, '/'); i >= 0 {
		host = addr[:i]
	}

	ip := net.ParseIP(host)
	if ip == nil || ip.To4() == nil {
		return ""
	}

	return ip.String()
}
