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

package natsutil

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

var (
	// ErrCAParsingFailed is returned when the CA bundle holds no certificates.
	ErrCAParsingFailed   = errors.New("failed to parse CA certificate")
	errIncompleteKeyPair = errors.New("cert_file and key_file must be set together")
)

// TLSFiles points at PEM files for a NATS connection. The client pair is
// optional; without it the connection is server-authenticated only.
type TLSFiles struct {
	CertFile   string `json:"cert_file,omitempty" toml:"cert_file"`
	KeyFile    string `json:"key_file,omitempty" toml:"key_file"`
	CAFile     string `json:"ca_file,omitempty" toml:"ca_file"`
	ServerName string `json:"server_name,omitempty" toml:"server_name"`
}

// Build loads the files into a tls.Config.
func (t *TLSFiles) Build() (*tls.Config, error) {
	conf := &tls.Config{
		ServerName: t.ServerName,
		MinVersion: tls.VersionTLS12,
	}

	if (t.CertFile == "") != (t.KeyFile == "") {
		return nil, errIncompleteKeyPair
	}

	if t.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}

		conf.Certificates = []tls.Certificate{cert}
	}

	if t.CAFile != "" {
		caCert, err := os.ReadFile(t.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, ErrCAParsingFailed
		}

		conf.RootCAs = pool
	}

	return conf, nil
}
