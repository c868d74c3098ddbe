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

// Package cli implements fleetctl, the operator client for the controller
// API.
package cli

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	efhttp "github.com/carverauto/edgefleet/pkg/http"
	"github.com/carverauto/edgefleet/pkg/models"
	"github.com/carverauto/edgefleet/pkg/registry"
)

const (
	defaultControllerURL = "http://10.0.100.1:8001"
	defaultClientTimeout = 15 * time.Second
	maxErrorBodyBytes    = 4 << 10
)

var errControllerAPI = errors.New("controller API error")

// APIError carries the status and message of a non-2xx controller response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %d %s", errControllerAPI, e.Status, e.Message)
}

func (*APIError) Unwrap() error {
	return errControllerAPI
}

// Client talks to one controller.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient builds a client for baseURL. A bare host gets http://.
func NewClient(baseURL, apiKey string, skipVerify bool) *Client {
	return &Client{
		baseURL: normaliseControllerURL(baseURL),
		apiKey:  strings.TrimSpace(apiKey),
		http:    newHTTPClient(skipVerify),
	}
}

// BaseURL returns the normalised controller address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) Status(ctx context.Context) (registry.Counts, error) {
	var counts registry.Counts
	err := c.do(ctx, http.MethodGet, "/api/status", nil, http.StatusOK, &counts)

	return counts, err
}

func (c *Client) Workers(ctx context.Context) ([]models.WorkerView, error) {
	var views []models.WorkerView
	err := c.do(ctx, http.MethodGet, "/api/workers", nil, http.StatusOK, &views)

	return views, err
}

func (c *Client) Worker(ctx context.Context, id int) (models.WorkerView, error) {
	var view models.WorkerView
	err := c.do(ctx, http.MethodGet, workerPath(id, ""), nil, http.StatusOK, &view)

	return view, err
}

func (c *Client) Pending(ctx context.Context) ([]models.PendingEntry, error) {
	var pending []models.PendingEntry
	err := c.do(ctx, http.MethodGet, "/api/workers/pending", nil, http.StatusOK, &pending)

	return pending, err
}

// Promote registers a pending serial; a nil id takes the next free one.
func (c *Client) Promote(ctx context.Context, serial string, id *int) (models.Registration, error) {
	var reg models.Registration

	path := "/api/workers/pending/" + url.PathEscape(serial) + "/promote"
	err := c.do(ctx, http.MethodPost, path, models.PromoteRequest{WorkerID: id}, http.StatusCreated, &reg)

	return reg, err
}

// Command pushes one command. data may be nil.
func (c *Client) Command(ctx context.Context, id int, command string, data interface{}) (models.CommandResult, error) {
	var result models.CommandResult
	err := c.do(ctx, http.MethodPost, workerPath(id, "/commands"),
		models.CommandRequest{Command: command, Data: data}, http.StatusOK, &result)

	return result, err
}

func (c *Client) Disconnect(ctx context.Context, id int) (models.WorkerView, error) {
	var view models.WorkerView
	err := c.do(ctx, http.MethodPost, workerPath(id, "/disconnect"), nil, http.StatusOK, &view)

	return view, err
}

// Reconnect reports whether a retry procedure was armed.
func (c *Client) Reconnect(ctx context.Context, id int) (bool, error) {
	var resp struct {
		Armed bool `json:"armed"`
	}

	err := c.do(ctx, http.MethodPost, workerPath(id, "/reconnect"), nil, http.StatusAccepted, &resp)

	return resp.Armed, err
}

func workerPath(id int, suffix string) string {
	return "/api/workers/" + strconv.Itoa(id) + suffix
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, want int, dst interface{}) error {
	var reader io.Reader = http.NoBody

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}

		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.apiKey != "" {
		req.Header.Set(efhttp.APIKeyHeader, c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != want {
		message := readErrorBody(resp.Body)
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}

		return &APIError{Status: resp.StatusCode, Message: message}
	}

	if dst == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

// readErrorBody prefers the controller's ErrorResponse message and falls
// back to the raw body.
func readErrorBody(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, maxErrorBodyBytes))
	if err != nil {
		return ""
	}

	var errResp models.ErrorResponse
	if json.Unmarshal(raw, &errResp) == nil && errResp.Message != "" {
		return errResp.Message
	}

	return strings.TrimSpace(string(raw))
}

func normaliseControllerURL(raw string) string {
	base := strings.TrimRight(strings.TrimSpace(raw), "/")
	if base == "" {
		return defaultControllerURL
	}

	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		return "http://" + base
	}

	return base
}

func newHTTPClient(skipVerify bool) *http.Client {
	client := &http.Client{Timeout: defaultClientTimeout}

	if skipVerify {
		if transport, ok := http.DefaultTransport.(*http.Transport); ok {
			clone := transport.Clone()
			if clone.TLSClientConfig == nil {
				clone.TLSClientConfig = &tls.Config{} //nolint:gosec // only InsecureSkipVerify is set
			}

			clone.TLSClientConfig.InsecureSkipVerify = true //nolint:gosec // intentional for CLI flag
			client.Transport = clone
		}
	}

	return client
}
