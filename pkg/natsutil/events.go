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

// Package natsutil publishes worker status changes as CloudEvents on NATS
// JetStream.
package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/carverauto/edgefleet/pkg/events"
	"github.com/carverauto/edgefleet/pkg/logger"
	"github.com/carverauto/edgefleet/pkg/models"
)

const (
	DefaultStream         = "edgefleet-events"
	DefaultSubjectPrefix  = "events.worker.status"
	defaultPublishTimeout = 2 * time.Second

	statusEventType   = "com.carverauto.edgefleet.worker.status"
	statusEventSource = "edgefleet/controller"
)

var errNATSURLRequired = errors.New("nats url is required")

// Config enables the status sink.
type Config struct {
	Enabled        bool            `json:"enabled" toml:"enabled"`
	URL            string          `json:"url" toml:"url"`
	Domain         string          `json:"domain,omitempty" toml:"domain"`
	Stream         string          `json:"stream,omitempty" toml:"stream"`
	SubjectPrefix  string          `json:"subject_prefix,omitempty" toml:"subject_prefix"`
	CredsFile      string          `json:"creds_file,omitempty" toml:"creds_file"`
	PublishTimeout models.Duration `json:"publish_timeout,omitempty" toml:"publish_timeout"`
	TLS            *TLSFiles       `json:"tls,omitempty" toml:"tls"`
}

// Validate fills defaults for an enabled sink.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.URL == "" {
		return errNATSURLRequired
	}

	if c.Stream == "" {
		c.Stream = DefaultStream
	}

	if c.SubjectPrefix == "" {
		c.SubjectPrefix = DefaultSubjectPrefix
	}

	if c.PublishTimeout <= 0 {
		c.PublishTimeout = models.Duration(defaultPublishTimeout)
	}

	return nil
}

// JetStreamPublisher is the slice of jetstream.JetStream the sink needs.
type JetStreamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// EventPublisher turns status changes into CloudEvents.
type EventPublisher struct {
	js      JetStreamPublisher
	prefix  string
	timeout time.Duration
	logger  logger.Logger
}

// NewEventPublisher publishes on "<prefix>.<status>".
func NewEventPublisher(js JetStreamPublisher, prefix string, timeout time.Duration, log logger.Logger) *EventPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}

	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}

	return &EventPublisher{js: js, prefix: prefix, timeout: timeout, logger: log}
}

// PublishStatusChange emits one worker status CloudEvent.
func (p *EventPublisher) PublishStatusChange(ctx context.Context, change events.StatusChange) error {
	at := change.At
	event := models.CloudEvent{
		SpecVersion:     "1.0",
		ID:              uuid.New().String(),
		Source:          statusEventSource,
		Type:            statusEventType,
		DataContentType: "application/json",
		Subject:         fmt.Sprintf("%s.%s", p.prefix, change.Status),
		Time:            &at,
		Data: models.WorkerStatusEventData{
			WorkerID:  change.WorkerID,
			Status:    change.Status,
			Timestamp: change.At,
		},
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal worker status event: %w", err)
	}

	ack, err := p.js.Publish(ctx, event.Subject, payload)
	if err != nil {
		return fmt.Errorf("failed to publish worker status event: %w", err)
	}

	p.logger.Debug().
		Str("event_id", event.ID).
		Str("subject", event.Subject).
		Uint64("seq", ack.Sequence).
		Msg("Published worker status event")

	return nil
}

// Handler adapts the publisher to the status bus. Each publish is bounded
// by the configured timeout.
func (p *EventPublisher) Handler() events.Handler {
	return func(change events.StatusChange) error {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		return p.PublishStatusChange(ctx, change)
	}
}

// Connect dials NATS, ensures the stream exists and returns a publisher
// plus the connection to close on shutdown.
func Connect(ctx context.Context, cfg *Config, log logger.Logger) (*EventPublisher, *nats.Conn, error) {
	opts, err := connectOptions(cfg, log)
	if err != nil {
		return nil, nil, err
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	var js jetstream.JetStream

	if cfg.Domain != "" {
		js, err = jetstream.NewWithDomain(nc, cfg.Domain)
	} else {
		js, err = jetstream.New(nc)
	}

	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if _, err = js.Stream(ctx, cfg.Stream); err != nil {
		_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:     cfg.Stream,
			Subjects: []string{cfg.SubjectPrefix + ".*"},
		})
		if err != nil {
			nc.Close()
			return nil, nil, fmt.Errorf("failed to create or get stream %s: %w", cfg.Stream, err)
		}

		log.Info().Str("stream", cfg.Stream).Msg("Created NATS JetStream stream")
	}

	return NewEventPublisher(js, cfg.SubjectPrefix, time.Duration(cfg.PublishTimeout), log), nc, nil
}

func connectOptions(cfg *Config, log logger.Logger) ([]nats.Option, error) {
	opts := []nats.Option{
		nats.Name("edgefleet-controller"),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	if cfg.CredsFile != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredsFile))
	}

	if cfg.TLS != nil {
		tlsConf, err := cfg.TLS.Build()
		if err != nil {
			return nil, fmt.Errorf("failed to build NATS TLS config: %w", err)
		}

		opts = append(opts, nats.Secure(tlsConf))
	}

	return opts, nil
}
