// Copyright 2024-2026 Aiku AI

// Package webhook forwards session events to an HTTP callback. Delivery is
// best effort: one worker drains a bounded queue and nothing is retried.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"go.mau.fi/util/jsontime"

	"github.com/aiku/mattermost-rest/pkg/config"
	"github.com/aiku/mattermost-rest/pkg/session"
)

// Payload is the JSON body POSTed for every event.
type Payload struct {
	Event     session.EventType  `json:"event"`
	Data      any                `json:"data"`
	Timestamp jsontime.UnixMilli `json:"timestamp"`
}

// Dispatcher queues session events and delivers them to the configured URL.
type Dispatcher struct {
	url      string
	disabled map[string]struct{}
	client   *http.Client
	log      zerolog.Logger

	queue    chan *Payload
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	delivered atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64
}

// New creates a dispatcher. It does nothing until Start is called.
func New(cfg *config.WebhookConfig, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		url:      cfg.URL,
		disabled: lo.Keyify(cfg.DisabledEvents),
		client:   &http.Client{Timeout: cfg.Timeout},
		log:      log.With().Str("component", "webhook").Logger(),
		queue:    make(chan *Payload, cfg.BufferSize),
		stop:     make(chan struct{}),
	}
}

// Enabled reports whether a callback URL is configured.
func (d *Dispatcher) Enabled() bool {
	return d.url != ""
}

// Listen is a session.Listener. It never blocks: events are dropped when the
// queue is full.
func (d *Dispatcher) Listen(evt *session.Event) {
	if !d.Enabled() {
		return
	}
	if _, skip := d.disabled[string(evt.Type)]; skip {
		return
	}
	payload := &Payload{Event: evt.Type, Data: evt.Data, Timestamp: jsontime.UM(evt.Timestamp)}
	select {
	case <-d.stop:
	case d.queue <- payload:
	default:
		d.dropped.Add(1)
		d.log.Warn().Str("event", string(evt.Type)).Msg("Webhook queue full, dropping event")
	}
}

// Start launches the delivery worker.
func (d *Dispatcher) Start(ctx context.Context) {
	if !d.Enabled() {
		return
	}
	d.log.Info().Str("url", d.url).Int("buffer_size", cap(d.queue)).Msg("Starting webhook dispatcher")
	d.wg.Add(1)
	go d.run(ctx)
}

// Stop stops the worker and waits for an in-flight delivery to finish.
// Queued events are discarded.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stop)
	})
	d.wg.Wait()
}

// Stats returns the delivered, dropped and failed counters.
func (d *Dispatcher) Stats() (delivered, dropped, failed int64) {
	return d.delivered.Load(), d.dropped.Load(), d.failed.Load()
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-d.stop:
			return
		case <-ctx.Done():
			return
		case payload := <-d.queue:
			if err := d.deliver(ctx, payload); err != nil {
				d.failed.Add(1)
				d.log.Warn().Err(err).Str("event", string(payload.Event)).Msg("Webhook delivery failed")
			} else {
				d.delivered.Add(1)
			}
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, payload *Payload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "mattermost-rest")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	d.log.Trace().Str("event", string(payload.Event)).Msg("Webhook delivered")
	return nil
}
