package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ifcvalidation/internal/config"
	"ifcvalidation/internal/domain"
	"ifcvalidation/internal/engine"
	"ifcvalidation/internal/obfuscate"
)

const (
	webhookPollInterval = 2 * time.Second
	webhookTimeout      = 5 * time.Second
	webhookBatchSize    = 100
)

// webhookEvent is the JSON body posted to a hook.
type webhookEvent struct {
	Type       string          `json:"type"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
}

// subscriber is one configured hook and its position in the event log.
// A negative position means it has not been placed at the log's end yet.
type subscriber struct {
	hook     config.WebhookConfig
	patterns []string
	client   *http.Client
	position int64
}

// wants matches exact event types and trailing-wildcard patterns such as
// "request.*". No patterns means every event.
func (s *subscriber) wants(eventType string) bool {
	if len(s.patterns) == 0 {
		return true
	}
	for _, p := range s.patterns {
		if prefix, ok := strings.CutSuffix(p, "*"); ok {
			if strings.HasPrefix(eventType, prefix) {
				return true
			}
		} else if p == eventType {
			return true
		}
	}
	return false
}

// webhookDispatcher tails the event log and posts new entries to the active
// hooks. History written before a hook's first pass is never replayed.
type webhookDispatcher struct {
	engine engine.Engine
	subs   []*subscriber
	log    *slog.Logger
}

func newWebhookDispatcher(e engine.Engine, hooks []config.WebhookConfig, logger *slog.Logger) *webhookDispatcher {
	d := &webhookDispatcher{engine: e, log: logger}
	for _, h := range hooks {
		if !h.Active() {
			continue
		}
		timeout := webhookTimeout
		if h.TimeoutSeconds > 0 {
			timeout = time.Duration(h.TimeoutSeconds) * time.Second
		}
		var patterns []string
		for _, p := range h.Events {
			if p = strings.TrimSpace(p); p != "" {
				patterns = append(patterns, p)
			}
		}
		d.subs = append(d.subs, &subscriber{
			hook:     h,
			patterns: patterns,
			client:   &http.Client{Timeout: timeout},
			position: -1,
		})
	}
	return d
}

// StartWebhooks delivers events in the background until ctx is done.
// Nothing is started when no hook is active.
func StartWebhooks(ctx context.Context, e engine.Engine, hooks []config.WebhookConfig, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	d := newWebhookDispatcher(e, hooks, logger)
	if len(d.subs) == 0 {
		return
	}
	logger.Info("webhooks started", "hooks", len(d.subs))
	go func() {
		t := time.NewTicker(webhookPollInterval)
		defer t.Stop()
		for {
			d.dispatchAll(ctx)
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
	}()
}

func (d *webhookDispatcher) dispatchAll(ctx context.Context) {
	for _, s := range d.subs {
		if ctx.Err() != nil {
			return
		}
		d.deliver(ctx, s)
	}
}

// deliver sends the next batch to s. A failed post stops the batch so the
// same event is retried on the next pass.
func (d *webhookDispatcher) deliver(ctx context.Context, s *subscriber) {
	if s.position < 0 {
		latest, err := d.engine.Repo.LatestEventID(ctx)
		if err != nil {
			d.log.Error("webhook cursor", "url", s.hook.URL, "error", err)
			return
		}
		s.position = latest
	}
	batch, err := d.engine.Repo.EventsAfter(ctx, s.position, webhookBatchSize)
	if err != nil {
		d.log.Error("webhook fetch", "url", s.hook.URL, "error", err)
		return
	}
	for _, evt := range batch {
		if s.wants(evt.Type) {
			if err := d.post(ctx, s, evt); err != nil {
				d.log.Warn("webhook delivery failed", "url", s.hook.URL, "event", evt.Type, "delivery", evt.ID, "error", err)
				return
			}
		}
		s.position = evt.ID
	}
}

func (d *webhookDispatcher) post(ctx context.Context, s *subscriber, evt domain.Event) error {
	body := webhookEvent{
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		TS:         evt.TS,
		Payload:    json.RawMessage("{}"),
	}
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		body.Payload = json.RawMessage(evt.Payload)
	}
	body.ActorID, _ = d.engine.IDs.Encode(obfuscate.ActorKind, evt.ActorID)

	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Ifcv-Event", evt.Type)
	req.Header.Set("X-Ifcv-Delivery", strconv.FormatInt(evt.ID, 10))
	if secret := strings.TrimSpace(s.hook.Secret); secret != "" {
		req.Header.Set("X-Ifcv-Secret", secret)
	}
	res, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
		return fmt.Errorf("hook answered %s: %s", res.Status, bytes.TrimSpace(snippet))
	}
	return nil
}
