package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"formline/internal/config"
	"formline/internal/domain"
	"formline/internal/engine"
)

const (
	webhookPollInterval  = 2 * time.Second
	webhookBatchSize     = 100
	webhookDefaultClient = 10 * time.Second
)

// webhookDispatcher polls the event log and POSTs matching events to each
// configured endpoint. Cursors start at the current log head so restarts
// never replay history. Delivery is at-most-once per process lifetime.
type webhookDispatcher struct {
	engine  *engine.Engine
	ownerID string
	hooks   []config.WebhookConfig
	cursors []int64
	logger  *log.Logger
}

func startWebhookDispatcher(e *engine.Engine) {
	if e == nil || e.Config == nil {
		return
	}
	hooks := make([]config.WebhookConfig, 0, len(e.Config.Webhooks))
	for _, h := range e.Config.Webhooks {
		if h.Enabled != nil && !*h.Enabled {
			continue
		}
		if h.URL == "" {
			continue
		}
		hooks = append(hooks, h)
	}
	if len(hooks) == 0 {
		return
	}
	d := &webhookDispatcher{
		engine:  e,
		ownerID: e.Config.Owner.ID,
		hooks:   hooks,
		cursors: make([]int64, len(hooks)),
		logger:  log.Default(),
	}
	go d.run(context.Background())
}

func (d *webhookDispatcher) run(ctx context.Context) {
	head, err := d.engine.Repo.LatestEventID(ctx, d.ownerID)
	if err != nil {
		d.logger.Printf("webhooks: reading event head: %v", err)
		return
	}
	for i := range d.cursors {
		d.cursors[i] = head
	}
	ticker := time.NewTicker(webhookPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

func (d *webhookDispatcher) poll(ctx context.Context) {
	for i, hook := range d.hooks {
		events, err := d.engine.Repo.EventsAfter(ctx, webhookBatchSize, d.cursors[i], d.ownerID)
		if err != nil {
			d.logger.Printf("webhooks: polling events for %s: %v", hook.URL, err)
			continue
		}
		for _, evt := range events {
			if !eventMatches(hook, evt.Type) {
				d.cursors[i] = evt.ID
				continue
			}
			if err := d.deliver(ctx, hook, evt); err != nil {
				d.logger.Printf("webhooks: delivering event %d to %s: %v", evt.ID, hook.URL, err)
				// retry this event on the next poll
				break
			}
			d.cursors[i] = evt.ID
		}
	}
}

func eventMatches(hook config.WebhookConfig, evtType string) bool {
	if len(hook.Events) == 0 {
		return true
	}
	for _, t := range hook.Events {
		if t == evtType || t == "*" {
			return true
		}
	}
	return false
}

func (d *webhookDispatcher) deliver(ctx context.Context, hook config.WebhookConfig, evt domain.Event) error {
	var payload map[string]any
	if evt.Payload != "" {
		_ = json.Unmarshal([]byte(evt.Payload), &payload)
	}
	body, err := json.Marshal(map[string]any{
		"id":          evt.ID,
		"ts":          evt.TS,
		"type":        evt.Type,
		"owner_id":    evt.OwnerID,
		"entity_kind": evt.EntityKind,
		"entity_id":   evt.EntityID,
		"actor_id":    evt.ActorID,
		"payload":     payload,
	})
	if err != nil {
		return err
	}
	timeout := webhookDefaultClient
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Formline-Event", evt.Type)
	req.Header.Set("X-Formline-Delivery", fmt.Sprintf("%d", evt.ID))
	req.Header.Set("X-Formline-Owner", d.ownerID)
	if hook.Secret != "" {
		req.Header.Set("X-Formline-Secret", hook.Secret)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}
