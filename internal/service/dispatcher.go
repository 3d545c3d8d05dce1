package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"automation-service/internal/domain"
	"automation-service/internal/repository"

	log "github.com/sirupsen/logrus"
)

// WebhookDispatcher forwards published events to externally registered
// endpoints. Delivery to different endpoints runs concurrently; retries
// for one endpoint are sequential with a fixed delay and never block the
// others.
type WebhookDispatcher struct {
	webhookRepo repository.WebhookRepository
	client      *http.Client
}

func NewWebhookDispatcher(webhookRepo repository.WebhookRepository) *WebhookDispatcher {
	return &WebhookDispatcher{
		webhookRepo: webhookRepo,
		// Per-attempt timeouts come from each webhook's config via the
		// request context; the client itself stays unbounded.
		client: &http.Client{},
	}
}

// DispatchEvent fans the event out to every active webhook subscribed to
// its type and waits for all deliveries to settle.
func (d *WebhookDispatcher) DispatchEvent(ctx context.Context, event domain.Event) {
	webhooks, err := d.webhookRepo.ListActiveByEvent(ctx, event.Type)
	if err != nil {
		log.WithError(err).WithField("event_id", event.ID).Error("Failed to load webhooks for event")
		return
	}
	if len(webhooks) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, webhook := range webhooks {
		wg.Add(1)
		go func(w domain.Webhook) {
			defer wg.Done()
			if err := d.Deliver(ctx, w, event); err != nil {
				log.WithError(err).WithFields(log.Fields{
					"webhook_id": w.ID,
					"event_id":   event.ID,
				}).Error("Webhook delivery failed")
			}
		}(webhook)
	}
	wg.Wait()
}

// Deliver makes one logical delivery: RetryCount caps the total attempts,
// with a fixed delay between them. The final outcome is recorded once on
// the webhook's counters. The returned error is informational; it is never
// propagated to the publisher.
func (d *WebhookDispatcher) Deliver(ctx context.Context, webhook domain.Webhook, event domain.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event for webhook: %w", err)
	}

	attempts := webhook.RetryCount
	if attempts < 1 {
		attempts = 1
	}

	var statusCode int
	var lastErr error
loop:
	for attempt := 1; attempt <= attempts; attempt++ {
		statusCode, lastErr = d.attempt(ctx, webhook, body)
		if lastErr == nil {
			break
		}

		log.WithFields(log.Fields{
			"webhook_id": webhook.ID,
			"attempt":    attempt,
			"status":     statusCode,
			"error":      lastErr.Error(),
		}).Warn("Webhook delivery attempt failed")

		if attempt < attempts {
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				break loop
			case <-time.After(webhook.RetryDelay()):
			}
		}
	}

	success := lastErr == nil
	errMsg := ""
	if lastErr != nil {
		errMsg = lastErr.Error()
	}
	if err := d.webhookRepo.RecordCall(ctx, webhook.ID, success, statusCode, errMsg); err != nil {
		log.WithError(err).WithField("webhook_id", webhook.ID).Error("Failed to record webhook call")
	}

	if !success {
		return &domain.DeliveryError{
			WebhookID:  webhook.ID,
			StatusCode: statusCode,
			Attempts:   attempts,
			Err:        lastErr,
		}
	}

	log.WithFields(log.Fields{
		"webhook_id": webhook.ID,
		"event_id":   event.ID,
		"status":     statusCode,
	}).Debug("Webhook delivered")
	return nil
}

func (d *WebhookDispatcher) attempt(ctx context.Context, webhook domain.Webhook, body []byte) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, webhook.Timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for name, value := range webhook.AuthHeaders() {
		req.Header.Set(name, value)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// Ping sends a synthetic test event to a single webhook so an operator
// can verify its configuration.
func (d *WebhookDispatcher) Ping(ctx context.Context, webhookID string) error {
	webhook, err := d.webhookRepo.GetByID(ctx, webhookID)
	if err != nil {
		return err
	}

	event := domain.Event{
		ID:        "ping",
		Source:    domain.SourceSystem,
		Type:      "webhook.ping",
		Payload:   map[string]interface{}{"message": "ping"},
		CreatedAt: time.Now().UTC(),
	}
	return d.Deliver(ctx, *webhook, event)
}
