package domain

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

var ErrWebhookNotFound = errors.New("webhook not found")

// Webhook lifecycle status. Deactivated endpoints keep their delivery
// history.
const (
	WebhookStatusActive   = "active"
	WebhookStatusArchived = "archived"
)

// Webhook auth schemes.
const (
	AuthNone   = "none"
	AuthBearer = "bearer"
	AuthAPIKey = "api_key"
	AuthBasic  = "basic"
)

// Webhook is an externally registered HTTP endpoint subscribed to a set
// of event types.
type Webhook struct {
	ID               string                 `json:"id"`
	Name             string                 `json:"name"`
	Description      string                 `json:"description,omitempty"`
	URL              string                 `json:"url"`
	Status           string                 `json:"status"`
	IsActive         bool                   `json:"is_active"`
	SubscribedEvents []string               `json:"subscribed_events"`
	AuthType         string                 `json:"auth_type"`
	AuthConfig       map[string]interface{} `json:"auth_config,omitempty"`
	RetryCount       int                    `json:"retry_count"`
	RetryDelayMs     int                    `json:"retry_delay_ms"`
	TimeoutMs        int                    `json:"timeout_ms"`
	CustomHeaders    map[string]string      `json:"custom_headers,omitempty"`
	TotalCalls       int                    `json:"total_calls"`
	SuccessfulCalls  int                    `json:"successful_calls"`
	FailedCalls      int                    `json:"failed_calls"`
	LastCalledAt     *time.Time             `json:"last_called_at,omitempty"`
	LastStatus       int                    `json:"last_status,omitempty"`
	LastError        string                 `json:"last_error,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// SubscribedTo reports whether the webhook wants events of the given type.
func (w Webhook) SubscribedTo(eventType string) bool {
	for _, t := range w.SubscribedEvents {
		if t == eventType {
			return true
		}
	}
	return false
}

// AuthHeaders builds the authentication and custom headers for a delivery
// attempt.
func (w Webhook) AuthHeaders() map[string]string {
	headers := map[string]string{}

	switch w.AuthType {
	case AuthBearer:
		if token, ok := w.AuthConfig["token"].(string); ok && token != "" {
			headers["Authorization"] = "Bearer " + token
		}
	case AuthAPIKey:
		if key, ok := w.AuthConfig["api_key"].(string); ok && key != "" {
			name := "X-API-Key"
			if custom, ok := w.AuthConfig["header_name"].(string); ok && custom != "" {
				name = custom
			}
			headers[name] = key
		}
	case AuthBasic:
		user, uok := w.AuthConfig["username"].(string)
		pass, pok := w.AuthConfig["password"].(string)
		if uok && pok {
			credentials := base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
			headers["Authorization"] = "Basic " + credentials
		}
	}

	for name, value := range w.CustomHeaders {
		headers[name] = value
	}

	return headers
}

// RecordCall folds the outcome of one logical delivery (including its
// retries) into the counters. A success clears LastError.
func (w *Webhook) RecordCall(success bool, statusCode int, deliveryErr string) {
	now := time.Now().UTC()
	w.TotalCalls++
	w.LastCalledAt = &now
	w.LastStatus = statusCode
	if success {
		w.SuccessfulCalls++
		w.LastError = ""
	} else {
		w.FailedCalls++
		if deliveryErr == "" {
			deliveryErr = "unknown error"
		}
		w.LastError = deliveryErr
	}
}

// SuccessRate returns the percentage of successful deliveries, 0 when the
// webhook has never been called.
func (w Webhook) SuccessRate() float64 {
	if w.TotalCalls == 0 {
		return 0
	}
	return float64(w.SuccessfulCalls) / float64(w.TotalCalls) * 100
}

// Timeout returns the per-attempt HTTP timeout with a sane default.
func (w Webhook) Timeout() time.Duration {
	if w.TimeoutMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(w.TimeoutMs) * time.Millisecond
}

// RetryDelay returns the fixed delay between delivery attempts.
func (w Webhook) RetryDelay() time.Duration {
	if w.RetryDelayMs <= 0 {
		return time.Second
	}
	return time.Duration(w.RetryDelayMs) * time.Millisecond
}

// DeliveryError describes a failed webhook delivery attempt series.
type DeliveryError struct {
	WebhookID  string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("webhook %s delivery failed after %d attempt(s): %v", e.WebhookID, e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
