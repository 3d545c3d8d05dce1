package repository

import (
	"context"
	"database/sql"
	"fmt"

	"automation-service/internal/domain"

	"github.com/lib/pq"
	log "github.com/sirupsen/logrus"
)

type postgresWebhookRepository struct {
	db *sql.DB
}

func NewPostgresWebhookRepository(db *sql.DB) *postgresWebhookRepository {
	return &postgresWebhookRepository{db: db}
}

func (r *postgresWebhookRepository) Create(ctx context.Context, webhook *domain.Webhook) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	log.WithFields(log.Fields{
		"webhook_id": webhook.ID,
		"name":       webhook.Name,
		"url":        webhook.URL,
	}).Info("Creating webhook")

	authConfig, err := marshalJSON(webhook.AuthConfig)
	if err != nil {
		return err
	}
	customHeaders, err := marshalJSON(webhook.CustomHeaders)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO webhooks (
			id, name, description, url, status, is_active,
			subscribed_events, auth_type, auth_config,
			retry_count, retry_delay_ms, timeout_ms, custom_headers,
			total_calls, successful_calls, failed_calls
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 0, 0, 0)
	`

	_, err = r.db.ExecContext(ctx, query,
		webhook.ID,
		webhook.Name,
		webhook.Description,
		webhook.URL,
		webhook.Status,
		webhook.IsActive,
		pq.Array(webhook.SubscribedEvents),
		webhook.AuthType,
		authConfig,
		webhook.RetryCount,
		webhook.RetryDelayMs,
		webhook.TimeoutMs,
		customHeaders,
	)

	if err != nil {
		log.WithError(err).WithField("webhook_id", webhook.ID).Error("Failed to create webhook")
		return fmt.Errorf("failed to create webhook: %w", err)
	}

	return nil
}

func (r *postgresWebhookRepository) GetByID(ctx context.Context, id string) (*domain.Webhook, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, webhookSelect+` WHERE id = $1`, id)
	webhook, err := scanWebhook(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrWebhookNotFound
		}
		return nil, fmt.Errorf("failed to get webhook by ID: %w", err)
	}
	return webhook, nil
}

func (r *postgresWebhookRepository) List(ctx context.Context, includeArchived bool) ([]domain.Webhook, error) {
	query := webhookSelect + ` WHERE status = 'active' ORDER BY created_at DESC`
	if includeArchived {
		query = webhookSelect + ` ORDER BY created_at DESC`
	}
	return r.list(ctx, query)
}

func (r *postgresWebhookRepository) ListActiveByEvent(ctx context.Context, eventType string) ([]domain.Webhook, error) {
	query := webhookSelect + `
		WHERE status = 'active' AND is_active = TRUE AND $1 = ANY(subscribed_events)
		ORDER BY created_at ASC`
	return r.list(ctx, query, eventType)
}

func (r *postgresWebhookRepository) Update(ctx context.Context, webhook *domain.Webhook) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	authConfig, err := marshalJSON(webhook.AuthConfig)
	if err != nil {
		return err
	}
	customHeaders, err := marshalJSON(webhook.CustomHeaders)
	if err != nil {
		return err
	}

	query := `
		UPDATE webhooks SET
			name = $2, description = $3, url = $4, is_active = $5,
			subscribed_events = $6, auth_type = $7, auth_config = $8,
			retry_count = $9, retry_delay_ms = $10, timeout_ms = $11,
			custom_headers = $12, updated_at = NOW()
		WHERE id = $1 AND status = 'active'
	`

	result, err := r.db.ExecContext(ctx, query,
		webhook.ID,
		webhook.Name,
		webhook.Description,
		webhook.URL,
		webhook.IsActive,
		pq.Array(webhook.SubscribedEvents),
		webhook.AuthType,
		authConfig,
		webhook.RetryCount,
		webhook.RetryDelayMs,
		webhook.TimeoutMs,
		customHeaders,
	)
	if err != nil {
		log.WithError(err).WithField("webhook_id", webhook.ID).Error("Failed to update webhook")
		return fmt.Errorf("failed to update webhook: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return domain.ErrWebhookNotFound
	}
	return nil
}

func (r *postgresWebhookRepository) Archive(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `UPDATE webhooks SET status = 'archived', is_active = FALSE, updated_at = NOW() WHERE id = $1 AND status = 'active'`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to archive webhook: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check archive result: %w", err)
	}
	if affected == 0 {
		return domain.ErrWebhookNotFound
	}

	log.WithField("webhook_id", id).Info("Webhook archived")
	return nil
}

func (r *postgresWebhookRepository) RecordCall(ctx context.Context, id string, success bool, statusCode int, deliveryErr string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		UPDATE webhooks SET
			total_calls = total_calls + 1,
			successful_calls = successful_calls + CASE WHEN $2 THEN 1 ELSE 0 END,
			failed_calls = failed_calls + CASE WHEN $2 THEN 0 ELSE 1 END,
			last_called_at = NOW(),
			last_status = $3,
			last_error = CASE WHEN $2 THEN NULL ELSE $4 END,
			updated_at = NOW()
		WHERE id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, id, success, statusCode, deliveryErr); err != nil {
		log.WithError(err).WithField("webhook_id", id).Error("Failed to record webhook call")
		return fmt.Errorf("failed to record webhook call: %w", err)
	}
	return nil
}

const webhookSelect = `
	SELECT id, name, description, url, status, is_active,
		subscribed_events, auth_type, auth_config,
		retry_count, retry_delay_ms, timeout_ms, custom_headers,
		total_calls, successful_calls, failed_calls,
		last_called_at, COALESCE(last_status, 0), COALESCE(last_error, ''),
		created_at, updated_at
	FROM webhooks`

func scanWebhook(row rowScanner) (*domain.Webhook, error) {
	var w domain.Webhook
	var authConfig, customHeaders []byte
	var lastCalledAt sql.NullTime

	err := row.Scan(
		&w.ID,
		&w.Name,
		&w.Description,
		&w.URL,
		&w.Status,
		&w.IsActive,
		pq.Array(&w.SubscribedEvents),
		&w.AuthType,
		&authConfig,
		&w.RetryCount,
		&w.RetryDelayMs,
		&w.TimeoutMs,
		&customHeaders,
		&w.TotalCalls,
		&w.SuccessfulCalls,
		&w.FailedCalls,
		&lastCalledAt,
		&w.LastStatus,
		&w.LastError,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSON(authConfig, &w.AuthConfig); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(customHeaders, &w.CustomHeaders); err != nil {
		return nil, err
	}
	if lastCalledAt.Valid {
		w.LastCalledAt = &lastCalledAt.Time
	}

	return &w, nil
}

func (r *postgresWebhookRepository) list(ctx context.Context, query string, args ...interface{}) ([]domain.Webhook, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	defer rows.Close()

	var webhooks []domain.Webhook
	for rows.Next() {
		webhook, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook: %w", err)
		}
		webhooks = append(webhooks, *webhook)
	}
	return webhooks, rows.Err()
}
