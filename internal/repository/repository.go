package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"automation-service/internal/domain"

	_ "github.com/lib/pq"
)

const queryTimeout = 5 * time.Second

// EventRepository is the append-only platform event log.
type EventRepository interface {
	Append(ctx context.Context, event *domain.Event) error
	GetByID(ctx context.Context, id string) (*domain.Event, error)
	// AppendTriggeredRules is the only mutation allowed after persist.
	AppendTriggeredRules(ctx context.Context, eventID string, ruleIDs []string) error
	Recent(ctx context.Context, limit int) ([]domain.Event, error)
	ListByType(ctx context.Context, eventType string, limit int) ([]domain.Event, error)
	ListBySource(ctx context.Context, source string, limit int) ([]domain.Event, error)
	ListWithAutomation(ctx context.Context, limit int) ([]domain.Event, error)
	Stats(ctx context.Context, start, end time.Time) (*domain.EventStats, error)
}

// RuleRepository stores automation rules. Rules are archived, never
// hard-deleted.
type RuleRepository interface {
	Create(ctx context.Context, rule *domain.Rule) error
	GetByID(ctx context.Context, id string) (*domain.Rule, error)
	List(ctx context.Context, includeArchived bool) ([]domain.Rule, error)
	// ListActiveByTrigger returns active rules for a trigger type ordered
	// by priority descending.
	ListActiveByTrigger(ctx context.Context, triggerType string) ([]domain.Rule, error)
	Update(ctx context.Context, rule *domain.Rule) error
	Archive(ctx context.Context, id string) error
	RecordExecution(ctx context.Context, id string, result domain.ExecutionResult) error
}

// ApprovalRepository stores approval requests (audit trail, never deleted).
type ApprovalRepository interface {
	Create(ctx context.Context, approval *domain.ApprovalRequest) error
	GetByID(ctx context.Context, id string) (*domain.ApprovalRequest, error)
	List(ctx context.Context, status string, limit int) ([]domain.ApprovalRequest, error)
	ListPending(ctx context.Context) ([]domain.ApprovalRequest, error)
	Update(ctx context.Context, approval *domain.ApprovalRequest) error
	// MarkExpired flips pending -> expired only if the row is still
	// pending, so the sweep cannot race a concurrent human decision.
	MarkExpired(ctx context.Context, id string) (bool, error)
	Stats(ctx context.Context) (*domain.ApprovalStats, error)
}

// WebhookRepository stores external endpoint configurations.
type WebhookRepository interface {
	Create(ctx context.Context, webhook *domain.Webhook) error
	GetByID(ctx context.Context, id string) (*domain.Webhook, error)
	List(ctx context.Context, includeArchived bool) ([]domain.Webhook, error)
	ListActiveByEvent(ctx context.Context, eventType string) ([]domain.Webhook, error)
	Update(ctx context.Context, webhook *domain.Webhook) error
	Archive(ctx context.Context, id string) error
	RecordCall(ctx context.Context, id string, success bool, statusCode int, deliveryErr string) error
}

// marshalJSON serializes a value for a jsonb column, storing NULL for nil.
func marshalJSON(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal jsonb value: %w", err)
	}
	return data, nil
}

// unmarshalJSON decodes a jsonb column into out, leaving out untouched
// for NULL.
func unmarshalJSON(raw []byte, out interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to unmarshal jsonb value: %w", err)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
