package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"automation-service/internal/domain"

	"github.com/lib/pq"
	log "github.com/sirupsen/logrus"
)

type postgresEventRepository struct {
	db *sql.DB
}

func NewPostgresEventRepository(db *sql.DB) *postgresEventRepository {
	return &postgresEventRepository{db: db}
}

func (r *postgresEventRepository) Append(ctx context.Context, event *domain.Event) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	payload, err := marshalJSON(event.Payload)
	if err != nil {
		return err
	}
	metadata, err := marshalJSON(event.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO events (id, source, type, payload, metadata, triggered_rule_ids, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = r.db.ExecContext(ctx, query,
		event.ID,
		event.Source,
		event.Type,
		payload,
		metadata,
		pq.Array(event.TriggeredRuleIDs),
		event.CreatedAt,
	)

	if err != nil {
		log.WithError(err).WithField("event_id", event.ID).Error("Failed to append event")
		return fmt.Errorf("failed to append event: %w", err)
	}

	return nil
}

func (r *postgresEventRepository) GetByID(ctx context.Context, id string) (*domain.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := eventSelect + ` WHERE id = $1`

	row := r.db.QueryRowContext(ctx, query, id)
	event, err := scanEvent(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("event %s: %w", id, sql.ErrNoRows)
		}
		return nil, fmt.Errorf("failed to get event by ID: %w", err)
	}
	return event, nil
}

func (r *postgresEventRepository) AppendTriggeredRules(ctx context.Context, eventID string, ruleIDs []string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if len(ruleIDs) == 0 {
		return nil
	}

	query := `
		UPDATE events
		SET triggered_rule_ids = (
			SELECT array_agg(DISTINCT id)
			FROM unnest(triggered_rule_ids || $2::text[]) AS id
		)
		WHERE id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, eventID, pq.Array(ruleIDs)); err != nil {
		log.WithError(err).WithField("event_id", eventID).Error("Failed to append triggered rules")
		return fmt.Errorf("failed to append triggered rules: %w", err)
	}
	return nil
}

func (r *postgresEventRepository) Recent(ctx context.Context, limit int) ([]domain.Event, error) {
	return r.list(ctx, eventSelect+` ORDER BY created_at DESC LIMIT $1`, limit)
}

func (r *postgresEventRepository) ListByType(ctx context.Context, eventType string, limit int) ([]domain.Event, error) {
	return r.list(ctx, eventSelect+` WHERE type = $2 ORDER BY created_at DESC LIMIT $1`, limit, eventType)
}

func (r *postgresEventRepository) ListBySource(ctx context.Context, source string, limit int) ([]domain.Event, error) {
	return r.list(ctx, eventSelect+` WHERE source = $2 ORDER BY created_at DESC LIMIT $1`, limit, source)
}

func (r *postgresEventRepository) ListWithAutomation(ctx context.Context, limit int) ([]domain.Event, error) {
	return r.list(ctx, eventSelect+` WHERE cardinality(triggered_rule_ids) > 0 ORDER BY created_at DESC LIMIT $1`, limit)
}

func (r *postgresEventRepository) Stats(ctx context.Context, start, end time.Time) (*domain.EventStats, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	stats := &domain.EventStats{
		ByType:   map[string]int{},
		BySource: map[string]int{},
	}

	query := `
		SELECT type, source, cardinality(triggered_rule_ids) > 0
		FROM events
		WHERE created_at >= $1 AND created_at <= $2
	`

	rows, err := r.db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query event stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var eventType, source string
		var automated bool
		if err := rows.Scan(&eventType, &source, &automated); err != nil {
			return nil, fmt.Errorf("failed to scan event stats row: %w", err)
		}
		stats.Total++
		stats.ByType[eventType]++
		stats.BySource[source]++
		if automated {
			stats.WithAutomation++
		}
	}

	return stats, rows.Err()
}

const eventSelect = `
	SELECT id, source, type, payload, metadata, triggered_rule_ids, created_at
	FROM events`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*domain.Event, error) {
	var event domain.Event
	var payload, metadata []byte

	err := row.Scan(
		&event.ID,
		&event.Source,
		&event.Type,
		&payload,
		&metadata,
		pq.Array(&event.TriggeredRuleIDs),
		&event.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSON(payload, &event.Payload); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(metadata, &event.Metadata); err != nil {
		return nil, err
	}

	return &event, nil
}

func (r *postgresEventRepository) list(ctx context.Context, query string, args ...interface{}) ([]domain.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, *event)
	}
	return events, rows.Err()
}
