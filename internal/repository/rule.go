package repository

import (
	"context"
	"database/sql"
	"fmt"

	"automation-service/internal/domain"

	"github.com/lib/pq"
	log "github.com/sirupsen/logrus"
)

type postgresRuleRepository struct {
	db *sql.DB
}

func NewPostgresRuleRepository(db *sql.DB) *postgresRuleRepository {
	return &postgresRuleRepository{db: db}
}

func (r *postgresRuleRepository) Create(ctx context.Context, rule *domain.Rule) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	log.WithFields(log.Fields{
		"rule_id":      rule.ID,
		"name":         rule.Name,
		"trigger_type": rule.TriggerType,
	}).Info("Creating automation rule")

	conditions, err := marshalJSON(rule.Conditions)
	if err != nil {
		return err
	}
	actions, err := marshalJSON(rule.Actions)
	if err != nil {
		return err
	}
	autoApproval, err := marshalJSON(rule.AutoApprovalConditions)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO rules (
			id, name, description, status, is_active,
			trigger_type, conditions, actions, priority,
			requires_approval, impact_level, auto_approval_conditions,
			authorized_approvers, execution_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 0)
	`

	_, err = r.db.ExecContext(ctx, query,
		rule.ID,
		rule.Name,
		rule.Description,
		rule.Status,
		rule.IsActive,
		rule.TriggerType,
		conditions,
		actions,
		rule.Priority,
		rule.RequiresApproval,
		rule.ImpactLevel,
		autoApproval,
		pq.Array(rule.AuthorizedApprovers),
	)

	if err != nil {
		log.WithError(err).WithField("rule_id", rule.ID).Error("Failed to create rule")
		return fmt.Errorf("failed to create rule: %w", err)
	}

	return nil
}

func (r *postgresRuleRepository) GetByID(ctx context.Context, id string) (*domain.Rule, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, ruleSelect+` WHERE id = $1`, id)
	rule, err := scanRule(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrRuleNotFound
		}
		return nil, fmt.Errorf("failed to get rule by ID: %w", err)
	}
	return rule, nil
}

func (r *postgresRuleRepository) List(ctx context.Context, includeArchived bool) ([]domain.Rule, error) {
	query := ruleSelect + ` WHERE status = $1 ORDER BY priority DESC, created_at DESC`
	if includeArchived {
		query = ruleSelect + ` WHERE status IN ($1, 'archived') ORDER BY priority DESC, created_at DESC`
	}
	return r.list(ctx, query, domain.RuleStatusActive)
}

func (r *postgresRuleRepository) ListActiveByTrigger(ctx context.Context, triggerType string) ([]domain.Rule, error) {
	query := ruleSelect + `
		WHERE status = 'active' AND is_active = TRUE AND trigger_type = $1
		ORDER BY priority DESC, created_at ASC`
	return r.list(ctx, query, triggerType)
}

func (r *postgresRuleRepository) Update(ctx context.Context, rule *domain.Rule) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	conditions, err := marshalJSON(rule.Conditions)
	if err != nil {
		return err
	}
	actions, err := marshalJSON(rule.Actions)
	if err != nil {
		return err
	}
	autoApproval, err := marshalJSON(rule.AutoApprovalConditions)
	if err != nil {
		return err
	}

	query := `
		UPDATE rules SET
			name = $2, description = $3, is_active = $4,
			trigger_type = $5, conditions = $6, actions = $7, priority = $8,
			requires_approval = $9, impact_level = $10,
			auto_approval_conditions = $11, authorized_approvers = $12,
			updated_at = NOW()
		WHERE id = $1 AND status = 'active'
	`

	result, err := r.db.ExecContext(ctx, query,
		rule.ID,
		rule.Name,
		rule.Description,
		rule.IsActive,
		rule.TriggerType,
		conditions,
		actions,
		rule.Priority,
		rule.RequiresApproval,
		rule.ImpactLevel,
		autoApproval,
		pq.Array(rule.AuthorizedApprovers),
	)
	if err != nil {
		log.WithError(err).WithField("rule_id", rule.ID).Error("Failed to update rule")
		return fmt.Errorf("failed to update rule: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return domain.ErrRuleNotFound
	}
	return nil
}

func (r *postgresRuleRepository) Archive(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `UPDATE rules SET status = 'archived', is_active = FALSE, updated_at = NOW() WHERE id = $1 AND status = 'active'`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to archive rule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check archive result: %w", err)
	}
	if affected == 0 {
		return domain.ErrRuleNotFound
	}

	log.WithField("rule_id", id).Info("Automation rule archived")
	return nil
}

func (r *postgresRuleRepository) RecordExecution(ctx context.Context, id string, result domain.ExecutionResult) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	payload, err := marshalJSON(result)
	if err != nil {
		return err
	}

	query := `
		UPDATE rules SET
			execution_count = execution_count + 1,
			last_executed_at = $2,
			last_execution_result = $3,
			updated_at = NOW()
		WHERE id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, id, result.Timestamp, payload); err != nil {
		log.WithError(err).WithField("rule_id", id).Error("Failed to record rule execution")
		return fmt.Errorf("failed to record rule execution: %w", err)
	}
	return nil
}

const ruleSelect = `
	SELECT id, name, description, status, is_active,
		trigger_type, conditions, actions, priority,
		requires_approval, impact_level, auto_approval_conditions,
		authorized_approvers, execution_count, last_executed_at,
		last_execution_result, created_at, updated_at
	FROM rules`

func scanRule(row rowScanner) (*domain.Rule, error) {
	var rule domain.Rule
	var conditions, actions, autoApproval, lastResult []byte
	var lastExecutedAt sql.NullTime

	err := row.Scan(
		&rule.ID,
		&rule.Name,
		&rule.Description,
		&rule.Status,
		&rule.IsActive,
		&rule.TriggerType,
		&conditions,
		&actions,
		&rule.Priority,
		&rule.RequiresApproval,
		&rule.ImpactLevel,
		&autoApproval,
		pq.Array(&rule.AuthorizedApprovers),
		&rule.ExecutionCount,
		&lastExecutedAt,
		&lastResult,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSON(conditions, &rule.Conditions); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(actions, &rule.Actions); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(autoApproval, &rule.AutoApprovalConditions); err != nil {
		return nil, err
	}
	if len(lastResult) > 0 {
		rule.LastExecutionResult = &domain.ExecutionResult{}
		if err := unmarshalJSON(lastResult, rule.LastExecutionResult); err != nil {
			return nil, err
		}
	}
	if lastExecutedAt.Valid {
		rule.LastExecutedAt = &lastExecutedAt.Time
	}

	// Compile once at load. A rule with malformed conditions stays
	// loadable for the admin UI but never matches.
	if err := rule.Compile(); err != nil {
		log.WithError(err).WithField("rule_id", rule.ID).Warn("Rule has invalid conditions")
	}

	return &rule, nil
}

func (r *postgresRuleRepository) list(ctx context.Context, query string, args ...interface{}) ([]domain.Rule, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []domain.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}
