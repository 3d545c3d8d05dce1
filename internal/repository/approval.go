package repository

import (
	"context"
	"database/sql"
	"fmt"

	"automation-service/internal/domain"

	"github.com/lib/pq"
	log "github.com/sirupsen/logrus"
)

type postgresApprovalRepository struct {
	db *sql.DB
}

func NewPostgresApprovalRepository(db *sql.DB) *postgresApprovalRepository {
	return &postgresApprovalRepository{db: db}
}

func (r *postgresApprovalRepository) Create(ctx context.Context, approval *domain.ApprovalRequest) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	pendingActions, err := marshalJSON(approval.PendingActions)
	if err != nil {
		return err
	}
	requestContext, err := marshalJSON(approval.RequestContext)
	if err != nil {
		return err
	}
	chain, err := marshalJSON(approval.ApprovalChain)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO approvals (
			id, rule_id, event_id, status, priority, impact_level,
			pending_actions, authorized_approvers,
			requested_by, request_reason, request_context,
			approval_chain, required_approvals, current_approvals,
			expires_at, is_expired, is_executed
		) VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err = r.db.ExecContext(ctx, query,
		approval.ID,
		approval.RuleID,
		approval.EventID,
		approval.Status,
		approval.Priority,
		approval.ImpactLevel,
		pendingActions,
		pq.Array(approval.AuthorizedApprovers),
		approval.RequestedBy,
		approval.RequestReason,
		requestContext,
		chain,
		approval.RequiredApprovals,
		approval.CurrentApprovals,
		approval.ExpiresAt,
		approval.IsExpired,
		approval.IsExecuted,
	)

	if err != nil {
		log.WithError(err).WithField("approval_id", approval.ID).Error("Failed to create approval request")
		return fmt.Errorf("failed to create approval request: %w", err)
	}

	return nil
}

func (r *postgresApprovalRepository) GetByID(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, approvalSelect+` WHERE id = $1`, id)
	approval, err := scanApproval(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrApprovalNotFound
		}
		return nil, fmt.Errorf("failed to get approval by ID: %w", err)
	}
	return approval, nil
}

func (r *postgresApprovalRepository) List(ctx context.Context, status string, limit int) ([]domain.ApprovalRequest, error) {
	if status == "" {
		return r.list(ctx, approvalSelect+` ORDER BY created_at DESC LIMIT $1`, limit)
	}
	return r.list(ctx, approvalSelect+` WHERE status = $2 ORDER BY created_at DESC LIMIT $1`, limit, status)
}

func (r *postgresApprovalRepository) ListPending(ctx context.Context) ([]domain.ApprovalRequest, error) {
	return r.list(ctx, approvalSelect+` WHERE status = 'pending' AND is_expired = FALSE ORDER BY expires_at ASC LIMIT $1`, 1000)
}

func (r *postgresApprovalRepository) Update(ctx context.Context, approval *domain.ApprovalRequest) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	chain, err := marshalJSON(approval.ApprovalChain)
	if err != nil {
		return err
	}
	executionResult, err := marshalJSON(approval.ExecutionResult)
	if err != nil {
		return err
	}

	query := `
		UPDATE approvals SET
			status = $2, approved_by = NULLIF($3, ''), approved_at = $4,
			approval_comment = NULLIF($5, ''), approval_chain = $6,
			current_approvals = $7, is_expired = $8,
			is_executed = $9, executed_at = $10, execution_result = $11,
			updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		approval.ID,
		approval.Status,
		approval.ApprovedBy,
		nullTime(approval.ApprovedAt),
		approval.ApprovalComment,
		chain,
		approval.CurrentApprovals,
		approval.IsExpired,
		approval.IsExecuted,
		nullTime(approval.ExecutedAt),
		executionResult,
	)
	if err != nil {
		log.WithError(err).WithField("approval_id", approval.ID).Error("Failed to update approval")
		return fmt.Errorf("failed to update approval: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return domain.ErrApprovalNotFound
	}
	return nil
}

// MarkExpired only flips rows still pending, so a human decision that
// landed first always wins.
func (r *postgresApprovalRepository) MarkExpired(ctx context.Context, id string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		UPDATE approvals SET status = 'expired', is_expired = TRUE, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark approval expired: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check expire result: %w", err)
	}
	return affected > 0, nil
}

func (r *postgresApprovalRepository) Stats(ctx context.Context) (*domain.ApprovalStats, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	stats := &domain.ApprovalStats{
		ByStatus:          map[string]int{},
		PendingByPriority: map[string]int{},
	}

	rows, err := r.db.QueryContext(ctx, `SELECT status, priority, COUNT(*) FROM approvals GROUP BY status, priority`)
	if err != nil {
		return nil, fmt.Errorf("failed to query approval stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status, priority string
		var count int
		if err := rows.Scan(&status, &priority, &count); err != nil {
			return nil, fmt.Errorf("failed to scan approval stats row: %w", err)
		}
		stats.Total += count
		stats.ByStatus[status] += count
		if status == domain.ApprovalPending {
			stats.PendingByPriority[priority] += count
		}
	}

	return stats, rows.Err()
}

const approvalSelect = `
	SELECT id, rule_id, COALESCE(event_id, ''), status, priority, impact_level,
		pending_actions, authorized_approvers,
		requested_by, COALESCE(request_reason, ''), request_context,
		COALESCE(approved_by, ''), approved_at, COALESCE(approval_comment, ''),
		approval_chain, required_approvals, current_approvals,
		expires_at, is_expired, is_executed, executed_at, execution_result,
		created_at, updated_at
	FROM approvals`

func scanApproval(row rowScanner) (*domain.ApprovalRequest, error) {
	var a domain.ApprovalRequest
	var pendingActions, requestContext, chain, executionResult []byte
	var approvedAt, executedAt sql.NullTime

	err := row.Scan(
		&a.ID,
		&a.RuleID,
		&a.EventID,
		&a.Status,
		&a.Priority,
		&a.ImpactLevel,
		&pendingActions,
		pq.Array(&a.AuthorizedApprovers),
		&a.RequestedBy,
		&a.RequestReason,
		&requestContext,
		&a.ApprovedBy,
		&approvedAt,
		&a.ApprovalComment,
		&chain,
		&a.RequiredApprovals,
		&a.CurrentApprovals,
		&a.ExpiresAt,
		&a.IsExpired,
		&a.IsExecuted,
		&executedAt,
		&executionResult,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSON(pendingActions, &a.PendingActions); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(requestContext, &a.RequestContext); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(chain, &a.ApprovalChain); err != nil {
		return nil, err
	}
	if len(executionResult) > 0 {
		a.ExecutionResult = &domain.ExecutionResult{}
		if err := unmarshalJSON(executionResult, a.ExecutionResult); err != nil {
			return nil, err
		}
	}
	if approvedAt.Valid {
		a.ApprovedAt = &approvedAt.Time
	}
	if executedAt.Valid {
		a.ExecutedAt = &executedAt.Time
	}

	return &a, nil
}

func (r *postgresApprovalRepository) list(ctx context.Context, query string, args ...interface{}) ([]domain.ApprovalRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}
	defer rows.Close()

	var approvals []domain.ApprovalRequest
	for rows.Next() {
		approval, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}
		approvals = append(approvals, *approval)
	}
	return approvals, rows.Err()
}
