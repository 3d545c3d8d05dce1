package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"automation-service/internal/domain"
	"automation-service/internal/repository"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// ApprovalWorkflow decides whether a firing rule executes immediately,
// auto-approves, or waits for human sign-off, and tracks the multi-party
// approval chain until resolution.
type ApprovalWorkflow struct {
	approvalRepo repository.ApprovalRepository
	executor     *ActionExecutor
}

func NewApprovalWorkflow(approvalRepo repository.ApprovalRepository, executor *ActionExecutor) *ApprovalWorkflow {
	return &ApprovalWorkflow{
		approvalRepo: approvalRepo,
		executor:     executor,
	}
}

// HandleTrigger is called by the event bus for every rule that matched an
// event. Rules that bypass approval or satisfy auto-approval execute at
// once; everything else becomes a pending approval request.
func (w *ApprovalWorkflow) HandleTrigger(ctx context.Context, rule domain.Rule, event domain.Event) error {
	if !rule.RequiresApproval {
		return w.executor.ExecuteRule(ctx, rule, event)
	}

	if shouldAutoApprove(rule, event) {
		log.WithFields(log.Fields{
			"rule_id":   rule.ID,
			"rule_name": rule.Name,
			"event_id":  event.ID,
		}).Info("Auto-approval conditions met")
		return w.autoApprove(ctx, rule, event)
	}

	return w.createApprovalRequest(ctx, rule, event)
}

// shouldAutoApprove: low impact always passes; otherwise every configured
// auto-approval condition must match the event metadata exactly. Matching
// is against metadata, not payload: auto-approval is about who triggered
// the event.
func shouldAutoApprove(rule domain.Rule, event domain.Event) bool {
	if rule.ImpactLevel == domain.ImpactLow {
		return true
	}
	if len(rule.AutoApprovalConditions) == 0 {
		return false
	}
	return domain.MetadataMatches(rule.AutoApprovalConditions, event.Metadata)
}

// autoApprove executes the rule immediately and records an auto_approved
// request for the audit trail.
func (w *ApprovalWorkflow) autoApprove(ctx context.Context, rule domain.Rule, event domain.Event) error {
	approval := w.buildRequest(rule, event)
	approval.Status = domain.ApprovalAutoApproved

	if err := w.approvalRepo.Create(ctx, &approval); err != nil {
		log.WithError(err).WithField("rule_id", rule.ID).Error("Failed to record auto-approval")
	}

	return w.executor.ExecuteApproved(ctx, approval)
}

func (w *ApprovalWorkflow) createApprovalRequest(ctx context.Context, rule domain.Rule, event domain.Event) error {
	approval := w.buildRequest(rule, event)

	if err := w.approvalRepo.Create(ctx, &approval); err != nil {
		return fmt.Errorf("failed to create approval request: %w", err)
	}

	log.WithFields(log.Fields{
		"approval_id":        approval.ID,
		"rule_id":            rule.ID,
		"rule_name":          rule.Name,
		"required_approvals": approval.RequiredApprovals,
		"expires_at":         approval.ExpiresAt,
	}).Info("Approval request created")

	return nil
}

func (w *ApprovalWorkflow) buildRequest(rule domain.Rule, event domain.Event) domain.ApprovalRequest {
	now := time.Now().UTC()
	priority := domain.PriorityForImpact(rule.ImpactLevel)

	pending := make([]domain.PendingAction, 0, len(rule.Actions))
	for _, action := range rule.Actions {
		pending = append(pending, domain.PendingAction{
			Type:            action.Type,
			Config:          action.Config,
			Order:           action.Order,
			EstimatedImpact: estimateActionImpact(action, event),
		})
	}

	requestedBy := "system"
	if actor, ok := event.Metadata["user_id"].(string); ok && actor != "" {
		requestedBy = actor
	}

	return domain.ApprovalRequest{
		ID:                  uuid.NewString(),
		RuleID:              rule.ID,
		EventID:             event.ID,
		Status:              domain.ApprovalPending,
		Priority:            priority,
		ImpactLevel:         rule.ImpactLevel,
		PendingActions:      pending,
		AuthorizedApprovers: rule.AuthorizedApprovers,
		RequestedBy:         requestedBy,
		RequestReason:       "Event triggered: " + event.Type,
		RequestContext: domain.RequestContext{
			EventID:      event.ID,
			EventType:    event.Type,
			EventPayload: event.Payload,
		},
		RequiredApprovals: domain.RequiredApprovals(rule.ImpactLevel),
		ExpiresAt:         now.Add(domain.ExpirationWindow(priority)),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// estimateActionImpact annotates a pending action with a rough blast
// radius so approvers can see what they are signing off on.
func estimateActionImpact(action domain.Action, event domain.Event) map[string]interface{} {
	impact := map[string]interface{}{}
	if strings.Contains(action.Type, "email") {
		affected := 0
		if n, ok := event.Payload["recipientCount"].(float64); ok {
			affected = int(n)
		} else if n, ok := event.Payload["recipientCount"].(int); ok {
			affected = n
		}
		impact["affected_users"] = affected
	}
	if strings.Contains(action.Type, "webhook") {
		impact["external_calls"] = 1
	}
	if strings.Contains(action.Type, "bulk") || strings.Contains(action.Type, "segment") {
		affected := 0
		if n, ok := event.Payload["count"].(float64); ok {
			affected = int(n)
		} else if n, ok := event.Payload["count"].(int); ok {
			affected = n
		}
		impact["affected_records"] = affected
	}
	if len(impact) == 0 {
		return nil
	}
	return impact
}

// Approve records one approval decision. When the chain reaches the
// required count the request flips to approved and its actions execute.
func (w *ApprovalWorkflow) Approve(ctx context.Context, approvalID, userID, userName, comment string) (*domain.ApprovalRequest, error) {
	return w.decide(ctx, approvalID, domain.ChainEntry{
		UserID:    userID,
		UserName:  userName,
		Action:    domain.DecisionApproved,
		Comment:   comment,
		Timestamp: time.Now().UTC(),
	})
}

// Reject records a rejection. A single rejection vetoes the whole request
// regardless of approvals already collected.
func (w *ApprovalWorkflow) Reject(ctx context.Context, approvalID, userID, userName, comment string) (*domain.ApprovalRequest, error) {
	return w.decide(ctx, approvalID, domain.ChainEntry{
		UserID:    userID,
		UserName:  userName,
		Action:    domain.DecisionRejected,
		Comment:   comment,
		Timestamp: time.Now().UTC(),
	})
}

func (w *ApprovalWorkflow) decide(ctx context.Context, approvalID string, entry domain.ChainEntry) (*domain.ApprovalRequest, error) {
	approval, err := w.approvalRepo.GetByID(ctx, approvalID)
	if err != nil {
		return nil, err
	}

	updated, err := domain.ApplyDecision(*approval, entry)
	if err != nil {
		return nil, err
	}

	if err := w.approvalRepo.Update(ctx, &updated); err != nil {
		return nil, fmt.Errorf("failed to persist approval decision: %w", err)
	}

	log.WithFields(log.Fields{
		"approval_id": approvalID,
		"user_id":     entry.UserID,
		"decision":    entry.Action,
		"status":      updated.Status,
		"approvals":   fmt.Sprintf("%d/%d", updated.CurrentApprovals, updated.RequiredApprovals),
	}).Info("Approval decision recorded")

	if updated.Status == domain.ApprovalApproved {
		if err := w.executor.ExecuteApproved(ctx, updated); err != nil {
			log.WithError(err).WithField("approval_id", approvalID).Error("Approved automation execution failed")
			return &updated, err
		}
		refreshed, err := w.approvalRepo.GetByID(ctx, approvalID)
		if err == nil {
			return refreshed, nil
		}
	}

	return &updated, nil
}

// SweepExpired materializes expiration for pending requests past their
// deadline. The repository only flips rows still pending, so a human
// decision racing the sweep always wins.
func (w *ApprovalWorkflow) SweepExpired(ctx context.Context) (int, error) {
	pending, err := w.approvalRepo.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending approvals: %w", err)
	}

	now := time.Now().UTC()
	expired := 0
	for _, approval := range pending {
		if _, shouldExpire := domain.Expire(approval, now); !shouldExpire {
			continue
		}
		flipped, err := w.approvalRepo.MarkExpired(ctx, approval.ID)
		if err != nil {
			log.WithError(err).WithField("approval_id", approval.ID).Error("Failed to expire approval")
			continue
		}
		if flipped {
			expired++
			log.WithFields(log.Fields{
				"approval_id": approval.ID,
				"rule_id":     approval.RuleID,
			}).Info("Approval expired")
		}
	}

	if expired > 0 {
		log.WithField("count", expired).Info("Expiration sweep completed")
	}
	return expired, nil
}

// RunExpirationSweep runs SweepExpired on a fixed interval until the
// context is cancelled.
func (w *ApprovalWorkflow) RunExpirationSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.SweepExpired(ctx); err != nil {
				log.WithError(err).Error("Expiration sweep failed")
			}
		}
	}
}
