package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"automation-service/internal/domain"
	"automation-service/internal/repository"

	log "github.com/sirupsen/logrus"
)

// ActionExecutor runs a rule's ordered action list against the registered
// side-effect handlers. One action failing never aborts its siblings:
// later actions may be independent side effects, so the contract is
// "send what you can" with every failure recorded.
type ActionExecutor struct {
	registry     *HandlerRegistry
	ruleRepo     repository.RuleRepository
	approvalRepo repository.ApprovalRepository
}

func NewActionExecutor(registry *HandlerRegistry, ruleRepo repository.RuleRepository, approvalRepo repository.ApprovalRepository) *ActionExecutor {
	return &ActionExecutor{
		registry:     registry,
		ruleRepo:     ruleRepo,
		approvalRepo: approvalRepo,
	}
}

// ExecuteActions runs the actions sorted by order, strictly sequentially.
// Unknown action types are logged and skipped, counted as neither success
// nor failure.
func (e *ActionExecutor) ExecuteActions(ctx context.Context, actions []domain.Action, event domain.Event) (executed int, errs []string) {
	sorted := append([]domain.Action(nil), actions...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	for _, action := range sorted {
		handler, ok := e.registry.Lookup(action.Type)
		if !ok {
			log.WithFields(log.Fields{
				"action_type": action.Type,
				"event_id":    event.ID,
			}).Warn("Unknown action type, skipping")
			continue
		}

		if err := runHandler(ctx, handler, action, event); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"action_type": action.Type,
				"event_id":    event.ID,
			}).Error("Action execution failed")
			errs = append(errs, fmt.Sprintf("%s: %v", action.Type, err))
			continue
		}
		executed++
	}

	return executed, errs
}

// runHandler isolates a panicking handler into an error.
func runHandler(ctx context.Context, handler HandlerFunc, action domain.Action, event domain.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, action.Config, event)
}

// ExecuteRule runs a rule's actions for an event and writes the aggregate
// result back to the rule's execution stats.
func (e *ActionExecutor) ExecuteRule(ctx context.Context, rule domain.Rule, event domain.Event) error {
	started := time.Now()

	log.WithFields(log.Fields{
		"rule_id":      rule.ID,
		"rule_name":    rule.Name,
		"event_id":     event.ID,
		"action_count": len(rule.Actions),
	}).Info("Executing automation rule")

	executed, errs := e.ExecuteActions(ctx, rule.Actions, event)

	result := domain.ExecutionResult{
		Success:         len(errs) == 0,
		Error:           strings.Join(errs, "; "),
		ActionsExecuted: executed,
		Timestamp:       time.Now().UTC(),
	}

	if err := e.ruleRepo.RecordExecution(ctx, rule.ID, result); err != nil {
		log.WithError(err).WithField("rule_id", rule.ID).Error("Failed to record rule execution")
	}

	log.WithFields(log.Fields{
		"rule_id":          rule.ID,
		"success":          result.Success,
		"executed_actions": executed,
		"total_actions":    len(rule.Actions),
		"duration":         time.Since(started).String(),
	}).Info("Automation rule execution completed")

	if !result.Success {
		return fmt.Errorf("%d action(s) failed: %s", len(errs), result.Error)
	}
	return nil
}

// ExecuteApproved runs an approved request's pending actions against the
// snapshot of the triggering event taken at request time. The IsExecuted
// latch guarantees the side effects run at most once per approval.
func (e *ActionExecutor) ExecuteApproved(ctx context.Context, approval domain.ApprovalRequest) error {
	if approval.IsExecuted {
		log.WithField("approval_id", approval.ID).Warn("Approval already executed, skipping")
		return nil
	}
	if approval.Status != domain.ApprovalApproved && approval.Status != domain.ApprovalAutoApproved {
		return fmt.Errorf("%w: cannot execute status=%s", domain.ErrInvalidApprovalState, approval.Status)
	}

	event := domain.Event{
		ID:      approval.RequestContext.EventID,
		Type:    approval.RequestContext.EventType,
		Payload: approval.RequestContext.EventPayload,
	}

	actions := make([]domain.Action, 0, len(approval.PendingActions))
	for _, pending := range approval.PendingActions {
		actions = append(actions, domain.Action{
			Type:   pending.Type,
			Config: pending.Config,
			Order:  pending.Order,
		})
	}

	executed, errs := e.ExecuteActions(ctx, actions, event)

	now := time.Now().UTC()
	approval.IsExecuted = true
	approval.ExecutedAt = &now
	approval.ExecutionResult = &domain.ExecutionResult{
		Success:         len(errs) == 0,
		Error:           strings.Join(errs, "; "),
		ActionsExecuted: executed,
		Timestamp:       now,
	}

	if err := e.approvalRepo.Update(ctx, &approval); err != nil {
		log.WithError(err).WithField("approval_id", approval.ID).Error("Failed to persist approval execution result")
		return fmt.Errorf("failed to persist approval execution: %w", err)
	}

	if err := e.ruleRepo.RecordExecution(ctx, approval.RuleID, *approval.ExecutionResult); err != nil {
		log.WithError(err).WithField("rule_id", approval.RuleID).Error("Failed to record rule execution stats")
	}

	log.WithFields(log.Fields{
		"approval_id":      approval.ID,
		"rule_id":          approval.RuleID,
		"success":          approval.ExecutionResult.Success,
		"executed_actions": executed,
	}).Info("Approved automation executed")

	return nil
}

// ExecuteApprovedAutomation is the operator-facing re-trigger by approval
// id. Calling it on an already-executed approval is a no-op.
func (e *ActionExecutor) ExecuteApprovedAutomation(ctx context.Context, approvalID string) error {
	approval, err := e.approvalRepo.GetByID(ctx, approvalID)
	if err != nil {
		return err
	}
	return e.ExecuteApproved(ctx, *approval)
}
