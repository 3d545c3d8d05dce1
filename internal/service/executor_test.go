package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"automation-service/internal/domain"
	"automation-service/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor() (*ActionExecutor, *HandlerRegistry, *repository.MemoryRuleRepository, *repository.MemoryApprovalRepository) {
	registry := NewHandlerRegistry()
	ruleRepo := repository.NewMemoryRuleRepository()
	approvalRepo := repository.NewMemoryApprovalRepository()
	return NewActionExecutor(registry, ruleRepo, approvalRepo), registry, ruleRepo, approvalRepo
}

func TestExecuteActionsRespectsOrder(t *testing.T) {
	executor, registry, _, _ := newTestExecutor()

	var ran []string
	registry.Register("record", func(_ context.Context, config map[string]interface{}, _ domain.Event) error {
		ran = append(ran, config["name"].(string))
		return nil
	})

	actions := []domain.Action{
		{Type: "record", Config: map[string]interface{}{"name": "third"}, Order: 3},
		{Type: "record", Config: map[string]interface{}{"name": "first"}, Order: 1},
		{Type: "record", Config: map[string]interface{}{"name": "second"}, Order: 2},
	}

	executed, errs := executor.ExecuteActions(context.Background(), actions, domain.Event{ID: "e1"})
	assert.Equal(t, 3, executed)
	assert.Empty(t, errs)
	assert.Equal(t, []string{"first", "second", "third"}, ran)
}

func TestExecuteActionsPartialFailure(t *testing.T) {
	executor, registry, _, _ := newTestExecutor()

	var ran []string
	registry.Register("ok", func(_ context.Context, config map[string]interface{}, _ domain.Event) error {
		ran = append(ran, config["name"].(string))
		return nil
	})
	registry.Register("fail", func(context.Context, map[string]interface{}, domain.Event) error {
		return errors.New("boom")
	})

	actions := []domain.Action{
		{Type: "ok", Config: map[string]interface{}{"name": "a"}, Order: 1},
		{Type: "fail", Order: 2},
		{Type: "ok", Config: map[string]interface{}{"name": "b"}, Order: 3},
	}

	executed, errs := executor.ExecuteActions(context.Background(), actions, domain.Event{ID: "e1"})
	assert.Equal(t, 2, executed, "a failing action never aborts its siblings")
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "boom")
	assert.Equal(t, []string{"a", "b"}, ran)
}

func TestExecuteActionsSkipsUnknownTypes(t *testing.T) {
	executor, _, _, _ := newTestExecutor()

	executed, errs := executor.ExecuteActions(context.Background(), []domain.Action{
		{Type: "nobody.registered.this", Order: 1},
	}, domain.Event{ID: "e1"})

	assert.Zero(t, executed)
	assert.Empty(t, errs, "an unknown type is skipped, not failed")
}

func TestExecuteActionsRecoversPanic(t *testing.T) {
	executor, registry, _, _ := newTestExecutor()
	registry.Register("panicky", func(context.Context, map[string]interface{}, domain.Event) error {
		panic("handler bug")
	})

	executed, errs := executor.ExecuteActions(context.Background(), []domain.Action{
		{Type: "panicky", Order: 1},
	}, domain.Event{ID: "e1"})

	assert.Zero(t, executed)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "handler bug")
}

func TestExecuteRuleRecordsStats(t *testing.T) {
	executor, registry, ruleRepo, _ := newTestExecutor()
	registry.Register(ActionNotificationSend, func(context.Context, map[string]interface{}, domain.Event) error {
		return nil
	})

	rule := domain.Rule{
		ID:       "rule-1",
		Name:     "notify",
		Status:   domain.RuleStatusActive,
		IsActive: true,
		Actions:  []domain.Action{{Type: ActionNotificationSend, Order: 1}},
	}
	require.NoError(t, ruleRepo.Create(context.Background(), &rule))

	require.NoError(t, executor.ExecuteRule(context.Background(), rule, domain.Event{ID: "e1"}))

	stored, err := ruleRepo.GetByID(context.Background(), "rule-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.ExecutionCount)
	require.NotNil(t, stored.LastExecutionResult)
	assert.True(t, stored.LastExecutionResult.Success)
	assert.Equal(t, 1, stored.LastExecutionResult.ActionsExecuted)
}

func TestExecuteRuleFailureReportsError(t *testing.T) {
	executor, registry, ruleRepo, _ := newTestExecutor()
	registry.Register(ActionEmailSend, func(context.Context, map[string]interface{}, domain.Event) error {
		return errors.New("smtp down")
	})

	rule := domain.Rule{
		ID:      "rule-1",
		Actions: []domain.Action{{Type: ActionEmailSend, Order: 1}},
	}
	require.NoError(t, ruleRepo.Create(context.Background(), &rule))

	err := executor.ExecuteRule(context.Background(), rule, domain.Event{ID: "e1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp down")

	stored, getErr := ruleRepo.GetByID(context.Background(), "rule-1")
	require.NoError(t, getErr)
	assert.False(t, stored.LastExecutionResult.Success)
}

func approvedRequest(ruleID string) domain.ApprovalRequest {
	now := time.Now().UTC()
	return domain.ApprovalRequest{
		ID:          "apr-1",
		RuleID:      ruleID,
		Status:      domain.ApprovalApproved,
		Priority:    domain.PriorityMedium,
		ImpactLevel: domain.ImpactMedium,
		PendingActions: []domain.PendingAction{
			{Type: ActionNotificationSend, Config: map[string]interface{}{"channel": "ops"}, Order: 1},
		},
		RequestContext: domain.RequestContext{
			EventID:      "e1",
			EventType:    domain.TypeEventPublished,
			EventPayload: map[string]interface{}{"status": "published"},
		},
		RequiredApprovals: 1,
		CurrentApprovals:  1,
		ExpiresAt:         now.Add(time.Hour),
		CreatedAt:         now,
	}
}

func TestExecuteApprovedRunsSnapshotActions(t *testing.T) {
	executor, registry, ruleRepo, approvalRepo := newTestExecutor()

	var gotEvent domain.Event
	registry.Register(ActionNotificationSend, func(_ context.Context, _ map[string]interface{}, event domain.Event) error {
		gotEvent = event
		return nil
	})

	rule := domain.Rule{ID: "rule-1"}
	require.NoError(t, ruleRepo.Create(context.Background(), &rule))

	approval := approvedRequest("rule-1")
	require.NoError(t, approvalRepo.Create(context.Background(), &approval))

	require.NoError(t, executor.ExecuteApproved(context.Background(), approval))

	assert.Equal(t, "e1", gotEvent.ID, "actions run against the event snapshot taken at request time")
	assert.Equal(t, "published", gotEvent.Payload["status"])

	stored, err := approvalRepo.GetByID(context.Background(), "apr-1")
	require.NoError(t, err)
	assert.True(t, stored.IsExecuted)
	require.NotNil(t, stored.ExecutedAt)
	require.NotNil(t, stored.ExecutionResult)
	assert.True(t, stored.ExecutionResult.Success)

	storedRule, err := ruleRepo.GetByID(context.Background(), "rule-1")
	require.NoError(t, err)
	assert.Equal(t, 1, storedRule.ExecutionCount)
}

func TestExecuteApprovedIsIdempotent(t *testing.T) {
	executor, registry, ruleRepo, approvalRepo := newTestExecutor()

	calls := 0
	registry.Register(ActionNotificationSend, func(context.Context, map[string]interface{}, domain.Event) error {
		calls++
		return nil
	})

	rule := domain.Rule{ID: "rule-1"}
	require.NoError(t, ruleRepo.Create(context.Background(), &rule))
	approval := approvedRequest("rule-1")
	require.NoError(t, approvalRepo.Create(context.Background(), &approval))

	require.NoError(t, executor.ExecuteApprovedAutomation(context.Background(), "apr-1"))
	require.NoError(t, executor.ExecuteApprovedAutomation(context.Background(), "apr-1"))

	assert.Equal(t, 1, calls, "the executed latch makes re-triggering a no-op")
}

func TestExecuteApprovedRejectsPendingStatus(t *testing.T) {
	executor, _, _, approvalRepo := newTestExecutor()

	approval := approvedRequest("rule-1")
	approval.Status = domain.ApprovalPending
	approval.CurrentApprovals = 0
	require.NoError(t, approvalRepo.Create(context.Background(), &approval))

	err := executor.ExecuteApprovedAutomation(context.Background(), "apr-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidApprovalState)
}

func TestExecuteApprovedAutomationUnknownID(t *testing.T) {
	executor, _, _, _ := newTestExecutor()
	err := executor.ExecuteApprovedAutomation(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrApprovalNotFound)
}
