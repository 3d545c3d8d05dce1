package repository

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"automation-service/internal/domain"
)

// In-memory implementations of the repository interfaces, used by tests
// and for running the service without Postgres. They hold copies, never
// aliases, so callers cannot mutate stored state behind the lock.

type MemoryEventRepository struct {
	mu     sync.RWMutex
	events []domain.Event
	byID   map[string]int
}

func NewMemoryEventRepository() *MemoryEventRepository {
	return &MemoryEventRepository{byID: map[string]int{}}
}

func (r *MemoryEventRepository) Append(_ context.Context, event *domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[event.ID] = len(r.events)
	r.events = append(r.events, copyEvent(*event))
	return nil
}

func (r *MemoryEventRepository) GetByID(_ context.Context, id string) (*domain.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	event := copyEvent(r.events[idx])
	return &event, nil
}

func (r *MemoryEventRepository) AppendTriggeredRules(_ context.Context, eventID string, ruleIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.byID[eventID]
	if !ok {
		return sql.ErrNoRows
	}
	existing := map[string]bool{}
	for _, id := range r.events[idx].TriggeredRuleIDs {
		existing[id] = true
	}
	for _, id := range ruleIDs {
		if !existing[id] {
			r.events[idx].TriggeredRuleIDs = append(r.events[idx].TriggeredRuleIDs, id)
			existing[id] = true
		}
	}
	return nil
}

func (r *MemoryEventRepository) Recent(_ context.Context, limit int) ([]domain.Event, error) {
	return r.filter(limit, func(domain.Event) bool { return true }), nil
}

func (r *MemoryEventRepository) ListByType(_ context.Context, eventType string, limit int) ([]domain.Event, error) {
	return r.filter(limit, func(e domain.Event) bool { return e.Type == eventType }), nil
}

func (r *MemoryEventRepository) ListBySource(_ context.Context, source string, limit int) ([]domain.Event, error) {
	return r.filter(limit, func(e domain.Event) bool { return e.Source == source }), nil
}

func (r *MemoryEventRepository) ListWithAutomation(_ context.Context, limit int) ([]domain.Event, error) {
	return r.filter(limit, func(e domain.Event) bool { return len(e.TriggeredRuleIDs) > 0 }), nil
}

func (r *MemoryEventRepository) Stats(_ context.Context, start, end time.Time) (*domain.EventStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := &domain.EventStats{ByType: map[string]int{}, BySource: map[string]int{}}
	for _, e := range r.events {
		if e.CreatedAt.Before(start) || e.CreatedAt.After(end) {
			continue
		}
		stats.Total++
		stats.ByType[e.Type]++
		stats.BySource[e.Source]++
		if len(e.TriggeredRuleIDs) > 0 {
			stats.WithAutomation++
		}
	}
	return stats, nil
}

// filter walks newest-first.
func (r *MemoryEventRepository) filter(limit int, keep func(domain.Event) bool) []domain.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Event
	for i := len(r.events) - 1; i >= 0 && len(out) < limit; i-- {
		if keep(r.events[i]) {
			out = append(out, copyEvent(r.events[i]))
		}
	}
	return out
}

type MemoryRuleRepository struct {
	mu    sync.RWMutex
	rules map[string]domain.Rule
}

func NewMemoryRuleRepository() *MemoryRuleRepository {
	return &MemoryRuleRepository{rules: map[string]domain.Rule{}}
}

func (r *MemoryRuleRepository) Create(_ context.Context, rule *domain.Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *rule
	_ = stored.Compile()
	r.rules[rule.ID] = stored
	return nil
}

func (r *MemoryRuleRepository) GetByID(_ context.Context, id string) (*domain.Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[id]
	if !ok {
		return nil, domain.ErrRuleNotFound
	}
	return &rule, nil
}

func (r *MemoryRuleRepository) List(_ context.Context, includeArchived bool) ([]domain.Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Rule
	for _, rule := range r.rules {
		if !includeArchived && rule.Status != domain.RuleStatusActive {
			continue
		}
		out = append(out, rule)
	}
	sortRules(out)
	return out, nil
}

func (r *MemoryRuleRepository) ListActiveByTrigger(_ context.Context, triggerType string) ([]domain.Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Rule
	for _, rule := range r.rules {
		if rule.Status == domain.RuleStatusActive && rule.IsActive && rule.TriggerType == triggerType {
			out = append(out, rule)
		}
	}
	sortRules(out)
	return out, nil
}

func (r *MemoryRuleRepository) Update(_ context.Context, rule *domain.Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.rules[rule.ID]
	if !ok || existing.Status != domain.RuleStatusActive {
		return domain.ErrRuleNotFound
	}
	stored := *rule
	_ = stored.Compile()
	stored.UpdatedAt = time.Now().UTC()
	r.rules[rule.ID] = stored
	return nil
}

func (r *MemoryRuleRepository) Archive(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.rules[id]
	if !ok || rule.Status != domain.RuleStatusActive {
		return domain.ErrRuleNotFound
	}
	rule.Status = domain.RuleStatusArchived
	rule.IsActive = false
	r.rules[id] = rule
	return nil
}

func (r *MemoryRuleRepository) RecordExecution(_ context.Context, id string, result domain.ExecutionResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.rules[id]
	if !ok {
		return domain.ErrRuleNotFound
	}
	rule.ExecutionCount++
	at := result.Timestamp
	rule.LastExecutedAt = &at
	stored := result
	rule.LastExecutionResult = &stored
	r.rules[id] = rule
	return nil
}

type MemoryApprovalRepository struct {
	mu        sync.RWMutex
	approvals map[string]domain.ApprovalRequest
	order     []string
}

func NewMemoryApprovalRepository() *MemoryApprovalRepository {
	return &MemoryApprovalRepository{approvals: map[string]domain.ApprovalRequest{}}
}

func (r *MemoryApprovalRepository) Create(_ context.Context, approval *domain.ApprovalRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.approvals[approval.ID] = *approval
	r.order = append(r.order, approval.ID)
	return nil
}

func (r *MemoryApprovalRepository) GetByID(_ context.Context, id string) (*domain.ApprovalRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	approval, ok := r.approvals[id]
	if !ok {
		return nil, domain.ErrApprovalNotFound
	}
	return &approval, nil
}

func (r *MemoryApprovalRepository) List(_ context.Context, status string, limit int) ([]domain.ApprovalRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.ApprovalRequest
	for i := len(r.order) - 1; i >= 0 && len(out) < limit; i-- {
		approval := r.approvals[r.order[i]]
		if status == "" || approval.Status == status {
			out = append(out, approval)
		}
	}
	return out, nil
}

func (r *MemoryApprovalRepository) ListPending(_ context.Context) ([]domain.ApprovalRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.ApprovalRequest
	for _, id := range r.order {
		approval := r.approvals[id]
		if approval.Status == domain.ApprovalPending && !approval.IsExpired {
			out = append(out, approval)
		}
	}
	return out, nil
}

func (r *MemoryApprovalRepository) Update(_ context.Context, approval *domain.ApprovalRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.approvals[approval.ID]; !ok {
		return domain.ErrApprovalNotFound
	}
	stored := *approval
	stored.UpdatedAt = time.Now().UTC()
	r.approvals[approval.ID] = stored
	return nil
}

func (r *MemoryApprovalRepository) MarkExpired(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	approval, ok := r.approvals[id]
	if !ok || approval.Status != domain.ApprovalPending {
		return false, nil
	}
	approval.Status = domain.ApprovalExpired
	approval.IsExpired = true
	approval.UpdatedAt = time.Now().UTC()
	r.approvals[id] = approval
	return true, nil
}

func (r *MemoryApprovalRepository) Stats(_ context.Context) (*domain.ApprovalStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := &domain.ApprovalStats{ByStatus: map[string]int{}, PendingByPriority: map[string]int{}}
	for _, approval := range r.approvals {
		stats.Total++
		stats.ByStatus[approval.Status]++
		if approval.Status == domain.ApprovalPending {
			stats.PendingByPriority[approval.Priority]++
		}
	}
	return stats, nil
}

type MemoryWebhookRepository struct {
	mu       sync.RWMutex
	webhooks map[string]domain.Webhook
	order    []string
}

func NewMemoryWebhookRepository() *MemoryWebhookRepository {
	return &MemoryWebhookRepository{webhooks: map[string]domain.Webhook{}}
}

func (r *MemoryWebhookRepository) Create(_ context.Context, webhook *domain.Webhook) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.webhooks[webhook.ID] = *webhook
	r.order = append(r.order, webhook.ID)
	return nil
}

func (r *MemoryWebhookRepository) GetByID(_ context.Context, id string) (*domain.Webhook, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	webhook, ok := r.webhooks[id]
	if !ok {
		return nil, domain.ErrWebhookNotFound
	}
	return &webhook, nil
}

func (r *MemoryWebhookRepository) List(_ context.Context, includeArchived bool) ([]domain.Webhook, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Webhook
	for _, id := range r.order {
		webhook := r.webhooks[id]
		if !includeArchived && webhook.Status != domain.WebhookStatusActive {
			continue
		}
		out = append(out, webhook)
	}
	return out, nil
}

func (r *MemoryWebhookRepository) ListActiveByEvent(_ context.Context, eventType string) ([]domain.Webhook, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Webhook
	for _, id := range r.order {
		webhook := r.webhooks[id]
		if webhook.Status == domain.WebhookStatusActive && webhook.IsActive && webhook.SubscribedTo(eventType) {
			out = append(out, webhook)
		}
	}
	return out, nil
}

func (r *MemoryWebhookRepository) Update(_ context.Context, webhook *domain.Webhook) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.webhooks[webhook.ID]
	if !ok || existing.Status != domain.WebhookStatusActive {
		return domain.ErrWebhookNotFound
	}
	stored := *webhook
	stored.UpdatedAt = time.Now().UTC()
	r.webhooks[webhook.ID] = stored
	return nil
}

func (r *MemoryWebhookRepository) Archive(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	webhook, ok := r.webhooks[id]
	if !ok || webhook.Status != domain.WebhookStatusActive {
		return domain.ErrWebhookNotFound
	}
	webhook.Status = domain.WebhookStatusArchived
	webhook.IsActive = false
	r.webhooks[id] = webhook
	return nil
}

func (r *MemoryWebhookRepository) RecordCall(_ context.Context, id string, success bool, statusCode int, deliveryErr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	webhook, ok := r.webhooks[id]
	if !ok {
		return domain.ErrWebhookNotFound
	}
	webhook.RecordCall(success, statusCode, deliveryErr)
	r.webhooks[id] = webhook
	return nil
}

func sortRules(rules []domain.Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].CreatedAt.Before(rules[j].CreatedAt)
	})
}

func copyEvent(e domain.Event) domain.Event {
	e.TriggeredRuleIDs = append([]string(nil), e.TriggeredRuleIDs...)
	return e
}
