package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrApprovalNotFound      = errors.New("approval not found")
	ErrInvalidApprovalState  = errors.New("approval is not in an approvable state")
	ErrNotAuthorizedApprover = errors.New("user is not an authorized approver")
)

// Approval status. Transitions are forward-only:
// pending -> approved | rejected | expired. auto_approved is recorded for
// audit when a rule executed without a human in the loop.
const (
	ApprovalPending      = "pending"
	ApprovalApproved     = "approved"
	ApprovalRejected     = "rejected"
	ApprovalAutoApproved = "auto_approved"
	ApprovalExpired      = "expired"
)

// Approval priority, derived from the rule's impact level.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Decision values recorded in the approval chain.
const (
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

// ChainEntry is one decision in the multi-party approval chain.
type ChainEntry struct {
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	Action    string    `json:"action"`
	Comment   string    `json:"comment,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// PendingAction is a snapshot of a rule action taken when the approval
// request was created, annotated with an impact estimate.
type PendingAction struct {
	Type            string                 `json:"type"`
	Config          map[string]interface{} `json:"config"`
	Order           int                    `json:"order"`
	EstimatedImpact map[string]interface{} `json:"estimated_impact,omitempty"`
}

// RequestContext captures the triggering event at request time so the
// actions can run later even if the event log moves on.
type RequestContext struct {
	EventID      string                 `json:"event_id,omitempty"`
	EventType    string                 `json:"event_type"`
	EventPayload map[string]interface{} `json:"event_payload,omitempty"`
}

// ApprovalRequest gates a single rule firing on a single event.
type ApprovalRequest struct {
	ID                  string           `json:"id"`
	RuleID              string           `json:"rule_id"`
	EventID             string           `json:"event_id,omitempty"`
	Status              string           `json:"status"`
	Priority            string           `json:"priority"`
	ImpactLevel         string           `json:"impact_level"`
	PendingActions      []PendingAction  `json:"pending_actions"`
	AuthorizedApprovers []string         `json:"authorized_approvers,omitempty"`
	RequestedBy         string           `json:"requested_by"`
	RequestReason       string           `json:"request_reason,omitempty"`
	RequestContext      RequestContext   `json:"request_context"`
	ApprovedBy          string           `json:"approved_by,omitempty"`
	ApprovedAt          *time.Time       `json:"approved_at,omitempty"`
	ApprovalComment     string           `json:"approval_comment,omitempty"`
	ApprovalChain       []ChainEntry     `json:"approval_chain,omitempty"`
	RequiredApprovals   int              `json:"required_approvals"`
	CurrentApprovals    int              `json:"current_approvals"`
	ExpiresAt           time.Time        `json:"expires_at"`
	IsExpired           bool             `json:"is_expired"`
	IsExecuted          bool             `json:"is_executed"`
	ExecutedAt          *time.Time       `json:"executed_at,omitempty"`
	ExecutionResult     *ExecutionResult `json:"execution_result,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// RequiredApprovals maps impact level to the number of distinct approvals
// a request needs before it executes.
func RequiredApprovals(impactLevel string) int {
	switch impactLevel {
	case ImpactLow:
		return 0
	case ImpactMedium:
		return 1
	case ImpactHigh:
		return 2
	case ImpactCritical:
		return 3
	default:
		return 1
	}
}

// PriorityForImpact maps impact level to approval priority.
func PriorityForImpact(impactLevel string) string {
	switch impactLevel {
	case ImpactCritical:
		return PriorityUrgent
	case ImpactHigh:
		return PriorityHigh
	case ImpactMedium:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// ExpirationWindow maps approval priority to how long the request stays
// approvable.
func ExpirationWindow(priority string) time.Duration {
	switch priority {
	case PriorityUrgent:
		return time.Hour
	case PriorityHigh:
		return 4 * time.Hour
	case PriorityLow:
		return 72 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// CanApprove reports whether the request can still accept a decision.
func (a ApprovalRequest) CanApprove() bool {
	return a.Status == ApprovalPending && !a.IsExpired && !a.IsExecuted
}

// CanDecideBy checks the rule's approver allow-list. An empty list means
// any admin may decide.
func (a ApprovalRequest) CanDecideBy(userID string) bool {
	if len(a.AuthorizedApprovers) == 0 {
		return true
	}
	for _, id := range a.AuthorizedApprovers {
		if id == userID {
			return true
		}
	}
	return false
}

// ApplyDecision is the pure state transition for Approve and Reject. It
// returns the updated snapshot; callers persist it. A rejection vetoes the
// request immediately regardless of how many approvals were collected.
func ApplyDecision(a ApprovalRequest, entry ChainEntry) (ApprovalRequest, error) {
	if entry.Timestamp.After(a.ExpiresAt) && !a.ExpiresAt.IsZero() {
		a.IsExpired = true
		a.Status = ApprovalExpired
	}
	if !a.CanApprove() {
		return a, fmt.Errorf("%w: status=%s", ErrInvalidApprovalState, a.Status)
	}
	if !a.CanDecideBy(entry.UserID) {
		return a, fmt.Errorf("%w: %s", ErrNotAuthorizedApprover, entry.UserID)
	}

	a.ApprovalChain = append(append([]ChainEntry(nil), a.ApprovalChain...), entry)

	switch entry.Action {
	case DecisionApproved:
		a.CurrentApprovals++
		if a.CurrentApprovals >= a.RequiredApprovals {
			a.Status = ApprovalApproved
			a.ApprovedBy = entry.UserID
			at := entry.Timestamp
			a.ApprovedAt = &at
			a.ApprovalComment = entry.Comment
		}
	case DecisionRejected:
		a.Status = ApprovalRejected
		a.ApprovedBy = entry.UserID
		at := entry.Timestamp
		a.ApprovedAt = &at
		a.ApprovalComment = entry.Comment
	default:
		return a, fmt.Errorf("unknown decision %q", entry.Action)
	}

	return a, nil
}

// Expire is the pure transition used by the expiration sweep. It reports
// whether the request actually expired; already-resolved requests are
// left untouched.
func Expire(a ApprovalRequest, now time.Time) (ApprovalRequest, bool) {
	if a.Status != ApprovalPending || a.IsExpired || a.ExpiresAt.IsZero() {
		return a, false
	}
	if !now.After(a.ExpiresAt) {
		return a, false
	}
	a.IsExpired = true
	a.Status = ApprovalExpired
	return a, true
}

// RemainingTime computes the live time until expiration without mutating
// state. Zero means expired (or no deadline).
func (a ApprovalRequest) RemainingTime(now time.Time) time.Duration {
	if a.ExpiresAt.IsZero() {
		return 0
	}
	remaining := a.ExpiresAt.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ApprovalSummary is the condensed view used by the admin list.
type ApprovalSummary struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Progress      string `json:"progress"`
	IsUrgent      bool   `json:"is_urgent"`
	TimeRemaining string `json:"time_remaining,omitempty"`
}

func (a ApprovalRequest) Summary(now time.Time) ApprovalSummary {
	s := ApprovalSummary{
		ID:       a.ID,
		Status:   a.Status,
		Progress: fmt.Sprintf("%d/%d", a.CurrentApprovals, a.RequiredApprovals),
		IsUrgent: a.Priority == PriorityUrgent || a.Priority == PriorityHigh,
	}
	if !a.ExpiresAt.IsZero() {
		remaining := a.RemainingTime(now)
		s.TimeRemaining = fmt.Sprintf("%dh %dm", int(remaining.Hours()), int(remaining.Minutes())%60)
	}
	return s
}

// ApprovalStats backs the admin stats endpoint.
type ApprovalStats struct {
	Total             int            `json:"total"`
	ByStatus          map[string]int `json:"by_status"`
	PendingByPriority map[string]int `json:"pending_by_priority"`
}
