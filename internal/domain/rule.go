package domain

import (
	"errors"
	"time"
)

var ErrRuleNotFound = errors.New("rule not found")

// Rule lifecycle status. Archived rules are excluded from matching but
// never hard-deleted.
const (
	RuleStatusActive   = "active"
	RuleStatusArchived = "archived"
)

// Impact levels drive the approval workflow: how many sign-offs a firing
// rule needs and how urgent the request is.
const (
	ImpactLow      = "low"
	ImpactMedium   = "medium"
	ImpactHigh     = "high"
	ImpactCritical = "critical"
)

// Action is a single named side effect within a rule. Order defines
// execution order regardless of how the list is stored.
type Action struct {
	Type   string                 `json:"type"`
	Config map[string]interface{} `json:"config"`
	Order  int                    `json:"order"`
}

// ExecutionResult summarizes one run of a rule's action list.
type ExecutionResult struct {
	Success         bool      `json:"success"`
	Error           string    `json:"error,omitempty"`
	ActionsExecuted int       `json:"actions_executed"`
	Timestamp       time.Time `json:"timestamp"`
}

// Rule is an operator-authored automation definition.
type Rule struct {
	ID                     string                 `json:"id"`
	Name                   string                 `json:"name"`
	Description            string                 `json:"description,omitempty"`
	Status                 string                 `json:"status"`
	IsActive               bool                   `json:"is_active"`
	TriggerType            string                 `json:"trigger_type"`
	Conditions             map[string]interface{} `json:"conditions,omitempty"`
	Compiled               ConditionSet           `json:"-"`
	Actions                []Action               `json:"actions"`
	Priority               int                    `json:"priority"`
	RequiresApproval       bool                   `json:"requires_approval"`
	ImpactLevel            string                 `json:"impact_level"`
	AutoApprovalConditions map[string]interface{} `json:"auto_approval_conditions,omitempty"`
	AuthorizedApprovers    []string               `json:"authorized_approvers,omitempty"`
	ExecutionCount         int                    `json:"execution_count"`
	LastExecutedAt         *time.Time             `json:"last_executed_at,omitempty"`
	LastExecutionResult    *ExecutionResult       `json:"last_execution_result,omitempty"`
	CreatedAt              time.Time              `json:"created_at"`
	UpdatedAt              time.Time              `json:"updated_at"`
}

// Compile parses the raw condition map into the typed set used for
// matching. Called once when the rule is loaded or saved.
func (r *Rule) Compile() error {
	set, err := ParseConditions(r.Conditions)
	if err != nil {
		return err
	}
	r.Compiled = set
	return nil
}

// Matches reports whether this rule fires for the given event. A rule
// whose conditions failed to compile never matches.
func (r *Rule) Matches(event Event) bool {
	if r.TriggerType != event.Type || !r.IsActive {
		return false
	}
	if len(r.Conditions) > 0 && r.Compiled == nil {
		return false
	}
	return r.Compiled.Matches(event.Payload)
}

func ValidImpactLevels() []string {
	return []string{ImpactLow, ImpactMedium, ImpactHigh, ImpactCritical}
}
