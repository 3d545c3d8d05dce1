package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"automation-service/internal/domain"
	"automation-service/internal/repository"
	"automation-service/internal/service"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serverFixture struct {
	server       *Server
	bus          *service.EventBus
	registry     *service.HandlerRegistry
	ruleRepo     *repository.MemoryRuleRepository
	approvalRepo *repository.MemoryApprovalRepository
	webhookRepo  *repository.MemoryWebhookRepository
}

func newServerFixture() serverFixture {
	registry := service.NewHandlerRegistry()
	eventRepo := repository.NewMemoryEventRepository()
	ruleRepo := repository.NewMemoryRuleRepository()
	approvalRepo := repository.NewMemoryApprovalRepository()
	webhookRepo := repository.NewMemoryWebhookRepository()
	executor := service.NewActionExecutor(registry, ruleRepo, approvalRepo)
	workflow := service.NewApprovalWorkflow(approvalRepo, executor)
	dispatcher := service.NewWebhookDispatcher(webhookRepo)
	bus := service.NewEventBus(eventRepo, ruleRepo, workflow, dispatcher)
	return serverFixture{
		server:       NewServer(bus, workflow, executor, dispatcher, ruleRepo, approvalRepo, webhookRepo, nil),
		bus:          bus,
		registry:     registry,
		ruleRepo:     ruleRepo,
		approvalRepo: approvalRepo,
		webhookRepo:  webhookRepo,
	}
}

func doJSON(handler echo.HandlerFunc, method, path, body string, params map[string]string) *httptest.ResponseRecorder {
	e := echo.New()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	for name, value := range params {
		c.SetParamNames(name)
		c.SetParamValues(value)
	}
	_ = handler(c)
	return rec
}

func TestHealthCheckWithoutDB(t *testing.T) {
	f := newServerFixture()
	rec := doJSON(f.server.HealthCheck, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestCreateRule(t *testing.T) {
	f := newServerFixture()

	body := `{
		"name": "notify attendees",
		"trigger_type": "event.published",
		"conditions": {"status": "published", "attendeeCount": {"$gt": 50}},
		"actions": [{"type": "notification.send", "config": {}, "order": 1}],
		"requires_approval": true,
		"impact_level": "medium"
	}`
	rec := doJSON(f.server.CreateRule, http.MethodPost, "/api/rules", body, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var rule domain.Rule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rule))
	assert.NotEmpty(t, rule.ID)
	assert.Equal(t, domain.RuleStatusActive, rule.Status)
	assert.True(t, rule.IsActive, "is_active defaults to true")

	stored, err := f.ruleRepo.GetByID(context.Background(), rule.ID)
	require.NoError(t, err)
	assert.Equal(t, "notify attendees", stored.Name)
}

func TestCreateRuleValidation(t *testing.T) {
	f := newServerFixture()

	cases := []struct {
		name string
		body string
	}{
		{"missing name", `{"trigger_type": "t", "actions": [{"type": "x"}], "impact_level": "low"}`},
		{"missing trigger", `{"name": "n", "actions": [{"type": "x"}], "impact_level": "low"}`},
		{"no actions", `{"name": "n", "trigger_type": "t", "actions": [], "impact_level": "low"}`},
		{"bad impact", `{"name": "n", "trigger_type": "t", "actions": [{"type": "x"}], "impact_level": "severe"}`},
		{"bad operator", `{"name": "n", "trigger_type": "t", "actions": [{"type": "x"}], "impact_level": "low", "conditions": {"f": {"$regex": "x"}}}`},
		{"non-array $in", `{"name": "n", "trigger_type": "t", "actions": [{"type": "x"}], "impact_level": "low", "conditions": {"f": {"$in": "x"}}}`},
	}
	for _, tc := range cases {
		rec := doJSON(f.server.CreateRule, http.MethodPost, "/api/rules", tc.body, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, tc.name)
	}
}

func TestGetRuleNotFound(t *testing.T) {
	f := newServerFixture()
	rec := doJSON(f.server.GetRule, http.MethodGet, "/api/rules/x", "", map[string]string{"id": "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRulesExcludesArchivedByDefault(t *testing.T) {
	f := newServerFixture()

	active := domain.Rule{ID: "r1", Name: "a", Status: domain.RuleStatusActive, IsActive: true, TriggerType: "t", Actions: []domain.Action{{Type: "x"}}, ImpactLevel: domain.ImpactLow}
	require.NoError(t, f.ruleRepo.Create(context.Background(), &active))
	archived := domain.Rule{ID: "r2", Name: "b", Status: domain.RuleStatusActive, IsActive: true, TriggerType: "t", Actions: []domain.Action{{Type: "x"}}, ImpactLevel: domain.ImpactLow}
	require.NoError(t, f.ruleRepo.Create(context.Background(), &archived))
	require.NoError(t, f.ruleRepo.Archive(context.Background(), "r2"))

	rec := doJSON(f.server.ListRules, http.MethodGet, "/api/rules", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rules []domain.Rule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rules))
	require.Len(t, rules, 1)
	assert.Equal(t, "r1", rules[0].ID)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/rules?include_archived=true", nil)
	rec2 := httptest.NewRecorder()
	require.NoError(t, f.server.ListRules(e.NewContext(req, rec2)))
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &rules))
	assert.Len(t, rules, 2)
}

func TestArchiveRule(t *testing.T) {
	f := newServerFixture()
	rule := domain.Rule{ID: "r1", Name: "a", Status: domain.RuleStatusActive, IsActive: true}
	require.NoError(t, f.ruleRepo.Create(context.Background(), &rule))

	rec := doJSON(f.server.ArchiveRule, http.MethodDelete, "/api/rules/r1", "", map[string]string{"id": "r1"})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// A second archive hits the not-found guard.
	rec = doJSON(f.server.ArchiveRule, http.MethodDelete, "/api/rules/r1", "", map[string]string{"id": "r1"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPublishEventEndpoint(t *testing.T) {
	f := newServerFixture()

	rec := doJSON(f.server.PublishEvent, http.MethodPost, "/api/events",
		`{"source": "events", "type": "event.published", "payload": {"status": "published"}}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	f.bus.Wait()

	var event domain.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &event))
	assert.NotEmpty(t, event.ID)

	rec = doJSON(f.server.PublishEvent, http.MethodPost, "/api/events", `{"type": "event.published"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "source is required")
}

func seedPendingApproval(t *testing.T, f serverFixture, required int) string {
	t.Helper()
	now := time.Now().UTC()
	approval := domain.ApprovalRequest{
		ID:                "apr-1",
		RuleID:            "rule-1",
		Status:            domain.ApprovalPending,
		Priority:          domain.PriorityMedium,
		ImpactLevel:       domain.ImpactMedium,
		PendingActions:    []domain.PendingAction{{Type: "notification.send", Order: 1}},
		RequestContext:    domain.RequestContext{EventType: "event.published"},
		RequiredApprovals: required,
		ExpiresAt:         now.Add(24 * time.Hour),
		CreatedAt:         now,
	}
	require.NoError(t, f.approvalRepo.Create(context.Background(), &approval))
	rule := domain.Rule{ID: "rule-1", Status: domain.RuleStatusActive}
	require.NoError(t, f.ruleRepo.Create(context.Background(), &rule))
	return approval.ID
}

func TestApproveEndpoint(t *testing.T) {
	f := newServerFixture()
	f.registry.Register("notification.send", func(context.Context, map[string]interface{}, domain.Event) error {
		return nil
	})
	id := seedPendingApproval(t, f, 1)

	rec := doJSON(f.server.ApproveRequest, http.MethodPost, "/api/approvals/apr-1/approve",
		`{"user_id": "u1", "user_name": "Alice", "comment": "ok"}`, map[string]string{"id": id})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var approval domain.ApprovalRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &approval))
	assert.Equal(t, domain.ApprovalApproved, approval.Status)
	assert.True(t, approval.IsExecuted)
}

func TestApproveEndpointRequiresUserID(t *testing.T) {
	f := newServerFixture()
	id := seedPendingApproval(t, f, 1)

	rec := doJSON(f.server.ApproveRequest, http.MethodPost, "/api/approvals/apr-1/approve",
		`{"comment": "ok"}`, map[string]string{"id": id})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRejectEndpointConflictsAfterResolution(t *testing.T) {
	f := newServerFixture()
	id := seedPendingApproval(t, f, 1)

	rec := doJSON(f.server.RejectRequest, http.MethodPost, "/api/approvals/apr-1/reject",
		`{"user_id": "u1"}`, map[string]string{"id": id})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(f.server.ApproveRequest, http.MethodPost, "/api/approvals/apr-1/approve",
		`{"user_id": "u2"}`, map[string]string{"id": id})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDecisionEndpointForbiddenForUnauthorized(t *testing.T) {
	f := newServerFixture()
	id := seedPendingApproval(t, f, 1)

	stored, err := f.approvalRepo.GetByID(context.Background(), id)
	require.NoError(t, err)
	stored.AuthorizedApprovers = []string{"lead-1"}
	require.NoError(t, f.approvalRepo.Update(context.Background(), stored))

	rec := doJSON(f.server.ApproveRequest, http.MethodPost, "/api/approvals/apr-1/approve",
		`{"user_id": "intern"}`, map[string]string{"id": id})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestApprovalNotFoundEndpoints(t *testing.T) {
	f := newServerFixture()

	rec := doJSON(f.server.GetApproval, http.MethodGet, "/api/approvals/x", "", map[string]string{"id": "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(f.server.ApproveRequest, http.MethodPost, "/api/approvals/x/approve",
		`{"user_id": "u1"}`, map[string]string{"id": "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(f.server.ExecuteApproval, http.MethodPost, "/api/approvals/x/execute", "", map[string]string{"id": "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListApprovalsSummaryView(t *testing.T) {
	f := newServerFixture()
	seedPendingApproval(t, f, 2)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/approvals?view=summary", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, f.server.ListApprovals(e.NewContext(req, rec)))
	require.Equal(t, http.StatusOK, rec.Code)

	var summaries []domain.ApprovalSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, "0/2", summaries[0].Progress)
	assert.NotEmpty(t, summaries[0].TimeRemaining)
}

func TestCreateWebhook(t *testing.T) {
	f := newServerFixture()

	body := `{
		"name": "crm sync",
		"url": "https://example.com/hook",
		"subscribed_events": ["event.published"],
		"auth_type": "bearer",
		"auth_config": {"token": "secret"},
		"retry_count": 2
	}`
	rec := doJSON(f.server.CreateWebhook, http.MethodPost, "/api/webhooks", body, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var webhook domain.Webhook
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &webhook))
	assert.NotEmpty(t, webhook.ID)
	assert.Equal(t, domain.WebhookStatusActive, webhook.Status)
}

func TestCreateWebhookValidation(t *testing.T) {
	f := newServerFixture()

	cases := []struct {
		name string
		body string
	}{
		{"missing url", `{"name": "n", "subscribed_events": ["e"], "auth_type": "none"}`},
		{"bad scheme", `{"name": "n", "url": "ftp://x", "subscribed_events": ["e"], "auth_type": "none"}`},
		{"no events", `{"name": "n", "url": "https://x", "subscribed_events": [], "auth_type": "none"}`},
		{"bad auth type", `{"name": "n", "url": "https://x", "subscribed_events": ["e"], "auth_type": "oauth"}`},
		{"negative retries", `{"name": "n", "url": "https://x", "subscribed_events": ["e"], "auth_type": "none", "retry_count": -1}`},
	}
	for _, tc := range cases {
		rec := doJSON(f.server.CreateWebhook, http.MethodPost, "/api/webhooks", tc.body, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, tc.name)
	}
}
