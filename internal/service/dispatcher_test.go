package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"automation-service/internal/domain"
	"automation-service/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWebhook(url string) domain.Webhook {
	return domain.Webhook{
		ID:               "wh-1",
		Name:             "test endpoint",
		URL:              url,
		Status:           domain.WebhookStatusActive,
		IsActive:         true,
		SubscribedEvents: []string{domain.TypeEventPublished},
		AuthType:         domain.AuthNone,
		RetryCount:       3,
		RetryDelayMs:     10,
		TimeoutMs:        2000,
	}
}

func TestDeliverSuccess(t *testing.T) {
	var gotBody domain.Event
	var gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	repo := repository.NewMemoryWebhookRepository()
	webhook := testWebhook(server.URL)
	require.NoError(t, repo.Create(context.Background(), &webhook))

	d := NewWebhookDispatcher(repo)
	event := domain.Event{ID: "e1", Type: domain.TypeEventPublished, Payload: map[string]interface{}{"k": "v"}}
	require.NoError(t, d.Deliver(context.Background(), webhook, event))

	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "e1", gotBody.ID)

	stored, err := repo.GetByID(context.Background(), "wh-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.TotalCalls)
	assert.Equal(t, 1, stored.SuccessfulCalls)
	assert.Equal(t, 200, stored.LastStatus)
	assert.Empty(t, stored.LastError)
}

func TestDeliverRetriesAreBounded(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	repo := repository.NewMemoryWebhookRepository()
	webhook := testWebhook(server.URL)
	require.NoError(t, repo.Create(context.Background(), &webhook))

	d := NewWebhookDispatcher(repo)
	err := d.Deliver(context.Background(), webhook, domain.Event{ID: "e1", Type: domain.TypeEventPublished})
	require.Error(t, err)

	var deliveryErr *domain.DeliveryError
	require.ErrorAs(t, err, &deliveryErr)
	assert.Equal(t, "wh-1", deliveryErr.WebhookID)
	assert.Equal(t, 500, deliveryErr.StatusCode)
	assert.Equal(t, 3, deliveryErr.Attempts)

	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts), "retry_count=3 caps the series at 3 attempts, a 4th is never made")

	stored, getErr := repo.GetByID(context.Background(), "wh-1")
	require.NoError(t, getErr)
	assert.Equal(t, 1, stored.TotalCalls, "one logical delivery regardless of retries")
	assert.Equal(t, 1, stored.FailedCalls)
	assert.Contains(t, stored.LastError, "500")
}

func TestDeliverRecoversMidway(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	repo := repository.NewMemoryWebhookRepository()
	webhook := testWebhook(server.URL)
	require.NoError(t, repo.Create(context.Background(), &webhook))

	d := NewWebhookDispatcher(repo)
	require.NoError(t, d.Deliver(context.Background(), webhook, domain.Event{ID: "e1", Type: domain.TypeEventPublished}))

	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))

	stored, err := repo.GetByID(context.Background(), "wh-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.SuccessfulCalls)
	assert.Zero(t, stored.FailedCalls)
}

func TestDeliverSendsAuthHeaders(t *testing.T) {
	var gotAuth, gotCustom string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotCustom = r.Header.Get("X-Trace")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	repo := repository.NewMemoryWebhookRepository()
	webhook := testWebhook(server.URL)
	webhook.AuthType = domain.AuthBearer
	webhook.AuthConfig = map[string]interface{}{"token": "secret"}
	webhook.CustomHeaders = map[string]string{"X-Trace": "abc"}
	require.NoError(t, repo.Create(context.Background(), &webhook))

	d := NewWebhookDispatcher(repo)
	require.NoError(t, d.Deliver(context.Background(), webhook, domain.Event{ID: "e1", Type: domain.TypeEventPublished}))

	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "abc", gotCustom)
}

func TestDispatchEventFansOutToSubscribers(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	repo := repository.NewMemoryWebhookRepository()

	subscribed := testWebhook(server.URL)
	require.NoError(t, repo.Create(context.Background(), &subscribed))

	other := testWebhook(server.URL)
	other.ID = "wh-2"
	other.SubscribedEvents = []string{domain.TypeMediaUploaded}
	require.NoError(t, repo.Create(context.Background(), &other))

	archived := testWebhook(server.URL)
	archived.ID = "wh-3"
	archived.Status = domain.WebhookStatusArchived
	archived.IsActive = false
	require.NoError(t, repo.Create(context.Background(), &archived))

	d := NewWebhookDispatcher(repo)
	d.DispatchEvent(context.Background(), domain.Event{ID: "e1", Type: domain.TypeEventPublished})

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "only active subscribed webhooks are called")
}

func TestDeliverHonorsContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	repo := repository.NewMemoryWebhookRepository()
	webhook := testWebhook(server.URL)
	webhook.RetryDelayMs = 60000
	require.NoError(t, repo.Create(context.Background(), &webhook))

	ctx, cancel := context.WithCancel(context.Background())
	d := NewWebhookDispatcher(repo)

	done := make(chan error, 1)
	go func() {
		done <- d.Deliver(ctx, webhook, domain.Event{ID: "e1", Type: domain.TypeEventPublished})
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err, "cancellation aborts the retry wait")
	case <-time.After(2 * time.Second):
		t.Fatal("Deliver did not return after cancellation")
	}
}

func TestPing(t *testing.T) {
	var gotType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var event domain.Event
		require.NoError(t, json.NewDecoder(r.Body).Decode(&event))
		gotType = event.Type
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	repo := repository.NewMemoryWebhookRepository()
	webhook := testWebhook(server.URL)
	require.NoError(t, repo.Create(context.Background(), &webhook))

	d := NewWebhookDispatcher(repo)
	require.NoError(t, d.Ping(context.Background(), "wh-1"))
	assert.Equal(t, "webhook.ping", gotType)

	assert.ErrorIs(t, d.Ping(context.Background(), "missing"), domain.ErrWebhookNotFound)
}
