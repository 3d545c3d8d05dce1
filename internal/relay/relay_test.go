package relay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"automation-service/internal/domain"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	m, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(m.Close)
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { rc.Close() })
	return rc
}

func TestRelayForwardsRemoteEvents(t *testing.T) {
	rc := newTestRedis(t)

	local := New(rc, "platform-events", "instance-a")

	var mu sync.Mutex
	var got []domain.Event
	broadcast := func(event domain.Event) {
		mu.Lock()
		got = append(got, event)
		mu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		local.Run(ctx, broadcast)
		close(done)
	}()
	// wait for subscription to start
	time.Sleep(50 * time.Millisecond)

	remote := New(rc, "platform-events", "instance-b")
	event := domain.Event{ID: "e1", Type: domain.TypeEventPublished, Source: domain.SourceEvents}
	require.NoError(t, remote.Publish(context.Background(), event))

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	require.Len(t, got, 1)
	assert.Equal(t, "e1", got[0].ID)
	assert.Equal(t, domain.TypeEventPublished, got[0].Type)
	mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after cancellation")
	}
}

func TestRelaySkipsOwnMessages(t *testing.T) {
	rc := newTestRedis(t)

	r := New(rc, "platform-events", "instance-a")

	var mu sync.Mutex
	calls := 0
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx, func(domain.Event) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, r.Publish(context.Background(), domain.Event{ID: "e1", Type: domain.TypeEventPublished}))
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, calls, "an instance never re-broadcasts its own events")
}

func TestRelayIgnoresMalformedPayloads(t *testing.T) {
	rc := newTestRedis(t)

	r := New(rc, "platform-events", "instance-a")

	var mu sync.Mutex
	var got []domain.Event
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx, func(event domain.Event) {
		mu.Lock()
		got = append(got, event)
		mu.Unlock()
	})
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, rc.Publish(context.Background(), "platform-events", "not json").Err())

	payload, err := json.Marshal(map[string]interface{}{
		"origin": "instance-b",
		"event":  domain.Event{ID: "e2", Type: domain.TypePagePublished},
	})
	require.NoError(t, err)
	require.NoError(t, rc.Publish(context.Background(), "platform-events", payload).Err())

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1, "the malformed message is dropped, the loop keeps going")
	assert.Equal(t, "e2", got[0].ID)
}
