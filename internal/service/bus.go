package service

import (
	"context"
	"sync"
	"time"

	"automation-service/internal/domain"
	"automation-service/internal/repository"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// EventSink receives a copy of every published event. Sinks are
// best-effort: a failing sink is logged and never blocks or fails the
// publisher. The Kafka mirror and the Redis relay both plug in here.
type EventSink interface {
	Publish(ctx context.Context, event domain.Event) error
}

// EventHandler is an in-process subscriber callback.
type EventHandler func(event domain.Event)

// EventBus is the entry point of the automation pipeline. Publish
// persists the event, broadcasts it to in-process subscribers, and kicks
// off asynchronous rule evaluation and webhook delivery.
type EventBus struct {
	eventRepo  repository.EventRepository
	ruleRepo   repository.RuleRepository
	workflow   *ApprovalWorkflow
	dispatcher *WebhookDispatcher

	mu         sync.RWMutex
	nextSubID  int
	subs       map[string]map[int]EventHandler
	allSubs    map[int]EventHandler
	sinks      []EventSink
	background sync.WaitGroup
}

func NewEventBus(eventRepo repository.EventRepository, ruleRepo repository.RuleRepository, workflow *ApprovalWorkflow, dispatcher *WebhookDispatcher) *EventBus {
	return &EventBus{
		eventRepo:  eventRepo,
		ruleRepo:   ruleRepo,
		workflow:   workflow,
		dispatcher: dispatcher,
		subs:       map[string]map[int]EventHandler{},
		allSubs:    map[int]EventHandler{},
	}
}

// AddSink attaches a best-effort outbound sink. Call during composition,
// before the first Publish.
func (b *EventBus) AddSink(sink EventSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, sink)
}

// Publish persists the event and returns as soon as it is durable. Rule
// evaluation and webhook delivery run asynchronously and can never fail
// the caller.
func (b *EventBus) Publish(ctx context.Context, source, eventType string, payload, metadata map[string]interface{}) (*domain.Event, error) {
	event := domain.Event{
		ID:        uuid.NewString(),
		Source:    source,
		Type:      eventType,
		Payload:   payload,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}

	if err := b.eventRepo.Append(ctx, &event); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"event_id": event.ID,
		"source":   source,
		"type":     eventType,
	}).Info("Event published")

	b.broadcast(event)
	b.forwardToSinks(event)

	b.background.Add(2)
	go func() {
		defer b.background.Done()
		b.evaluateRules(context.Background(), event)
	}()
	go func() {
		defer b.background.Done()
		b.dispatcher.DispatchEvent(context.Background(), event)
	}()

	return &event, nil
}

// Subscribe registers a handler for one event type and returns its
// unsubscribe function. Handlers run on their own goroutines; a panic in
// one never reaches the others or the publisher.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSubID++
	id := b.nextSubID
	if b.subs[eventType] == nil {
		b.subs[eventType] = map[int]EventHandler{}
	}
	b.subs[eventType][id] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[eventType], id)
	}
}

// SubscribeAll registers a handler for every event, as a separate stream
// from the per-type subscriptions.
func (b *EventBus) SubscribeAll(handler EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSubID++
	id := b.nextSubID
	b.allSubs[id] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.allSubs, id)
	}
}

// BroadcastRemote feeds an event received from another instance to local
// subscribers only. No persistence, no rule evaluation: the origin
// instance already did both.
func (b *EventBus) BroadcastRemote(event domain.Event) {
	b.broadcast(event)
}

func (b *EventBus) broadcast(event domain.Event) {
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.subs[event.Type])+len(b.allSubs))
	for _, h := range b.subs[event.Type] {
		handlers = append(handlers, h)
	}
	for _, h := range b.allSubs {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, handler := range handlers {
		h := handler
		go func() {
			defer func() {
				if r := recover(); r != nil {
					log.WithFields(log.Fields{
						"event_id": event.ID,
						"panic":    r,
					}).Error("Event subscriber panicked")
				}
			}()
			h(event)
		}()
	}
}

func (b *EventBus) forwardToSinks(event domain.Event) {
	b.mu.RLock()
	sinks := append([]EventSink(nil), b.sinks...)
	b.mu.RUnlock()

	for _, sink := range sinks {
		s := sink
		b.background.Add(1)
		go func() {
			defer b.background.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := s.Publish(ctx, event); err != nil {
				log.WithError(err).WithField("event_id", event.ID).Error("Event sink delivery failed")
			}
		}()
	}
}

// evaluateRules is a single sequential pass over the active rules for the
// event type, priority descending. All matches are forwarded to the
// approval workflow; the event's triggered rule ids are appended
// best-effort afterwards.
func (b *EventBus) evaluateRules(ctx context.Context, event domain.Event) {
	rules, err := b.ruleRepo.ListActiveByTrigger(ctx, event.Type)
	if err != nil {
		log.WithError(err).WithField("event_id", event.ID).Error("Failed to load rules for evaluation")
		return
	}

	var triggered []string
	for _, rule := range rules {
		if !rule.Matches(event) {
			continue
		}
		triggered = append(triggered, rule.ID)
		if err := b.workflow.HandleTrigger(ctx, rule, event); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"rule_id":  rule.ID,
				"event_id": event.ID,
			}).Error("Failed to handle automation trigger")
		}
	}

	if len(triggered) == 0 {
		return
	}

	// Best-effort: the event is already durable, a failure here only
	// loses the annotation.
	if err := b.eventRepo.AppendTriggeredRules(ctx, event.ID, triggered); err != nil {
		log.WithError(err).WithField("event_id", event.ID).Error("Failed to append triggered rule ids")
	}
}

// Wait blocks until all asynchronous work spawned by Publish has
// finished. Used by tests and graceful shutdown.
func (b *EventBus) Wait() {
	b.background.Wait()
}

// Read-only projections over the event log.

func (b *EventBus) RecentEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	return b.eventRepo.Recent(ctx, limit)
}

func (b *EventBus) EventsByType(ctx context.Context, eventType string, limit int) ([]domain.Event, error) {
	return b.eventRepo.ListByType(ctx, eventType, limit)
}

func (b *EventBus) EventsBySource(ctx context.Context, source string, limit int) ([]domain.Event, error) {
	return b.eventRepo.ListBySource(ctx, source, limit)
}

func (b *EventBus) EventsWithAutomation(ctx context.Context, limit int) ([]domain.Event, error) {
	return b.eventRepo.ListWithAutomation(ctx, limit)
}

func (b *EventBus) Stats(ctx context.Context, start, end time.Time) (*domain.EventStats, error) {
	return b.eventRepo.Stats(ctx, start, end)
}

// Thin wrappers over Publish for the well-known platform events.

func (b *EventBus) PublishEventPublished(ctx context.Context, payload, metadata map[string]interface{}) (*domain.Event, error) {
	return b.Publish(ctx, domain.SourceEvents, domain.TypeEventPublished, payload, metadata)
}

func (b *EventBus) PublishCertificateIssued(ctx context.Context, payload, metadata map[string]interface{}) (*domain.Event, error) {
	return b.Publish(ctx, domain.SourceCertificates, domain.TypeCertificateIssued, payload, metadata)
}

func (b *EventBus) PublishPagePublished(ctx context.Context, payload, metadata map[string]interface{}) (*domain.Event, error) {
	return b.Publish(ctx, domain.SourceContent, domain.TypePagePublished, payload, metadata)
}

func (b *EventBus) PublishCampaignSent(ctx context.Context, payload, metadata map[string]interface{}) (*domain.Event, error) {
	return b.Publish(ctx, domain.SourceEmail, domain.TypeCampaignSent, payload, metadata)
}

func (b *EventBus) PublishMediaUploaded(ctx context.Context, payload, metadata map[string]interface{}) (*domain.Event, error) {
	return b.Publish(ctx, domain.SourceMedia, domain.TypeMediaUploaded, payload, metadata)
}
