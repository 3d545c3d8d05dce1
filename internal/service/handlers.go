package service

import (
	"context"
	"sync"

	"automation-service/internal/domain"
)

// Action types understood by the platform. The concrete side effects live
// in the owning modules; they register handlers here by name.
const (
	ActionEmailCreateCampaign    = "email.create_campaign"
	ActionEmailSend              = "email.send"
	ActionEmailAddToSegment      = "email.add_to_segment"
	ActionEmailRemoveFromSegment = "email.remove_from_segment"
	ActionNotificationSend       = "notification.send"
	ActionNotificationSMS        = "notification.sms"
	ActionWebhookTrigger         = "webhook.trigger"
	ActionCMSCreateDraft         = "cms.create_draft"
	ActionCMSPublish             = "cms.publish"
	ActionCMSArchive             = "cms.archive"
)

// HandlerFunc executes one named side effect with its configuration and
// the triggering event.
type HandlerFunc func(ctx context.Context, config map[string]interface{}, event domain.Event) error

// HandlerRegistry maps action-type strings to their side-effect handlers.
// Registration happens at composition time; lookups happen on every
// action execution.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: map[string]HandlerFunc{}}
}

func (r *HandlerRegistry) Register(actionType string, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[actionType] = handler
}

func (r *HandlerRegistry) Lookup(actionType string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[actionType]
	return handler, ok
}
