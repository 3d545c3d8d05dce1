package domain

import "time"

// Event sources: the platform module that emitted the event.
const (
	SourceEvents       = "events"
	SourceContent      = "content"
	SourceEmail        = "email_marketing"
	SourceCertificates = "certificates"
	SourceMedia        = "media"
	SourceSystem       = "system"
)

// Well-known event types.
const (
	TypeEventPublished    = "event.published"
	TypeCertificateIssued = "certificate.issued"
	TypePagePublished     = "page.published"
	TypeCampaignSent      = "campaign.sent"
	TypeMediaUploaded     = "media.uploaded"
)

// Event is an immutable record of something that happened in one of the
// platform modules. Once persisted, only TriggeredRuleIDs may be appended.
type Event struct {
	ID               string                 `json:"id"`
	Source           string                 `json:"source"`
	Type             string                 `json:"type"`
	Payload          map[string]interface{} `json:"payload"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	TriggeredRuleIDs []string               `json:"triggered_rule_ids,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
}

type EventStats struct {
	Total          int            `json:"total"`
	ByType         map[string]int `json:"by_type"`
	BySource       map[string]int `json:"by_source"`
	WithAutomation int            `json:"with_automation"`
}
