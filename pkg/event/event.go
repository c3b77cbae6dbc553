// Package event defines the canonical record of one captured analytics event.
package event

import (
	"encoding/json"
	"time"
)

// Type is one of the fixed analytics call types.
type Type string

const (
	Track    Type = "track"
	Page     Type = "page"
	Screen   Type = "screen"
	Identify Type = "identify"
	Group    Type = "group"
	Alias    Type = "alias"
)

var validTypes = map[Type]bool{
	Track:    true,
	Page:     true,
	Screen:   true,
	Identify: true,
	Group:    true,
	Alias:    true,
}

// Valid reports whether t belongs to the fixed enumeration.
func (t Type) Valid() bool {
	return validTypes[t]
}

// HasTraits reports whether events of this type carry a traits map.
func (t Type) HasTraits() bool {
	return t == Identify || t == Group
}

// Provider tags which analytics backend an intake endpoint belongs to.
type Provider string

const (
	ProviderSegment     Provider = "segment"
	ProviderRudderStack Provider = "rudderstack"
	ProviderHightouch   Provider = "hightouch"
	ProviderJune        Provider = "june"
	ProviderUnknown     Provider = "unknown"
)

// CapturedEvent is immutable once created. It is removed only by log
// eviction or an explicit clear.
type CapturedEvent struct {
	ID           string          `json:"id"`
	Type         Type            `json:"type"`
	Name         string          `json:"name"`
	Properties   map[string]any  `json:"properties"`
	Traits       map[string]any  `json:"traits,omitempty"`
	AnonymousID  string          `json:"anonymousId,omitempty"`
	UserID       string          `json:"userId,omitempty"`
	MessageID    string          `json:"messageId"`
	Timestamp    string          `json:"timestamp"`
	SentAt       string          `json:"sentAt"`
	Context      map[string]any  `json:"context,omitempty"`
	Integrations map[string]any  `json:"integrations,omitempty"`
	TabID        int             `json:"tabId"`
	CapturedAt   time.Time       `json:"capturedAt"`
	URL          string          `json:"url"`
	Provider     Provider        `json:"provider"`
	RawPayload   json.RawMessage `json:"rawPayload,omitempty"`
}
