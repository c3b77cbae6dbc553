// Package payload turns raw intercepted request bytes into validated,
// normalized event records.
package payload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/sw33tLie/beaconscope/pkg/event"
)

var (
	ErrEmptyBody        = errors.New("empty request body")
	ErrUndecodableBody  = errors.New("request body is not valid UTF-8")
	ErrMalformedPayload = errors.New("payload is not a valid batch envelope")
	ErrNoValidItems     = errors.New("batch has no valid items")
)

// BatchItem is one entry of a batch envelope. Fields that only make sense
// for some call types are left empty for the others.
type BatchItem struct {
	Type         event.Type
	MessageID    string
	Timestamp    string
	AnonymousID  string
	UserID       string
	Event        string // track
	Name         string // page, screen
	GroupID      string // group
	PreviousID   string // alias
	Properties   map[string]any
	Traits       map[string]any
	Context      map[string]any
	Integrations map[string]any
	Raw          json.RawMessage
}

// Batch is a structurally validated envelope.
type Batch struct {
	Items  []BatchItem
	SentAt string
}

// DecodeBody concatenates the body fragments as UTF-8 text.
func DecodeBody(parts [][]byte) (string, bool) {
	if len(parts) == 0 {
		return "", false
	}
	body := bytes.Join(parts, nil)
	if !utf8.Valid(body) {
		return "", false
	}
	return string(body), true
}

// ParseBatch validates the envelope as a whole: a non-empty batch array whose
// first element carries a string type and a string messageId. There is no
// partial acceptance.
func ParseBatch(text string) (*Batch, bool) {
	if !gjson.Valid(text) {
		return nil, false
	}
	root := gjson.Parse(text)
	batch := root.Get("batch")
	if !batch.IsArray() {
		return nil, false
	}
	elems := batch.Array()
	if len(elems) == 0 {
		return nil, false
	}
	first := elems[0]
	if first.Get("type").Type != gjson.String || first.Get("messageId").Type != gjson.String {
		return nil, false
	}

	out := &Batch{
		Items:  make([]BatchItem, 0, len(elems)),
		SentAt: stringField(root, "sentAt"),
	}
	for _, el := range elems {
		out.Items = append(out.Items, itemFrom(el))
	}
	return out, true
}

// ParseSingle accepts the single-call shape (one event object at the top
// level, as posted to /v1/track style endpoints) and wraps it in a one-item
// batch.
func ParseSingle(text string) (*Batch, bool) {
	if !gjson.Valid(text) {
		return nil, false
	}
	root := gjson.Parse(text)
	if !root.IsObject() || root.Get("batch").Exists() {
		return nil, false
	}
	if root.Get("type").Type != gjson.String || root.Get("messageId").Type != gjson.String {
		return nil, false
	}
	return &Batch{
		Items:  []BatchItem{itemFrom(root)},
		SentAt: stringField(root, "sentAt"),
	}, true
}

// IsValidBatchItem rejects items outside the type enumeration or without a messageId.
func IsValidBatchItem(item BatchItem) bool {
	return item.Type.Valid() && item.MessageID != ""
}

// Normalize maps a batch item into a CapturedEvent.
func Normalize(item BatchItem, tabID int, url, sentAt string, provider event.Provider, capturedAt time.Time) event.CapturedEvent {
	messageID := item.MessageID
	if messageID == "" {
		messageID = uuid.NewString()
	}
	if sentAt == "" {
		sentAt = capturedAt.UTC().Format(time.RFC3339Nano)
	}
	properties := item.Properties
	if properties == nil {
		properties = map[string]any{}
	}

	ev := event.CapturedEvent{
		ID:           messageID + "-" + strconv.FormatInt(capturedAt.UnixNano(), 10),
		Type:         item.Type,
		Name:         DisplayName(item),
		Properties:   properties,
		AnonymousID:  item.AnonymousID,
		UserID:       item.UserID,
		MessageID:    messageID,
		Timestamp:    item.Timestamp,
		SentAt:       sentAt,
		Context:      item.Context,
		Integrations: item.Integrations,
		TabID:        tabID,
		CapturedAt:   capturedAt,
		URL:          url,
		Provider:     provider,
		RawPayload:   item.Raw,
	}
	if item.Type.HasTraits() {
		ev.Traits = item.Traits
		if ev.Traits == nil {
			ev.Traits = map[string]any{}
		}
	}
	return ev
}

// DisplayName derives the label shown for an event from its type-specific fields.
func DisplayName(item BatchItem) string {
	switch item.Type {
	case event.Track:
		if item.Event != "" {
			return item.Event
		}
		return "Unnamed Track"
	case event.Page:
		if item.Name != "" {
			return "Page: " + item.Name
		}
		return "Page View"
	case event.Screen:
		if item.Name != "" {
			return "Screen: " + item.Name
		}
		return "Screen View"
	case event.Identify:
		if item.UserID != "" {
			return "Identify: " + item.UserID
		}
		return "Identify"
	case event.Group:
		if item.GroupID != "" {
			return "Group: " + item.GroupID
		}
		return "Group"
	case event.Alias:
		if item.PreviousID != "" && item.UserID != "" {
			return fmt.Sprintf("Alias: %s -> %s", item.PreviousID, item.UserID)
		}
		return "Alias"
	}
	return string(item.Type)
}

// Request is the slice of an intercepted request the normalizer needs.
type Request struct {
	TabID      int
	URL        string
	Body       [][]byte
	CapturedAt time.Time
}

// Process runs decode, parse, per-item validation and normalization. Valid
// items keep their batch order; invalid siblings are dropped individually.
func Process(req Request) ([]event.CapturedEvent, error) {
	if len(req.Body) == 0 {
		return nil, ErrEmptyBody
	}
	text, ok := DecodeBody(req.Body)
	if !ok {
		return nil, ErrUndecodableBody
	}
	if text == "" {
		return nil, ErrEmptyBody
	}

	batch, ok := ParseBatch(text)
	if !ok {
		batch, ok = ParseSingle(text)
	}
	if !ok {
		return nil, ErrMalformedPayload
	}

	capturedAt := req.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = time.Now()
	}
	provider := DetectProvider(req.URL)

	events := make([]event.CapturedEvent, 0, len(batch.Items))
	for _, item := range batch.Items {
		if !IsValidBatchItem(item) {
			continue
		}
		events = append(events, Normalize(item, req.TabID, req.URL, batch.SentAt, provider, capturedAt))
	}
	if len(events) == 0 {
		return nil, ErrNoValidItems
	}
	return events, nil
}

func itemFrom(r gjson.Result) BatchItem {
	return BatchItem{
		Type:         event.Type(stringField(r, "type")),
		MessageID:    stringField(r, "messageId"),
		Timestamp:    stringField(r, "timestamp"),
		AnonymousID:  scalarField(r, "anonymousId"),
		UserID:       scalarField(r, "userId"),
		Event:        stringField(r, "event"),
		Name:         stringField(r, "name"),
		GroupID:      scalarField(r, "groupId"),
		PreviousID:   scalarField(r, "previousId"),
		Properties:   objectField(r, "properties"),
		Traits:       objectField(r, "traits"),
		Context:      objectField(r, "context"),
		Integrations: objectField(r, "integrations"),
		Raw:          json.RawMessage(r.Raw),
	}
}

func stringField(r gjson.Result, path string) string {
	v := r.Get(path)
	if v.Type != gjson.String {
		return ""
	}
	return v.String()
}

// Identifiers are sometimes sent as numbers.
func scalarField(r gjson.Result, path string) string {
	v := r.Get(path)
	switch v.Type {
	case gjson.String, gjson.Number:
		return v.String()
	}
	return ""
}

func objectField(r gjson.Result, path string) map[string]any {
	v := r.Get(path)
	if !v.IsObject() {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(v.Raw), &m); err != nil {
		return nil
	}
	return m
}
