package alerting

import (
	"context"
	"strings"
	"time"
)

// EventType 区分事件种类。
type EventType string

// Event types emitted by the pipeline.
const (
	EventCandidateFound   EventType = "CandidateFound"
	EventDealStageChanged EventType = "DealStageChanged"
)

// ParseEventType validates a configured event name. Both CandidateFound and
// candidate_found spellings are accepted.
func ParseEventType(raw string) (EventType, bool) {
	folded := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "_", "")
	for _, t := range []EventType{EventCandidateFound, EventDealStageChanged} {
		if strings.ToLower(string(t)) == folded {
			return t, true
		}
	}
	return "", false
}

// Event 是对外发送的通知载体。Payload 若实现 Summarizer，文本通道使用其摘要。
type Event struct {
	Type       EventType `json:"type"`
	Payload    any       `json:"payload"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Summarizer renders a payload as a short human readable message.
type Summarizer interface {
	Summary() string
}

// Notifier delivers one event to an external channel.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Publisher accepts events without blocking the caller.
type Publisher interface {
	Publish(ev Event)
}

// NopPublisher discards every event.
type NopPublisher struct{}

// Publish does nothing.
func (NopPublisher) Publish(Event) {}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ev Event)

// Publish calls f.
func (f PublisherFunc) Publish(ev Event) { f(ev) }
