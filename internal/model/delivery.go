package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope is the JSON body POSTed to webhook URLs.
type Envelope struct {
	Event     string          `json:"event"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewEnvelope wraps data for eventType, stamping it with at in RFC 3339.
func NewEnvelope(eventType string, data json.RawMessage, at time.Time) Envelope {
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	return Envelope{
		Event:     eventType,
		Timestamp: at.UTC().Format(time.RFC3339Nano),
		Data:      data,
	}
}

// DeliveryAttempt describes one HTTP call made to a webhook. It is not
// persisted; only the terminal outcome of a sequence reaches the webhook's
// aggregate.
type DeliveryAttempt struct {
	DeliveryID    uuid.UUID `json:"delivery_id"`
	WebhookID     uuid.UUID `json:"webhook_id"`
	EventType     string    `json:"event_type"`
	AttemptNumber int       `json:"attempt_number"`
	Outcome       Outcome   `json:"outcome"`
	HTTPStatus    *int      `json:"http_status,omitempty"`
	LatencyMs     int64     `json:"latency_ms"`
	Error         string    `json:"error,omitempty"`
	Timestamp     time.Time `json:"timestamp"`

	// Payload is the envelope that was sent. It is never serialized.
	Payload json.RawMessage `json:"-"`
}
