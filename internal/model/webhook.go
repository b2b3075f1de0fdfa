package model

import (
	"time"

	"github.com/google/uuid"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Event types a webhook can subscribe to.
const (
	EventChatMessage = "chat.message"
	EventChatStatus  = "chat.status"
	EventAIComplete  = "ai.complete"
	EventAIError     = "ai.error"
	EventAPIQuota    = "api.quota"

	// EventTestPing is only sent by manual test deliveries and cannot be subscribed to.
	EventTestPing = "test.ping"
)

// SubscribableEvents returns the event types accepted in a webhook subscription.
func SubscribableEvents() []string {
	return []string{
		EventChatMessage,
		EventChatStatus,
		EventAIComplete,
		EventAIError,
		EventAPIQuota,
	}
}

type Webhook struct {
	ID             uuid.UUID  `json:"id"`
	URL            string     `json:"url"`
	Events         []string   `json:"events"`
	Enabled        bool       `json:"enabled"`
	LastDeliveryAt *time.Time `json:"last_delivery_at"`
	SuccessRate    float64    `json:"success_rate"`
	SuccessCount   int64      `json:"success_count"`
	AttemptCount   int64      `json:"attempt_count"`
	RecentOutcomes []bool     `json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Subscribes reports whether the webhook's event filter contains eventType.
func (w *Webhook) Subscribes(eventType string) bool {
	for _, e := range w.Events {
		if e == eventType {
			return true
		}
	}
	return false
}

// ApplyOutcome folds one terminal delivery outcome into the webhook's
// aggregate fields. window is the number of recent outcomes the success rate
// is computed over; zero means all-time.
func (w *Webhook) ApplyOutcome(outcome Outcome, at time.Time, window int) {
	ok := outcome == OutcomeSuccess

	w.AttemptCount++
	if ok {
		w.SuccessCount++
	}

	if window > 0 {
		w.RecentOutcomes = append(w.RecentOutcomes, ok)
		if over := len(w.RecentOutcomes) - window; over > 0 {
			w.RecentOutcomes = append([]bool(nil), w.RecentOutcomes[over:]...)
		}
		w.SuccessRate = windowRate(w.RecentOutcomes)
	} else {
		w.RecentOutcomes = nil
		w.SuccessRate = SuccessRate(w.SuccessCount, w.AttemptCount)
	}

	t := at.UTC()
	w.LastDeliveryAt = &t
	w.UpdatedAt = t
}

// SuccessRate returns successes/attempts as a percentage. With no attempts the
// rate is 100.
func SuccessRate(successes, attempts int64) float64 {
	if attempts <= 0 {
		return 100
	}
	return float64(successes) / float64(attempts) * 100
}

func windowRate(outcomes []bool) float64 {
	var successes int64
	for _, ok := range outcomes {
		if ok {
			successes++
		}
	}
	return SuccessRate(successes, int64(len(outcomes)))
}
