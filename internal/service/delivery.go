package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gateway-control-plane/internal/metrics"
	"github.com/gateway-control-plane/internal/model"
	"github.com/gateway-control-plane/internal/webhook"
)

const (
	testDeliveryMessage  = "Test webhook from the gateway control plane"
	recordOutcomeTimeout = 5 * time.Second
)

// WebhookRegistry is the subset of WebhookService the delivery engine needs.
type WebhookRegistry interface {
	MatchSubscriptions(ctx context.Context, eventType string) ([]*model.Webhook, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Webhook, error)
	RecordOutcome(ctx context.Context, id uuid.UUID, outcome model.Outcome) error
}

// WebhookSender performs a single HTTP delivery attempt.
type WebhookSender interface {
	Send(ctx context.Context, req webhook.Request) webhook.Result
}

type DeliveryConfig struct {
	Timeout     time.Duration
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Concurrency int
}

// DeliveryService fans events out to subscribed webhooks. Each matched
// webhook gets an independent retry sequence on its own goroutine; at most
// Concurrency attempts are in flight at once.
type DeliveryService struct {
	registry WebhookRegistry
	sender   WebhookSender
	metrics  *metrics.Metrics
	cfg      DeliveryConfig
	now      func() time.Time

	sem    chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

func NewDeliveryService(registry WebhookRegistry, sender WebhookSender, m *metrics.Metrics, cfg DeliveryConfig) *DeliveryService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 32
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &DeliveryService{
		registry: registry,
		sender:   sender,
		metrics:  m,
		cfg:      cfg,
		now:      time.Now,
		sem:      make(chan struct{}, cfg.Concurrency),
		ctx:      ctx,
		cancel:   cancel,
	}
}

type DispatchReceipt struct {
	Event   string `json:"event"`
	Matched int    `json:"matched"`
}

// Dispatch starts delivery of eventType to every matching webhook and returns
// without waiting for any of them. data must be a JSON object; empty data is
// sent as {}.
func (s *DeliveryService) Dispatch(ctx context.Context, eventType string, data json.RawMessage) (*DispatchReceipt, error) {
	if eventType == "" {
		return nil, NewValidation("event is required")
	}
	data = bytes.TrimSpace(data)
	if len(data) > 0 && (data[0] != '{' || !json.Valid(data)) {
		return nil, NewValidation("data must be a JSON object")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, NewUnavailable("Delivery engine is shutting down")
	}

	webhooks, err := s.registry.MatchSubscriptions(ctx, eventType)
	if err != nil {
		return nil, err
	}
	receipt := &DispatchReceipt{Event: eventType, Matched: len(webhooks)}
	if len(webhooks) == 0 {
		log.Debug().Str("event", eventType).Msg("no webhooks subscribed to event")
		return receipt, nil
	}

	body, err := json.Marshal(model.NewEnvelope(eventType, data, s.now()))
	if err != nil {
		log.Error().Err(err).Str("event", eventType).Msg("failed to encode webhook envelope")
		return nil, NewInternal("Failed to encode event")
	}

	s.wg.Add(len(webhooks))
	for _, w := range webhooks {
		go s.deliver(w, eventType, body)
	}

	log.Info().Str("event", eventType).Int("matched", len(webhooks)).Msg("event dispatched")
	return receipt, nil
}

type TestResult struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	StatusCode *int   `json:"status_code"`
	LatencyMs  int64  `json:"latency_ms"`
	// Error is "transport_error" or "timeout" when no response was received.
	Error string `json:"error,omitempty"`
}

// TestDelivery sends a single test.ping to the webhook and waits for the
// result. The outcome counts towards the webhook's success rate.
func (s *DeliveryService) TestDelivery(ctx context.Context, id uuid.UUID) (*TestResult, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, NewUnavailable("Delivery engine is shutting down")
	}

	w, err := s.registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	data, _ := json.Marshal(map[string]string{"message": testDeliveryMessage})
	body, err := json.Marshal(model.NewEnvelope(model.EventTestPing, data, s.now()))
	if err != nil {
		log.Error().Err(err).Str("webhook_id", id.String()).Msg("failed to encode test envelope")
		return nil, NewInternal("Failed to encode test event")
	}

	result := s.attempt(ctx, w, model.EventTestPing, uuid.NewString(), 1, body)
	outcome := model.OutcomeFailure
	if result.OK() {
		outcome = model.OutcomeSuccess
	}
	s.recordOutcome(context.WithoutCancel(ctx), w.ID, model.EventTestPing, outcome)

	testResult := &TestResult{
		Success:   result.OK(),
		Message:   s.describe(result),
		LatencyMs: result.Latency.Milliseconds(),
	}
	if result.StatusCode != 0 {
		code := result.StatusCode
		testResult.StatusCode = &code
	}
	if attemptErr := s.attemptError(result); attemptErr != nil {
		testResult.Error = attemptErr.Code
	}
	return testResult, nil
}

// Close stops accepting new dispatches and waits for in-flight sequences.
// When ctx expires first, pending attempts and backoff waits are cancelled.
func (s *DeliveryService) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}

func (s *DeliveryService) deliver(w *model.Webhook, eventType string, body []byte) {
	defer s.wg.Done()

	deliveryID := uuid.NewString()
	logger := log.With().
		Str("webhook_id", w.ID.String()).
		Str("delivery_id", deliveryID).
		Str("event", eventType).
		Logger()

	for attempt := 1; ; attempt++ {
		if !s.acquire() {
			logger.Warn().Int("attempt", attempt).Msg("delivery cancelled by shutdown")
			s.recordOutcome(s.ctx, w.ID, eventType, model.OutcomeFailure)
			return
		}
		result := s.attempt(s.ctx, w, eventType, deliveryID, attempt, body)
		<-s.sem

		if result.OK() {
			s.recordOutcome(s.ctx, w.ID, eventType, model.OutcomeSuccess)
			return
		}
		if attempt > s.cfg.MaxRetries {
			logger.Warn().Int("attempts", attempt).Msg("webhook delivery failed, retries exhausted")
			s.recordOutcome(s.ctx, w.ID, eventType, model.OutcomeFailure)
			return
		}

		delay := retryBackoff(attempt, s.cfg.BaseDelay, s.cfg.MaxDelay)
		if !sleepContext(s.ctx, delay) {
			logger.Warn().Int("attempt", attempt).Msg("delivery cancelled by shutdown")
			s.recordOutcome(s.ctx, w.ID, eventType, model.OutcomeFailure)
			return
		}

		current, err := s.registry.Get(s.ctx, w.ID)
		if err != nil {
			var svcErr *Error
			if errors.As(err, &svcErr) && svcErr.Kind == ErrNotFound {
				logger.Info().Int("attempt", attempt).Msg("webhook deleted, abandoning delivery")
				return
			}
			logger.Warn().Err(err).Msg("failed to re-check webhook before retry")
			continue
		}
		if !current.Enabled {
			logger.Info().Int("attempt", attempt).Msg("webhook disabled, abandoning delivery")
			s.recordOutcome(s.ctx, w.ID, eventType, model.OutcomeFailure)
			return
		}
	}
}

func (s *DeliveryService) acquire() bool {
	select {
	case s.sem <- struct{}{}:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *DeliveryService) attempt(ctx context.Context, w *model.Webhook, eventType, deliveryID string, attempt int, body []byte) webhook.Result {
	attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	result := s.sender.Send(attemptCtx, webhook.Request{
		URL:        w.URL,
		EventType:  eventType,
		DeliveryID: deliveryID,
		Attempt:    attempt,
		Body:       body,
	})

	record := s.attemptRecord(w.ID, eventType, deliveryID, attempt, body, result)
	s.metrics.ObserveDeliveryAttempt(eventType, s.attemptResultLabel(result), result.Latency)
	logAttempt(record, result.BodyPreview)
	return result
}

func (s *DeliveryService) attemptRecord(webhookID uuid.UUID, eventType, deliveryID string, attempt int, body []byte, result webhook.Result) model.DeliveryAttempt {
	record := model.DeliveryAttempt{
		WebhookID:     webhookID,
		EventType:     eventType,
		AttemptNumber: attempt,
		Outcome:       model.OutcomeFailure,
		LatencyMs:     result.Latency.Milliseconds(),
		Timestamp:     s.now().UTC(),
		Payload:       json.RawMessage(body),
	}
	if id, err := uuid.Parse(deliveryID); err == nil {
		record.DeliveryID = id
	}
	if result.OK() {
		record.Outcome = model.OutcomeSuccess
	}
	if result.StatusCode != 0 {
		code := result.StatusCode
		record.HTTPStatus = &code
	}
	if result.Err != nil {
		record.Error = result.Err.Error()
	}
	return record
}

func (s *DeliveryService) recordOutcome(ctx context.Context, id uuid.UUID, eventType string, outcome model.Outcome) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordOutcomeTimeout)
	defer cancel()

	s.metrics.ObserveDeliveryOutcome(eventType, string(outcome))
	if err := s.registry.RecordOutcome(ctx, id, outcome); err != nil {
		log.Error().Err(err).Str("webhook_id", id.String()).Msg("failed to record delivery outcome")
	}
}

// attemptError classifies an attempt that never got a response. It is nil
// whenever the endpoint answered, whatever the status.
func (s *DeliveryService) attemptError(result webhook.Result) *Error {
	switch {
	case result.Err == nil:
		return nil
	case result.TimedOut:
		return NewTimeout(fmt.Sprintf("Request timed out after %s", s.cfg.Timeout))
	default:
		return NewTransport(fmt.Sprintf("Delivery failed: %v", result.Err))
	}
}

func (s *DeliveryService) describe(result webhook.Result) string {
	if err := s.attemptError(result); err != nil {
		return err.Message
	}
	switch {
	case result.OK():
		return fmt.Sprintf("Webhook responded with HTTP %d", result.StatusCode)
	default:
		return fmt.Sprintf("Webhook responded with HTTP %d %s", result.StatusCode, http.StatusText(result.StatusCode))
	}
}

func logAttempt(a model.DeliveryAttempt, bodyPreview string) {
	event := log.Debug()
	if a.Outcome == model.OutcomeFailure {
		event = log.Warn()
	}
	event = event.
		Str("webhook_id", a.WebhookID.String()).
		Str("delivery_id", a.DeliveryID.String()).
		Str("event", a.EventType).
		Int("attempt", a.AttemptNumber).
		Str("outcome", string(a.Outcome)).
		Int64("latency_ms", a.LatencyMs).
		Int("payload_bytes", len(a.Payload))
	if a.HTTPStatus != nil {
		event = event.Int("status_code", *a.HTTPStatus)
	}
	if a.Error != "" {
		event = event.Str("error", a.Error)
	}
	if a.Outcome == model.OutcomeFailure && bodyPreview != "" {
		event = event.Str("response_body", bodyPreview)
	}
	event.Msg("webhook delivery attempt")
}

func (s *DeliveryService) attemptResultLabel(result webhook.Result) string {
	if err := s.attemptError(result); err != nil {
		if err.Kind == ErrTimeout {
			return "timeout"
		}
		return "transport"
	}
	switch {
	case result.OK():
		return "success"
	default:
		return "failure"
	}
}

// retryBackoff returns the wait before the retry that follows the given
// failed attempt: initial, then doubling, capped at max.
func retryBackoff(attempts int, initial time.Duration, max time.Duration) time.Duration {
	if attempts <= 1 {
		return initial
	}

	backoff := initial
	for i := 1; i < attempts; i++ {
		if backoff >= max {
			return max
		}
		backoff *= 2
		if backoff > max {
			return max
		}
	}

	return backoff
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
