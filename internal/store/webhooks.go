package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gateway-control-plane/internal/model"
)

const webhookColumns = `id, url, events, enabled, last_delivery_at,
	success_rate, success_count, attempt_count, recent_outcomes,
	created_at, updated_at`

func (p *Postgres) CreateWebhook(ctx context.Context, webhook *model.Webhook) error {
	err := p.pool.QueryRow(ctx, `
		INSERT INTO webhooks (url, events, enabled, success_rate)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`, webhook.URL, webhook.Events, webhook.Enabled, webhook.SuccessRate,
	).Scan(&webhook.ID, &webhook.CreatedAt, &webhook.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert webhook: %w", err)
	}
	return nil
}

func (p *Postgres) GetWebhookByID(ctx context.Context, id uuid.UUID) (*model.Webhook, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE id = $1`, id)
	webhook, err := scanWebhook(row)
	if err != nil {
		return nil, fmt.Errorf("get webhook %s: %w", id, notFound(err))
	}
	return webhook, nil
}

func (p *Postgres) ListWebhooks(ctx context.Context) ([]*model.Webhook, error) {
	return p.queryWebhooks(ctx, `
		SELECT `+webhookColumns+` FROM webhooks ORDER BY created_at DESC, id DESC
	`)
}

func (p *Postgres) ListEnabledWebhooksByEvent(ctx context.Context, eventType string) ([]*model.Webhook, error) {
	return p.queryWebhooks(ctx, `
		SELECT `+webhookColumns+` FROM webhooks
		WHERE enabled AND events @> ARRAY[$1]::text[]
		ORDER BY created_at, id
	`, eventType)
}

func (p *Postgres) SetWebhookEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE webhooks
		SET enabled = $1,
		    updated_at = CASE WHEN enabled = $1 THEN updated_at ELSE NOW() END
		WHERE id = $2
	`, enabled, id)
	if err != nil {
		return fmt.Errorf("update webhook enabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update webhook enabled %s: %w", id, ErrNotFound)
	}
	return nil
}

func (p *Postgres) DeleteWebhook(ctx context.Context, id uuid.UUID) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM webhooks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete webhook %s: %w", id, ErrNotFound)
	}
	return nil
}

// RecordWebhookOutcome locks the webhook row so the aggregate is recomputed
// from a consistent snapshot even when a test delivery races a dispatch.
func (p *Postgres) RecordWebhookOutcome(ctx context.Context, id uuid.UUID, outcome model.Outcome, at time.Time, window int) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE id = $1 FOR UPDATE`, id)
		webhook, err := scanWebhook(row)
		if err != nil {
			return fmt.Errorf("lock webhook %s: %w", id, notFound(err))
		}

		webhook.ApplyOutcome(outcome, at, window)
		recent := webhook.RecentOutcomes
		if recent == nil {
			recent = []bool{}
		}

		_, err = tx.Exec(ctx, `
			UPDATE webhooks
			SET last_delivery_at = $1,
			    success_rate = $2,
			    success_count = $3,
			    attempt_count = $4,
			    recent_outcomes = $5,
			    updated_at = $1
			WHERE id = $6
		`, webhook.LastDeliveryAt, webhook.SuccessRate, webhook.SuccessCount,
			webhook.AttemptCount, recent, id)
		if err != nil {
			return fmt.Errorf("update webhook outcome: %w", err)
		}
		return nil
	})
}

func (p *Postgres) queryWebhooks(ctx context.Context, query string, args ...interface{}) ([]*model.Webhook, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	webhooks := []*model.Webhook{}
	for rows.Next() {
		webhook, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		webhooks = append(webhooks, webhook)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	return webhooks, nil
}

func scanWebhook(row pgx.Row) (*model.Webhook, error) {
	var w model.Webhook
	err := row.Scan(
		&w.ID, &w.URL, &w.Events, &w.Enabled, &w.LastDeliveryAt,
		&w.SuccessRate, &w.SuccessCount, &w.AttemptCount, &w.RecentOutcomes,
		&w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(w.RecentOutcomes) == 0 {
		w.RecentOutcomes = nil
	}
	return &w, nil
}
