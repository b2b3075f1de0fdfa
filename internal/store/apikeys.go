package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gateway-control-plane/internal/model"
)

func (p *Postgres) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	err := p.pool.QueryRow(ctx, `
		INSERT INTO api_keys (name, secret, key_hash)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, request_count
	`, key.Name, key.Secret, key.KeyHash).Scan(&key.ID, &key.CreatedAt, &key.RequestCount)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert api_key: %w", ErrDuplicate)
		}
		return fmt.Errorf("insert api_key: %w", err)
	}
	key.LastUsedAt = nil
	return nil
}

const apiKeyColumns = `id, name, secret, key_hash, request_count, last_used_at, created_at`

func (p *Postgres) GetAPIKeyByHash(ctx context.Context, keyHash string) (*model.APIKey, error) {
	return p.scanAPIKey(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = $1`, keyHash)
}

func (p *Postgres) GetAPIKeyByID(ctx context.Context, id uuid.UUID) (*model.APIKey, error) {
	return p.scanAPIKey(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE id = $1`, id)
}

func (p *Postgres) ListAPIKeys(ctx context.Context) ([]*model.APIKey, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+apiKeyColumns+` FROM api_keys ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list api_keys: %w", err)
	}
	defer rows.Close()

	keys := []*model.APIKey{}
	for rows.Next() {
		key, err := scanAPIKeyFromRow(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list api_keys: %w", err)
	}
	return keys, nil
}

func (p *Postgres) CountAPIKeys(ctx context.Context) (int, error) {
	var count int
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM api_keys`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count api_keys: %w", err)
	}
	return count, nil
}

func (p *Postgres) DeleteAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete api_key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete api_key %s: %w", id, ErrNotFound)
	}
	return nil
}

func (p *Postgres) IncrementAPIKeyUsage(ctx context.Context, id uuid.UUID, usedAt time.Time) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE api_keys SET request_count = request_count + 1, last_used_at = $1 WHERE id = $2
	`, usedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("increment api_key usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("increment api_key usage %s: %w", id, ErrNotFound)
	}
	return nil
}

func (p *Postgres) scanAPIKey(ctx context.Context, query string, args ...interface{}) (*model.APIKey, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query api_key: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("query api_key: %w", err)
		}
		return nil, fmt.Errorf("query api_key: %w", ErrNotFound)
	}
	return scanAPIKeyFromRow(rows)
}

func scanAPIKeyFromRow(rows pgx.Rows) (*model.APIKey, error) {
	var key model.APIKey
	err := rows.Scan(
		&key.ID, &key.Name, &key.Secret, &key.KeyHash,
		&key.RequestCount, &key.LastUsedAt, &key.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan api_key: %w", err)
	}
	return &key, nil
}
