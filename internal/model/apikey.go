package model

import (
	"time"

	"github.com/google/uuid"
)

type APIKey struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name"`
	Secret       string     `json:"key"`
	KeyHash      string     `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	LastUsedAt   *time.Time `json:"last_used_at"`
	RequestCount int64      `json:"request_count"`
}
