package transcript

import (
	"context"
	"time"
)

// TurnRecord is one side of a relayed exchange.
type TurnRecord struct {
	ID          string    `json:"id"`
	TurnID      string    `json:"turn_id"`
	UserID      string    `json:"user_id"`
	OrgID       string    `json:"org_id"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	Outcome     string    `json:"outcome,omitempty"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists relayed turns for later review.
type Store interface {
	SaveTurn(ctx context.Context, record TurnRecord) error
	RecentTurns(ctx context.Context, userID string, limit int) ([]TurnRecord, error)
	Close() error
}

const defaultRecentLimit = 20
