package billing

import (
	"context"
	"time"
)

// UsageLog is one row of the append-only call audit. Failed and deduplicated
// calls are logged too, with zero cost.
type UsageLog struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	RequestID    string    `json:"requestId"`
	Tier         string    `json:"tier"`
	Operation    string    `json:"operation"`
	Provider     string    `json:"provider,omitempty"`
	Model        string    `json:"model,omitempty"`
	InputTokens  int       `json:"inputTokens"`
	OutputTokens int       `json:"outputTokens"`
	Pages        int       `json:"pages,omitempty"`
	CostUSD      float64   `json:"costUsd"`
	LatencyMs    int64     `json:"latencyMs"`
	Attempts     int       `json:"attempts"`
	Success      bool      `json:"success"`
	Cached       bool      `json:"cached"`
	ErrorKind    string    `json:"errorKind,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

type Store interface {
	LogUsage(ctx context.Context, log *UsageLog) error
	GetUsageByUser(ctx context.Context, userID string, from, to time.Time) ([]*UsageLog, error)
	GetTotalCostByUser(ctx context.Context, userID string, from, to time.Time) (float64, error)
}
