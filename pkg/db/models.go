package db

import "time"

// Order is a swap request and its persisted lifecycle record.
// Dex, TxHash and ExecutedPrice are set only when the order confirms;
// Error is set only when it fails.
type Order struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	TokenIn       string    `json:"tokenIn"`
	TokenOut      string    `json:"tokenOut"`
	AmountIn      float64   `json:"amountIn"`
	Slippage      float64   `json:"slippage"`
	Status        string    `json:"status"`
	Attempts      int       `json:"attempts"`
	Dex           *string   `json:"dex,omitempty"`
	TxHash        *string   `json:"txHash,omitempty"`
	ExecutedPrice *float64  `json:"executedPrice,omitempty"`
	Error         *string   `json:"error,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// OrderUpdate carries a partial-field merge for an order row. Nil fields
// are left untouched; updated_at is always refreshed. ClearResults nulls
// the execution result columns, used when a redelivery restarts the
// lifecycle so a stale error or tx hash never outlives its attempt.
type OrderUpdate struct {
	Status        *string
	Attempts      *int
	Dex           *string
	TxHash        *string
	ExecutedPrice *float64
	Error         *string
	ClearResults  bool
}

func String(s string) *string { return &s }

func Int(i int) *int { return &i }

func Float(f float64) *float64 { return &f }
