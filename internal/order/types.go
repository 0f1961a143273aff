// Package order implements the durable job queue, the bounded worker
// scheduler and the per-order execution pipeline.
package order

import "time"

// Order lifecycle statuses. Transitions only move forward:
// pending < routing < building < submitted < confirmed|failed.
const (
	StatusPending   = "pending"
	StatusRouting   = "routing"
	StatusBuilding  = "building"
	StatusSubmitted = "submitted"
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
)

// Order types. Only market orders are executed by the pipeline; limit and
// sniper exist in the data model for forward compatibility.
const (
	TypeMarket = "market"
	TypeLimit  = "limit"
	TypeSniper = "sniper"
)

// Request is the immutable swap intent carried by a job.
type Request struct {
	Type     string  `json:"type,omitempty"`
	TokenIn  string  `json:"tokenIn"`
	TokenOut string  `json:"tokenOut"`
	AmountIn float64 `json:"amountIn"`
	Slippage float64 `json:"slippage"`
}

// Job wraps one order execution for the queue. OrderID doubles as the
// deduplication key: at most one job per order id is pending or running.
type Job struct {
	OrderID    string    `json:"order_id"`
	Request    Request   `json:"request"`
	Attempts   int       `json:"attempts"` // delivery attempts already made
	EnqueuedAt time.Time `json:"enqueued_at"`
}
