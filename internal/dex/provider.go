// Package dex models liquidity venues: quoting, best-route selection and
// trade execution behind a provider capability that can be simulated or live.
package dex

import (
	"context"
	"errors"
	"fmt"
)

// TradeParams are the inputs to a quote request.
type TradeParams struct {
	TokenIn  string
	TokenOut string
	AmountIn float64
}

// Quote is one venue's offer for a prospective trade. Ephemeral: it lives
// only for the duration of a single routing decision.
type Quote struct {
	Venue     string  `json:"dex"`
	Price     float64 `json:"price"`
	Fee       float64 `json:"fee"`
	Liquidity float64 `json:"liquidity"`
}

// SwapParams are the inputs to an execution request.
type SwapParams struct {
	AmountIn float64
	Slippage float64 // tolerated fraction below the quoted price, in (0,1]
	Price    float64 // quoted price the floor derives from
}

// Execution is the outcome of a settled trade.
type Execution struct {
	TxHash        string
	ExecutedPrice float64
}

// Provider quotes and executes trades on a named venue. Implementations
// are interchangeable; the pipeline depends only on this contract.
type Provider interface {
	Quote(ctx context.Context, venue string, params TradeParams) (Quote, error)
	Execute(ctx context.Context, venue string, params SwapParams) (Execution, error)
}

// ErrNoRoute reports that no venue produced a usable quote.
var ErrNoRoute = errors.New("no venue reachable for quote")

// ErrUnknownVenue reports a venue name the provider is not configured for.
var ErrUnknownVenue = errors.New("unknown venue")

// SlippageError reports an executed price below the acceptance floor.
type SlippageError struct {
	Executed float64
	Floor    float64
}

func (e *SlippageError) Error() string {
	return fmt.Sprintf("slippage exceeded: got %.4f, min %.4f", e.Executed, e.Floor)
}

// SlippageFloor is the minimum acceptable executed price for a quote.
func SlippageFloor(quotedPrice, slippage float64) float64 {
	return quotedPrice * (1 - slippage)
}
