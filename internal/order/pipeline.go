package order

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"swap-core/internal/dex"
	"swap-core/internal/monitor"
	"swap-core/internal/stream"
	"swap-core/pkg/db"
)

// Pipeline drives one order through its lifecycle:
// pending -> routing -> building -> submitted -> confirmed|failed.
// Each stage persists the order row first, then broadcasts the matching
// status event, so observers see transitions in pipeline order.
type Pipeline struct {
	DB          *db.Database
	Broadcaster *stream.Broadcaster
	Router      *dex.Router
	Provider    dex.Provider
	Metrics     *monitor.SystemMetrics // optional
	SubmitDelay time.Duration          // settlement-network delay before "submitted"
}

// Run executes the full pipeline for one delivery. attempt is the
// 1-based delivery count for this job. Any stage error forces the failed
// transition and is returned so the queue's retry policy applies; a
// retried order restarts from pending, there is no partial rollback.
func (p *Pipeline) Run(ctx context.Context, job Job, attempt int) error {
	orderID := job.OrderID
	req := job.Request

	log.Printf("pipeline: [%s] attempt %d: %g %s -> %s", orderID, attempt, req.AmountIn, req.TokenIn, req.TokenOut)

	// pending -> routing. A redelivery restarts the lifecycle, so any
	// result columns from the failed attempt are wiped here.
	if err := p.update(ctx, orderID, db.OrderUpdate{
		Status:       db.String(StatusRouting),
		Attempts:     db.Int(attempt),
		ClearResults: true,
	}); err != nil {
		return p.fail(ctx, orderID, err)
	}
	p.Broadcaster.Publish(orderID, stream.Event{
		Status:  StatusPending,
		Message: "Order received and queued",
	})

	// routing: concurrent venue fan-out, deterministic selection
	quoteStart := time.Now()
	chosen, quotes, err := p.Router.BestQuote(ctx, dex.TradeParams{
		TokenIn:  req.TokenIn,
		TokenOut: req.TokenOut,
		AmountIn: req.AmountIn,
	})
	if p.Metrics != nil {
		p.Metrics.QuoteLatency.RecordDuration(time.Since(quoteStart))
	}
	if err != nil {
		return p.fail(ctx, orderID, err)
	}
	log.Printf("pipeline: [%s] best route %s at %.4f (%d quotes)", orderID, chosen.Venue, chosen.Price, len(quotes))
	p.Broadcaster.Publish(orderID, stream.Event{
		Status:  StatusRouting,
		Message: fmt.Sprintf("Best route found: %s", chosen.Venue),
		Data: map[string]any{
			"chosen": chosen,
			"quotes": quotes,
		},
	})

	// routing -> building
	if err := p.update(ctx, orderID, db.OrderUpdate{Status: db.String(StatusBuilding)}); err != nil {
		return p.fail(ctx, orderID, err)
	}
	p.Broadcaster.Publish(orderID, stream.Event{
		Status:  StatusBuilding,
		Message: "Constructing transaction...",
	})

	// Native SOL needs a wrap step before it can trade; informational
	// only, the simulated venues accept either form.
	if strings.EqualFold(req.TokenIn, "SOL") {
		log.Printf("pipeline: [%s] native SOL detected, wrapping to wSOL", orderID)
	}

	// building -> submitted
	if err := sleepCtx(ctx, p.SubmitDelay); err != nil {
		return p.fail(ctx, orderID, err)
	}
	if err := p.update(ctx, orderID, db.OrderUpdate{Status: db.String(StatusSubmitted)}); err != nil {
		return p.fail(ctx, orderID, err)
	}
	p.Broadcaster.Publish(orderID, stream.Event{
		Status:  StatusSubmitted,
		Message: "Transaction sent to network",
	})

	// submitted -> confirmed|failed
	exec, err := p.Provider.Execute(ctx, chosen.Venue, dex.SwapParams{
		AmountIn: req.AmountIn,
		Slippage: req.Slippage,
		Price:    chosen.Price,
	})
	if err != nil {
		return p.fail(ctx, orderID, err)
	}

	if err := p.update(ctx, orderID, db.OrderUpdate{
		Status:        db.String(StatusConfirmed),
		Dex:           db.String(chosen.Venue),
		TxHash:        db.String(exec.TxHash),
		ExecutedPrice: db.Float(exec.ExecutedPrice),
	}); err != nil {
		return p.fail(ctx, orderID, err)
	}
	p.Broadcaster.Publish(orderID, stream.Event{
		Status:        StatusConfirmed,
		TxHash:        exec.TxHash,
		ExecutedPrice: exec.ExecutedPrice,
		Dex:           chosen.Venue,
	})

	log.Printf("pipeline: [%s] confirmed, tx=%s price=%.4f", orderID, exec.TxHash, exec.ExecutedPrice)
	return nil
}

// fail records the terminal failed state for this attempt, broadcasts it
// and returns cause for the queue to apply its retry policy.
func (p *Pipeline) fail(ctx context.Context, orderID string, cause error) error {
	log.Printf("pipeline: [%s] failed: %v", orderID, cause)

	if err := p.update(ctx, orderID, db.OrderUpdate{
		Status: db.String(StatusFailed),
		Error:  db.String(cause.Error()),
	}); err != nil {
		log.Printf("pipeline: [%s] persist failed state: %v", orderID, err)
	}
	p.Broadcaster.Publish(orderID, stream.Event{
		Status: StatusFailed,
		Error:  cause.Error(),
	})
	return cause
}

func (p *Pipeline) update(ctx context.Context, orderID string, u db.OrderUpdate) error {
	start := time.Now()
	err := p.DB.UpdateOrder(ctx, orderID, u)
	if p.Metrics != nil {
		p.Metrics.DBLatency.RecordDuration(time.Since(start))
	}
	if err != nil {
		return fmt.Errorf("persist order %s: %w", orderID, err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
