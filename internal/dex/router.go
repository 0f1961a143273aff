package dex

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// priceEpsilon bounds float comparison when ranking quotes by price.
const priceEpsilon = 1e-12

// Router fans a quote request out to every configured venue and picks
// the best offer deterministically.
type Router struct {
	venues   []Venue // canonical order, used for final tie-breaking
	provider Provider
	timeout  time.Duration // per-venue quote deadline
}

func NewRouter(venues []Venue, provider Provider, quoteTimeout time.Duration) *Router {
	if quoteTimeout <= 0 {
		quoteTimeout = 2 * time.Second
	}
	return &Router{venues: venues, provider: provider, timeout: quoteTimeout}
}

// Venues returns the configured venue names in canonical order.
func (r *Router) Venues() []string {
	names := make([]string, len(r.venues))
	for i, v := range r.venues {
		names[i] = v.Name
	}
	return names
}

// BestQuote queries all venues concurrently, each under its own timeout,
// and selects the best of whichever quotes came back. A slow or failing
// venue degrades the decision instead of blocking the order; only when
// every venue fails does the call error with ErrNoRoute.
func (r *Router) BestQuote(ctx context.Context, params TradeParams) (Quote, []Quote, error) {
	if len(r.venues) == 0 {
		return Quote{}, nil, ErrNoRoute
	}

	results := make([]Quote, len(r.venues))
	errs := make([]error, len(r.venues))

	var wg sync.WaitGroup
	for i, v := range r.venues {
		wg.Add(1)
		go func(i int, v Venue) {
			defer wg.Done()
			qctx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()
			q, err := r.provider.Quote(qctx, v.Name, params)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", v.Name, err)
				return
			}
			results[i] = q
		}(i, v)
	}
	wg.Wait()

	// Keep canonical venue order in the gathered slice.
	quotes := make([]Quote, 0, len(r.venues))
	for i := range results {
		if errs[i] != nil {
			log.Printf("router: quote from %s failed: %v", r.venues[i].Name, errs[i])
			continue
		}
		quotes = append(quotes, results[i])
	}

	if len(quotes) == 0 {
		return Quote{}, nil, fmt.Errorf("%w: %s", ErrNoRoute, errors.Join(errs...))
	}

	return SelectBest(quotes), quotes, nil
}

// SelectBest ranks quotes by price (higher is better output), breaking
// near-equal prices by higher liquidity and remaining ties by position in
// the canonical venue order. Never random.
func SelectBest(quotes []Quote) Quote {
	best := quotes[0]
	for _, q := range quotes[1:] {
		switch {
		case q.Price > best.Price+priceEpsilon:
			best = q
		case best.Price > q.Price+priceEpsilon:
			// keep best
		case q.Liquidity > best.Liquidity:
			best = q
		}
	}
	return best
}
