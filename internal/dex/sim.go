package dex

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SimConfig tunes the simulated provider.
type SimConfig struct {
	BasePrice        float64 // mid price quotes scatter around
	ExecVarianceLow  float64 // executed price multiplier lower bound
	ExecVarianceHigh float64 // executed price multiplier upper bound
	SettleLatMinMs   int     // simulated settlement latency bounds
	SettleLatMaxMs   int
	MaxLiquidity     float64
	Seed             int64 // 0 seeds from the clock
}

// DefaultSimConfig returns simulation parameters matching mainnet-ish
// behaviour: ±0.5% execution variance, 2-3s settlement.
func DefaultSimConfig(basePrice float64) SimConfig {
	if basePrice <= 0 {
		basePrice = 100
	}
	return SimConfig{
		BasePrice:        basePrice,
		ExecVarianceLow:  0.995,
		ExecVarianceHigh: 1.005,
		SettleLatMinMs:   2000,
		SettleLatMaxMs:   3000,
		MaxLiquidity:     1000,
	}
}

// SimProvider simulates venue quoting and settlement with randomized
// prices and latency. Safe for concurrent use.
type SimProvider struct {
	venues map[string]Venue
	cfg    SimConfig

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSimProvider(venues []Venue, cfg SimConfig) *SimProvider {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	byName := make(map[string]Venue, len(venues))
	for _, v := range venues {
		byName[v.Name] = v
	}
	return &SimProvider{
		venues: byName,
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Quote returns a randomized offer for the venue after its simulated
// network latency.
func (p *SimProvider) Quote(ctx context.Context, venue string, params TradeParams) (Quote, error) {
	v, ok := p.venues[venue]
	if !ok {
		return Quote{}, ErrUnknownVenue
	}

	if err := sleepCtx(ctx, p.latency(v.QuoteLatMinMs, v.QuoteLatMaxMs)); err != nil {
		return Quote{}, err
	}

	p.mu.Lock()
	price := p.cfg.BasePrice * randBetween(p.rng, v.PriceBandLow, v.PriceBandHigh)
	liquidity := p.rng.Float64() * p.cfg.MaxLiquidity
	p.mu.Unlock()

	return Quote{
		Venue:     v.Name,
		Price:     price,
		Fee:       v.Fee,
		Liquidity: liquidity,
	}, nil
}

// Execute settles the swap after a bounded network delay. The executed
// price is the quoted price perturbed by the configured variance; results
// below the acceptance floor fail with a SlippageError.
func (p *SimProvider) Execute(ctx context.Context, venue string, params SwapParams) (Execution, error) {
	if _, ok := p.venues[venue]; !ok {
		return Execution{}, ErrUnknownVenue
	}

	if err := sleepCtx(ctx, p.latency(p.cfg.SettleLatMinMs, p.cfg.SettleLatMaxMs)); err != nil {
		return Execution{}, err
	}

	p.mu.Lock()
	executed := params.Price * randBetween(p.rng, p.cfg.ExecVarianceLow, p.cfg.ExecVarianceHigh)
	p.mu.Unlock()

	floor := SlippageFloor(params.Price, params.Slippage)
	if executed < floor {
		return Execution{}, &SlippageError{Executed: executed, Floor: floor}
	}

	return Execution{
		TxHash:        newTxHash(),
		ExecutedPrice: executed,
	}, nil
}

func (p *SimProvider) latency(minMs, maxMs int) time.Duration {
	if minMs < 0 {
		minMs = 0
	}
	if maxMs < minMs {
		maxMs = minMs
	}
	span := maxMs - minMs
	ms := minMs
	if span > 0 {
		p.mu.Lock()
		ms += p.rng.Intn(span + 1)
		p.mu.Unlock()
	}
	return time.Duration(ms) * time.Millisecond
}

// newTxHash fabricates a base58-looking signature the way the settlement
// network formats them.
func newTxHash() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "5" + raw
}

func randBetween(rng *rand.Rand, a, b float64) float64 {
	return a + rng.Float64()*(b-a)
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
