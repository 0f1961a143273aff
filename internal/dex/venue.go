package dex

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Venue describes one liquidity source and its simulation parameters.
// The slice order in the config file is the canonical venue order used
// for deterministic tie-breaking.
type Venue struct {
	Name          string  `yaml:"name"`
	Fee           float64 `yaml:"fee"`
	PriceBandLow  float64 `yaml:"price_band_low"`
	PriceBandHigh float64 `yaml:"price_band_high"`
	QuoteLatMinMs int     `yaml:"quote_latency_min_ms"`
	QuoteLatMaxMs int     `yaml:"quote_latency_max_ms"`
}

type venueFile struct {
	Venues []Venue `yaml:"venues"`
}

// DefaultVenues returns the built-in venue set used when no config file
// is provided.
func DefaultVenues() []Venue {
	return []Venue{
		{Name: "raydium", Fee: 0.003, PriceBandLow: 0.98, PriceBandHigh: 1.02, QuoteLatMinMs: 200, QuoteLatMaxMs: 400},
		{Name: "meteora", Fee: 0.002, PriceBandLow: 0.97, PriceBandHigh: 1.03, QuoteLatMinMs: 200, QuoteLatMaxMs: 500},
	}
}

// LoadVenues reads venue definitions from a YAML file.
func LoadVenues(path string) ([]Venue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read venues config: %w", err)
	}

	var file venueFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse venues config: %w", err)
	}
	if len(file.Venues) == 0 {
		return nil, fmt.Errorf("venues config %s defines no venues", path)
	}

	for i := range file.Venues {
		v := &file.Venues[i]
		if v.Name == "" {
			return nil, fmt.Errorf("venues config %s: venue %d has no name", path, i)
		}
		if v.PriceBandLow <= 0 || v.PriceBandHigh < v.PriceBandLow {
			return nil, fmt.Errorf("venues config %s: venue %s has invalid price band", path, v.Name)
		}
	}
	return file.Venues, nil
}
