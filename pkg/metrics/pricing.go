package metrics

import "strings"

// Rate is the USD price of a single token.
type Rate struct {
	Input  float64
	Output float64
}

// PerMillion builds a Rate from per-1M-token prices, the unit providers publish.
func PerMillion(input, output float64) Rate {
	return Rate{Input: input / 1_000_000, Output: output / 1_000_000}
}

const DefaultModel = "gpt-4o-mini"

// Pricing maps model names to token rates. Unknown models use Default.
type Pricing struct {
	Rates   map[string]Rate
	Default Rate
}

// DefaultPricing returns the built-in rate table.
func DefaultPricing() Pricing {
	mini := PerMillion(0.15, 0.60)
	return Pricing{
		Rates: map[string]Rate{
			"gpt-4o-mini":  mini,
			"gpt-4.1-mini": mini,
		},
		Default: mini,
	}
}

// With returns a copy of p with additional or overriding rates.
func (p Pricing) With(overrides map[string]Rate) Pricing {
	out := Pricing{Rates: make(map[string]Rate, len(p.Rates)+len(overrides)), Default: p.Default}
	for model, rate := range p.Rates {
		out.Rates[model] = rate
	}
	for model, rate := range overrides {
		model = strings.ToLower(strings.TrimSpace(model))
		if model == "" {
			continue
		}
		out.Rates[model] = rate
	}
	return out
}

// RateFor resolves exact names first, then the longest known prefix, so dated
// snapshots such as "gpt-4o-mini-2024-07-18" share the base model's price.
func (p Pricing) RateFor(model string) Rate {
	model = strings.ToLower(strings.TrimSpace(model))
	if rate, ok := p.Rates[model]; ok {
		return rate
	}
	best := ""
	for name := range p.Rates {
		if strings.HasPrefix(model, name) && len(name) > len(best) {
			best = name
		}
	}
	if best != "" {
		return p.Rates[best]
	}
	return p.Default
}
