package providers

// Model aliases accepted on the command line and in config.
var modelAliases = map[string]string{
	"sonnet": "claude-sonnet-4-5-20250929",
	"opus":   "claude-opus-4-20250514",
	"haiku":  "claude-3-5-haiku-20241022",
}

// ResolveModel maps an alias to its full model ID. Unknown names pass
// through unchanged so new models work without a code change.
func ResolveModel(name string) string {
	if full, ok := modelAliases[name]; ok {
		return full
	}
	return name
}

// PriceTable maps model IDs to USD cost per million output tokens.
type PriceTable map[string]float64

// DefaultPrices covers the aliased models.
func DefaultPrices() PriceTable {
	return PriceTable{
		"claude-sonnet-4-5-20250929": 3.0,
		"claude-opus-4-20250514":     15.0,
		"claude-3-5-haiku-20241022":  1.0,
	}
}

const fallbackPricePerMTok = 3.0

// CostUSD estimates the cost of the given usage for a model. Models not
// in the table use the fallback rate.
func (p PriceTable) CostUSD(model string, usage Usage) float64 {
	rate, ok := p[ResolveModel(model)]
	if !ok {
		rate = fallbackPricePerMTok
	}
	return float64(usage.Total()) * rate / 1_000_000
}
