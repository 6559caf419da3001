package agent

import (
	"strings"

	"github.com/loomlab/loom/pkg/store"
)

// modelRate is USD per million tokens
type modelRate struct {
	input  float64
	output float64
}

// Rates by model family prefix; longest matching prefix wins. Unknown
// models estimate at zero rather than guessing.
var modelRates = map[string]modelRate{
	"claude-3-5-haiku": {input: 0.80, output: 4.00},
	"claude-haiku":     {input: 1.00, output: 5.00},
	"claude-sonnet":    {input: 3.00, output: 15.00},
	"claude-opus":      {input: 15.00, output: 75.00},
	"gpt-4o-mini":      {input: 0.15, output: 0.60},
	"gpt-4o":           {input: 2.50, output: 10.00},
	"gpt-4.1-mini":     {input: 0.40, output: 1.60},
	"gpt-4.1":          {input: 2.00, output: 8.00},
	"o3":               {input: 2.00, output: 8.00},
}

// EstimateCost fills in the estimated USD cost for a usage record
func EstimateCost(model string, usage store.Usage) store.Usage {
	var best string
	for prefix := range modelRates {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}

	if best == "" {
		return usage
	}

	rate := modelRates[best]
	usage.CostUSD = float64(usage.InputTokens)*rate.input/1e6 +
		float64(usage.OutputTokens)*rate.output/1e6
	return usage
}
