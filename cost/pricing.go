package cost

import "strings"

// price is USD per million tokens.
type price struct {
	input  float64
	output float64
}

// Prefix matched, longest first wins. Local models are free.
var prices = map[string]price{
	"claude-opus-4":     {15, 75},
	"claude-sonnet-4":   {3, 15},
	"claude-3-5-haiku":  {0.8, 4},
	"claude-haiku-4":    {1, 5},
	"gpt-4o-mini":       {0.15, 0.6},
	"gpt-4o":            {2.5, 10},
	"gpt-4.1-mini":      {0.4, 1.6},
	"gpt-4.1":           {2, 8},
	"gemini-2.5-pro":    {1.25, 10},
	"gemini-2.5-flash":  {0.3, 2.5},
	"gemini-2.0-flash":  {0.1, 0.4},
	"anthropic.claude-": {3, 15},
}

// Estimate returns the USD cost of a call, or 0 for an unknown model.
func Estimate(model string, inputTokens, outputTokens int64) float64 {
	best := ""
	for prefix := range prices {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return 0
	}
	p := prices[best]
	return (float64(inputTokens)*p.input + float64(outputTokens)*p.output) / 1e6
}
