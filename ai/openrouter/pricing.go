package openrouter

// ModelPricing is USD per million tokens
type ModelPricing struct {
	PromptPrice     float64
	CompletionPrice float64
}

// modelPricing covers the models qaflow is usually pointed at.
// Unknown models fall back to the gpt-4o-mini rate.
var modelPricing = map[string]ModelPricing{
	"openai/gpt-4o":                    {PromptPrice: 2.50, CompletionPrice: 10.00},
	"openai/gpt-4o-mini":               {PromptPrice: 0.15, CompletionPrice: 0.60},
	"anthropic/claude-3.5-sonnet":      {PromptPrice: 3.00, CompletionPrice: 15.00},
	"anthropic/claude-3-haiku":         {PromptPrice: 0.25, CompletionPrice: 1.25},
	"meta-llama/llama-3.1-8b-instruct": {PromptPrice: 0.05, CompletionPrice: 0.05},
}

// GetModelPricing returns pricing for a model and whether it was known
func GetModelPricing(model string) (ModelPricing, bool) {
	p, ok := modelPricing[model]
	if !ok {
		return modelPricing[DefaultModel], false
	}
	return p, true
}

// CalculateCost estimates the USD cost of one completion
func CalculateCost(model string, promptTokens, completionTokens int) float64 {
	p, _ := GetModelPricing(model)
	return (float64(promptTokens)*p.PromptPrice + float64(completionTokens)*p.CompletionPrice) / 1_000_000
}
