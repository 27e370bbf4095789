package provider

// xAI serves an OpenAI-compatible chat completions API.
const (
	xaiDefaultBase  = "https://api.x.ai/v1"
	xaiDefaultModel = "grok-3"
)

// NewXAIProvider returns an OpenAIProvider pointed at xAI. An empty apiBase
// or model selects xAI's defaults.
func NewXAIProvider(apiKey, apiBase, model string) *OpenAIProvider {
	if apiBase == "" {
		apiBase = xaiDefaultBase
	}
	if model == "" {
		model = xaiDefaultModel
	}
	return NewOpenAIProvider(apiKey, apiBase, model)
}
