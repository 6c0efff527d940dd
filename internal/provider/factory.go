package provider

import (
	"fmt"
	"time"
)

// New builds a concrete provider for the declared client type. An
// unknown type is a configuration error and must fail construction,
// never be deferred to message time.
func New(clientType ClientType, apiKey, model, baseURL string, timeout time.Duration) (Provider, error) {
	switch clientType {
	case ClientTypeOpenAI:
		return NewOpenAIProvider(apiKey, model, baseURL, timeout), nil
	case ClientTypeGemini:
		return NewGeminiProvider(apiKey, model, baseURL, timeout), nil
	case ClientTypeAnthropic:
		return NewAnthropicProvider(apiKey, model, baseURL, timeout), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", clientType)
	}
}
