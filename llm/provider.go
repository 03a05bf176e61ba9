package llm

import (
	"net/http"
	"strings"
	"sync"
)

// RequestOptions carries the per-request knobs a provider folds into its
// wire format.
type RequestOptions struct {
	// Temperature is nil to use the provider default, or a pointer to an
	// explicit value.
	Temperature *float64

	// MaxTokens limits response length. 0 uses the provider default.
	MaxTokens int

	// JSONMode constrains output to JSON where the provider supports it.
	JSONMode bool
}

// Provider defines the interface for LLM provider implementations.
type Provider interface {
	// Name returns the provider identifier (e.g., "openai", "gemini").
	Name() string

	// BuildURL constructs the full API endpoint URL. endpoint may be empty
	// to use the provider default; model and apiKey are available for
	// providers that address them in the URL.
	BuildURL(endpoint, model, apiKey string) string

	// SetHeaders adds provider-specific headers to the request.
	SetHeaders(req *http.Request, apiKey string)

	// BuildRequestBody creates the JSON request body for the provider.
	BuildRequestBody(model string, messages []Message, opts RequestOptions) ([]byte, error)

	// ParseResponse extracts the completion from provider-specific JSON.
	ParseResponse(body []byte) (*Response, error)
}

// providerRegistry holds registered providers.
var (
	providerRegistry = make(map[string]Provider)
	providerMu       sync.RWMutex
)

// RegisterProvider adds a provider to the registry.
func RegisterProvider(p Provider) {
	providerMu.Lock()
	defer providerMu.Unlock()
	providerRegistry[p.Name()] = p
}

// GetProvider retrieves a provider by name.
func GetProvider(name string) Provider {
	providerMu.RLock()
	defer providerMu.RUnlock()
	return providerRegistry[name]
}

// ListProviders returns all registered provider names.
func ListProviders() []string {
	providerMu.RLock()
	defer providerMu.RUnlock()

	names := make([]string, 0, len(providerRegistry))
	for name := range providerRegistry {
		names = append(names, name)
	}
	return names
}

// ProviderForKey resolves a provider name from an API key prefix: Anthropic
// keys start with "sk-ant-", Google AI keys with "AIza", and anything else
// is treated as OpenAI-compatible.
func ProviderForKey(apiKey string) string {
	switch {
	case strings.HasPrefix(apiKey, "sk-ant-"):
		return "anthropic"
	case strings.HasPrefix(apiKey, "AIza"):
		return "gemini"
	default:
		return "openai"
	}
}
