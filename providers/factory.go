package providers

import "fmt"

// New builds the backend selected by name: "streaming" (or "groq") and
// "blocking" (or "huggingface").
func New(name string, cfg ProviderConfig) (Provider, error) {
	switch name {
	case "streaming", GroqName, "":
		return NewStreamingProvider(cfg), nil
	case "blocking", HuggingFaceName, "hf":
		return NewBlockingProvider(cfg), nil
	}
	return nil, fmt.Errorf("unknown provider %q (want streaming or blocking)", name)
}

var (
	_ Provider = (*StreamingProvider)(nil)
	_ Provider = (*BlockingProvider)(nil)
)
