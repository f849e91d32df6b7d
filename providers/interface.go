package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Provider is a hosted completion backend
type Provider interface {
	// Name is a stable identifier ("groq", "huggingface")
	Name() string

	// Info describes the backend for health and UI
	Info() ProviderInfo

	// ValidateConfig reports missing configuration before the first call
	ValidateConfig() error

	// Complete starts a completion. Failures are reported through the
	// returned Completion, never as a panic or a nil value.
	Complete(ctx context.Context, messages []Message, cfg GenerationConfig) *Completion
}

// Message represents a chat message on the wire
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// DeliveryMode selects how generated text is handed back
type DeliveryMode int

const (
	// Blocking returns the whole text at once
	Blocking DeliveryMode = iota
	// Incremental yields text fragments as they arrive
	Incremental
)

func (m DeliveryMode) String() string {
	if m == Incremental {
		return "incremental"
	}
	return "blocking"
}

// ParseDeliveryMode accepts "blocking"/"incremental" (also "stream")
func ParseDeliveryMode(s string) (DeliveryMode, bool) {
	switch s {
	case "blocking", "block", "sync":
		return Blocking, true
	case "incremental", "stream", "streaming":
		return Incremental, true
	}
	return Blocking, false
}

// GenerationConfig carries the per-request generation knobs
type GenerationConfig struct {
	Model           string
	MaxOutputTokens int
	// Temperature is nil when no sampling control should be sent
	Temperature *float64
	Mode        DeliveryMode
}

// Float returns a pointer to v, for optional config fields
func Float(v float64) *float64 {
	return &v
}

// ProviderConfig holds endpoint and credential settings for a backend
type ProviderConfig struct {
	BaseURL string
	Model   string
	APIKey  string
	// Credential is the name of the environment variable holding APIKey
	Credential          string
	Timeout             time.Duration
	SupportsTemperature bool
	// Client overrides the HTTP client (tests)
	Client *http.Client
}

// ProviderInfo contains provider metadata
type ProviderInfo struct {
	Name                string `json:"name"`
	Model               string `json:"model"`
	Endpoint            string `json:"endpoint"`
	Credential          string `json:"credential"`
	CredentialPresent   bool   `json:"credential_present"`
	SupportsStream      bool   `json:"supports_stream"`
	SupportsTemperature bool   `json:"supports_temperature"`
}

// ProviderRequest is the request to send to the provider
type ProviderRequest struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    interface{}
	Timeout time.Duration
}

// ProviderResponse is the response from the provider
type ProviderResponse struct {
	StatusCode int
	Body       json.RawMessage
}

// StreamChunk represents a streaming response chunk
type StreamChunk struct {
	Data  string
	Error error
	Done  bool
	// Usage may accompany the final chunk
	Usage *Usage
}

// Usage tracks token usage reported by the backend
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

var debugMode bool

// SetDebug toggles verbose request logging
func SetDebug(on bool) {
	debugMode = on
}
