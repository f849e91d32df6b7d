package providers

import (
	"context"
	"log"
	"time"
)

const (
	GroqName       = "groq"
	GroqURL        = "https://api.groq.com/openai/v1/chat/completions"
	GroqModel      = "llama-3.3-70b-versatile"
	GroqCredential = "GROQ_API_KEY"
)

// StreamingProvider talks to a token-streaming chat completions endpoint
// (Groq by default). It honours both delivery modes.
type StreamingProvider struct {
	openAICompatible
}

// NewStreamingProvider creates a streaming provider; empty fields take the Groq defaults
func NewStreamingProvider(cfg ProviderConfig) *StreamingProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = GroqURL
	}
	if cfg.Model == "" {
		cfg.Model = GroqModel
	}
	if cfg.Credential == "" {
		cfg.Credential = GroqCredential
	}
	cfg.SupportsTemperature = true
	return &StreamingProvider{openAICompatible: newOpenAICompatible(GroqName, cfg)}
}

func (p *StreamingProvider) Name() string { return p.name }

func (p *StreamingProvider) Info() ProviderInfo { return p.info(true) }

func (p *StreamingProvider) ValidateConfig() error { return p.validate() }

// Complete starts the request. In Incremental mode fragments are forwarded
// as the server sends them; in Blocking mode the whole text arrives as one
// fragment.
func (p *StreamingProvider) Complete(ctx context.Context, messages []Message, gen GenerationConfig) *Completion {
	if err := p.precheck(messages); err != nil {
		return FailedCompletion(p.name, err)
	}

	incremental := gen.Mode == Incremental
	req := p.TranslateRequest(messages, gen, incremental)

	return NewCompletion(ctx, p.name, p.cfg.Credential, func(ctx context.Context, stream chan<- StreamChunk) {
		start := time.Now()
		if incremental {
			if err := p.Stream(ctx, req, stream); err != nil {
				log.Printf("[%s] Stream failed after %s: %v", p.name, elapsed(start), err)
				return
			}
			log.Printf("[%s] Stream finished in %s", p.name, elapsed(start))
			return
		}

		defer close(stream)
		text, usage, err := p.blocking(ctx, req)
		if err != nil {
			log.Printf("[%s] Request failed after %s: %v", p.name, elapsed(start), err)
			send(ctx, stream, StreamChunk{Error: err})
			return
		}
		log.Printf("[%s] Request finished in %s", p.name, elapsed(start))
		if send(ctx, stream, StreamChunk{Data: text}) {
			send(ctx, stream, StreamChunk{Done: true, Usage: usage})
		}
	})
}

// blocking runs a non-streaming request; empty content is a MalformedResponse
func (p *StreamingProvider) blocking(ctx context.Context, req *ProviderRequest) (string, *Usage, error) {
	resp, err := p.Execute(ctx, req)
	if err != nil {
		return "", nil, err
	}
	text, usage, ok := p.TranslateResponse(resp)
	if !ok {
		return "", usage, &Error{Kind: MalformedResponse, Provider: p.name, Credential: p.cfg.Credential,
			Status: resp.StatusCode, Err: errNoContent}
	}
	return text, usage, nil
}
