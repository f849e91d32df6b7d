package providers

import (
	"context"
	"errors"
	"log"
	"time"
)

const (
	HuggingFaceName       = "huggingface"
	HuggingFaceURL        = "https://router.huggingface.co/v1/chat/completions"
	HuggingFaceModel      = "meta-llama/Llama-3.1-8B-Instruct"
	HuggingFaceCredential = "HF_TOKEN"
)

// PlaceholderText stands in for a reply the backend answered without content
const PlaceholderText = "I'm sorry, I couldn't generate a response."

var errNoContent = errors.New("response contained no message content")

// BlockingProvider talks to a whole-response inference endpoint (Hugging
// Face by default). Every call returns the full text as a single fragment,
// whatever delivery mode was asked for.
type BlockingProvider struct {
	openAICompatible
}

// NewBlockingProvider creates a blocking provider; empty fields take the Hugging Face defaults
func NewBlockingProvider(cfg ProviderConfig) *BlockingProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = HuggingFaceURL
	}
	if cfg.Model == "" {
		cfg.Model = HuggingFaceModel
	}
	if cfg.Credential == "" {
		cfg.Credential = HuggingFaceCredential
	}
	return &BlockingProvider{openAICompatible: newOpenAICompatible(HuggingFaceName, cfg)}
}

func (p *BlockingProvider) Name() string { return p.name }

func (p *BlockingProvider) Info() ProviderInfo { return p.info(false) }

func (p *BlockingProvider) ValidateConfig() error { return p.validate() }

// Complete runs the request to completion. A success response without
// extractable content degrades to PlaceholderText instead of failing.
func (p *BlockingProvider) Complete(ctx context.Context, messages []Message, gen GenerationConfig) *Completion {
	if err := p.precheck(messages); err != nil {
		return FailedCompletion(p.name, err)
	}

	req := p.TranslateRequest(messages, gen, false)

	return NewCompletion(ctx, p.name, p.cfg.Credential, func(ctx context.Context, stream chan<- StreamChunk) {
		defer close(stream)
		start := time.Now()
		resp, err := p.Execute(ctx, req)
		if err != nil {
			log.Printf("[%s] Request failed after %s: %v", p.name, elapsed(start), err)
			send(ctx, stream, StreamChunk{Error: err})
			return
		}

		text, usage, ok := p.TranslateResponse(resp)
		if !ok {
			log.Printf("[%s] %v, answering with placeholder", p.name, errNoContent)
			text = PlaceholderText
		}
		log.Printf("[%s] Request finished in %s", p.name, elapsed(start))

		if send(ctx, stream, StreamChunk{Data: text}) {
			send(ctx, stream, StreamChunk{Done: true, Usage: usage})
		}
	})
}
