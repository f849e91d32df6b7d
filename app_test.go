package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"gg.chat/audit"
	"gg.chat/config"
	"gg.chat/personality"
	"gg.chat/providers"
	"gg.chat/session"
	"gg.chat/tokens"
)

// scriptedProvider streams a fixed reply. With gate set, the call blocks
// until gate is closed or the request is cancelled.
type scriptedProvider struct {
	fragments []string
	err       error
	gate      chan struct{}
	started   chan struct{}

	mu      sync.Mutex
	calls   []providers.GenerationConfig
	prompts []string
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Info() providers.ProviderInfo {
	return providers.ProviderInfo{Name: "scripted", Model: "test-model", Credential: "TEST_KEY", CredentialPresent: true}
}

func (p *scriptedProvider) ValidateConfig() error { return nil }

func (p *scriptedProvider) Complete(ctx context.Context, msgs []providers.Message, gen providers.GenerationConfig) *providers.Completion {
	p.mu.Lock()
	p.calls = append(p.calls, gen)
	p.prompts = append(p.prompts, msgs[len(msgs)-1].Content)
	p.mu.Unlock()

	if p.err != nil {
		return providers.FailedCompletion("scripted", p.err)
	}
	return providers.NewCompletion(ctx, "scripted", "TEST_KEY", func(ctx context.Context, stream chan<- providers.StreamChunk) {
		defer close(stream)
		if p.started != nil {
			close(p.started)
		}
		if p.gate != nil {
			select {
			case <-p.gate:
			case <-ctx.Done():
				return
			}
		}
		for _, f := range p.fragments {
			select {
			case stream <- providers.StreamChunk{Data: f}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case stream <- providers.StreamChunk{Done: true}:
		case <-ctx.Done():
		}
	})
}

func (p *scriptedProvider) lastCall() providers.GenerationConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[len(p.calls)-1]
}

func (p *scriptedProvider) lastPrompt() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.prompts[len(p.prompts)-1]
}

func newTestApp(t *testing.T, p providers.Provider) *app {
	t.Helper()
	cfg := config.Default()
	cfg.Server = config.ServerConfig{HighPortMode: true, HTTPPort: 8080, SSHPort: 2222, DNSPort: 8053}
	a := &app{
		cfg:      cfg,
		catalog:  personality.BuiltinCatalog(),
		provider: p,
		recorder: audit.Nop{},
		counter:  tokens.HeuristicCounter{},
		limiter:  newRateLimiter(1000, 1000),
		started:  time.Now(),
	}
	a.sessions = session.NewStore(func(id string) *session.Session {
		return a.newSession(id, surfaceWeb)
	}, time.Hour)
	return a
}

func TestNewAppFromConfig(t *testing.T) {
	for _, key := range []string{"GROQ_API_KEY", "HF_TOKEN"} {
		t.Setenv(key, "")
	}
	cfg := config.Default()
	cfg.Provider = "huggingface"
	cfg.HuggingFace.APIKey = "hf_test"
	cfg.Audit = config.AuditConfig{Enabled: true, DB: t.TempDir() + "/audit.db"}

	a, err := newApp(cfg)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()

	if a.provider.Name() != providers.HuggingFaceName {
		t.Errorf("provider = %s", a.provider.Name())
	}
	if a.audit == nil {
		t.Error("audit store not opened")
	}
	sess, created := a.sessions.GetOrCreate("")
	if !created || sess.Personality().ID != personality.DefaultID {
		t.Errorf("session = %v, %v", sess.Personality().ID, created)
	}

	cfg.Provider = "openai"
	if _, err := newApp(cfg); err == nil {
		t.Error("unknown provider accepted")
	}
}

func errUnavailable() error {
	return &providers.Error{Kind: providers.ProviderUnavailable, Provider: "scripted", Credential: "TEST_KEY", Status: 503}
}
