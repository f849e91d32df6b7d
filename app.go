package main

import (
	"fmt"
	"log"
	"strings"
	"time"

	"gg.chat/audit"
	"gg.chat/config"
	"gg.chat/personality"
	"gg.chat/providers"
	"gg.chat/session"
	"gg.chat/tokens"
)

// app wires the shared pieces every surface talks to
type app struct {
	cfg      *config.Config
	catalog  *personality.Catalog
	provider providers.Provider
	recorder audit.Recorder
	audit    *audit.Store // nil unless ENABLE_LLM_AUDIT
	counter  tokens.Counter
	sessions *session.Store
	limiter  *rateLimiter
	started  time.Time
}

func newApp(cfg *config.Config) (*app, error) {
	catalog, err := personality.Load(cfg.Personality.File, cfg.Personality.Default)
	if err != nil {
		return nil, fmt.Errorf("load personalities: %w", err)
	}

	provider, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}
	if err := provider.ValidateConfig(); err != nil {
		// Not fatal: the chat shows the diagnostic on the first message.
		log.Printf("[Provider] WARNING: %v", err)
	}

	a := &app{
		cfg:      cfg,
		catalog:  catalog,
		provider: provider,
		recorder: audit.Nop{},
		counter:  tokens.NewCounter(),
		limiter:  newRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
		started:  time.Now(),
	}

	if cfg.Audit.Enabled {
		store, err := audit.Open(cfg.Audit.DB)
		if err != nil {
			return nil, err
		}
		a.audit = store
		a.recorder = store
	}

	a.sessions = session.NewStore(func(id string) *session.Session {
		return a.newSession(id, surfaceWeb)
	}, cfg.SessionTTL.Std())

	info := provider.Info()
	log.Printf("[Provider] Using %s (model=%s, endpoint=%s, %s set=%v)",
		info.Name, info.Model, info.Endpoint, info.Credential, info.CredentialPresent)
	log.Printf("[Personality] %d personalities, default %s", len(catalog.List()), catalog.Default().ID)
	return a, nil
}

// newProvider builds the backend named by CHAT_PROVIDER
func newProvider(cfg *config.Config) (providers.Provider, error) {
	b := cfg.Backend()
	return providers.New(strings.ToLower(cfg.Provider), providers.ProviderConfig{
		BaseURL: b.URL,
		Model:   b.Model,
		APIKey:  b.APIKey,
		Timeout: cfg.Timeout.Std(),
	})
}

// newSession creates a session configured for one surface
func (a *app) newSession(id, surface string) *session.Session {
	return session.New(id, a.catalog, a.provider, getServiceConfig(surface),
		session.WithPersonality(a.catalog.Default().ID),
		session.WithRecorder(a.recorder),
		session.WithTokenCounter(a.counter),
	)
}

func (a *app) Close() error {
	if a.audit != nil {
		return a.audit.Close()
	}
	return nil
}
