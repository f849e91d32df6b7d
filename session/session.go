package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"gg.chat/audit"
	"gg.chat/personality"
	"gg.chat/providers"
	"gg.chat/tokens"
	"gg.chat/transcript"
)

// State of the conversation state machine
type State int

const (
	Idle State = iota
	// AwaitingPersonalityPrompt is held while the outbound request is built
	AwaitingPersonalityPrompt
	RequestInFlight
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingPersonalityPrompt:
		return "awaiting_personality_prompt"
	case RequestInFlight:
		return "request_in_flight"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	// ErrEmptySubmission rejects blank user input before it reaches the transcript
	ErrEmptySubmission = errors.New("message is empty")
	// ErrRequestInFlight rejects events that are only valid while idle
	ErrRequestInFlight = errors.New("a reply is still being generated")
)

const (
	changedFormat = "Personality changed to %s! 🎉"
	changedHint   = "Clear chat history to see the new personality in action from the start!"
)

// Surface is where a session renders the conversation
type Surface interface {
	RenderTurn(role transcript.Role, content string)
	RenderPartial(cumulative string)
	Notify(message string)
	ClearAndShow(welcome transcript.Turn)
}

// Session is one user's conversation: the transcript, the active
// personality and the request cycle that keeps them consistent.
type Session struct {
	id       string
	catalog  *personality.Catalog
	provider providers.Provider
	gen      providers.GenerationConfig
	recorder audit.Recorder
	counter  tokens.Counter
	now      func() time.Time

	mu         sync.Mutex
	state      State
	active     personality.Personality
	transcript *transcript.Transcript
	cancel     context.CancelFunc
	lastActive time.Time
}

// Option configures a Session
type Option func(*Session)

// WithPersonality selects the starting personality (default on unknown ids)
func WithPersonality(id string) Option {
	return func(s *Session) {
		s.active = s.catalog.Resolve(id)
	}
}

// WithRecorder stores every finished round
func WithRecorder(r audit.Recorder) Option {
	return func(s *Session) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithTokenCounter counts tokens for the audit log when the backend does not report usage
func WithTokenCounter(c tokens.Counter) Option {
	return func(s *Session) {
		if c != nil {
			s.counter = c
		}
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// New creates a session whose transcript starts with the active
// personality's welcome message.
func New(id string, catalog *personality.Catalog, provider providers.Provider, gen providers.GenerationConfig, opts ...Option) *Session {
	s := &Session{
		id:         id,
		catalog:    catalog,
		provider:   provider,
		gen:        gen,
		recorder:   audit.Nop{},
		counter:    tokens.HeuristicCounter{},
		now:        time.Now,
		active:     catalog.Default(),
		transcript: transcript.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.transcript.Reset(s.active.Welcome)
	s.lastActive = s.now()
	return s
}

// Submit runs one round: the user's text goes into the transcript, the
// provider is asked for a reply, and the reply (or a diagnostic if the
// provider failed) is appended as the assistant turn. Provider failures are
// not returned; they become part of the conversation.
func (s *Session) Submit(ctx context.Context, surface Surface, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptySubmission
	}
	surface = orNop(surface)

	s.mu.Lock()
	if s.state != Idle {
		s.mu.Unlock()
		return ErrRequestInFlight
	}
	if err := s.transcript.Append(transcript.RoleUser, text); err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = AwaitingPersonalityPrompt
	active := s.active
	request := s.transcript.AsRequestMessages(active.SystemPrompt)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancel = cancel
	s.state = RequestInFlight
	s.lastActive = s.now()
	s.mu.Unlock()

	surface.RenderTurn(transcript.RoleUser, text)

	start := s.now()
	messages := toMessages(request)
	completion := s.provider.Complete(ctx, messages, s.gen)

	var partial strings.Builder
	for {
		fragment, ok := completion.Next()
		if !ok {
			break
		}
		partial.WriteString(fragment)
		surface.RenderPartial(partial.String())
	}

	reply := completion.Text()
	err := completion.Err()
	if err != nil {
		log.Printf("[Session %s] %s round failed: %v", s.id, s.provider.Name(), err)
		reply = providers.Diagnostic(err)
	}

	s.mu.Lock()
	// Assistant turns are always accepted by the transcript.
	_ = s.transcript.Append(transcript.RoleAssistant, reply)
	s.mu.Unlock()

	surface.RenderTurn(transcript.RoleAssistant, reply)

	s.mu.Lock()
	s.state = Idle
	s.cancel = nil
	s.lastActive = s.now()
	s.mu.Unlock()

	s.record(ctx, active, messages, completion, reply, err, s.now().Sub(start))
	return nil
}

// Cancel aborts the in-flight request, if any. The round still completes:
// the transcript gains the user turn and a cancellation diagnostic.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

// ChangePersonality switches the personality used for future requests.
// Unknown ids fall back to the default. Stored turns are left alone.
// Selecting the active personality again is a no-op and reports false.
func (s *Session) ChangePersonality(surface Surface, id string) (personality.Personality, bool, error) {
	surface = orNop(surface)

	s.mu.Lock()
	if s.state != Idle {
		s.mu.Unlock()
		return s.active, false, ErrRequestInFlight
	}
	if _, err := s.catalog.Get(id); err != nil {
		log.Printf("[Session %s] %v, using %s", s.id, err, s.catalog.Default().ID)
	}
	next := s.catalog.Resolve(id)
	if next.ID == s.active.ID {
		s.mu.Unlock()
		return next, false, nil
	}
	s.active = next
	s.lastActive = s.now()
	s.mu.Unlock()

	surface.Notify(fmt.Sprintf(changedFormat, next.Label))
	surface.Notify(changedHint)
	return next, true, nil
}

// Reset clears the transcript back to the active personality's welcome
func (s *Session) Reset(surface Surface) error {
	surface = orNop(surface)

	s.mu.Lock()
	if s.state != Idle {
		s.mu.Unlock()
		return ErrRequestInFlight
	}
	s.transcript.Reset(s.active.Welcome)
	welcome, _ := s.transcript.Last()
	s.lastActive = s.now()
	s.mu.Unlock()

	surface.ClearAndShow(welcome)
	return nil
}

// ID returns the session id
func (s *Session) ID() string {
	return s.id
}

// Snapshot returns the transcript in order
func (s *Session) Snapshot() []transcript.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript.Snapshot()
}

// State returns the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Personality returns the active personality
func (s *Session) Personality() personality.Personality {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// LastActive returns when the session last changed
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *Session) record(ctx context.Context, active personality.Personality, messages []providers.Message,
	completion *providers.Completion, reply string, err error, took time.Duration) {

	entry := audit.Entry{
		SessionID:   s.id,
		Timestamp:   s.now(),
		Personality: active.ID,
		Provider:    s.provider.Name(),
		Model:       s.provider.Info().Model,
		Input:       messages,
		Output:      reply,
		Duration:    took,
	}
	if s.gen.Model != "" {
		entry.Model = s.gen.Model
	}
	if usage, ok := completion.Usage(); ok {
		entry.InputTokens = usage.PromptTokens
		entry.OutputTokens = usage.CompletionTokens
	} else {
		for _, m := range messages {
			entry.InputTokens += s.counter.Count(m.Content)
		}
		entry.OutputTokens = s.counter.Count(completion.Text())
	}
	if err != nil {
		entry.ErrorKind = providers.KindOf(err).String()
		entry.Error = err.Error()
	}

	// The round is over; a cancelled request context must not drop the record.
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if rerr := s.recorder.Record(recCtx, entry); rerr != nil {
		log.Printf("[Session %s] audit: %v", s.id, rerr)
	}
}

func toMessages(turns []transcript.Turn) []providers.Message {
	out := make([]providers.Message, len(turns))
	for i, t := range turns {
		out[i] = providers.Message{Role: string(t.Role), Content: t.Content}
	}
	return out
}

type nopSurface struct{}

func (nopSurface) RenderTurn(transcript.Role, string) {}
func (nopSurface) RenderPartial(string)               {}
func (nopSurface) Notify(string)                      {}
func (nopSurface) ClearAndShow(transcript.Turn)       {}

func orNop(s Surface) Surface {
	if s == nil {
		return nopSurface{}
	}
	return s
}
