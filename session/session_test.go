package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"gg.chat/audit"
	"gg.chat/personality"
	"gg.chat/providers"
	"gg.chat/transcript"
)

// fakeProvider replays scripted fragments, optionally holding the call open
// until gate is closed.
type fakeProvider struct {
	fragments []string
	err       error
	usage     *providers.Usage
	gate      chan struct{}
	started   chan struct{}

	mu       sync.Mutex
	requests [][]providers.Message
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Info() providers.ProviderInfo {
	return providers.ProviderInfo{Name: "fake", Model: "fake-model", Credential: "FAKE_KEY"}
}

func (f *fakeProvider) ValidateConfig() error { return nil }

func (f *fakeProvider) Complete(ctx context.Context, messages []providers.Message, _ providers.GenerationConfig) *providers.Completion {
	f.mu.Lock()
	f.requests = append(f.requests, append([]providers.Message(nil), messages...))
	f.mu.Unlock()

	if f.err != nil && len(f.fragments) == 0 {
		return providers.FailedCompletion("fake", f.err)
	}
	return providers.NewCompletion(ctx, "fake", "FAKE_KEY", func(ctx context.Context, stream chan<- providers.StreamChunk) {
		defer close(stream)
		if f.started != nil {
			close(f.started)
		}
		if f.gate != nil {
			select {
			case <-f.gate:
			case <-ctx.Done():
				return
			}
		}
		for _, frag := range f.fragments {
			select {
			case stream <- providers.StreamChunk{Data: frag}:
			case <-ctx.Done():
				return
			}
		}
		last := providers.StreamChunk{Done: true, Usage: f.usage}
		if f.err != nil {
			last = providers.StreamChunk{Error: f.err}
		}
		select {
		case stream <- last:
		case <-ctx.Done():
		}
	})
}

func (f *fakeProvider) lastRequest() []providers.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return nil
	}
	return f.requests[len(f.requests)-1]
}

type recordingSurface struct {
	mu       sync.Mutex
	turns    []transcript.Turn
	partials []string
	notes    []string
	cleared  []transcript.Turn
}

func (r *recordingSurface) RenderTurn(role transcript.Role, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns = append(r.turns, transcript.Turn{Role: role, Content: content})
}

func (r *recordingSurface) RenderPartial(cumulative string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.partials = append(r.partials, cumulative)
}

func (r *recordingSurface) Notify(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, message)
}

func (r *recordingSurface) ClearAndShow(welcome transcript.Turn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleared = append(r.cleared, welcome)
}

type memoryRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (m *memoryRecorder) Record(_ context.Context, e audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func newSession(t *testing.T, p providers.Provider, opts ...Option) *Session {
	t.Helper()
	return New("test", personality.BuiltinCatalog(), p, providers.GenerationConfig{MaxOutputTokens: 64}, opts...)
}

func welcomeOf(t *testing.T, id string) string {
	t.Helper()
	p, err := personality.BuiltinCatalog().Get(id)
	if err != nil {
		t.Fatal(err)
	}
	return p.Welcome
}

func TestFreshSessionShowsWelcome(t *testing.T) {
	s := newSession(t, &fakeProvider{})

	got := s.Snapshot()
	if len(got) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(got))
	}
	want := transcript.Turn{Role: transcript.RoleAssistant, Content: welcomeOf(t, "Friendly")}
	if got[0] != want {
		t.Errorf("welcome = %+v, want %+v", got[0], want)
	}
	if s.State() != Idle {
		t.Errorf("state = %s", s.State())
	}
}

func TestWithPersonality(t *testing.T) {
	s := newSession(t, &fakeProvider{}, WithPersonality("humorous"))
	if s.Personality().ID != "Humorous" {
		t.Errorf("personality = %s", s.Personality().ID)
	}
	if s.Snapshot()[0].Content != welcomeOf(t, "Humorous") {
		t.Error("welcome does not match personality")
	}

	s = newSession(t, &fakeProvider{}, WithPersonality("Pirate"))
	if s.Personality().ID != personality.DefaultID {
		t.Errorf("unknown personality resolved to %s", s.Personality().ID)
	}
}

func TestSubmitSuccess(t *testing.T) {
	p := &fakeProvider{fragments: []string{"Try ", "Hades", "!"}}
	s := newSession(t, p)
	surface := &recordingSurface{}

	if err := s.Submit(context.Background(), surface, "  recommend a rogue-like  "); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	want := []transcript.Turn{
		{Role: transcript.RoleAssistant, Content: welcomeOf(t, "Friendly")},
		{Role: transcript.RoleUser, Content: "recommend a rogue-like"},
		{Role: transcript.RoleAssistant, Content: "Try Hades!"},
	}
	got := s.Snapshot()
	if len(got) != len(want) {
		t.Fatalf("transcript = %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("turn %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	wantPartials := []string{"Try ", "Try Hades", "Try Hades!"}
	if strings.Join(surface.partials, "|") != strings.Join(wantPartials, "|") {
		t.Errorf("partials = %q", surface.partials)
	}
	if len(surface.turns) != 2 || surface.turns[0].Role != transcript.RoleUser || surface.turns[1].Content != "Try Hades!" {
		t.Errorf("rendered turns = %+v", surface.turns)
	}
	if s.State() != Idle {
		t.Errorf("state = %s", s.State())
	}
}

func TestFragmentsConcatenateToFinalTurn(t *testing.T) {
	tests := [][]string{
		{"single"},
		{"a", "b", "c", "d"},
		{"multi\nline ", "reply ", "🎮"},
	}
	for i, fragments := range tests {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			s := newSession(t, &fakeProvider{fragments: fragments})
			surface := &recordingSurface{}
			if err := s.Submit(context.Background(), surface, "hi"); err != nil {
				t.Fatal(err)
			}
			last := s.Snapshot()[2].Content
			if last != strings.Join(fragments, "") {
				t.Errorf("final turn %q, fragments %q", last, fragments)
			}
			if surface.partials[len(surface.partials)-1] != last {
				t.Errorf("last partial %q != final %q", surface.partials[len(surface.partials)-1], last)
			}
		})
	}
}

func TestEmptySubmissionIsNoop(t *testing.T) {
	p := &fakeProvider{fragments: []string{"x"}}
	s := newSession(t, p)

	for _, text := range []string{"", " ", "\t\n", "   \r\n  "} {
		if err := s.Submit(context.Background(), nil, text); !errors.Is(err, ErrEmptySubmission) {
			t.Errorf("Submit(%q) = %v, want ErrEmptySubmission", text, err)
		}
	}
	if n := len(s.Snapshot()); n != 1 {
		t.Errorf("transcript length = %d, want 1", n)
	}
	if p.lastRequest() != nil {
		t.Error("provider was called for an empty submission")
	}
}

func TestEachRoundAddsTwoTurns(t *testing.T) {
	ok := &fakeProvider{fragments: []string{"fine"}}
	failing := &fakeProvider{err: &providers.Error{Kind: providers.ProviderUnavailable, Provider: "fake", Credential: "FAKE_KEY", Err: errors.New("503")}}

	for name, p := range map[string]*fakeProvider{"success": ok, "failure": failing} {
		t.Run(name, func(t *testing.T) {
			s := newSession(t, p)
			for round := 1; round <= 3; round++ {
				before := len(s.Snapshot())
				text := fmt.Sprintf("message %d", round)
				if err := s.Submit(context.Background(), nil, text); err != nil {
					t.Fatalf("round %d: %v", round, err)
				}
				got := s.Snapshot()
				if len(got) != before+2 {
					t.Fatalf("round %d: length %d -> %d", round, before, len(got))
				}
				if got[before] != (transcript.Turn{Role: transcript.RoleUser, Content: text}) {
					t.Errorf("round %d: user turn = %+v", round, got[before])
				}
				if got[before+1].Role != transcript.RoleAssistant {
					t.Errorf("round %d: reply role = %s", round, got[before+1].Role)
				}
			}
		})
	}
}

func TestProviderFailureBecomesDiagnostic(t *testing.T) {
	p := &fakeProvider{err: &providers.Error{
		Kind: providers.ProviderUnavailable, Provider: "fake", Credential: "FAKE_KEY", Err: errors.New("connection refused"),
	}}
	s := newSession(t, p)
	surface := &recordingSurface{}

	if err := s.Submit(context.Background(), surface, "hello"); err != nil {
		t.Fatalf("Submit returned %v; failures belong in the transcript", err)
	}

	got := s.Snapshot()
	if len(got) != 3 || got[1].Content != "hello" {
		t.Fatalf("transcript = %+v", got)
	}
	reply := got[2].Content
	if !strings.HasPrefix(reply, "Error: ") || !strings.Contains(reply, "unavailable") || !strings.Contains(reply, "FAKE_KEY") {
		t.Errorf("diagnostic = %q", reply)
	}
	if s.State() != Idle {
		t.Fatalf("state = %s", s.State())
	}

	// The session stays usable.
	p.err = nil
	p.fragments = []string{"back online"}
	if err := s.Submit(context.Background(), surface, "again"); err != nil {
		t.Fatal(err)
	}
	if last := s.Snapshot()[4].Content; last != "back online" {
		t.Errorf("reply after recovery = %q", last)
	}
}

func TestFailureMidStreamDropsPartialText(t *testing.T) {
	p := &fakeProvider{
		fragments: []string{"half an ans"},
		err:       &providers.Error{Kind: providers.ProviderUnavailable, Provider: "fake", Err: errors.New("reset by peer")},
	}
	s := newSession(t, p)
	surface := &recordingSurface{}

	if err := s.Submit(context.Background(), surface, "hello"); err != nil {
		t.Fatal(err)
	}
	reply := s.Snapshot()[2].Content
	if strings.Contains(reply, "half an ans") {
		t.Errorf("partial text leaked into transcript: %q", reply)
	}
	if len(surface.partials) != 1 {
		t.Errorf("partials = %q", surface.partials)
	}
}

func TestSystemPromptFollowsActivePersonality(t *testing.T) {
	p := &fakeProvider{fragments: []string{"ok"}}
	s := newSession(t, p)
	catalog := personality.BuiltinCatalog()

	if err := s.Submit(context.Background(), nil, "first"); err != nil {
		t.Fatal(err)
	}
	before := s.Snapshot()

	surface := &recordingSurface{}
	if _, changed, err := s.ChangePersonality(surface, "Professional"); err != nil || !changed {
		t.Fatalf("ChangePersonality = %v, %v", changed, err)
	}
	if err := s.Submit(context.Background(), nil, "second"); err != nil {
		t.Fatal(err)
	}

	req := p.lastRequest()
	professional, _ := catalog.Get("Professional")
	if req[0].Role != "system" || req[0].Content != professional.SystemPrompt {
		t.Errorf("system entry = %+v", req[0])
	}
	for i, m := range req[1:] {
		if m.Role == "system" {
			t.Errorf("extra system entry at %d", i+1)
		}
	}
	if last := req[len(req)-1]; last.Role != "user" || last.Content != "second" {
		t.Errorf("last request entry = %+v", last)
	}

	after := s.Snapshot()
	if len(after) != len(before)+2 {
		t.Fatalf("length %d -> %d", len(before), len(after))
	}
	for i := range before {
		if after[i] != before[i] {
			t.Errorf("turn %d rewritten: %+v -> %+v", i, before[i], after[i])
		}
	}
}

func TestChangePersonalityNotifications(t *testing.T) {
	s := newSession(t, &fakeProvider{})
	surface := &recordingSurface{}

	p, changed, err := s.ChangePersonality(surface, "Humorous")
	if err != nil || !changed || p.ID != "Humorous" {
		t.Fatalf("ChangePersonality = %+v, %v, %v", p, changed, err)
	}
	want := []string{
		"Personality changed to Humorous! 🎉",
		"Clear chat history to see the new personality in action from the start!",
	}
	if strings.Join(surface.notes, "|") != strings.Join(want, "|") {
		t.Errorf("notes = %q", surface.notes)
	}

	// Re-selecting the active personality is a no-op.
	surface.notes = nil
	if _, changed, err := s.ChangePersonality(surface, "Humorous"); err != nil || changed {
		t.Errorf("reselect = %v, %v", changed, err)
	}
	if len(surface.notes) != 0 {
		t.Errorf("reselect notified %q", surface.notes)
	}

	// Unknown ids fall back to the default.
	p, changed, err = s.ChangePersonality(surface, "Pirate")
	if err != nil || !changed || p.ID != personality.DefaultID {
		t.Errorf("unknown id = %+v, %v, %v", p, changed, err)
	}
	if len(s.Snapshot()) != 1 {
		t.Error("personality change touched the transcript")
	}
}

func TestChangePersonalityThenReset(t *testing.T) {
	catalog := personality.BuiltinCatalog()
	for _, id := range catalog.IDs() {
		t.Run(id, func(t *testing.T) {
			s := newSession(t, &fakeProvider{fragments: []string{"reply"}})
			if err := s.Submit(context.Background(), nil, "hello"); err != nil {
				t.Fatal(err)
			}
			if _, _, err := s.ChangePersonality(nil, id); err != nil {
				t.Fatal(err)
			}
			surface := &recordingSurface{}
			if err := s.Reset(surface); err != nil {
				t.Fatal(err)
			}

			got := s.Snapshot()
			want := transcript.Turn{Role: transcript.RoleAssistant, Content: welcomeOf(t, id)}
			if len(got) != 1 || got[0] != want {
				t.Errorf("transcript after reset = %+v", got)
			}
			if len(surface.cleared) != 1 || surface.cleared[0] != want {
				t.Errorf("cleared = %+v", surface.cleared)
			}
		})
	}
}

func TestResetRejectedWhileInFlight(t *testing.T) {
	p := &fakeProvider{
		fragments: []string{"slow ", "reply"},
		gate:      make(chan struct{}),
		started:   make(chan struct{}),
	}
	s := newSession(t, p)

	done := make(chan error, 1)
	go func() {
		done <- s.Submit(context.Background(), nil, "hello")
	}()
	<-p.started

	if s.State() != RequestInFlight {
		t.Fatalf("state = %s", s.State())
	}
	if err := s.Reset(nil); !errors.Is(err, ErrRequestInFlight) {
		t.Errorf("Reset = %v", err)
	}
	if _, _, err := s.ChangePersonality(nil, "Professional"); !errors.Is(err, ErrRequestInFlight) {
		t.Errorf("ChangePersonality = %v", err)
	}
	if err := s.Submit(context.Background(), nil, "again"); !errors.Is(err, ErrRequestInFlight) {
		t.Errorf("second Submit = %v", err)
	}

	close(p.gate)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	got := s.Snapshot()
	if len(got) != 3 || got[1].Content != "hello" || got[2].Content != "slow reply" {
		t.Errorf("transcript = %+v", got)
	}
	if s.Personality().ID != "Friendly" {
		t.Errorf("personality changed during request: %s", s.Personality().ID)
	}
	if s.State() != Idle {
		t.Errorf("state = %s", s.State())
	}
}

func TestCancelInFlight(t *testing.T) {
	p := &fakeProvider{
		fragments: []string{"never"},
		gate:      make(chan struct{}),
		started:   make(chan struct{}),
	}
	s := newSession(t, p)

	if s.Cancel() {
		t.Error("Cancel reported success with nothing in flight")
	}

	done := make(chan error, 1)
	go func() {
		done <- s.Submit(context.Background(), nil, "hello")
	}()
	<-p.started

	if !s.Cancel() {
		t.Fatal("Cancel found nothing in flight")
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Submit did not return after Cancel")
	}

	got := s.Snapshot()
	if len(got) != 3 {
		t.Fatalf("transcript = %+v", got)
	}
	if !strings.Contains(got[2].Content, "stopped") || strings.Contains(got[2].Content, "never") {
		t.Errorf("cancel diagnostic = %q", got[2].Content)
	}
	if s.State() != Idle {
		t.Errorf("state = %s", s.State())
	}
}

func TestCallerContextCancels(t *testing.T) {
	p := &fakeProvider{
		fragments: []string{"never"},
		gate:      make(chan struct{}),
		started:   make(chan struct{}),
	}
	s := newSession(t, p)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Submit(ctx, nil, "hello")
	}()
	<-p.started
	cancel()

	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if reply := s.Snapshot()[2].Content; !strings.HasPrefix(reply, "Error: ") {
		t.Errorf("reply = %q", reply)
	}
}

func TestUpstreamTimeoutBecomesDiagnostic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"Thinking\"}}]}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	cfg := providers.ProviderConfig{BaseURL: srv.URL, APIKey: "k", Credential: "GROQ_API_KEY", Timeout: 50 * time.Millisecond}
	for _, mode := range []providers.DeliveryMode{providers.Incremental, providers.Blocking} {
		rec := &memoryRecorder{}
		s := New("timeout", personality.BuiltinCatalog(), providers.NewStreamingProvider(cfg),
			providers.GenerationConfig{MaxOutputTokens: 64, Mode: mode}, WithRecorder(rec))

		for i := 0; i < 10; i++ {
			if err := s.Submit(context.Background(), nil, fmt.Sprintf("question %d", i)); err != nil {
				t.Fatal(err)
			}
			got := s.Snapshot()
			if len(got) != 1+2*(i+1) {
				t.Fatalf("%v run %d: transcript has %d turns", mode, i, len(got))
			}
			user, reply := got[len(got)-2], got[len(got)-1]
			if user.Role != transcript.RoleUser || user.Content != fmt.Sprintf("question %d", i) {
				t.Errorf("%v run %d: user turn = %+v", mode, i, user)
			}
			if reply.Role != transcript.RoleAssistant || !strings.HasPrefix(reply.Content, "Error: ") || strings.Contains(reply.Content, "Thinking") {
				t.Fatalf("%v run %d: timed out round was not reported: %q", mode, i, reply.Content)
			}
			if kind := rec.entries[i].ErrorKind; kind != "provider unavailable" {
				t.Errorf("%v run %d: recorded kind = %q", mode, i, kind)
			}
			if s.State() != Idle {
				t.Fatalf("state = %s", s.State())
			}
		}
	}
}

func TestRoundsAreRecorded(t *testing.T) {
	rec := &memoryRecorder{}
	p := &fakeProvider{fragments: []string{"four words of reply"}}
	s := newSession(t, p, WithRecorder(rec), WithPersonality("Professional"))

	if err := s.Submit(context.Background(), nil, "hello"); err != nil {
		t.Fatal(err)
	}
	p.fragments = []string{"with usage"}
	p.usage = &providers.Usage{PromptTokens: 11, CompletionTokens: 2, TotalTokens: 13}
	if err := s.Submit(context.Background(), nil, "again"); err != nil {
		t.Fatal(err)
	}

	if len(rec.entries) != 2 {
		t.Fatalf("recorded %d entries", len(rec.entries))
	}
	first := rec.entries[0]
	if first.SessionID != "test" || first.Personality != "Professional" || first.Provider != "fake" || first.Model != "fake-model" {
		t.Errorf("entry = %+v", first)
	}
	if first.Output != "four words of reply" || first.InputTokens == 0 || first.OutputTokens == 0 {
		t.Errorf("counted entry = %+v", first)
	}
	if msgs, ok := first.Input.([]providers.Message); !ok || len(msgs) != 3 || msgs[0].Role != "system" {
		t.Errorf("input = %#v", first.Input)
	}
	if second := rec.entries[1]; second.InputTokens != 11 || second.OutputTokens != 2 {
		t.Errorf("reported usage not used: %+v", second)
	}
}

func TestFailedRoundRecordsErrorKind(t *testing.T) {
	rec := &memoryRecorder{}
	p := &fakeProvider{err: &providers.Error{Kind: providers.AuthenticationFailure, Provider: "fake", Credential: "FAKE_KEY", Err: errors.New("FAKE_KEY is not set")}}
	s := newSession(t, p, WithRecorder(rec))

	if err := s.Submit(context.Background(), nil, "hello"); err != nil {
		t.Fatal(err)
	}
	if len(rec.entries) != 1 {
		t.Fatalf("recorded %d entries", len(rec.entries))
	}
	if e := rec.entries[0]; e.ErrorKind != "authentication failure" || !strings.Contains(e.Error, "FAKE_KEY") {
		t.Errorf("entry = %+v", e)
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		Idle:                      "idle",
		AwaitingPersonalityPrompt: "awaiting_personality_prompt",
		RequestInFlight:           "request_in_flight",
		State(9):                  "state(9)",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", int(s), s.String(), want)
		}
	}
}
