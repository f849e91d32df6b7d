package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"gg.chat/personality"
	"gg.chat/providers"
	"gg.chat/session"
	"gg.chat/transcript"
)

const (
	sessionCookie = "gg_session"
	// maxBodyBytes caps form and JSON bodies
	maxBodyBytes = 65536
)

func newHTTPServer(port int, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: replies stream for as long as the backend talks.
	}
}

// routes builds the web surface
func (a *app) routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)

	limited := r.NewRoute().Subrouter()
	limited.Use(a.rateLimit)
	limited.HandleFunc("/", a.handleRoot).Methods(http.MethodGet)
	limited.HandleFunc("/chat", a.handleChat).Methods(http.MethodPost)
	limited.HandleFunc("/personality", a.handlePersonality).Methods(http.MethodPost)
	limited.HandleFunc("/reset", a.handleReset).Methods(http.MethodPost)
	limited.HandleFunc("/cancel", a.handleCancel).Methods(http.MethodPost)

	api := limited.PathPrefix("/api").Subrouter()
	api.HandleFunc("/transcript", a.handleTranscript).Methods(http.MethodGet)
	api.HandleFunc("/personalities", a.handlePersonalities).Methods(http.MethodGet)

	r.Use(logRequests)
	return r
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if debugMode {
			log.Printf("[HTTP] %s %s from %s (%s)", r.Method, r.URL.Path, r.RemoteAddr, time.Since(start).Round(time.Millisecond))
		}
	})
}

func (a *app) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.limiter.Allow(r.RemoteAddr) {
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// sessionFor returns the cookie session, starting one on first visit
func (a *app) sessionFor(w http.ResponseWriter, r *http.Request) *session.Session {
	var id string
	if c, err := r.Cookie(sessionCookie); err == nil {
		id = c.Value
	}
	sess, created := a.sessions.GetOrCreate(id)
	if created {
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    sess.ID(),
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
			Secure:   r.TLS != nil,
		})
		log.Printf("[HTTP] New session %s for %s", shortID(sess.ID()), r.RemoteAddr)
	}
	return sess
}

// sseSurface renders a session onto a text/event-stream response. Headers
// are written with the first event, so a request rejected before anything
// is rendered can still answer with a plain status code.
type sseSurface struct {
	w       http.ResponseWriter
	flusher http.Flusher

	mu      sync.Mutex
	started bool
}

func newSSESurface(w http.ResponseWriter) *sseSurface {
	flusher, _ := w.(http.Flusher)
	return &sseSurface{w: w, flusher: flusher}
}

type turnEvent struct {
	Role    transcript.Role `json:"role"`
	Content string          `json:"content"`
}

type partialEvent struct {
	Content string `json:"content"`
}

type notifyEvent struct {
	Message string `json:"message"`
}

type doneEvent struct {
	State       string                  `json:"state"`
	Personality personality.Personality `json:"personality"`
	Changed     *bool                   `json:"changed,omitempty"`
}

func (s *sseSurface) RenderTurn(role transcript.Role, content string) {
	s.send("turn", turnEvent{Role: role, Content: content})
}

func (s *sseSurface) RenderPartial(cumulative string) {
	s.send("partial", partialEvent{Content: cumulative})
}

func (s *sseSurface) Notify(message string) {
	s.send("notify", notifyEvent{Message: message})
}

func (s *sseSurface) ClearAndShow(welcome transcript.Turn) {
	s.send("clear", turnEvent{Role: welcome.Role, Content: welcome.Content})
}

func (s *sseSurface) send(event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[HTTP] Failed to encode %s event: %v", event, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		h := s.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data)
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

func (s *sseSurface) done(sess *session.Session, changed *bool) {
	s.send("done", doneEvent{State: sess.State().String(), Personality: sess.Personality(), Changed: changed})
}

func (a *app) handleChat(w http.ResponseWriter, r *http.Request) {
	message, err := readField(w, r, "message")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	reqID := generateRequestID()
	start := time.Now()
	sess := a.sessionFor(w, r)
	surface := newSSESurface(w)

	// The request context ends when the client goes away, which cancels the backend call.
	err = sess.Submit(r.Context(), surface, message)
	switch {
	case errors.Is(err, session.ErrEmptySubmission):
		writeError(w, http.StatusBadRequest, err)
		return
	case errors.Is(err, session.ErrRequestInFlight):
		writeError(w, http.StatusConflict, err)
		return
	case err != nil:
		log.Printf("[HTTP %s] Submit failed: %v", reqID, err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	surface.done(sess, nil)

	log.Printf("[HTTP %s] chat session=%s personality=%s query=%s took=%s",
		reqID, shortID(sess.ID()), sess.Personality().ID, generateSignature(message),
		time.Since(start).Round(time.Millisecond))
}

func (a *app) handlePersonality(w http.ResponseWriter, r *http.Request) {
	id, err := readField(w, r, "personality")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sess := a.sessionFor(w, r)
	surface := newSSESurface(w)
	_, changed, err := sess.ChangePersonality(surface, id)
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	surface.done(sess, &changed)
}

func (a *app) handleReset(w http.ResponseWriter, r *http.Request) {
	sess := a.sessionFor(w, r)
	surface := newSSESurface(w)
	if err := sess.Reset(surface); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	surface.done(sess, nil)
}

func (a *app) handleCancel(w http.ResponseWriter, r *http.Request) {
	sess := a.sessionFor(w, r)
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": sess.Cancel()})
}

type transcriptView struct {
	SessionID   string                  `json:"session_id"`
	Personality personality.Personality `json:"personality"`
	State       string                  `json:"state"`
	Turns       []transcript.Turn       `json:"turns"`
}

func (a *app) handleTranscript(w http.ResponseWriter, r *http.Request) {
	sess := a.sessionFor(w, r)
	writeJSON(w, http.StatusOK, transcriptView{
		SessionID:   sess.ID(),
		Personality: sess.Personality(),
		State:       sess.State().String(),
		Turns:       sess.Snapshot(),
	})
}

func (a *app) handlePersonalities(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"default":       a.catalog.Default().ID,
		"personalities": a.catalog.List(),
	}
	if c, err := r.Cookie(sessionCookie); err == nil {
		if sess, ok := a.sessions.Get(c.Value); ok {
			resp["active"] = sess.Personality().ID
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *app) handleHealth(w http.ResponseWriter, r *http.Request) {
	info := a.provider.Info()
	srv := a.cfg.Server
	health := map[string]interface{}{
		"status": "healthy",
		"services": map[string]bool{
			"http":  srv.HTTPPort > 0,
			"https": srv.HTTPSPort > 0,
			"ssh":   srv.SSHPort > 0,
			"dns":   srv.DNSPort > 0,
		},
		"ports": map[string]int{
			"http":  srv.HTTPPort,
			"https": srv.HTTPSPort,
			"ssh":   srv.SSHPort,
			"dns":   srv.DNSPort,
		},
		"mode":           "production",
		"provider":       info,
		"llm_configured": info.CredentialPresent,
		"sessions":       a.sessions.Len(),
		"personalities":  a.catalog.IDs(),
		"audit_logging":  a.audit != nil,
		"uptime":         time.Since(a.started).Round(time.Second).String(),
	}
	if srv.HighPortMode {
		health["mode"] = "development"
	}
	if srv.HTTPSPort > 0 {
		_, _, found := findSSLCertificates()
		health["ssl_certificates"] = found
	}
	if !info.CredentialPresent {
		health["status"] = "degraded"
	}
	writeJSON(w, http.StatusOK, health)
}

type pageData struct {
	Title         string
	Personalities []personality.Personality
	Active        personality.Personality
	Turns         []transcript.Turn
	Provider      providers.ProviderInfo
}

func (a *app) handleRoot(w http.ResponseWriter, r *http.Request) {
	sess := a.sessionFor(w, r)
	data := pageData{
		Title:         "My Gaming AI Assistant",
		Personalities: a.catalog.List(),
		Active:        sess.Personality(),
		Turns:         sess.Snapshot(),
		Provider:      a.provider.Info(),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'unsafe-inline'; object-src 'none'; base-uri 'none'; style-src 'unsafe-inline'")
	if err := chatPage.Execute(w, data); err != nil {
		log.Printf("[HTTP] Failed to render page: %v", err)
	}
}

// readField reads one string field from a JSON or form body
func readField(w http.ResponseWriter, r *http.Request, name string) (string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return "", fmt.Errorf("failed to read request body: %w", err)
		}
		if len(strings.TrimSpace(string(body))) == 0 {
			return "", nil
		}
		var fields map[string]interface{}
		if err := json.Unmarshal(body, &fields); err != nil {
			return "", fmt.Errorf("invalid JSON body: %w", err)
		}
		v, ok := fields[name]
		if !ok || v == nil {
			return "", nil
		}
		s, ok := v.(string)
		if !ok {
			return "", fmt.Errorf("%s must be a string", name)
		}
		return s, nil
	}

	if err := r.ParseForm(); err != nil {
		return "", fmt.Errorf("failed to parse form: %w", err)
	}
	return r.FormValue(name), nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[HTTP] Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
