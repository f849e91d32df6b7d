package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// maxResponseBytes caps how much of a non-streaming body is read
const maxResponseBytes = 4 * 1024 * 1024

// chatResponse is the OpenAI-compatible completion body
type chatResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

type choice struct {
	Index        int      `json:"index"`
	Message      *Message `json:"message,omitempty"`
	Delta        *Message `json:"delta,omitempty"`
	FinishReason string   `json:"finish_reason"`
}

// openAICompatible is the HTTP plumbing shared by the backends. Both speak
// the OpenAI chat completions dialect; they differ in defaults and in how
// they treat responses.
type openAICompatible struct {
	name   string
	cfg    ProviderConfig
	client *http.Client
}

func newOpenAICompatible(name string, cfg ProviderConfig) openAICompatible {
	client := cfg.Client
	if client == nil {
		// No client-wide timeout: it would cut long streams. The
		// request context carries the deadline instead.
		client = &http.Client{}
	}
	return openAICompatible{name: name, cfg: cfg, client: client}
}

// TranslateRequest converts messages and generation settings to the wire format
func (o *openAICompatible) TranslateRequest(messages []Message, gen GenerationConfig, stream bool) *ProviderRequest {
	model := gen.Model
	if model == "" {
		model = o.cfg.Model
	}

	body := map[string]interface{}{
		"model":    model,
		"messages": messages,
		"stream":   stream,
	}
	if gen.MaxOutputTokens > 0 {
		body["max_tokens"] = gen.MaxOutputTokens
	}
	if gen.Temperature != nil && o.cfg.SupportsTemperature {
		body["temperature"] = *gen.Temperature
	}

	headers := map[string]string{
		"Content-Type": "application/json",
	}
	if o.cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + o.cfg.APIKey
	}
	if stream {
		headers["Accept"] = "text/event-stream"
	}

	return &ProviderRequest{
		URL:     o.cfg.BaseURL,
		Method:  http.MethodPost,
		Headers: headers,
		Body:    body,
		Timeout: o.cfg.Timeout,
	}
}

// do sends the request and checks the status. The caller closes the body.
func (o *openAICompatible) do(ctx context.Context, req *ProviderRequest) (*http.Response, error) {
	jsonBody, err := json.Marshal(req.Body)
	if err != nil {
		return nil, &Error{Kind: InvalidRequest, Provider: o.name, Credential: o.cfg.Credential,
			Err: fmt.Errorf("failed to marshal request body: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, &Error{Kind: InvalidRequest, Provider: o.name, Credential: o.cfg.Credential,
			Err: fmt.Errorf("failed to create request: %w", err)}
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	if debugMode {
		log.Printf("[%s] POST %s (%d bytes)", o.name, req.URL, len(jsonBody))
	}

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, classify(ctx, o.name, o.cfg.Credential, 0, fmt.Errorf("request failed: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, classify(ctx, o.name, o.cfg.Credential, resp.StatusCode,
			fmt.Errorf("API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}
	return resp, nil
}

// Execute sends a non-streaming request, bounded by req.Timeout
func (o *openAICompatible) Execute(ctx context.Context, req *ProviderRequest) (*ProviderResponse, error) {
	ctx, cancel := withTimeout(ctx, req.Timeout)
	defer cancel()

	resp, err := o.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, classify(ctx, o.name, o.cfg.Credential, resp.StatusCode, fmt.Errorf("failed to read response: %w", err))
	}

	return &ProviderResponse{
		StatusCode: resp.StatusCode,
		Body:       body,
	}, nil
}

// TranslateResponse extracts the first choice's text. ok is false when the
// body has no extractable content.
func (o *openAICompatible) TranslateResponse(resp *ProviderResponse) (text string, usage *Usage, ok bool) {
	var parsed chatResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		log.Printf("[%s] Unparseable response body: %v", o.name, err)
		return "", nil, false
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message == nil {
		return "", parsed.Usage, false
	}
	content := parsed.Choices[0].Message.Content
	return content, parsed.Usage, content != ""
}

// Stream sends a streaming request and forwards content deltas to stream.
// It always closes stream; the last chunk is either Done or an Error unless
// ctx was cancelled first. req.Timeout bounds the HTTP exchange only, so a
// timeout is still reported on stream.
func (o *openAICompatible) Stream(ctx context.Context, req *ProviderRequest, stream chan<- StreamChunk) error {
	defer close(stream)

	reqCtx, cancel := withTimeout(ctx, req.Timeout)
	defer cancel()

	resp, err := o.do(reqCtx, req)
	if err != nil {
		send(ctx, stream, StreamChunk{Error: err})
		return err
	}
	defer resp.Body.Close()

	var (
		received bool
		usage    *Usage
	)

	// Parse SSE stream (Server-Sent Events format)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		// SSE lines start with "data:"
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		if data == "[DONE]" {
			if !received {
				err := &Error{Kind: MalformedResponse, Provider: o.name, Credential: o.cfg.Credential,
					Err: fmt.Errorf("stream finished without any content")}
				send(ctx, stream, StreamChunk{Error: err})
				return err
			}
			send(ctx, stream, StreamChunk{Done: true, Usage: usage})
			return nil
		}

		var chunk chatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Skip malformed JSON
			if debugMode {
				log.Printf("[%s] Skipping malformed SSE line: %v", o.name, err)
			}
			continue
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta == nil || chunk.Choices[0].Delta.Content == "" {
			continue
		}

		received = true
		if !send(ctx, stream, StreamChunk{Data: chunk.Choices[0].Delta.Content}) {
			return ctx.Err()
		}
	}

	if err := scanner.Err(); err != nil {
		pe := classify(reqCtx, o.name, o.cfg.Credential, resp.StatusCode, fmt.Errorf("stream interrupted: %w", err))
		send(ctx, stream, StreamChunk{Error: pe})
		return pe
	}

	if reqCtx.Err() != nil {
		pe := classify(reqCtx, o.name, o.cfg.Credential, resp.StatusCode, reqCtx.Err())
		send(ctx, stream, StreamChunk{Error: pe})
		return pe
	}

	if !received {
		err := &Error{Kind: MalformedResponse, Provider: o.name, Credential: o.cfg.Credential,
			Err: fmt.Errorf("stream ended without any content")}
		send(ctx, stream, StreamChunk{Error: err})
		return err
	}

	// Some gateways close the connection instead of sending [DONE].
	send(ctx, stream, StreamChunk{Done: true, Usage: usage})
	return nil
}

// withTimeout bounds ctx by d; zero means no limit
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

// precheck validates the call before anything is sent upstream
func (o *openAICompatible) precheck(messages []Message) error {
	if len(messages) == 0 {
		return &Error{Kind: InvalidRequest, Provider: o.name, Credential: o.cfg.Credential,
			Err: fmt.Errorf("messages must not be empty")}
	}
	if o.cfg.APIKey == "" {
		return &Error{Kind: AuthenticationFailure, Provider: o.name, Credential: o.cfg.Credential,
			Err: fmt.Errorf("%s is not set", o.cfg.Credential)}
	}
	return nil
}

// validate checks the static configuration
func (o *openAICompatible) validate() error {
	if o.cfg.BaseURL == "" {
		return fmt.Errorf("%s: base URL is required", o.name)
	}
	if !strings.HasPrefix(o.cfg.BaseURL, "http://") && !strings.HasPrefix(o.cfg.BaseURL, "https://") {
		return fmt.Errorf("%s: base URL must be a complete http(s) endpoint, got %q", o.name, o.cfg.BaseURL)
	}
	if o.cfg.Model == "" {
		return fmt.Errorf("%s: model is required", o.name)
	}
	if o.cfg.APIKey == "" {
		return &Error{Kind: AuthenticationFailure, Provider: o.name, Credential: o.cfg.Credential,
			Err: fmt.Errorf("%s is not set", o.cfg.Credential)}
	}
	return nil
}

func (o *openAICompatible) info(supportsStream bool) ProviderInfo {
	return ProviderInfo{
		Name:                o.name,
		Model:               o.cfg.Model,
		Endpoint:            o.cfg.BaseURL,
		Credential:          o.cfg.Credential,
		CredentialPresent:   o.cfg.APIKey != "",
		SupportsStream:      supportsStream,
		SupportsTemperature: o.cfg.SupportsTemperature,
	}
}

// elapsed is logged with every finished call
func elapsed(start time.Time) string {
	return time.Since(start).Round(time.Millisecond).String()
}
