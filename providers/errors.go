package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies provider failures
type ErrorKind int

const (
	// AuthenticationFailure: missing or rejected credential
	AuthenticationFailure ErrorKind = iota + 1
	// ProviderUnavailable: network or service error
	ProviderUnavailable
	// MalformedResponse: success status without extractable content
	MalformedResponse
	// Cancelled: the caller aborted the request
	Cancelled
	// InvalidRequest: the caller passed something that cannot be sent
	InvalidRequest
)

func (k ErrorKind) String() string {
	switch k {
	case AuthenticationFailure:
		return "authentication failure"
	case ProviderUnavailable:
		return "provider unavailable"
	case MalformedResponse:
		return "malformed response"
	case Cancelled:
		return "cancelled"
	case InvalidRequest:
		return "invalid request"
	}
	return "unknown error"
}

// Error is the failure returned by every provider
type Error struct {
	Kind       ErrorKind
	Provider   string
	Credential string
	Status     int
	Err        error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Diagnostic renders the failure for display inside the chat
func (e *Error) Diagnostic() string {
	cause := e.Error()
	var hint string
	switch e.Kind {
	case AuthenticationFailure:
		hint = fmt.Sprintf("Please make sure your %s is set correctly in the .env file.", e.credential())
	case ProviderUnavailable:
		hint = fmt.Sprintf("The %s service is unavailable right now. Please try again in a moment, and make sure your %s is set correctly in the .env file.",
			e.Provider, e.credential())
	case MalformedResponse:
		hint = fmt.Sprintf("%s If this keeps happening, make sure your %s is set correctly in the .env file.",
			PlaceholderText, e.credential())
	case Cancelled:
		hint = fmt.Sprintf("The request was stopped before %s finished, so nothing from the partial reply was kept. "+
			"Send your message again when ready (and make sure your %s is set correctly in the .env file if this keeps happening).",
			e.Provider, e.credential())
	default:
		hint = fmt.Sprintf("Please make sure your %s is set correctly in the .env file.", e.credential())
	}
	return "Error: " + cause + "\n\n" + hint
}

func (e *Error) credential() string {
	if e.Credential == "" {
		return "API key"
	}
	return e.Credential
}

// KindOf returns the kind of a provider error, or 0 for other errors
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}

// Diagnostic renders any error for display inside the chat
func Diagnostic(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Diagnostic()
	}
	return "Error: " + err.Error()
}

// classify turns a transport error or HTTP status into a provider error.
// A deadline means the backend was too slow and is ProviderUnavailable; any
// other done context is an abort and reported as Cancelled.
func classify(ctx context.Context, provider, credential string, status int, err error) *Error {
	e := &Error{Provider: provider, Credential: credential, Status: status, Err: err}
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded):
		e.Kind = ProviderUnavailable
		if err == nil {
			err = ctx.Err()
		}
		e.Err = fmt.Errorf("timed out: %w", err)
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		e.Kind = Cancelled
		if e.Err == nil {
			e.Err = ctx.Err()
		}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Kind = AuthenticationFailure
	default:
		e.Kind = ProviderUnavailable
	}
	return e
}
