// Package failure classifies everything that can go wrong while turning a
// prompt into a durable image. Each component reports its errors as a *Error
// carrying one Kind, so the HTTP edge can pick a status and message without
// inspecting the underlying cause.
package failure

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	InvalidInput              Kind = "InvalidInput"
	Misconfigured             Kind = "Misconfigured"
	ProviderAuthFailed        Kind = "ProviderAuthFailed"
	ProviderRateLimited       Kind = "ProviderRateLimited"
	ProviderTimeout           Kind = "ProviderTimeout"
	ProviderMalformedResponse Kind = "ProviderMalformedResponse"
	ProviderOtherError        Kind = "ProviderOtherError"
	FetchFailed               Kind = "FetchFailed"
	StoreFailed               Kind = "StoreFailed"
	LedgerFailed              Kind = "LedgerFailed"
	Internal                  Kind = "Internal"
)

type Stage string

const (
	Validating Stage = "validating"
	Generating Stage = "generating"
	Fetching   Stage = "fetching"
	Persisting Stage = "persisting"
	Recording  Stage = "recording"
)

type Error struct {
	Stage   Stage
	Kind    Kind
	Message string
	// Status is the provider's HTTP status for ProviderOtherError, zero otherwise.
	Status  int
	Payload any
	Timeout bool
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Stage != "" {
		msg = fmt.Sprintf("%s: %s", e.Stage, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// At returns err classified under stage. Errors that are not already a *Error
// become kind, keeping err as the cause.
func At(stage Stage, kind Kind, err error) *Error {
	var fe *Error
	if errors.As(err, &fe) {
		out := *fe
		out.Stage = stage
		return &out
	}
	return &Error{Stage: stage, Kind: kind, Err: err}
}

func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Internal
}

func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case InvalidInput:
		return http.StatusBadRequest
	case ProviderAuthFailed:
		return http.StatusUnauthorized
	case ProviderRateLimited:
		return http.StatusTooManyRequests
	case ProviderTimeout:
		return http.StatusRequestTimeout
	case ProviderOtherError:
		if e.Status >= 400 && e.Status <= 599 {
			return e.Status
		}
		return http.StatusInternalServerError
	case FetchFailed:
		if e.Timeout {
			return http.StatusRequestTimeout
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func (e *Error) Code() string {
	switch e.Kind {
	case InvalidInput:
		return "INVALID_PROMPT"
	case Misconfigured:
		return "MISSING_API_TOKEN"
	case ProviderAuthFailed:
		return "AUTH_FAILED"
	case ProviderRateLimited:
		return "RATE_LIMITED"
	case ProviderTimeout:
		return "TIMEOUT"
	case ProviderMalformedResponse:
		return "GENERATION_FAILED"
	case ProviderOtherError:
		return "API_ERROR"
	case FetchFailed:
		return "FETCH_FAILED"
	case StoreFailed:
		return "STORAGE_FAILED"
	case LedgerFailed:
		return "LEDGER_FAILED"
	default:
		return "INTERNAL_ERROR"
	}
}

// UserMessage is the text shown to the caller. InvalidInput keeps the
// validator's wording; everything else gets a fixed message per kind.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case InvalidInput:
		if e.Message != "" {
			return e.Message
		}
		return "Invalid prompt"
	case Misconfigured:
		return "Image generation service is not configured"
	case ProviderAuthFailed:
		return "Authentication failed with image generation service"
	case ProviderRateLimited:
		return "Rate limit exceeded. Please try again later"
	case ProviderTimeout:
		return "Image generation timed out. Please try again"
	case ProviderMalformedResponse:
		return "Failed to generate image"
	case ProviderOtherError:
		return "Image generation service error"
	case FetchFailed:
		if e.Timeout {
			return "Downloading the generated image timed out. Please try again"
		}
		return "Failed to download the generated image"
	case StoreFailed:
		return "Failed to store the generated image"
	default:
		return "Internal server error during image generation"
	}
}

// Details is the optional diagnostic attached to an error response: the
// provider payload when one was received. Underlying causes can name
// internal endpoints and buckets, so they stay in the logs.
func (e *Error) Details() any {
	if e.Payload != nil {
		return e.Payload
	}
	return nil
}
