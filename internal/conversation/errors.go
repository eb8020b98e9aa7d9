package conversation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrThrottled means the provider reported quota or resource exhaustion.
	// Callers may retry later.
	ErrThrottled = errors.New("conversation: llm quota exceeded")
	// ErrConfiguration means the provider credential is missing or rejected.
	ErrConfiguration = errors.New("conversation: llm credential invalid")
	// ErrInternal covers every other LLM failure.
	ErrInternal = errors.New("conversation: llm request failed")
	// ErrSessionNotFound is returned for operations on an unknown session id.
	ErrSessionNotFound = errors.New("conversation: session not found")

	errMissingAPIKey = errors.New("api key is not set")
)

// LLMError is a classified LLM failure. errors.Is matches both Kind and the
// underlying provider error.
type LLMError struct {
	Kind    error
	Setting string
	Err     error
}

func (e *LLMError) Error() string {
	if e.Setting != "" {
		return fmt.Sprintf("%v (%s): %v", e.Kind, e.Setting, e.Err)
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

func (e *LLMError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// Cause returns the provider error message for diagnostics.
func (e *LLMError) Cause() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

// ClassifyLLMError maps a provider failure onto ErrThrottled, ErrConfiguration
// or ErrInternal. setting names the credential reported for configuration
// failures.
func ClassifyLLMError(err error, setting string) error {
	if err == nil {
		return nil
	}
	var classified *LLMError
	if errors.As(err, &classified) {
		return classified
	}
	kind := classifyKind(err)
	if kind != ErrConfiguration {
		setting = ""
	}
	return &LLMError{Kind: kind, Setting: setting, Err: err}
}

func classifyKind(err error) error {
	switch {
	case errors.Is(err, ErrConfiguration), errors.Is(err, errMissingAPIKey):
		return ErrConfiguration
	case errors.Is(err, ErrThrottled), errors.Is(err, context.DeadlineExceeded):
		return ErrThrottled
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests:
			return ErrThrottled
		case http.StatusUnauthorized, http.StatusForbidden:
			return ErrConfiguration
		}
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.ResourceExhausted:
			return ErrThrottled
		case codes.Unauthenticated, codes.PermissionDenied:
			return ErrConfiguration
		}
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "RESOURCE_EXHAUSTED"), strings.Contains(strings.ToLower(msg), "quota"):
		return ErrThrottled
	case strings.Contains(msg, "API key"), strings.Contains(msg, "API_KEY_INVALID"):
		return ErrConfiguration
	}
	return ErrInternal
}
