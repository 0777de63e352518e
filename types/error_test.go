package types

import (
	"errors"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrConnectionRefused, "backend unreachable").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true).
		WithBackend("ollama")

	if GetErrorCode(err) != ErrConnectionRefused {
		t.Fatalf("expected code %s, got %s", ErrConnectionRefused, GetErrorCode(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestIsInferenceFailure(t *testing.T) {
	t.Parallel()

	inference := []ErrorCode{
		ErrInferenceTimeout, ErrConnectionRefused, ErrModelNotFound,
		ErrMalformedResponse, ErrBackendUnavailable,
	}
	for _, code := range inference {
		if !IsInferenceFailure(code) {
			t.Errorf("expected %s to be an inference failure", code)
		}
	}

	precondition := []ErrorCode{
		ErrUnknownPersona, ErrInvalidParticipants, ErrEmptyTopic,
		ErrSessionBusy, ErrSymposiumNotActive, ErrSymposiumActive,
	}
	for _, code := range precondition {
		if IsInferenceFailure(code) {
			t.Errorf("expected %s to be a precondition error", code)
		}
	}
}
