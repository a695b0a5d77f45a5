package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOf_DirectError(t *testing.T) {
	err := New(InvalidInput, errors.New("message is required"))
	if got := KindOf(err); got != InvalidInput {
		t.Errorf("KindOf() = %v, want InvalidInput", got)
	}
}

func TestKindOf_WrappedError(t *testing.T) {
	base := New(LlmCallFailure, errors.New("provider unreachable"))
	wrapped := fmt.Errorf("service.Answer: %w", base)
	if got := KindOf(wrapped); got != LlmCallFailure {
		t.Errorf("KindOf() = %v, want LlmCallFailure", got)
	}
}

func TestKindOf_PlainError(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != Unknown {
		t.Errorf("KindOf() = %v, want Unknown", got)
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{InvalidInput, http.StatusBadRequest},
		{LlmCallFailure, http.StatusBadGateway},
		{EmbeddingUnavailable, http.StatusServiceUnavailable},
		{Unknown, http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := c.kind.HTTPStatus(); got != c.want {
			t.Errorf("%v.HTTPStatus() = %d, want %d", c.kind, got, c.want)
		}
	}
}

func TestError_UnwrapsToUnderlying(t *testing.T) {
	underlying := errors.New("rate limited")
	err := New(LlmCallFailure, underlying)
	if !errors.Is(err, underlying) {
		t.Error("expected errors.Is to find the underlying error")
	}
}
