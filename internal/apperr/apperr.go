// Package apperr names the error kinds the handler layer maps onto HTTP
// status codes, distinct from the wrapped errors (%w) services return among
// themselves.
package apperr

import "net/http"

// Kind classifies an error for the handler layer. It is not meant to
// replace wrapped errors inside internal/service and internal/repository —
// those still propagate with fmt.Errorf("...: %w", err) — only to give
// handlers a stable way to pick an HTTP status without string-matching
// error messages.
type Kind int

const (
	// Unknown is the zero value; handlers treat it as a 500.
	Unknown Kind = iota

	// InvalidInput covers a missing message, missing responseId, or a
	// malformed feedback value.
	InvalidInput

	// RetrievalUnavailable means the vector index was not configured;
	// callers should treat this as an empty result set, not a failure.
	RetrievalUnavailable

	// EmbeddingUnavailable means the embedding backend could not be
	// initialized; unlike RetrievalUnavailable, embed calls fail outright
	// rather than degrading to an empty result.
	EmbeddingUnavailable

	// LlmParseFailure means the LLM's output was not the expected JSON
	// shape.
	LlmParseFailure

	// LlmCallFailure means the LLM provider itself returned an error.
	LlmCallFailure

	// LedgerTransient means a ledger write failed; it is logged but does
	// not fail the user-visible request unless it blocks evidence
	// recording for an otherwise-completed response.
	LedgerTransient

	// CorrectionInjectionFailure means embedding or upserting a feedback
	// correction failed; the feedback submission itself still succeeds.
	CorrectionInjectionFailure
)

// Error wraps an underlying error with a Kind, letting handlers branch on
// classification without inspecting error strings.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with kind.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// String names the kind for logging.
func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "invalid_input"
	case RetrievalUnavailable:
		return "retrieval_unavailable"
	case EmbeddingUnavailable:
		return "embedding_unavailable"
	case LlmParseFailure:
		return "llm_parse_failure"
	case LlmCallFailure:
		return "llm_call_failure"
	case LedgerTransient:
		return "ledger_transient"
	case CorrectionInjectionFailure:
		return "correction_injection_failure"
	default:
		return "unknown"
	}
}

// HTTPStatus maps a Kind onto the status code a handler should respond
// with. RetrievalUnavailable, LedgerTransient, and CorrectionInjectionFailure
// are contained at their component boundary per contract and never reach a
// handler as an error — they're included here for completeness.
func (k Kind) HTTPStatus() int {
	switch k {
	case InvalidInput:
		return http.StatusBadRequest
	case LlmCallFailure:
		return http.StatusBadGateway
	case EmbeddingUnavailable:
		return http.StatusServiceUnavailable
	case RetrievalUnavailable, LedgerTransient, CorrectionInjectionFailure:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, otherwise reports Unknown.
func KindOf(err error) Kind {
	var appErr *Error
	for {
		if e, ok := err.(*Error); ok {
			appErr = e
			break
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = unwrapper.Unwrap()
		if err == nil {
			break
		}
	}
	if appErr == nil {
		return Unknown
	}
	return appErr.Kind
}
