package llm

import "fmt"

// ErrorKind is the machine-readable error classification surfaced to
// callers, both as pre-flight responses and as terminal stream frames.
type ErrorKind string

const (
	KindInvalidRequest       ErrorKind = "INVALID_REQUEST"
	KindAuthenticationFailed ErrorKind = "AUTHENTICATION_FAILED"
	KindModelNotAllowed      ErrorKind = "MODEL_NOT_ALLOWED"
	KindDailyLimitExceeded   ErrorKind = "DAILY_LIMIT_EXCEEDED"
	KindMonthlyLimitExceeded ErrorKind = "MONTHLY_LIMIT_EXCEEDED"
	KindStreamingOnly        ErrorKind = "STREAMING_ONLY"
	KindAuthOrConfig         ErrorKind = "AUTH_OR_CONFIG"
	KindModelUnavailable     ErrorKind = "MODEL_UNAVAILABLE"
	KindRateLimited          ErrorKind = "RATE_LIMITED"
	KindProviderError        ErrorKind = "PROVIDER_ERROR"
	KindDatabaseFailed       ErrorKind = "DATABASE_OPERATION_FAILED"
	KindInternalError        ErrorKind = "INTERNAL_ERROR"
)

// Error carries a classification plus a human-readable, actionable message.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewError builds a classified error.
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// HTTPStatus maps an error kind to the status class used for pre-flight
// (non-streamed) responses. Mid-stream errors ride inside the open stream
// and never change the status.
func HTTPStatus(kind ErrorKind) int {
	switch kind {
	case KindInvalidRequest, KindStreamingOnly:
		return 400
	case KindAuthenticationFailed:
		return 401
	case KindModelNotAllowed:
		return 403
	case KindDailyLimitExceeded, KindMonthlyLimitExceeded, KindRateLimited:
		return 429
	case KindModelUnavailable:
		return 404
	default:
		return 500
	}
}
