package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies every failure the gateway can produce. Handlers map
// kinds to HTTP statuses; the audit log records them verbatim.
type ErrorKind string

const (
	KindParse                  ErrorKind = "parse_error"
	KindMultipleStatements     ErrorKind = "multiple_statements"
	KindNonSelect              ErrorKind = "non_select"
	KindUnauthorizedRelation   ErrorKind = "unauthorized_relation"
	KindFilterInjection        ErrorKind = "filter_injection"
	KindMissingPartitionFilter ErrorKind = "missing_partition_filter"
	KindUnknownEngine          ErrorKind = "unknown_engine"
	KindCostExceeded           ErrorKind = "cost_exceeded"
	KindEstimationUnavailable  ErrorKind = "estimation_unavailable"
	KindExecution              ErrorKind = "execution_error"
	KindCache                  ErrorKind = "cache_error"
	KindCancelled              ErrorKind = "cancelled"
)

// QueryError is the gateway's canonical error. Message is safe to show to
// users; cause keeps the backend diagnostics for the logs.
type QueryError struct {
	Kind    ErrorKind
	Message string
	cause   error
}

func NewQueryError(kind ErrorKind, format string, args ...any) *QueryError {
	return &QueryError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapQueryError preserves the underlying error for diagnostics while keeping
// the user-visible message kind-specific.
func WrapQueryError(kind ErrorKind, cause error, format string, args ...any) *QueryError {
	return &QueryError{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

func (e *QueryError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *QueryError) Unwrap() error { return e.cause }

// KindOf extracts the error kind, defaulting to execution_error for errors
// that did not originate in the gateway.
func KindOf(err error) ErrorKind {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindExecution
}

// UserMessage returns the kind-specific message, never the raw backend error.
func UserMessage(err error) string {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Message
	}
	return "query execution failed"
}

// httpStatus maps error kinds onto the wire statuses the dashboard expects.
func httpStatus(kind ErrorKind) int {
	switch kind {
	case KindParse, KindMultipleStatements, KindNonSelect, KindUnauthorizedRelation,
		KindFilterInjection, KindMissingPartitionFilter, KindUnknownEngine:
		return http.StatusBadRequest
	case KindCostExceeded:
		return http.StatusPaymentRequired
	case KindEstimationUnavailable:
		return http.StatusServiceUnavailable
	case KindCancelled:
		return 499 // client closed request
	default:
		return http.StatusInternalServerError
	}
}

type ErrorResponse struct {
	Status  string    `json:"status"`
	Kind    ErrorKind `json:"kind,omitempty"`
	Message string    `json:"message"`
	Code    int       `json:"code,omitempty"`
}

func WriteError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{
		Status:  "error",
		Message: message,
		Code:    code,
	})
}

// WriteQueryError renders a gateway error with its kind and mapped status.
func WriteQueryError(w http.ResponseWriter, err error) {
	kind := KindOf(err)
	code := httpStatus(kind)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{
		Status:  "error",
		Kind:    kind,
		Message: UserMessage(err),
		Code:    code,
	})
}

func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
