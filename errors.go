package dorismcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/zhenghao-lu/doris-mcp/internal/catalog"
	"github.com/zhenghao-lu/doris-mcp/internal/pool"
	"github.com/zhenghao-lu/doris-mcp/internal/security"
)

// ErrorKind classifies a failed invocation. Kinds are stable strings so
// protocol clients can switch on them.
type ErrorKind string

const (
	KindSyntaxRejected      ErrorKind = "SyntaxRejected"
	KindComplexityExceeded  ErrorKind = "ComplexityExceeded"
	KindAuthorizationDenied ErrorKind = "AuthorizationDenied"
	KindCatalogUnresolved   ErrorKind = "CatalogUnresolved"
	KindPoolExhausted       ErrorKind = "PoolExhausted"
	KindExecutionTimeout    ErrorKind = "ExecutionTimeout"
	KindBackendUnavailable  ErrorKind = "BackendUnavailable"
	KindAdmissionRejected   ErrorKind = "AdmissionRejected"
)

// QueryError is a classified, sanitized failure. Message never carries
// backend connection details; full diagnostics stay in logs and audit.
type QueryError struct {
	Kind    ErrorKind
	Message string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// classify maps an internal error to its QueryError. The message for
// backend failures is scrubbed through the sanitizer before it gets here.
func classify(err error, sanitized string) *QueryError {
	var blocked *security.BlockedKeywordError
	var injection *security.InjectionError
	var complexity *security.ComplexityError
	var authz *security.AuthorizationError
	var unresolved *catalog.UnresolvedError
	var qerr *QueryError

	switch {
	case errors.As(err, &qerr):
		return qerr
	case errors.As(err, &blocked), errors.As(err, &injection):
		return &QueryError{Kind: KindSyntaxRejected, Message: err.Error()}
	case errors.As(err, &complexity):
		return &QueryError{Kind: KindComplexityExceeded, Message: err.Error()}
	case errors.As(err, &authz):
		return &QueryError{Kind: KindAuthorizationDenied, Message: err.Error()}
	case errors.As(err, &unresolved):
		return &QueryError{Kind: KindCatalogUnresolved, Message: err.Error()}
	case errors.Is(err, pool.ErrExhausted), errors.Is(err, pool.ErrClosed):
		return &QueryError{Kind: KindPoolExhausted, Message: "no backend connection available"}
	case errors.Is(err, context.DeadlineExceeded):
		return &QueryError{Kind: KindExecutionTimeout, Message: "statement exceeded its deadline"}
	default:
		if sanitized == "" {
			sanitized = "backend execution failed"
		}
		return &QueryError{Kind: KindBackendUnavailable, Message: sanitized}
	}
}

// blockedVerdict reports whether the error should audit as "blocked"
// (security decision) rather than "failed" (runtime failure).
func blockedVerdict(kind ErrorKind) bool {
	switch kind {
	case KindSyntaxRejected, KindComplexityExceeded, KindAuthorizationDenied:
		return true
	}
	return false
}
