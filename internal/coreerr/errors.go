// Package coreerr defines the closed error taxonomy of spec §7. Every
// business-rule failure the core surfaces is one of these types; the
// out-of-scope HTTP layer maps them to transport codes, but that mapping
// lives outside this module.
package coreerr

import "fmt"

// Kind is one of the seven error categories the core can return.
type Kind string

const (
	KindNotFound              Kind = "not_found"
	KindConflict              Kind = "conflict"
	KindDependenciesUnresolved Kind = "dependencies_unresolved"
	KindBudgetExceeded        Kind = "budget_exceeded"
	KindValidation            Kind = "validation"
	KindConcurrency           Kind = "concurrency"
	KindExternal              Kind = "external"
)

// Error is the core's typed error. Payload carries kind-specific structured
// detail (e.g. offending dependency ids, cap vs. spent amounts).
type Error struct {
	Kind    Kind
	Message string
	Payload map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, coreerr.NotFound) match any *Error of that kind,
// ignoring message/payload/cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel values for errors.Is comparisons against a bare kind.
var (
	NotFound               = &Error{Kind: KindNotFound}
	Conflict               = &Error{Kind: KindConflict}
	DependenciesUnresolved = &Error{Kind: KindDependenciesUnresolved}
	BudgetExceeded         = &Error{Kind: KindBudgetExceeded}
	Validation             = &Error{Kind: KindValidation}
	Concurrency            = &Error{Kind: KindConcurrency}
	External               = &Error{Kind: KindExternal}
)

func newErr(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NotFoundf builds a NotFound error for an entity kind and id.
func NotFoundf(format string, args ...any) *Error { return newErr(KindNotFound, format, args...) }

// Conflictf builds a Conflict error (invalid transition, duplicate attempt,
// mutation of a terminal entity).
func Conflictf(format string, args ...any) *Error { return newErr(KindConflict, format, args...) }

// Validationf builds a Validation error (malformed input).
func Validationf(format string, args ...any) *Error { return newErr(KindValidation, format, args...) }

// Concurrencyf builds a Concurrency error (transient, safe to retry).
func Concurrencyf(format string, args ...any) *Error { return newErr(KindConcurrency, format, args...) }

// Externalf builds an External error (adapter/git/merge failure).
func Externalf(cause error, format string, args ...any) *Error {
	e := newErr(KindExternal, format, args...)
	e.Cause = cause
	return e
}

// OffendingDep is one unresolved dependency (its id and current status) that
// DependenciesUnresolvedErr lists, per spec §7/§8 S2.
type OffendingDep struct {
	TaskID int64
	Status string
}

func DependenciesUnresolvedErr(taskID int64, offending []OffendingDep) *Error {
	return &Error{
		Kind:    KindDependenciesUnresolved,
		Message: fmt.Sprintf("task %d has unresolved dependencies", taskID),
		Payload: map[string]any{"task_id": taskID, "offending": offending},
	}
}

// BudgetExceededErr builds a BudgetExceeded error naming which cap fired.
func BudgetExceededErr(capName string, spent, limit any) *Error {
	return &Error{
		Kind:    KindBudgetExceeded,
		Message: fmt.Sprintf("%s exceeded", capName),
		Payload: map[string]any{"cap": capName, "spent": spent, "limit": limit},
	}
}
