package domain

import (
	"fmt"
	"strings"
)

// Error types for consistent error handling across the bank feed.

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrExternalService indicates a failure in an external service call.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrProviderFetch indicates a provider call for one bank (and optionally one
// account) failed after retries.
type ErrProviderFetch struct {
	Bank      string
	AccountID string
	Err       error
}

func (e *ErrProviderFetch) Error() string {
	if e.AccountID == "" {
		return fmt.Sprintf("provider fetch failed [%s]: %v", e.Bank, e.Err)
	}
	return fmt.Sprintf("provider fetch failed [%s/%s]: %v", e.Bank, e.AccountID, e.Err)
}

func (e *ErrProviderFetch) Unwrap() error {
	return e.Err
}

// ErrTimeout indicates an operation exceeded its deadline.
type ErrTimeout struct {
	Operation string
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("operation timed out: %s", e.Operation)
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrAmbiguousMatch is a data-integrity fault: more than one fragment rule
// matched the same input, so the result would depend on rule order.
type ErrAmbiguousMatch struct {
	Kind     string // "display name" or "category"
	Input    string
	Patterns []string
}

func (e *ErrAmbiguousMatch) Error() string {
	return fmt.Sprintf("ambiguous %s match for %q: fragments [%s]", e.Kind, e.Input, strings.Join(e.Patterns, ", "))
}

// ErrCategoryInUse is returned when deleting a category still referenced by a
// category map entry or a stored transaction.
type ErrCategoryInUse struct {
	CategoryID string
	Name       string
}

func (e *ErrCategoryInUse) Error() string {
	return fmt.Sprintf("category %q (%s) is still in use", e.Name, e.CategoryID)
}

// ErrUnauthorized indicates invalid credentials or token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}
