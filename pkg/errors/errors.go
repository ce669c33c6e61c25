// Package errors provides common, reusable error values and helpers.
package errors

import (
	"errors"
	"fmt"
)

// Taxonomy roots. Every error the core returns wraps exactly one of these.
var (
	ErrValidation          = errors.New("validation error")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrNotFound            = errors.New("not found")
	ErrExpired             = errors.New("expired")
	ErrExhausted           = errors.New("exhausted")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrIntegrityFault      = errors.New("integrity fault")
)

// ErrDuplicate is returned by repositories when a unique constraint rejects a row.
var ErrDuplicate = errors.New("duplicate record")

// Common errors
var (
	ErrWalletNotFound     = fmt.Errorf("wallet %w", ErrNotFound)
	ErrOrderNotFound      = fmt.Errorf("order %w", ErrNotFound)
	ErrDriverNotFound     = fmt.Errorf("driver %w", ErrNotFound)
	ErrGiftCodeNotFound   = fmt.Errorf("gift code %w", ErrNotFound)
	ErrWithdrawalNotFound = fmt.Errorf("withdrawal %w", ErrNotFound)
	ErrProductNotFound    = fmt.Errorf("product %w", ErrNotFound)

	ErrGiftCodeExpired   = fmt.Errorf("gift code %w", ErrExpired)
	ErrGiftCodeExhausted = fmt.Errorf("gift code %w", ErrExhausted)
	ErrAlreadyRedeemed   = fmt.Errorf("gift code already redeemed by user: %w", ErrExhausted)

	ErrDriverUnavailable = fmt.Errorf("driver not available: %w", ErrInvalidTransition)
	ErrDriverAssigned    = fmt.Errorf("order already has an active driver: %w", ErrInvalidTransition)
	ErrNotPending        = fmt.Errorf("not pending: %w", ErrInvalidTransition)

	ErrWalletFrozen = fmt.Errorf("wallet frozen pending reconciliation: %w", ErrIntegrityFault)

	ErrInvalidAmount      = fmt.Errorf("%w: amount must be positive", ErrValidation)
	ErrInvalidGiftCode    = fmt.Errorf("%w: malformed gift code", ErrValidation)
	ErrDuplicateReference = fmt.Errorf("%w: reference already processed", ErrValidation)
	ErrUnknownIntent      = fmt.Errorf("%w: unknown intent", ErrValidation)

	ErrTryAgain = fmt.Errorf("please try again: %w", ErrConcurrencyConflict)
)

// Kind names a taxonomy root for transport mapping and metrics labels.
type Kind string

const (
	KindValidation          Kind = "validation"
	KindInsufficientFunds   Kind = "insufficient_funds"
	KindInvalidTransition   Kind = "invalid_transition"
	KindNotFound            Kind = "not_found"
	KindExpired             Kind = "expired"
	KindExhausted           Kind = "exhausted"
	KindConcurrencyConflict Kind = "concurrency_conflict"
	KindIntegrityFault      Kind = "integrity_fault"
	KindInternal            Kind = "internal"
)

// KindOf classifies err. Integrity faults win over everything else.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrIntegrityFault):
		return KindIntegrityFault
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrInsufficientFunds):
		return KindInsufficientFunds
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrExpired):
		return KindExpired
	case errors.Is(err, ErrExhausted):
		return KindExhausted
	case errors.Is(err, ErrConcurrencyConflict):
		return KindConcurrencyConflict
	default:
		return KindInternal
	}
}

// Validation builds a ValidationError with a caller-facing message.
func Validation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Transition builds an InvalidTransition error with detail.
func Transition(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidTransition, fmt.Sprintf(format, args...))
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// New, Is and As re-export the standard helpers so callers need one import.
func New(text string) error { return errors.New(text) }

func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target interface{}) bool { return errors.As(err, target) }
