package settlement

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrEmptyCart              = errors.New("cart is empty, nothing to settle")
	ErrInvalidCart            = errors.New("cart contains a quantity below one")
	ErrItemValidationMismatch = errors.New("cart items no longer match the catalog")
	ErrAccountState           = errors.New("account balance record is missing or duplicated")
	ErrInsufficientFunds      = errors.New("insufficient balance")
	ErrConcurrentModification = errors.New("balance changed during settlement")
	ErrStorage                = errors.New("storage failure")
)

// ItemValidationError lists the cart items the catalog no longer offers.
type ItemValidationError struct {
	Missing []int64
}

func (e *ItemValidationError) Error() string {
	return fmt.Sprintf("%v: items %v", ErrItemValidationMismatch, e.Missing)
}

func (e *ItemValidationError) Is(target error) bool {
	return target == ErrItemValidationMismatch
}

// InsufficientFundsError carries the unchanged balance so the caller can show it.
type InsufficientFundsError struct {
	Balance decimal.Decimal
	Total   decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("%v: balance %s, order total %s", ErrInsufficientFunds, e.Balance.StringFixed(2), e.Total.StringFixed(2))
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

type AccountStateError struct {
	AccountID int64
	Err       error
}

func (e *AccountStateError) Error() string {
	return fmt.Sprintf("%v: account %d: %v", ErrAccountState, e.AccountID, e.Err)
}

func (e *AccountStateError) Unwrap() error { return e.Err }

func (e *AccountStateError) Is(target error) bool {
	return target == ErrAccountState
}

// StorageError wraps a collaborator failure. Op names the step that failed.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrStorage, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// Outcome maps a Settle error to a short label used for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, ErrInvalidCart):
		return "invalid_cart"
	case errors.Is(err, ErrItemValidationMismatch):
		return "item_mismatch"
	case errors.Is(err, ErrAccountState):
		return "account_state"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrConcurrentModification):
		return "concurrent_modification"
	default:
		return "storage_error"
	}
}
