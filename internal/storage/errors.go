package storage

import "errors"

var (
	ErrAccountNotFound     = errors.New("no balance record for account")
	ErrAccountNotUnique    = errors.New("more than one balance record for account")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrDuplicateSettlement = errors.New("settlement with this idempotency key already exists")
)
