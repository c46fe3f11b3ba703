package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/ruralpay/ledger/internal/repository"
)

var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrAssetTypeNotFound   = errors.New("asset type not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrTransientConflict is retried by the Retrier and only reaches callers
	// once retries are exhausted.
	ErrTransientConflict = errors.New("transient conflict")
	// ErrStorage wraps any other persistence failure.
	ErrStorage = errors.New("storage error")
)

// storageError lifts a repository error into the engine taxonomy. Errors that
// already belong to the taxonomy, and context errors, pass through.
func storageError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%w: %s: %w", ErrTransientConflict, op, err)
	case isDomainError(err),
		errors.Is(err, repository.ErrDuplicateIdempotencyKey),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
	}
}

func isDomainError(err error) bool {
	for _, target := range []error{
		ErrInvalidAmount, ErrInvalidArgument, ErrAssetTypeNotFound,
		ErrInsufficientBalance, ErrTransactionNotFound, ErrTransientConflict, ErrStorage,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
