package repositories

import (
	"errors"
	"fmt"

	domain "github.com/devwyshkit/wyshkit-tiru-sub001/internal/domain"
)

// Kind categorises a StoreError.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindConflict
	KindUnavailable
)

// StoreError is the RepositoryError used by the memory and postgres backends.
type StoreError struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *StoreError) IsNotFound() bool    { return e != nil && e.Kind == KindNotFound }
func (e *StoreError) IsConflict() bool    { return e != nil && e.Kind == KindConflict }
func (e *StoreError) IsUnavailable() bool { return e != nil && e.Kind == KindUnavailable }

// NotFound builds a not-found StoreError.
func NotFound(op, format string, args ...any) error {
	return &StoreError{Op: op, Kind: KindNotFound, Err: fmt.Errorf(format, args...)}
}

// Conflict builds a conflict StoreError.
func Conflict(op, format string, args ...any) error {
	return &StoreError{Op: op, Kind: KindConflict, Err: fmt.Errorf(format, args...)}
}

// Unavailable wraps a transient backend failure.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Kind: KindUnavailable, Err: err}
}

// IsNotFound reports whether err is a repository not-found error.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsConflict reports whether err is a repository conflict error.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

// IsUnavailable reports whether err is a transient repository error.
func IsUnavailable(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}

// InsufficientStockError reports a reservation or promotion that would oversell a key.
type InsufficientStockError struct {
	Key       domain.StockKey
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.Key, e.Requested, e.Available)
}

// Short is the number of units missing to satisfy the request.
func (e *InsufficientStockError) Short() int {
	if e.Available < 0 {
		return e.Requested
	}
	return e.Requested - e.Available
}

// IsConflict lets services treat stock shortfalls as contention.
func (e *InsufficientStockError) IsConflict() bool    { return true }
func (e *InsufficientStockError) IsNotFound() bool    { return false }
func (e *InsufficientStockError) IsUnavailable() bool { return false }

// ErrInsufficientWallet is returned when a debit exceeds the wallet balance.
var ErrInsufficientWallet = errors.New("wallet: insufficient balance")
