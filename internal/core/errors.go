package core

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSpec is returned when a tenure specification matches none of the recognised shapes.
	ErrInvalidSpec = errors.New("invalid tenure spec")
	// ErrInvalidExtension is returned when an access grant is extended by a negative day count.
	ErrInvalidExtension = errors.New("invalid extension")
	// ErrNotAvailable is returned when a transition is attempted on an item that is not in the required state.
	ErrNotAvailable = errors.New("stock item not available")
	// ErrInsufficientStock is returned when the requested quantity exceeds the remaining stock.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrRateOutOfRange is returned for commission rates outside [0, 0.5].
	ErrRateOutOfRange = errors.New("commission rate out of range")
	// ErrPersistenceConflict is returned when a lock or transaction could not be acquired or committed.
	// It is the only retriable error: callers retry the whole operation from scratch.
	ErrPersistenceConflict = errors.New("persistence conflict")

	ErrInvalidRequest    = errors.New("invalid request")
	ErrForbidden         = errors.New("forbidden")
	ErrStockItemNotFound = errors.New("stock item not found")
	ErrGrantNotFound     = errors.New("access grant not found")
	ErrSaleNotFound      = errors.New("sale not found")

	// ErrStaleVersion is returned when an edit names a version that is no longer current.
	// Retrying cannot help: the caller must re-read the item.
	ErrStaleVersion = errors.New("stock item version is stale")

	// ErrMaintenanceMode is returned while a commission recalculation is running.
	ErrMaintenanceMode = fmt.Errorf("%w: commission recalculation in progress", ErrPersistenceConflict)
)

// IsRetriable reports whether err is worth retrying from scratch.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrPersistenceConflict)
}
