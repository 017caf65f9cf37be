package nsprovider

import "nsprovider/internal/storeerr"

// Sentinel errors every operation may return, re-exported from
// internal/storeerr so callers need only import this package to use
// errors.Is against them.
var (
	ErrInvalidArgument    = storeerr.ErrInvalidArgument
	ErrInvalidKey         = storeerr.ErrInvalidKey
	ErrStoreNotFound      = storeerr.ErrStoreNotFound
	ErrIndexNotFound      = storeerr.ErrIndexNotFound
	ErrTransactionClosed  = storeerr.ErrTransactionClosed
	ErrTransactionAborted = storeerr.ErrTransactionAborted
	ErrDatabaseClosed     = storeerr.ErrDatabaseClosed
	ErrDatabaseClosing    = storeerr.ErrDatabaseClosing
	ErrVersionTooNew      = storeerr.ErrVersionTooNew
	ErrBackendUnavailable = storeerr.ErrBackendUnavailable
	ErrBackendError       = storeerr.ErrBackendError
)

// ErrorObserver is an optional, process-wide hook set once via
// Config.OnError. It is purely additive: Open/BeginTx/Commit/Rollback
// still return the original error to the caller regardless of what an
// observer does with it, and a panicking observer is never allowed to
// replace the real error (see notify in nsprovider.go).
type ErrorObserver interface {
	ObserveError(err error)
}

// ErrorObserverFunc adapts a plain function to ErrorObserver.
type ErrorObserverFunc func(error)

func (f ErrorObserverFunc) ObserveError(err error) { f(err) }
