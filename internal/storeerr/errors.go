// Package storeerr defines the sentinel error kinds shared by every layer
// of the store. Callers identify a failure with errors.Is against one of
// these values; the concrete error returned always wraps one of them.
package storeerr

import "errors"

var (
	// ErrInvalidArgument covers an empty search phrase, an invalid
	// compound/multi-entry index combination, or an unrecognized
	// resolution mode.
	ErrInvalidArgument = errors.New("nsprovider: invalid argument")

	// ErrInvalidKey means a key could not be extracted from an item or
	// serialized into its ordered string form.
	ErrInvalidKey = errors.New("nsprovider: invalid key")

	// ErrStoreNotFound means a store name is absent from the schema.
	ErrStoreNotFound = errors.New("nsprovider: store not found")

	// ErrIndexNotFound means an index name is absent from a store's schema.
	ErrIndexNotFound = errors.New("nsprovider: index not found")

	// ErrTransactionClosed means an operation was attempted on a
	// transaction that already committed or rolled back.
	ErrTransactionClosed = errors.New("nsprovider: transaction closed")

	// ErrTransactionAborted means the backend signaled a failure, or the
	// caller explicitly rolled the transaction back.
	ErrTransactionAborted = errors.New("nsprovider: transaction aborted")

	// ErrDatabaseClosed means the provider is fully closed.
	ErrDatabaseClosed = errors.New("nsprovider: database closed")

	// ErrDatabaseClosing means the provider is draining in-flight
	// transactions and refuses new ones.
	ErrDatabaseClosing = errors.New("nsprovider: database closing")

	// ErrVersionTooNew means the persisted schema version is newer than
	// the declared one and the caller did not opt into a wipe.
	ErrVersionTooNew = errors.New("nsprovider: persisted schema version is newer than declared version")

	// ErrBackendUnavailable means the requested driver or environment is
	// not usable (missing driver, unsupported platform).
	ErrBackendUnavailable = errors.New("nsprovider: backend unavailable")

	// ErrBackendError wraps any unclassified driver-level error.
	ErrBackendError = errors.New("nsprovider: backend error")
)
