package transferlog

import "errors"

var (
	// ErrTransferNotFound is returned when the referenced transfer id is
	// known to neither the cache nor the backing store.
	ErrTransferNotFound = errors.New("unable to locate transfer")

	// ErrDuplicateID signals that a transfer with the same id but
	// different contents has already been prepared.
	ErrDuplicateID = errors.New("transfer with this id already exists " +
		"with different contents")

	// ErrAlreadyFulfilled is returned in the event we attempt to
	// transition a transfer that has already reached its fulfilled
	// terminal state.
	ErrAlreadyFulfilled = errors.New("transfer is already fulfilled")

	// ErrAlreadyRolledBack is returned in the event we attempt to
	// transition a transfer that has already been cancelled.
	ErrAlreadyRolledBack = errors.New("transfer is already rolled back")

	// ErrMaximumExceeded signals that preparing an incoming transfer
	// would push the incoming balance over the configured maximum.
	ErrMaximumExceeded = errors.New("incoming balance would exceed maximum")

	// ErrMinimumExceeded signals that preparing an outgoing transfer
	// would push the outgoing balance below the configured minimum.
	ErrMinimumExceeded = errors.New("outgoing balance would drop below " +
		"minimum")

	// ErrLogClosed is returned for operations attempted after Close.
	ErrLogClosed = errors.New("transfer log is closed")
)
