package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidKind        = errors.New("unknown job kind")
	ErrQuotaExceeded      = errors.New("owner active job quota exceeded")
	ErrInvalidTransition  = errors.New("illegal job state transition")
	ErrAlreadyTerminal    = errors.New("job is already in a terminal state")
	ErrUnknownJob         = errors.New("no active job record for id")
	ErrAlreadyFinalized   = errors.New("final chunk already pushed for job")
	ErrSlowConsumer       = errors.New("subscriber dropped: backpressure credit exhausted")
	ErrStreamClosed       = errors.New("stream is closed")
	ErrSubscriberExists   = errors.New("subscriber id already registered for job")
	ErrJobCancelled       = errors.New("job cancellation honored")
	ErrBusClosed          = errors.New("event bus is closed")
	ErrConsumerExists     = errors.New("consumer id already registered for event type")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid executor context for database call")
)
