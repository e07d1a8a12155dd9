package proc

import "errors"

var (
	// ErrSessionBusy is returned when another action holds the session lock.
	ErrSessionBusy = errors.New("session is busy")
	// ErrSessionDestroyed is returned for actions on a session that is no longer alive.
	ErrSessionDestroyed = errors.New("session destroyed")
	// ErrInvalidRequest covers precondition failures such as seeking while idle.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrSourceUnavailable means the catalog could not resolve or open the audio. State is left unchanged.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrTransportFailure means the voice transport failed. The session is destroyed.
	ErrTransportFailure = errors.New("transport failure")
	// ErrSurfaceStale marks a controller surface that can no longer be fetched or edited.
	ErrSurfaceStale = errors.New("controller surface is stale")
	// ErrPersistence wraps autosave read and write failures.
	ErrPersistence = errors.New("persistence failure")
)
