package rediscluster

import "errors"

// Sentinel errors surfaced by the router and controller lifecycle.
// Messages are part of the observable contract: callers and tests
// match on them verbatim.
var (
	ErrClusterEnded        = errors.New("Cluster is ended.")
	ErrConnectionClosed    = errors.New("Connection is closed.")
	ErrOfflineQueueDisabled = errors.New("Cluster isn't ready and enableOfflineQueue options is false")
	ErrNoStartupNodes      = errors.New("None of startup nodes is available")
	ErrInvalidAddr         = errors.New("invalid addr")
	ErrInvalidConn         = errors.New("invalid conn")
	ErrNoSlotMapping       = errors.New("bad slot mapping")
	ErrAlreadyConnecting   = errors.New("cluster is already connecting")
)

// redirectionExhaustedError is raised once a command's TTL reaches zero.
type redirectionExhaustedError struct {
	last error
}

func (e *redirectionExhaustedError) Error() string {
	return "Too many Cluster redirections. Last error: " + e.last.Error()
}

func (e *redirectionExhaustedError) Unwrap() error { return e.last }

// refreshFailedError carries the last node error seen while walking
// the node list during a failed slot-cache refresh (§4.C.5).
type refreshFailedError struct {
	lastNodeError error
}

func (e *refreshFailedError) Error() string {
	return "Failed to refresh slots cache."
}

func (e *refreshFailedError) Unwrap() error { return e.lastNodeError }

func (e *refreshFailedError) LastNodeError() error { return e.lastNodeError }
