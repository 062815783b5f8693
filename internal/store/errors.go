package store

import "errors"

var (
	// ErrNotFound is returned when a lattice or resource does not exist.
	ErrNotFound = errors.New("not found")
	// ErrBusy is returned when the writer lock or the query admission
	// limit cannot be acquired.
	ErrBusy = errors.New("store busy")
	// ErrIntegrity covers hash and Merkle mismatches detected on disk.
	ErrIntegrity = errors.New("integrity violation")
	// ErrNotReady is returned when readiness checks fail.
	ErrNotReady = errors.New("store not ready")
)
