package endpoint

import "errors"

var (
	// ErrNotFound indicates no endpoint exists with the given id.
	ErrNotFound = errors.New("endpoint: not found")

	// ErrAlreadyRegistered indicates Register was called with an id
	// already present in the durable table.
	ErrAlreadyRegistered = errors.New("endpoint: already registered")
)
