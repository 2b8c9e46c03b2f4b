package domain

import "errors"

var (
	// ErrRoomNotFound is returned when a room lookup fails to find a record.
	ErrRoomNotFound = errors.New("room not found")
	// ErrRoomFull names a room that has reached its max_users capacity. The
	// coordinator does not return it: a full room is rejected with close
	// code 4003.
	ErrRoomFull = errors.New("room is full")
	// ErrNotOwner names an operation by a client that does not hold the
	// resource it targets. Lock operations do not return it: a non-owner's
	// Release or RefreshTTL reports false, and a non-owner's commit is dropped.
	ErrNotOwner = errors.New("client does not own this resource")
	// ErrEmptyClientID guards lock operations against a blank/unset client id.
	ErrEmptyClientID = errors.New("client id must not be empty")
)
