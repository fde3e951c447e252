package room

import "errors"

// Room routing error types
var (
	ErrNilConnection = errors.New("connection cannot be nil")
	ErrEmptyRoomID   = errors.New("room id cannot be empty")
)
