package websocket

import "errors"

// Connection and registry error types
var (
	ErrConnectionClosed  = errors.New("connection is closed")
	ErrWriteTimeout      = errors.New("write timeout exceeded")
	ErrInvalidJSON       = errors.New("message could not be serialized")
	ErrNilConnection     = errors.New("connection cannot be nil")
	ErrAlreadyIdentified = errors.New("connection identity already set")
	ErrNotRegistered     = errors.New("connection is not registered")
)
