package types

import "errors"

// Envelope validation error types
var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrInvalidData        = errors.New("envelope data is not serializable")
	ErrDataTooLarge       = errors.New("envelope data exceeds 64KB limit")
)
