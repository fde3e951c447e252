package hub

import "errors"

// Hub error types
var (
	ErrQueueFull   = errors.New("connection inbound queue is full")
	ErrNotAttached = errors.New("connection is not attached to the hub")
)

// Error codes sent to clients in ERROR envelopes.
const (
	codeProtocolError    = "protocol_error"
	codeNotAuthenticated = "not_authenticated"
	codeRateLimited      = "rate_limited"
	codeForbidden        = "forbidden"
	codeCapacity         = "classroom_full"
	codeJoinFailed       = "join_failed"
	codeNotInClassroom   = "not_in_classroom"
	codeEmergencyDenied  = "emergency_denied"
)
