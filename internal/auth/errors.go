package auth

import "errors"

// Authentication error types
var (
	ErrMissingToken    = errors.New("authentication token is required")
	ErrInvalidToken    = errors.New("authentication token is invalid")
	ErrExpiredToken    = errors.New("authentication token is expired")
	ErrInvalidRole     = errors.New("token carries an invalid role")
	ErrVerifierFailure = errors.New("token verification service unavailable")
)
