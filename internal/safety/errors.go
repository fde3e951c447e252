package safety

import "errors"

// Safety monitoring error types
var (
	ErrClassifierUnavailable = errors.New("voice safety classifier unavailable")
)
