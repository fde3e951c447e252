package notify

import "errors"

// Notification and emergency control error types
var (
	ErrNotParent          = errors.New("emergency stop requires a parent connection")
	ErrParentLinkMismatch = errors.New("parent is not linked to this child")
)
