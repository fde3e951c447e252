package session

import "errors"

// Session management error types
var (
	ErrClassroomNotFound   = errors.New("classroom not found")
	ErrClassroomEnded      = errors.New("classroom has ended")
	ErrClassroomFull       = errors.New("classroom is at student capacity")
	ErrNotClassroomTeacher = errors.New("only the owning teacher may end the classroom")
	ErrInvalidSubject      = errors.New("subject must be 1-200 characters")
	ErrInvalidTeacherID    = errors.New("teacher id must be a valid user id")
	ErrChildNotAuthorized  = errors.New("child authorization failed")
	ErrParentLinkMismatch  = errors.New("parent is not linked to this child")
	ErrAlreadyJoined       = errors.New("user already joined this classroom")
	ErrParticipantNotFound = errors.New("participant not found in classroom")
	ErrInvalidStateChange  = errors.New("invalid classroom state transition")
	ErrNotAuthenticated    = errors.New("connection is not authenticated")
)
