package types

import "errors"

// Domain errors for type validation
var (
	ErrEmptyPath      = errors.New("document path cannot be empty")
	ErrEmptyContent   = errors.New("content cannot be empty")
	ErrInvalidAction  = errors.New("invalid processing action")
	ErrMissingReason  = errors.New("skip decisions require a reason")
	ErrUnknownVariant = errors.New("unknown pipeline mode")
)
