package session

import "errors"

var (
	ErrNotEnoughData         = errors.New("not enough data")
	ErrNoData                = errors.New("no data to export")
	ErrClassifierUnavailable = errors.New("classifier is not available")
	ErrNotTrained            = errors.New("classifier is not trained")
	ErrClosed                = errors.New("session is closed")
	ErrNotFound              = errors.New("session not found")
	ErrInvalidLabel          = errors.New("invalid sample label")
)

var (
	ErrInvalidID       = errors.New("invalid session id")
	ErrTooManySessions = errors.New("too many open sessions")
)
