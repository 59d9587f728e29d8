package sound

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the manager wraps one of these.
var (
	ErrValidation        = errors.New("validation error")
	ErrQuotaExceeded     = errors.New("quota exceeded")
	ErrDownloadFailure   = errors.New("download failure")
	ErrDecodeFailure     = errors.New("decode failure")
	ErrEncodeFailure     = errors.New("encode failure")
	ErrIllegalTransition = errors.New("illegal state transition")
	ErrNotFound          = errors.New("not found")
)

// Error carries a kind and the human-readable reason sent to the player.
type Error struct {
	Kind   error
	Reason string
}

func (e *Error) Error() string {
	return e.Reason
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, format string, a ...interface{}) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, a...)}
}

// Reason extracts the player-facing text from err.
func Reason(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return "Sound request failed"
}
