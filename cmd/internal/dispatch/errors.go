package dispatch

import "errors"

var (
	ErrQueueFull = errors.New("dispatch: queue full")
	ErrNoSender  = errors.New("dispatch: no sender for channel kind")
)

// TransientError marks a delivery failure worth retrying (timeouts, 5xx, refused connections).
type TransientError struct{ Err error }

func (e TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable. A nil err stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return TransientError{Err: err}
}

// IsTransient reports whether err (or anything it wraps) is a TransientError.
func IsTransient(err error) bool {
	var te TransientError
	return errors.As(err, &te)
}
