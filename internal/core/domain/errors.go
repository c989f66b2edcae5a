package domain

import "errors"

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrProductNotFound   = errors.New("product not found")
	ErrOrderNotFound     = errors.New("order not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrLockTimeout       = errors.New("lock timeout")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrRetriesExhausted  = errors.New("retries exhausted")
	ErrMalformedMessage  = errors.New("malformed message")
)

// TransientError marks a processing failure worth retrying later.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a processing failure that must be compensated.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func Transient(err error) error { return &TransientError{Err: err} }

func Permanent(err error) error { return &PermanentError{Err: err} }

// IsPermanent reports whether err is classified as permanent. Unclassified
// errors are treated as transient.
func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}
