package adapter

import "errors"

type ErrorKind int

const (
	// ErrorKindTransient errors are expected to self-resolve; the scheduler
	// retries after the source's backoff interval
	ErrorKindTransient ErrorKind = iota
	// ErrorKindFatal errors need operator intervention; the scheduler halts
	// the source's worker and raises an alert
	ErrorKindFatal
)

// Error is the single classified error an adapter is allowed to return
type Error struct {
	Kind  ErrorKind
	cause error
}

func (e *Error) Error() string {
	return e.cause.Error()
}

func (e *Error) Unwrap() error {
	return e.cause
}

func Transient(cause error) error {
	return &Error{Kind: ErrorKindTransient, cause: cause}
}

func Fatal(cause error) error {
	return &Error{Kind: ErrorKindFatal, cause: cause}
}

func IsFatal(err error) bool {
	var adapterError *Error
	if errors.As(err, &adapterError) {
		return adapterError.Kind == ErrorKindFatal
	}

	return false
}
