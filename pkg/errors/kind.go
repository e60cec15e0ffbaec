package errors

import (
	"context"
	"errors"
	"fmt"
)

// As calls the standard library errors.As.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Is calls the standard library errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// New declares a sentinel.
func New(text string) error {
	return errors.New(text)
}

// Join calls the standard library errors.Join.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// KindOf returns the category of the outermost Error in err's chain, or
// KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsPermanent reports whether a Permanent error is in err's chain.
func IsPermanent(err error) bool { return errors.Is(err, kindMarker(KindPermanent)) }

// IsTemporary reports whether a Temporary error is in err's chain.
func IsTemporary(err error) bool { return errors.Is(err, kindMarker(KindTemporary)) }

// IsNotFound reports whether a NotFound error is in err's chain.
func IsNotFound(err error) bool { return errors.Is(err, kindMarker(KindNotFound)) }

// IsInvalidInput reports whether an InvalidInput error is in err's chain.
func IsInvalidInput(err error) bool { return errors.Is(err, kindMarker(KindInvalidInput)) }

// IsUnauthorized reports whether an Unauthorized error is in err's chain.
func IsUnauthorized(err error) bool { return errors.Is(err, kindMarker(KindUnauthorized)) }

// IsTimeout reports whether the error came from an expired deadline, such
// as a request timeout that cancelled a running statement.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// Wrap adds context to err and keeps its category. An uncategorized err
// becomes Permanent.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	kind := KindOf(err)
	if kind == KindUnknown {
		kind = KindPermanent
	}
	return &Error{Kind: kind, Message: msg, Err: err}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}
