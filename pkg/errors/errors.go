// Package errors provides the error categories shared by the pool, the
// transaction manager, the statement registry and the dispatcher. Each
// category maps to one HTTP status so a failed unit of work surfaces the
// same way wherever it fails:
//
//   - Temporary: the caller may retry after a backoff (pool exhausted).
//   - Permanent: programming or configuration errors (unknown statement,
//     malformed template, nested transaction, missing view).
//   - InvalidInput: the request supplied bad parameters.
//   - NotFound and Unauthorized: request-level outcomes.
//
// Domain packages declare sentinel errors and wrap them in a category:
//
//	var ErrPoolExhausted = errors.New("connection pool exhausted")
//	return errors.NewTemporary("acquire connection", ErrPoolExhausted)
//
// errors.Is still matches the sentinel through the category wrapper, and
// the category is found anywhere in the chain, including joined errors.
package errors

import (
	"fmt"
)

// Kind is the category of an Error.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindPermanent
	KindTemporary
	KindNotFound
	KindInvalidInput
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindPermanent:
		return "permanent"
	case KindTemporary:
		return "temporary"
	case KindNotFound:
		return "not_found"
	case KindInvalidInput:
		return "invalid_input"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// Error implements error for every category. Fields besides Kind and
// Message are optional.
type Error struct {
	Kind    Kind
	Message string

	// Field is the parameter or form field of an InvalidInput error and the
	// resource type of a NotFound error.
	Field string
	// ID identifies the missing resource of a NotFound error.
	ID string

	Err error
}

func (e *Error) Error() string {
	msg := e.Message
	switch {
	case e.Kind == KindNotFound && e.Field != "":
		msg = fmt.Sprintf("%s not found: %s", e.Field, e.ID)
	case e.Kind == KindInvalidInput && e.Field != "":
		msg = fmt.Sprintf("invalid input for %s: %s", e.Field, e.Message)
	case e.Kind == KindUnauthorized:
		msg = "unauthorized: " + e.Message
	}

	if e.Err == nil {
		return msg
	}
	if e.Kind == KindPermanent || e.Kind == KindTemporary {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return fmt.Sprintf("%s (%v)", msg, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the category marker of e's kind, which lets
// errors.Is find a category anywhere in a chain.
func (e *Error) Is(target error) bool {
	k, ok := target.(kindMarker)
	return ok && e.Kind == Kind(k)
}

// kindMarker is the errors.Is target for a category.
type kindMarker Kind

func (k kindMarker) Error() string { return Kind(k).String() }

// NewPermanent creates an error that will not succeed if retried, such as
// an unregistered statement name, a nested Begin or a missing view.
func NewPermanent(msg string, cause error) error {
	return &Error{Kind: KindPermanent, Message: msg, Err: cause}
}

// NewTemporary creates an error that might succeed if retried, such as no
// pooled connection becoming free in time.
func NewTemporary(msg string, cause error) error {
	return &Error{Kind: KindTemporary, Message: msg, Err: cause}
}

// NewNotFound reports a missing resource: a route, a view, an expired session.
func NewNotFound(resource, id string) error {
	return &Error{Kind: KindNotFound, Field: resource, ID: id}
}

// NewInvalidInput reports a bad request parameter.
func NewInvalidInput(field, msg string) error {
	return &Error{Kind: KindInvalidInput, Field: field, Message: msg}
}

// NewInvalidInputWithCause is NewInvalidInput carrying the conversion or
// validation error behind it.
func NewInvalidInputWithCause(field, msg string, cause error) error {
	return &Error{Kind: KindInvalidInput, Field: field, Message: msg, Err: cause}
}

// NewUnauthorized reports a missing or insufficient session.
func NewUnauthorized(msg string) error {
	return &Error{Kind: KindUnauthorized, Message: msg}
}
