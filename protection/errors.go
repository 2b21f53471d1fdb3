package protection

import (
	"errors"
	"fmt"
)

// Category classifies every failure the SDK can surface to a host.
// The set is closed: hosts switch on it to decide retry and messaging
// behaviour, so new values are a breaking change.
type Category string

const (
	// CategoryConfig covers bad or missing configuration, schema
	// violations, and calls made before the SDK is ready.
	CategoryConfig Category = "CONFIG_ERROR"
	// CategoryNetwork covers transport failures and non-2xx responses
	// from the edge endpoints.
	CategoryNetwork Category = "NETWORK_ERROR"
	// CategoryRender is reserved for presentation-layer failures; the
	// core never raises it itself.
	CategoryRender Category = "RENDER_ERROR"
	// CategoryUnknown is the catch-all applied to unexpected failures,
	// including recovered panics at the API boundary.
	CategoryUnknown Category = "UNKNOWN_ERROR"
)

// Valid reports whether c is one of the four fixed categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryConfig, CategoryNetwork, CategoryRender, CategoryUnknown:
		return true
	}
	return false
}

// Error is the categorized failure type carried on every error path of
// the SDK. Hosts receive it through events or the Init return value;
// nothing in the SDK panics across the public surface.
type Error struct {
	Category  Category
	Message   string
	Retryable bool
	Cause     error
}

// NewError constructs a non-retryable categorized error.
func NewError(category Category, message string) *Error {
	if !category.Valid() {
		category = CategoryUnknown
	}
	return &Error{Category: category, Message: message}
}

// WithCause attaches the underlying error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as transient.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

// Unwrap exposes the cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Categorize returns err's category when err is (or wraps) an *Error,
// and CategoryUnknown otherwise.
func Categorize(err error) Category {
	var werr *Error
	if errors.As(err, &werr) {
		return werr.Category
	}
	return CategoryUnknown
}

// AsError coerces any error into a categorized *Error, wrapping foreign
// errors as UNKNOWN_ERROR so the taxonomy stays closed at the boundary.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var werr *Error
	if errors.As(err, &werr) {
		return werr
	}
	return NewError(CategoryUnknown, err.Error()).WithCause(err)
}

// Recovered converts a recovered panic value into an UNKNOWN_ERROR,
// preserving an underlying error when the panic carried one.
func Recovered(context string, v any) *Error {
	if err, ok := v.(error); ok {
		return NewError(CategoryUnknown, fmt.Sprintf("%s: %v", context, err)).WithCause(err)
	}
	return NewError(CategoryUnknown, fmt.Sprintf("%s: %v", context, v))
}
