package utils

import (
	"errors"

	"github.com/graphql-go/graphql/gqlerrors"
)

// InternalErrorMessage replaces the text of errors that did not originate
// from GraphQL execution when debug output is disabled
const InternalErrorMessage = "internal server error"

// FormatErrorFunc converts an error into the shape sent to clients
type FormatErrorFunc func(err error, debug bool) gqlerrors.FormattedError

// DefaultFormatError passes GraphQL errors through untouched and masks
// everything else unless debug is set
func DefaultFormatError(err error, debug bool) gqlerrors.FormattedError {
	var formatted gqlerrors.FormattedError
	if errors.As(err, &formatted) {
		return formatted
	}

	var gqlErr *gqlerrors.Error
	if errors.As(err, &gqlErr) {
		return gqlerrors.FormatError(gqlErr)
	}

	if debug {
		return gqlerrors.FormatError(err)
	}

	return gqlerrors.NewFormattedError(InternalErrorMessage)
}

// FormatErrors runs every error through the formatter. A nil formatter uses
// DefaultFormatError.
func FormatErrors(errs gqlerrors.FormattedErrors, f FormatErrorFunc, debug bool) gqlerrors.FormattedErrors {
	if len(errs) == 0 {
		return nil
	}

	if f == nil {
		f = DefaultFormatError
	}

	out := make(gqlerrors.FormattedErrors, 0, len(errs))
	for _, err := range errs {
		out = append(out, f(err, debug))
	}

	return out
}

// FormatError formats a single error that was raised outside of GraphQL
// execution, such as a failure pulling the next subscription result
func FormatError(err error, f FormatErrorFunc, debug bool) gqlerrors.FormattedErrors {
	if f == nil {
		f = DefaultFormatError
	}

	return gqlerrors.FormattedErrors{f(err, debug)}
}
