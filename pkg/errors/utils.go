package errors

import (
	stderrors "errors"
	"fmt"
	"slices"
	"strings"
)

// IsCoded reports whether err or anything it wraps is an *Error
func IsCoded(err error) bool {
	var coded *Error
	return stderrors.As(err, &coded)
}

// GetContext returns the context of the outermost *Error in the chain
func GetContext(err error) map[string]string {
	var coded *Error
	if stderrors.As(err, &coded) {
		return coded.Context
	}
	return nil
}

// GetCode returns the code of the outermost *Error in the chain
func GetCode(err error) string {
	var coded *Error
	if stderrors.As(err, &coded) {
		return coded.Code.String()
	}
	return ""
}

// HasCode reports whether any *Error in the chain carries code
func HasCode(err error, code Code) bool {
	for err != nil {
		if coded, ok := err.(*Error); ok && coded.Code.Equals(code) {
			return true
		}
		switch x := err.(type) {
		case interface{ Unwrap() error }:
			err = x.Unwrap()
		case interface{ Unwrap() []error }:
			for _, inner := range x.Unwrap() {
				if HasCode(inner, code) {
					return true
				}
			}
			return false
		default:
			return false
		}
	}
	return false
}

// FormatError renders an error with its code and context for logs
func FormatError(err error) string {
	var coded *Error
	if !stderrors.As(err, &coded) {
		return err.Error()
	}

	var parts []string
	parts = append(parts, fmt.Sprintf("Code: %s", coded.Code))
	parts = append(parts, fmt.Sprintf("Message: %s", coded.Message))

	if len(coded.Context) > 0 {
		parts = append(parts, "Context:")
		keys := make([]string, 0, len(coded.Context))
		for k := range coded.Context {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("  %s: %v", k, coded.Context[k]))
		}
	}

	if coded.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause: %v", coded.Cause))
	}

	return strings.Join(parts, "\n")
}

// AsError converts any error to *Error, wrapping foreign errors as common.internal.
//
//	if err := op(); err != nil {
//	    return AsError(err).AddContext("operation", "op")
//	}
func AsError(err error) *Error {
	if err == nil {
		return nil
	}

	var coded *Error
	if stderrors.As(err, &coded) {
		return coded
	}

	return New(CommonInternal, err.Error(), err)
}
