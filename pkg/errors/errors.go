package errors

import (
	"fmt"
	"maps"
	"runtime"
	"time"
)

// Error is the coded error carried through every layer of the catalog.
type Error struct {
	Code      Code
	Message   string
	Cause     error
	Context   map[string]string
	Stack     []Frame
	Timestamp time.Time
}

// Frame represents a stack frame
type Frame struct {
	Function string
	File     string
	Line     int
}

// New creates an error; cause may be nil.
func New(code Code, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
		Stack:     captureStackTrace(),
	}
}

func Newf(code Code, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...), nil)
}

func Wrap(code Code, err error, message string) *Error {
	return New(code, message, err)
}

func Wrapf(code Code, err error, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...), err)
}

// WithAdditional returns a copy of cause with one more additional_N context entry
func WithAdditional(cause error, format string, args ...interface{}) *Error {
	msg := fmt.Sprintf(format, args...)
	coded, ok := cause.(*Error)
	if !ok {
		return Wrap(CommonInternal, cause, msg).AddContext("additional_0", msg)
	}

	newErr := &Error{
		Code:      coded.Code,
		Message:   coded.Message,
		Cause:     coded.Cause,
		Context:   make(map[string]string, len(coded.Context)+1),
		Stack:     coded.Stack,
		Timestamp: coded.Timestamp,
	}
	maps.Copy(newErr.Context, coded.Context)

	nextIndex := 0
	for {
		if _, exists := newErr.Context[fmt.Sprintf("additional_%d", nextIndex)]; !exists {
			break
		}
		nextIndex++
	}
	newErr.Context[fmt.Sprintf("additional_%d", nextIndex)] = msg
	return newErr
}

// AddContext sets a context entry and returns the receiver for chaining
func (e *Error) AddContext(key, value string) *Error {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error carrying the same code
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code.Equals(e.Code)
}

func captureStackTrace() []Frame {
	var frames []Frame
	for i := 2; i < 12; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}
		frames = append(frames, Frame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}
	return frames
}
