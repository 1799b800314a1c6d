package imgerr

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeClassification    Code = "classification_failure"
	CodeInvalidDimension  Code = "invalid_dimension"
	CodeInvalidFitSpec    Code = "invalid_fit_spec"
	CodeMultipleResize    Code = "multiple_resize_not_allowed"
	CodeFilterValidation  Code = "filter_validation_failure"
	CodeUnsupportedFormat Code = "unsupported_format"
	CodeAlreadyConsumed   Code = "already_consumed"
	CodeDecode            Code = "decode_failure"
	CodeEncode            Code = "encode_failure"
)

// Sentinels for errors.Is. A sentinel matches any *Error carrying the same code.
var (
	ErrClassification    = &Error{Code: CodeClassification}
	ErrInvalidDimension  = &Error{Code: CodeInvalidDimension}
	ErrInvalidFitSpec    = &Error{Code: CodeInvalidFitSpec}
	ErrMultipleResize    = &Error{Code: CodeMultipleResize}
	ErrFilterValidation  = &Error{Code: CodeFilterValidation}
	ErrUnsupportedFormat = &Error{Code: CodeUnsupportedFormat}
	ErrAlreadyConsumed   = &Error{Code: CodeAlreadyConsumed}
	ErrDecode            = &Error{Code: CodeDecode}
	ErrEncode            = &Error{Code: CodeEncode}
)

type Error struct {
	Code   Code
	Reason string
	Err    error
}

func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Reason: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Reason: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Reason == ""
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
