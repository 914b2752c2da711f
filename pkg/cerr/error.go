package cerr

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"buf.build/gen/go/bufbuild/protovalidate/protocolbuffers/go/buf/validate"
	"google.golang.org/protobuf/proto"

	"github.com/OutllierRejects/reliefops/pkg/clog"
)

type Error struct {
	Code    Code
	Msg     string          // returned to the caller together with Code
	Err     error           // logged only
	Field   string          // offending input field for validation errors
	Stack   string          // captured for error level codes
	Details []proto.Message // returned to the caller
}

func NewError(code Code, msg string, underlying error) *Error {
	err := &Error{
		Code: code,
		Msg:  msg,
		Err:  underlying,
	}
	if clog.CodeToLevel(code.ConnectCode()) == clog.LevelError {
		stackTrace := make([]byte, 2048)
		n := runtime.Stack(stackTrace, false)
		err.Stack = string(stackTrace[0:n])
	}
	return err
}

func NewErrorWithDetails(code Code, msg string, underlying error, details []proto.Message) *Error {
	err := NewError(code, msg, underlying)
	err.Details = details
	return err
}

// NewValidationError reports a missing or invalid input field. The field name
// travels both on the error and as a protovalidate violation detail.
func NewValidationError(field, msg string) *Error {
	err := NewError(InvalidArgument, msg, nil)
	err.Field = field
	err.Details = append(err.Details, &validate.Violation{
		Field: &validate.FieldPath{
			Elements: []*validate.FieldPathElement{{FieldName: &field}},
		},
		Message: &msg,
	})
	return err
}

func (e *Error) AddDetailError(err proto.Message) {
	e.Details = append(e.Details, err)
}

func (e *Error) AddDetailMessage(msg string) error {
	e.Details = append(e.Details, &validate.Violation{Message: &msg})
	return e
}

func (e *Error) AddDetailMessageWithCode(msg string, code string) error {
	e.Details = append(e.Details, &validate.Violation{
		Message: &msg,
		RuleId:  &code,
	})
	return e
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("[%s] %s", e.Code, e.Msg)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Msg, e.Err.Error())
}

func (e *Error) Unwrap() error {
	return e.Err
}

func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// CodeOf classifies any error. Context errors map onto their gRPC equivalents
// so a stage timeout is DeadlineExceeded even when nothing wrapped it.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Code
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return Canceled
	}
	return Unknown
}

// IsRetryable is the default retry predicate for pipeline stages and
// notification delivery.
func IsRetryable(err error) bool {
	return CodeOf(err).Retryable()
}

// Message returns the caller safe message of err.
func Message(err error) string {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Msg
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "operation timed out"
	}
	return "internal error"
}

// FieldOf returns the offending field of a validation error, if any.
func FieldOf(err error) string {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Field
	}
	return ""
}
