// Package errors carries the engine's error taxonomy. Errors are built with
// samber/oops so that a machine-readable Code and structured context travel
// with the error chain up to the operation result.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeInputFileUnreadable Code = "input.file.unreadable"
	CodeInputFileMalformed  Code = "input.file.malformed"
	CodeInputColumnsMissing Code = "input.columns.missing"
	CodeInputNoneLoaded     Code = "input.none_loaded"

	CodeConfigLoadRead             Code = "config.load.read"
	CodeConfigParseInvalidFormat   Code = "config.parse.invalid_format"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodeStoreDatabaseFailure Code = "store.database.failure"
	CodeStoreTableNotFound   Code = "store.table.not_found"
	CodeStoreReadOnly        Code = "store.readonly"
	CodeStoreBackendUnknown  Code = "store.backend.unsupported"

	CodePipelineStepFailure Code = "pipeline.step.failure"
	CodeIntegrityViolation  Code = "pipeline.integrity.violation"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldPath(value string) Attr {
	return Field("path", value)
}

func FieldTable(value string) Attr {
	return Field("table", value)
}

func FieldStep(value string) Attr {
	return Field("step", value)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}
	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return oops.Code(code).Wrapf(err, format, args...)
}

// CodeOf returns the code carried by err. When several codes are present in
// the chain the innermost one wins, so the original classification survives
// re-wrapping at operation boundaries.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	switch code := oopsErr.Code().(type) {
	case Code:
		return code
	case string:
		return Code(code)
	case nil:
		return ""
	default:
		return Code(fmt.Sprintf("%v", code))
	}
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}
	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

// IsConfig reports whether err belongs to the configuration family. These
// errors are raised before any table mutation.
func IsConfig(err error) bool {
	return family(CodeOf(err)) == "config"
}

// IsInput reports whether err belongs to the input-file family.
func IsInput(err error) bool {
	return family(CodeOf(err)) == "input"
}

func Join(errs ...error) error {
	joined := stderrors.Join(errs...)
	if joined == nil {
		return nil
	}
	return oops.Code(CodePipelineStepFailure).Wrap(joined)
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func family(code Code) string {
	if code == "" {
		return ""
	}
	head, _, _ := strings.Cut(string(code), ".")
	return head
}
