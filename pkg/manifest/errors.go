package manifest

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrMalformedDocument = errors.New("malformed manifest document")
	ErrMissingField      = errors.New("manifest field missing")
	ErrWrongType         = errors.New("manifest field has wrong type")
)

// ErrorKind classifies a ParseError.
type ErrorKind int

const (
	MalformedDocument ErrorKind = iota
	MissingField
	WrongType
)

func (k ErrorKind) sentinel() error {
	switch k {
	case MissingField:
		return ErrMissingField
	case WrongType:
		return ErrWrongType
	default:
		return ErrMalformedDocument
	}
}

func (k ErrorKind) String() string {
	return k.sentinel().Error()
}

// ParseError reports why a manifest was rejected.
type ParseError struct {
	Kind ErrorKind
	// Field names the offending field for MissingField and WrongType.
	Field string
	// Err is the underlying decoder error, if any.
	Err error
}

func (e *ParseError) Error() string {
	switch {
	case e.Field != "" && e.Err != nil:
		return fmt.Sprintf("%s: %q: %v", e.Kind, e.Field, e.Err)
	case e.Field != "":
		return fmt.Sprintf("%s: %q", e.Kind, e.Field)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *ParseError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func malformed(err error) *ParseError {
	return &ParseError{Kind: MalformedDocument, Err: err}
}

func missing(field string) *ParseError {
	return &ParseError{Kind: MissingField, Field: field}
}

func wrongType(field string, err error) *ParseError {
	return &ParseError{Kind: WrongType, Field: field, Err: err}
}
