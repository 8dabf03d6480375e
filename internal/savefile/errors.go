package savefile

import (
	"errors"
	"fmt"
)

// Decode failure kinds. Match them with errors.Is.
var (
	ErrInvalidJSON         = errors.New("invalid json")
	ErrSchemaValidation    = errors.New("schema validation failed")
	ErrUnresolvedReference = errors.New("unresolved universe reference")
)

// DecodeError is the only error type Decode returns.
// Kind is one of ErrInvalidJSON, ErrSchemaValidation or ErrUnresolvedReference.
type DecodeError struct {
	Kind  error
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%v: %s: %v", e.Kind, e.Field, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == e.Kind }

func invalidJSON(err error) error {
	return &DecodeError{Kind: ErrInvalidJSON, Err: err}
}

func schemaError(field, format string, args ...any) error {
	return &DecodeError{Kind: ErrSchemaValidation, Field: field, Err: fmt.Errorf(format, args...)}
}

func unresolved(field string, id UniverseObjectID) error {
	return &DecodeError{
		Kind:  ErrUnresolvedReference,
		Field: field,
		Err:   fmt.Errorf("object %q in system %+v not found", id.IDInSystem, id.SystemCoordinates),
	}
}
