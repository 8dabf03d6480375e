package saves

import (
	"errors"
	"fmt"

	"savekeeper/internal/savefile"
)

// ErrFilesystem marks a failure of the underlying byte storage.
var ErrFilesystem = errors.New("filesystem failure")

// ErrInvalidID is returned when a commander id or save uuid is not a UUID.
var ErrInvalidID = errors.New("invalid id")

// ErrorKind names the class of a persistence failure.
type ErrorKind string

const (
	KindNone                ErrorKind = ""
	KindInvalidJSON         ErrorKind = "invalid_json"
	KindSchemaValidation    ErrorKind = "schema_validation_failed"
	KindUnresolvedReference ErrorKind = "unresolved_universe_reference"
	KindFilesystem          ErrorKind = "filesystem_failure"
	KindUnknown             ErrorKind = "unknown"
)

// KindOf classifies err into the closed error taxonomy.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, savefile.ErrInvalidJSON):
		return KindInvalidJSON
	case errors.Is(err, savefile.ErrSchemaValidation), errors.Is(err, ErrInvalidID):
		return KindSchemaValidation
	case errors.Is(err, savefile.ErrUnresolvedReference):
		return KindUnresolvedReference
	case errors.Is(err, ErrFilesystem):
		return KindFilesystem
	default:
		return KindUnknown
	}
}

// FilesystemError wraps a storage failure so it matches ErrFilesystem
// while keeping the underlying cause reachable.
func FilesystemError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrFilesystem, err)
}

// CheckID returns an error matching ErrInvalidID unless id is a canonical UUID.
func CheckID(what, id string) error {
	if !savefile.ValidUUID(id) {
		return fmt.Errorf("%w: %s %q is not a uuid", ErrInvalidID, what, id)
	}
	return nil
}
