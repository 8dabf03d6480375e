package savefile

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval so decoding defaults are deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator abstracts unique ID generation so tests are deterministic.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }

// ValidUUID reports whether s is a UUID in its canonical 36-character form.
// Commander ids and save uuids become path segments and storage keys, so
// nothing else is accepted.
func ValidUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
