package saves

import (
	"context"
	"sync"

	"savekeeper/internal/savefile"
)

// Backend is a storage strategy for commander saves.
//
// Reads never fail because of a corrupted save: corrupted entries are
// quarantined, recorded in CorruptedSaves and left out of the result.
// Writes report AlreadyExists as (false, nil) and storage failures as
// (false, err).
type Backend interface {
	// GetSavesForCmdr returns the commander's saves, newest first in each
	// category. It returns nil when the commander has no saves at all.
	GetSavesForCmdr(ctx context.Context, cmdr string) (*savefile.CmdrSaves, error)

	// DeleteSaveForCmdr removes the save from whichever category holds it.
	DeleteSaveForCmdr(ctx context.Context, cmdr, uuid string) (bool, error)

	// DeleteCmdr removes the commander and all of its saves.
	DeleteCmdr(ctx context.Context, cmdr string) (bool, error)

	// GetCmdrUUIDs lists every commander with stored saves, sorted.
	GetCmdrUUIDs(ctx context.Context) ([]string, error)

	AddManualSave(ctx context.Context, cmdr string, save savefile.Save) (bool, error)

	// AddAutoSave adds the save and then evicts the oldest auto saves
	// beyond the retention bound.
	AddAutoSave(ctx context.Context, cmdr string, save savefile.Save) (bool, error)

	// CorruptedSaves returns the entries quarantined since the backend was opened.
	CorruptedSaves() []CorruptedSave

	Close() error
}

// CorruptedSave describes a save that failed to decode. The record lives in
// memory only; the bytes themselves are kept in the quarantine area.
type CorruptedSave struct {
	// Path is the logical location the save was read from.
	Path    string
	Content []byte
	Err     error
}

func (c CorruptedSave) Kind() ErrorKind { return KindOf(c.Err) }

// CorruptionLog collects CorruptedSave records. Safe for concurrent use.
type CorruptionLog struct {
	mu      sync.Mutex
	entries []CorruptedSave
}

func (l *CorruptionLog) Record(c CorruptedSave) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, c)
}

// Entries returns a copy of the recorded entries in the order they were seen.
func (l *CorruptionLog) Entries() []CorruptedSave {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]CorruptedSave(nil), l.entries...)
}
