package testutil

import (
	"context"
	"errors"
	"sort"
	"sync"

	"savekeeper/internal/savefile"
	"savekeeper/internal/saves"
)

// ErrBackendUnavailable is returned by StubBackend when told to fail.
var ErrBackendUnavailable = errors.New("backend unavailable")

// StubBackend is a map backed saves.Backend with switchable failures.
// It keeps every auto save; retention is left to the code under test.
type StubBackend struct {
	mu              sync.Mutex
	data            map[string]*savefile.CmdrSaves
	ReadShouldFail  bool
	WriteShouldFail bool
	Writes          int
}

// NewTestManagerBackend returns a StubBackend preloaded with initial.
func NewTestManagerBackend(initial map[string]*savefile.CmdrSaves) *StubBackend {
	data := make(map[string]*savefile.CmdrSaves, len(initial))
	for cmdr, cs := range initial {
		data[cmdr] = cs.Clone()
	}
	return &StubBackend{data: data}
}

func (b *StubBackend) GetSavesForCmdr(_ context.Context, cmdr string) (*savefile.CmdrSaves, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ReadShouldFail {
		return nil, ErrBackendUnavailable
	}
	return b.data[cmdr].Clone(), nil
}

func (b *StubBackend) DeleteSaveForCmdr(_ context.Context, cmdr, uuid string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.WriteShouldFail {
		return false, ErrBackendUnavailable
	}
	cs, ok := b.data[cmdr]
	if !ok {
		return false, nil
	}
	category, i, found := cs.Find(uuid)
	if !found {
		return false, nil
	}
	list := cs.List(category)
	cs.Set(category, append(list[:i:i], list[i+1:]...))
	return true, nil
}

func (b *StubBackend) DeleteCmdr(_ context.Context, cmdr string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.WriteShouldFail {
		return false, ErrBackendUnavailable
	}
	_, ok := b.data[cmdr]
	delete(b.data, cmdr)
	return ok, nil
}

func (b *StubBackend) GetCmdrUUIDs(context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ReadShouldFail {
		return nil, ErrBackendUnavailable
	}
	ids := make([]string, 0, len(b.data))
	for id := range b.data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (b *StubBackend) AddManualSave(_ context.Context, cmdr string, save savefile.Save) (bool, error) {
	return b.add(cmdr, save, savefile.CategoryManual)
}

func (b *StubBackend) AddAutoSave(_ context.Context, cmdr string, save savefile.Save) (bool, error) {
	return b.add(cmdr, save, savefile.CategoryAuto)
}

func (b *StubBackend) add(cmdr string, save savefile.Save, category savefile.Category) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.WriteShouldFail {
		return false, ErrBackendUnavailable
	}
	cs, ok := b.data[cmdr]
	if !ok {
		cs = savefile.NewCmdrSaves()
		b.data[cmdr] = cs
	}
	for _, s := range cs.List(category) {
		if s.UUID == save.UUID {
			return false, nil
		}
	}
	list := append([]savefile.Save{save}, cs.List(category)...)
	savefile.SortNewestFirst(list)
	cs.Set(category, list)
	b.Writes++
	return true, nil
}

func (b *StubBackend) CorruptedSaves() []saves.CorruptedSave { return nil }

func (b *StubBackend) Close() error { return nil }

var _ saves.Backend = (*StubBackend)(nil)
