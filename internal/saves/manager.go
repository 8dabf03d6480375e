package saves

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"savekeeper/internal/savefile"
)

// DefaultMaxAutoSaves is the retention bound used when none is configured.
const DefaultMaxAutoSaves = 5

// Manager serves commander saves from memory and forwards mutations to a Backend.
//
// Mutations are applied to the cache before they are persisted and are kept
// when persistence fails; the failure is reported through the boolean result.
type Manager struct {
	backend      Backend
	logger       Logger
	maxAutoSaves int

	mu    sync.RWMutex
	cache map[string]*savefile.CmdrSaves
	// pending holds cached saves whose last persist attempt failed. A retry
	// of the same add goes to the backend instead of being rejected as a
	// duplicate of the cached copy.
	pending map[pendingKey]struct{}
}

type pendingKey struct {
	cmdr     string
	category savefile.Category
	uuid     string
}

// NewManager loads every save from backend. It fails only if that initial
// read fails.
func NewManager(ctx context.Context, backend Backend, logger Logger, maxAutoSaves int) (*Manager, error) {
	if maxAutoSaves < 1 {
		return nil, fmt.Errorf("max auto saves must be at least 1, got %d", maxAutoSaves)
	}
	if logger == nil {
		logger = NewNopLogger()
	}

	cache, err := ExportSaves(ctx, backend)
	if err != nil {
		return nil, fmt.Errorf("loading saves: %w", err)
	}
	logger.Info("save manager initialised", "commanders", len(cache))

	return &Manager{
		backend:      backend,
		logger:       logger,
		maxAutoSaves: maxAutoSaves,
		cache:        cache,
		pending:      make(map[pendingKey]struct{}),
	}, nil
}

// GetSavesForCmdr returns a copy of the cached saves, or nil if the commander
// has none. It never touches storage.
func (m *Manager) GetSavesForCmdr(cmdr string) *savefile.CmdrSaves {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cache[cmdr].Clone()
}

// GetCmdrUUIDs lists the cached commanders, sorted.
func (m *Manager) GetCmdrUUIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.cache))
	for id := range m.cache {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AddManualSave records a manual save. It returns false if the uuid is already
// used in the manual category or the save could not be persisted.
func (m *Manager) AddManualSave(ctx context.Context, cmdr string, save savefile.Save) bool {
	return m.add(ctx, cmdr, save, savefile.CategoryManual)
}

// AddAutoSave records an auto save, evicting the oldest auto saves beyond
// the retention bound.
func (m *Manager) AddAutoSave(ctx context.Context, cmdr string, save savefile.Save) bool {
	return m.add(ctx, cmdr, save, savefile.CategoryAuto)
}

func (m *Manager) add(ctx context.Context, cmdr string, save savefile.Save, category savefile.Category) bool {
	key := pendingKey{cmdr: cmdr, category: category, uuid: save.UUID}

	m.mu.Lock()
	cs, ok := m.cache[cmdr]
	if !ok {
		cs = savefile.NewCmdrSaves()
	}
	list := cs.List(category)
	cached := false
	for _, existing := range list {
		if existing.UUID == save.UUID {
			cached = true
			break
		}
	}
	if cached {
		if _, retry := m.pending[key]; !retry {
			m.mu.Unlock()
			return false
		}
	} else {
		// Copy on write so clones handed out earlier are unaffected.
		updated := make([]savefile.Save, 0, len(list)+1)
		updated = append(updated, save)
		updated = append(updated, list...)
		if category == savefile.CategoryAuto {
			for len(updated) > m.maxAutoSaves {
				updated = evictOldest(updated)
			}
		}
		next := cs.Clone()
		next.Set(category, updated)
		m.cache[cmdr] = next
	}
	m.mu.Unlock()

	var added bool
	var err error
	if category == savefile.CategoryAuto {
		added, err = m.backend.AddAutoSave(ctx, cmdr, save)
	} else {
		added, err = m.backend.AddManualSave(ctx, cmdr, save)
	}

	m.mu.Lock()
	if err != nil {
		m.pending[key] = struct{}{}
	} else {
		delete(m.pending, key)
	}
	m.mu.Unlock()

	if err != nil {
		m.logger.Error("failed to persist save", "cmdr", cmdr, "uuid", save.UUID, "category", category, "error", err)
		return false
	}
	if !added {
		m.logger.Warn("backend rejected save", "cmdr", cmdr, "uuid", save.UUID, "category", category)
	}
	return added
}

// evictOldest removes the save with the smallest timestamp. Among equal
// timestamps the last one in the list goes.
func evictOldest(list []savefile.Save) []savefile.Save {
	oldest := 0
	for i, s := range list {
		if s.Timestamp <= list[oldest].Timestamp {
			oldest = i
		}
	}
	return append(list[:oldest:oldest], list[oldest+1:]...)
}

// DeleteSaveForCmdr removes the save from the cache and from storage.
// It returns false if the save was not cached or could not be deleted.
func (m *Manager) DeleteSaveForCmdr(ctx context.Context, cmdr, uuid string) bool {
	m.mu.Lock()
	cs, ok := m.cache[cmdr]
	found := false
	if ok {
		if category, i, hit := cs.Find(uuid); hit {
			next := cs.Clone()
			list := next.List(category)
			next.Set(category, append(list[:i:i], list[i+1:]...))
			m.cache[cmdr] = next
			delete(m.pending, pendingKey{cmdr: cmdr, category: category, uuid: uuid})
			found = true
		}
	}
	m.mu.Unlock()
	if !found {
		return false
	}

	if _, err := m.backend.DeleteSaveForCmdr(ctx, cmdr, uuid); err != nil {
		m.logger.Error("failed to delete save", "cmdr", cmdr, "uuid", uuid, "error", err)
		return false
	}
	return true
}

// DeleteCmdr removes the commander from the cache and from storage.
func (m *Manager) DeleteCmdr(ctx context.Context, cmdr string) bool {
	m.mu.Lock()
	_, found := m.cache[cmdr]
	delete(m.cache, cmdr)
	for key := range m.pending {
		if key.cmdr == cmdr {
			delete(m.pending, key)
		}
	}
	m.mu.Unlock()
	if !found {
		return false
	}

	if _, err := m.backend.DeleteCmdr(ctx, cmdr); err != nil {
		m.logger.Error("failed to delete commander", "cmdr", cmdr, "error", err)
		return false
	}
	return true
}

// CorruptedSaves returns the entries the backend quarantined.
func (m *Manager) CorruptedSaves() []CorruptedSave {
	return m.backend.CorruptedSaves()
}
