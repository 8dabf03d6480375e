package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"sync"

	"savekeeper/internal/metrics"
	"savekeeper/internal/savefile"
	"savekeeper/internal/saves"
)

const (
	singleFileName = "singlefile"

	mainDocument       = "/saves.json"
	quarantineDocument = "/corrupted.json"
)

// document is the on-disk shape of both single file documents:
// commander id -> category -> encoded saves.
type document map[string]map[savefile.Category][]json.RawMessage

func (d document) add(cmdr string, category savefile.Category, raw json.RawMessage) {
	if d[cmdr] == nil {
		d[cmdr] = make(map[savefile.Category][]json.RawMessage)
	}
	d[cmdr][category] = append(d[cmdr][category], raw)
}

// SingleFile keeps every commander in one JSON document that is rewritten
// on each mutation. Entries that fail to decode are moved to a second
// document; entries of that document that decode again are restored.
//
// The document is loaded once at open. All operations share one lock.
type SingleFile struct {
	fs        saves.FileSystem
	opts      Options
	corrupted saves.CorruptionLog

	mu   sync.Mutex
	data map[string]*savefile.CmdrSaves
}

// NewSingleFile loads both documents from fsys. A document that is not
// valid JSON as a whole is an error; individual bad entries are quarantined.
func NewSingleFile(ctx context.Context, fsys saves.FileSystem, opts Options) (*SingleFile, error) {
	opts, err := opts.validate()
	if err != nil {
		return nil, err
	}
	b := &SingleFile{fs: fsys, opts: opts}
	if err := b.load(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *SingleFile) readDocument(ctx context.Context, p string) (document, error) {
	raw, err := b.fs.ReadFile(ctx, p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return document{}, nil
		}
		return nil, saves.FilesystemError("reading "+p, err)
	}
	doc := document{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", p, err)
	}
	return doc, nil
}

func (b *SingleFile) load(ctx context.Context) error {
	main, err := b.readDocument(ctx, mainDocument)
	if err != nil {
		return err
	}
	quarantined, err := b.readDocument(ctx, quarantineDocument)
	if err != nil {
		return err
	}

	data := make(map[string]*savefile.CmdrSaves)
	kept := document{}
	moved, restored, dropped := 0, 0, 0

	for _, cmdr := range sortedKeys(main) {
		if !savefile.ValidUUID(cmdr) {
			for _, category := range savefile.Categories {
				for i, raw := range main[cmdr][category] {
					b.quarantine(kept, cmdr, category, i, raw, saves.CheckID("commander", cmdr))
					moved++
				}
			}
			continue
		}
		if data[cmdr] == nil {
			data[cmdr] = savefile.NewCmdrSaves()
		}
		for _, category := range savefile.Categories {
			for i, raw := range main[cmdr][category] {
				s, err := b.opts.Codec.Decode(raw)
				if err != nil {
					b.quarantine(kept, cmdr, category, i, raw, err)
					moved++
					continue
				}
				switch b.insertOrCompare(data, cmdr, category, s) {
				case identical:
					dropped++
				case conflicting:
					b.quarantine(kept, cmdr, category, i, raw, &savefile.DecodeError{
						Kind:  savefile.ErrSchemaValidation,
						Field: "uuid",
						Err:   fmt.Errorf("uuid %s appears twice with different contents", s.UUID),
					})
					moved++
				}
			}
		}
	}

	for _, cmdr := range sortedKeys(quarantined) {
		for _, category := range savefile.Categories {
			for _, raw := range quarantined[cmdr][category] {
				s, err := b.opts.Codec.Decode(raw)
				if err != nil || !savefile.ValidUUID(cmdr) {
					kept.add(cmdr, category, raw)
					continue
				}
				switch b.insertOrCompare(data, cmdr, category, s) {
				case inserted:
					restored++
				case identical:
					dropped++
				case conflicting:
					// The live entry wins.
					kept.add(cmdr, category, raw)
				}
			}
		}
	}

	for _, cs := range data {
		savefile.SortNewestFirst(cs.Manual)
		savefile.SortNewestFirst(cs.Auto)
	}

	if moved > 0 || restored > 0 || dropped > 0 {
		// The quarantine document goes first so a failure in between
		// leaves entries duplicated rather than lost.
		if err := b.writeDocument(ctx, quarantineDocument, kept); err != nil {
			return err
		}
		if err := b.writeSaves(ctx, data); err != nil {
			return err
		}
		b.opts.Logger.Info("single file document repaired", "quarantined", moved, "restored", restored, "duplicates", dropped)
	}

	b.data = data
	return nil
}

func (b *SingleFile) quarantine(into document, cmdr string, category savefile.Category, index int, raw json.RawMessage, decodeErr error) {
	p := fmt.Sprintf("%s#%s/%s/%d", mainDocument, cmdr, category, index)
	kind := saves.KindOf(decodeErr)
	b.corrupted.Record(saves.CorruptedSave{Path: p, Content: append([]byte(nil), raw...), Err: decodeErr})
	metrics.SaveQuarantined(singleFileName, string(kind))
	b.opts.Logger.Warn("quarantined corrupted save", "path", p, "kind", kind, "error", decodeErr)
	into.add(cmdr, category, raw)
}

type insertResult int

const (
	inserted insertResult = iota
	identical
	conflicting
)

// insertOrCompare inserts s, or reports whether the save already holding its
// uuid in the category encodes to the same bytes.
func (b *SingleFile) insertOrCompare(data map[string]*savefile.CmdrSaves, cmdr string, category savefile.Category, s savefile.Save) insertResult {
	if insertUnique(data, cmdr, category, s) {
		return inserted
	}
	for _, existing := range data[cmdr].List(category) {
		if existing.UUID != s.UUID {
			continue
		}
		a, errA := b.opts.Codec.Encode(existing)
		c, errC := b.opts.Codec.Encode(s)
		if errA == nil && errC == nil && bytes.Equal(a, c) {
			return identical
		}
		break
	}
	return conflicting
}

// insertUnique adds s unless its uuid is already present in the category.
func insertUnique(data map[string]*savefile.CmdrSaves, cmdr string, category savefile.Category, s savefile.Save) bool {
	cs := data[cmdr]
	if cs == nil {
		cs = savefile.NewCmdrSaves()
		data[cmdr] = cs
	}
	for _, existing := range cs.List(category) {
		if existing.UUID == s.UUID {
			return false
		}
	}
	cs.Set(category, append(cs.List(category), s))
	return true
}

func (b *SingleFile) writeDocument(ctx context.Context, p string, doc document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", p, err)
	}
	if err := b.fs.WriteFile(ctx, p, raw); err != nil {
		metrics.WriteFailed(singleFileName, "write_document")
		return saves.FilesystemError("writing "+p, err)
	}
	return nil
}

func (b *SingleFile) writeSaves(ctx context.Context, data map[string]*savefile.CmdrSaves) error {
	doc := make(document, len(data))
	for cmdr, cs := range data {
		doc[cmdr] = make(map[savefile.Category][]json.RawMessage, len(savefile.Categories))
		for _, category := range savefile.Categories {
			list := make([]json.RawMessage, 0, len(cs.List(category)))
			for _, s := range cs.List(category) {
				raw, err := b.opts.Codec.Encode(s)
				if err != nil {
					return err
				}
				list = append(list, raw)
			}
			doc[cmdr][category] = list
		}
	}
	return b.writeDocument(ctx, mainDocument, doc)
}

// commit persists the document with cmdr replaced by next, or removed when
// next is nil. The in-memory state is only updated if the write succeeds.
func (b *SingleFile) commit(ctx context.Context, cmdr string, next *savefile.CmdrSaves) error {
	prev, had := b.data[cmdr]
	if next == nil {
		delete(b.data, cmdr)
	} else {
		b.data[cmdr] = next
	}
	if err := b.writeSaves(ctx, b.data); err != nil {
		if had {
			b.data[cmdr] = prev
		} else {
			delete(b.data, cmdr)
		}
		return err
	}
	return nil
}

func (b *SingleFile) GetSavesForCmdr(_ context.Context, cmdr string) (*savefile.CmdrSaves, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data[cmdr].Clone(), nil
}

func (b *SingleFile) AddManualSave(ctx context.Context, cmdr string, save savefile.Save) (bool, error) {
	return b.add(ctx, cmdr, save, savefile.CategoryManual)
}

func (b *SingleFile) AddAutoSave(ctx context.Context, cmdr string, save savefile.Save) (bool, error) {
	return b.add(ctx, cmdr, save, savefile.CategoryAuto)
}

func (b *SingleFile) add(ctx context.Context, cmdr string, save savefile.Save, category savefile.Category) (bool, error) {
	if err := saves.CheckID("commander", cmdr); err != nil {
		return false, err
	}
	if err := b.opts.Codec.Check(save); err != nil {
		return false, err
	}
	defer metrics.Time(singleFileName, "add_"+string(category)+"_save")()

	b.mu.Lock()
	defer b.mu.Unlock()

	next := b.data[cmdr].Clone()
	if next == nil {
		next = savefile.NewCmdrSaves()
	}
	if !insertUnique(map[string]*savefile.CmdrSaves{cmdr: next}, cmdr, category, save) {
		return false, nil
	}

	list := next.List(category)
	var evicted []savefile.Save
	if category == savefile.CategoryAuto {
		list, evicted = evictOldest(list, b.opts.MaxAutoSaves)
	} else {
		savefile.SortNewestFirst(list)
	}
	next.Set(category, list)

	if err := b.commit(ctx, cmdr, next); err != nil {
		return false, err
	}
	metrics.SaveWritten(singleFileName, string(category))
	if len(evicted) > 0 {
		metrics.AutoSavesEvicted(singleFileName, len(evicted))
		b.opts.Logger.Info("evicted auto saves", "cmdr", cmdr, "count", len(evicted))
	}
	return true, nil
}

func (b *SingleFile) DeleteSaveForCmdr(ctx context.Context, cmdr, uuid string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cs, ok := b.data[cmdr]
	if !ok {
		return false, nil
	}
	category, i, found := cs.Find(uuid)
	if !found {
		return false, nil
	}
	next := cs.Clone()
	list := next.List(category)
	next.Set(category, append(list[:i:i], list[i+1:]...))
	if err := b.commit(ctx, cmdr, next); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteCmdr removes the commander from the main document. Its quarantined
// entries are kept.
func (b *SingleFile) DeleteCmdr(ctx context.Context, cmdr string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.data[cmdr]; !ok {
		return false, nil
	}
	if err := b.commit(ctx, cmdr, nil); err != nil {
		return false, err
	}
	return true, nil
}

func (b *SingleFile) GetCmdrUUIDs(context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.data))
	for id := range b.data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (b *SingleFile) CorruptedSaves() []saves.CorruptedSave {
	return b.corrupted.Entries()
}

func (b *SingleFile) Close() error { return nil }

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var _ saves.Backend = (*SingleFile)(nil)
