package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"savekeeper/internal/metrics"
	"savekeeper/internal/savefile"
	"savekeeper/internal/saves"
)

const badgerName = "badger"

// Key layout:
//
//	cmdr/<cmdr>                          commander marker (empty value)
//	save/<cmdr>/<category>/<uuid>        encoded save
//	corrupted/<cmdr>/<category>/<uuid>   quarantined bytes
const (
	cmdrPrefix      = "cmdr/"
	savePrefix      = "save/"
	corruptedPrefix = "corrupted/"
)

func cmdrKey(cmdr string) []byte {
	return []byte(cmdrPrefix + cmdr)
}

func saveKeyPrefix(cmdr string, category savefile.Category) []byte {
	return []byte(savePrefix + cmdr + "/" + string(category) + "/")
}

func saveKey(cmdr string, category savefile.Category, uuid string) []byte {
	return append(saveKeyPrefix(cmdr, category), uuid...)
}

// corruptedKey mirrors a save key under the quarantine prefix.
func corruptedKey(key []byte) []byte {
	return append([]byte(corruptedPrefix), bytes.TrimPrefix(key, []byte(savePrefix))...)
}

// Badger stores one key per save in a BadgerDB database. A write and its
// retention pass commit in the same transaction.
type Badger struct {
	db        *badger.DB
	opts      Options
	locks     *saves.KeyedMutex
	corrupted saves.CorruptionLog
}

// NewBadger opens the database in dir. An empty dir opens an in-memory
// database.
func NewBadger(dir string, opts Options) (*Badger, error) {
	opts, err := opts.validate()
	if err != nil {
		return nil, err
	}

	badgerOpts := badger.DefaultOptions(dir).WithLogger(badgerLogger{opts.Logger})
	if dir == "" {
		badgerOpts = badgerOpts.WithInMemory(true)
	}
	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	return &Badger{
		db:    db,
		opts:  opts,
		locks: saves.NewKeyedMutex(),
	}, nil
}

type storedItem struct {
	key   []byte
	value []byte
}

func scanPrefix(txn *badger.Txn, prefix []byte) ([]storedItem, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var items []storedItem
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		value, err := item.ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		items = append(items, storedItem{key: item.KeyCopy(nil), value: value})
	}
	return items, nil
}

// readCategory decodes the category inside txn, moving entries that fail to
// decode under the quarantine prefix.
func (b *Badger) readCategory(txn *badger.Txn, cmdr string, category savefile.Category) ([]savefile.Save, error) {
	prefix := saveKeyPrefix(cmdr, category)
	items, err := scanPrefix(txn, prefix)
	if err != nil {
		return nil, err
	}

	list := make([]savefile.Save, 0, len(items))
	for _, item := range items {
		uuid := string(bytes.TrimPrefix(item.key, prefix))
		s, err := decodeStored(b.opts.Codec, item.value, uuid)
		if err != nil {
			if qerr := b.quarantine(txn, item, err); qerr != nil {
				return nil, qerr
			}
			continue
		}
		list = append(list, s)
	}
	savefile.SortNewestFirst(list)
	return list, nil
}

func (b *Badger) quarantine(txn *badger.Txn, item storedItem, decodeErr error) error {
	dest, err := freeCorruptedKey(txn, corruptedKey(item.key))
	if err != nil {
		return err
	}
	if err := txn.Set(dest, item.value); err != nil {
		return err
	}
	if err := txn.Delete(item.key); err != nil {
		return err
	}

	kind := saves.KindOf(decodeErr)
	b.corrupted.Record(saves.CorruptedSave{Path: string(item.key), Content: item.value, Err: decodeErr})
	metrics.SaveQuarantined(badgerName, string(kind))
	b.opts.Logger.Warn("quarantined corrupted save", "key", string(item.key), "quarantine", string(dest), "kind", kind, "error", decodeErr)
	return nil
}

// freeCorruptedKey returns key, or key with a numeric suffix if an entry was
// already quarantined under it.
func freeCorruptedKey(txn *badger.Txn, key []byte) ([]byte, error) {
	candidate := key
	for i := 1; ; i++ {
		_, err := txn.Get(candidate)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return candidate, nil
		}
		if err != nil {
			return nil, err
		}
		candidate = []byte(fmt.Sprintf("%s.%d", key, i))
	}
}

func (b *Badger) GetSavesForCmdr(_ context.Context, cmdr string) (*savefile.CmdrSaves, error) {
	if !savefile.ValidUUID(cmdr) {
		return nil, nil
	}
	defer metrics.Time(badgerName, "get_saves")()

	unlock := b.locks.Lock(cmdr)
	defer unlock()

	var cs *savefile.CmdrSaves
	err := b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(cmdrKey(cmdr)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		cs = savefile.NewCmdrSaves()
		for _, category := range savefile.Categories {
			list, err := b.readCategory(txn, cmdr, category)
			if err != nil {
				return err
			}
			cs.Set(category, list)
		}
		return nil
	})
	if err != nil {
		return nil, saves.FilesystemError("reading commander "+cmdr, err)
	}
	return cs, nil
}

func (b *Badger) AddManualSave(ctx context.Context, cmdr string, save savefile.Save) (bool, error) {
	return b.add(ctx, cmdr, save, savefile.CategoryManual)
}

func (b *Badger) AddAutoSave(ctx context.Context, cmdr string, save savefile.Save) (bool, error) {
	return b.add(ctx, cmdr, save, savefile.CategoryAuto)
}

func (b *Badger) add(_ context.Context, cmdr string, save savefile.Save, category savefile.Category) (bool, error) {
	if err := saves.CheckID("commander", cmdr); err != nil {
		return false, err
	}
	data, err := encodeForWrite(b.opts.Codec, save)
	if err != nil {
		return false, err
	}
	defer metrics.Time(badgerName, "add_"+string(category)+"_save")()

	unlock := b.locks.Lock(cmdr)
	defer unlock()

	added := false
	var evicted []savefile.Save
	err = b.db.Update(func(txn *badger.Txn) error {
		key := saveKey(cmdr, category, save.UUID)
		if _, err := txn.Get(key); err == nil {
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(cmdrKey(cmdr), nil); err != nil {
			return err
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		added = true

		if category != savefile.CategoryAuto {
			return nil
		}
		list, err := b.readCategory(txn, cmdr, category)
		if err != nil {
			return err
		}
		_, evicted = evictOldest(list, b.opts.MaxAutoSaves)
		for _, s := range evicted {
			if err := txn.Delete(saveKey(cmdr, category, s.UUID)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		metrics.WriteFailed(badgerName, "add_save")
		return false, saves.FilesystemError("writing save "+save.UUID, err)
	}
	if !added {
		return false, nil
	}

	metrics.SaveWritten(badgerName, string(category))
	if len(evicted) > 0 {
		metrics.AutoSavesEvicted(badgerName, len(evicted))
		b.opts.Logger.Info("evicted auto saves", "cmdr", cmdr, "count", len(evicted))
	}
	return true, nil
}

func (b *Badger) DeleteSaveForCmdr(_ context.Context, cmdr, uuid string) (bool, error) {
	if !savefile.ValidUUID(cmdr) || !savefile.ValidUUID(uuid) {
		return false, nil
	}
	unlock := b.locks.Lock(cmdr)
	defer unlock()

	deleted := false
	err := b.db.Update(func(txn *badger.Txn) error {
		for _, category := range savefile.Categories {
			key := saveKey(cmdr, category, uuid)
			if _, err := txn.Get(key); err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					continue
				}
				return err
			}
			deleted = true
			return txn.Delete(key)
		}
		return nil
	})
	if err != nil {
		metrics.WriteFailed(badgerName, "delete_save")
		return false, saves.FilesystemError("deleting save "+uuid, err)
	}
	return deleted, nil
}

// DeleteCmdr removes the commander marker and its saves. Quarantined
// entries are kept.
func (b *Badger) DeleteCmdr(_ context.Context, cmdr string) (bool, error) {
	if !savefile.ValidUUID(cmdr) {
		return false, nil
	}
	unlock := b.locks.Lock(cmdr)
	defer unlock()

	deleted := false
	err := b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(cmdrKey(cmdr)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		items, err := scanPrefix(txn, []byte(savePrefix+cmdr+"/"))
		if err != nil {
			return err
		}
		for _, item := range items {
			if err := txn.Delete(item.key); err != nil {
				return err
			}
		}
		deleted = true
		return txn.Delete(cmdrKey(cmdr))
	})
	if err != nil {
		metrics.WriteFailed(badgerName, "delete_cmdr")
		return false, saves.FilesystemError("deleting commander "+cmdr, err)
	}
	return deleted, nil
}

func (b *Badger) GetCmdrUUIDs(context.Context) ([]string, error) {
	var ids []string
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := []byte(cmdrPrefix)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, strings.TrimPrefix(string(it.Item().Key()), cmdrPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, saves.FilesystemError("listing commanders", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// QuarantinedKeys lists every key under the quarantine prefix.
func (b *Badger) QuarantinedKeys() ([]string, error) {
	var keys []string
	err := b.db.View(func(txn *badger.Txn) error {
		items, err := scanPrefix(txn, []byte(corruptedPrefix))
		if err != nil {
			return err
		}
		for _, item := range items {
			keys = append(keys, string(item.key))
		}
		return nil
	})
	return keys, err
}

func (b *Badger) CorruptedSaves() []saves.CorruptedSave {
	return b.corrupted.Entries()
}

func (b *Badger) Close() error {
	return b.db.Close()
}

// badgerLogger routes BadgerDB's internal logging to a saves.Logger.
type badgerLogger struct {
	logger saves.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error("badger: " + strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn("badger: " + strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug("badger: " + strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug("badger: " + strings.TrimSpace(fmt.Sprintf(format, args...)))
}

var (
	_ saves.Backend = (*Badger)(nil)
	_ badger.Logger = badgerLogger{}
)
