package backend

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strconv"
	"strings"

	"savekeeper/internal/metrics"
	"savekeeper/internal/savefile"
	"savekeeper/internal/saves"
)

const multiFileName = "multifile"

// MultiFile stores one file per save:
//
//	/saves/<cmdr>/manual/<uuid>.json
//	/saves/<cmdr>/auto/<uuid>.json
//	/corrupted/<cmdr>/<category>/<uuid>.json   (quarantine mirror)
//
// Mutations of one commander are serialised; different commanders proceed
// concurrently.
type MultiFile struct {
	fs        saves.FileSystem
	opts      Options
	locks     *saves.KeyedMutex
	corrupted saves.CorruptionLog
}

// NewMultiFile creates the storage roots on fsys if they do not exist.
func NewMultiFile(ctx context.Context, fsys saves.FileSystem, opts Options) (*MultiFile, error) {
	opts, err := opts.validate()
	if err != nil {
		return nil, err
	}
	for _, dir := range []string{savesRoot, corruptedRoot} {
		if err := fsys.CreateDirectory(ctx, dir); err != nil {
			return nil, saves.FilesystemError("creating "+dir, err)
		}
	}
	return &MultiFile{
		fs:    fsys,
		opts:  opts,
		locks: saves.NewKeyedMutex(),
	}, nil
}

func (b *MultiFile) GetSavesForCmdr(ctx context.Context, cmdr string) (*savefile.CmdrSaves, error) {
	if !savefile.ValidUUID(cmdr) {
		return nil, nil
	}
	defer metrics.Time(multiFileName, "get_saves")()

	unlock := b.locks.Lock(cmdr)
	defer unlock()

	exists, err := b.fs.DirectoryExists(ctx, cmdrDir(cmdr))
	if err != nil {
		return nil, saves.FilesystemError("checking commander "+cmdr, err)
	}
	if !exists {
		return nil, nil
	}

	cs := savefile.NewCmdrSaves()
	for _, category := range savefile.Categories {
		list, err := b.readCategory(ctx, cmdr, category)
		if err != nil {
			return nil, err
		}
		cs.Set(category, list)
	}
	return cs, nil
}

// readCategory decodes every save of a category, newest first. Files that do
// not decode, or are not named <uuid>.json, are quarantined; files that cannot
// be read are skipped.
// The caller must hold the commander lock.
func (b *MultiFile) readCategory(ctx context.Context, cmdr string, category savefile.Category) ([]savefile.Save, error) {
	dir := categoryDir(cmdr, category)
	names, err := b.fs.ListDirectory(ctx, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []savefile.Save{}, nil
		}
		return nil, saves.FilesystemError("listing "+dir, err)
	}

	list := make([]savefile.Save, 0, len(names))
	for _, name := range names {
		p := path.Join(dir, name)
		raw, err := b.fs.ReadFile(ctx, p)
		if err != nil {
			b.opts.Logger.Error("failed to read save", "path", p, "error", err)
			continue
		}
		if !strings.HasSuffix(name, saveExt) {
			b.quarantine(ctx, p, raw, &savefile.DecodeError{
				Kind:  savefile.ErrSchemaValidation,
				Field: "uuid",
				Err:   fmt.Errorf("file name %q is not <uuid>%s", name, saveExt),
			})
			continue
		}
		s, err := decodeStored(b.opts.Codec, raw, strings.TrimSuffix(name, saveExt))
		if err != nil {
			b.quarantine(ctx, p, raw, err)
			continue
		}
		list = append(list, s)
	}
	savefile.SortNewestFirst(list)
	return list, nil
}

// quarantine moves a corrupted file to the mirrored quarantine path. If the
// copy cannot be written the original is left in place so no bytes are lost.
func (b *MultiFile) quarantine(ctx context.Context, p string, raw []byte, decodeErr error) {
	kind := saves.KindOf(decodeErr)
	b.corrupted.Record(saves.CorruptedSave{Path: p, Content: raw, Err: decodeErr})
	metrics.SaveQuarantined(multiFileName, string(kind))

	dest, err := b.freeQuarantinePath(ctx, quarantinePath(p))
	if err != nil {
		b.opts.Logger.Error("failed to quarantine corrupted save", "path", p, "error", err)
		return
	}
	if err := b.fs.WriteFile(ctx, dest, raw); err != nil {
		b.opts.Logger.Error("failed to quarantine corrupted save", "path", p, "error", err)
		return
	}
	if err := b.fs.DeleteFile(ctx, p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		b.opts.Logger.Error("failed to remove corrupted save", "path", p, "error", err)
		return
	}
	b.opts.Logger.Warn("quarantined corrupted save", "path", p, "quarantine", dest, "kind", kind, "error", decodeErr)
}

// freeQuarantinePath returns dest, or dest with a numeric suffix if a file
// was already quarantined under that name.
func (b *MultiFile) freeQuarantinePath(ctx context.Context, dest string) (string, error) {
	if err := b.fs.CreateDirectory(ctx, path.Dir(dest)); err != nil {
		return "", err
	}
	candidate := dest
	for i := 1; ; i++ {
		exists, err := b.fs.FileExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		candidate = dest + "." + strconv.Itoa(i)
	}
}

func (b *MultiFile) AddManualSave(ctx context.Context, cmdr string, save savefile.Save) (bool, error) {
	return b.add(ctx, cmdr, save, savefile.CategoryManual)
}

func (b *MultiFile) AddAutoSave(ctx context.Context, cmdr string, save savefile.Save) (bool, error) {
	return b.add(ctx, cmdr, save, savefile.CategoryAuto)
}

func (b *MultiFile) add(ctx context.Context, cmdr string, save savefile.Save, category savefile.Category) (bool, error) {
	if err := saves.CheckID("commander", cmdr); err != nil {
		return false, err
	}
	data, err := encodeForWrite(b.opts.Codec, save)
	if err != nil {
		return false, err
	}
	defer metrics.Time(multiFileName, "add_"+string(category)+"_save")()

	unlock := b.locks.Lock(cmdr)
	defer unlock()

	dir := categoryDir(cmdr, category)
	if err := b.fs.CreateDirectory(ctx, dir); err != nil {
		metrics.WriteFailed(multiFileName, "create_directory")
		return false, saves.FilesystemError("creating "+dir, err)
	}

	p := savePath(cmdr, category, save.UUID)
	exists, err := b.fs.FileExists(ctx, p)
	if err != nil {
		return false, saves.FilesystemError("checking "+p, err)
	}
	if exists {
		return false, nil
	}

	if err := b.fs.WriteFile(ctx, p, data); err != nil {
		metrics.WriteFailed(multiFileName, "write_save")
		return false, saves.FilesystemError("writing "+p, err)
	}
	metrics.SaveWritten(multiFileName, string(category))

	if category == savefile.CategoryAuto {
		b.enforceRetention(ctx, cmdr)
	}
	return true, nil
}

// enforceRetention deletes the oldest auto saves beyond the bound. It is
// idempotent; anything it fails to delete is retried on the next auto save.
// The caller must hold the commander lock.
func (b *MultiFile) enforceRetention(ctx context.Context, cmdr string) {
	list, err := b.readCategory(ctx, cmdr, savefile.CategoryAuto)
	if err != nil {
		b.opts.Logger.Error("retention pass failed", "cmdr", cmdr, "error", err)
		return
	}

	_, evicted := evictOldest(list, b.opts.MaxAutoSaves)
	removed := 0
	for _, s := range evicted {
		p := savePath(cmdr, savefile.CategoryAuto, s.UUID)
		if err := b.fs.DeleteFile(ctx, p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			metrics.WriteFailed(multiFileName, "evict_auto_save")
			b.opts.Logger.Error("failed to evict auto save", "path", p, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		metrics.AutoSavesEvicted(multiFileName, removed)
		b.opts.Logger.Info("evicted auto saves", "cmdr", cmdr, "count", removed)
	}
}

func (b *MultiFile) DeleteSaveForCmdr(ctx context.Context, cmdr, uuid string) (bool, error) {
	if !savefile.ValidUUID(cmdr) || !savefile.ValidUUID(uuid) {
		return false, nil
	}
	unlock := b.locks.Lock(cmdr)
	defer unlock()

	for _, category := range savefile.Categories {
		p := savePath(cmdr, category, uuid)
		exists, err := b.fs.FileExists(ctx, p)
		if err != nil {
			return false, saves.FilesystemError("checking "+p, err)
		}
		if !exists {
			continue
		}
		if err := b.fs.DeleteFile(ctx, p); err != nil {
			metrics.WriteFailed(multiFileName, "delete_save")
			return false, saves.FilesystemError("deleting "+p, err)
		}
		return true, nil
	}
	return false, nil
}

// DeleteCmdr removes the commander's live saves. Quarantined files are kept.
func (b *MultiFile) DeleteCmdr(ctx context.Context, cmdr string) (bool, error) {
	if !savefile.ValidUUID(cmdr) {
		return false, nil
	}
	unlock := b.locks.Lock(cmdr)
	defer unlock()

	dir := cmdrDir(cmdr)
	if err := b.fs.DeleteDirectory(ctx, dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		metrics.WriteFailed(multiFileName, "delete_cmdr")
		return false, saves.FilesystemError("deleting "+dir, err)
	}
	return true, nil
}

func (b *MultiFile) GetCmdrUUIDs(ctx context.Context) ([]string, error) {
	names, err := b.fs.ListDirectory(ctx, savesRoot)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, saves.FilesystemError("listing "+savesRoot, err)
	}
	ids := make([]string, 0, len(names))
	for _, name := range names {
		if savefile.ValidUUID(name) {
			ids = append(ids, name)
		}
	}
	return ids, nil
}

func (b *MultiFile) CorruptedSaves() []saves.CorruptedSave {
	return b.corrupted.Entries()
}

func (b *MultiFile) Close() error { return nil }

func (b *MultiFile) String() string {
	return fmt.Sprintf("multifile(max_auto_saves=%d)", b.opts.MaxAutoSaves)
}

var _ saves.Backend = (*MultiFile)(nil)
