package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/prometheus/client_golang/prometheus"

	"savekeeper/internal/backend"
	"savekeeper/internal/catalog"
	"savekeeper/internal/config"
	"savekeeper/internal/metrics"
	"savekeeper/internal/savefile"
	"savekeeper/internal/saves"
)

// ExportDocument is the on-disk form of an export: commander id to category
// to encoded saves, newest first.
type ExportDocument map[string]map[savefile.Category][]json.RawMessage

// CmdrSummary is one row of the commander listing.
type CmdrSummary struct {
	ID     string
	Manual int
	Auto   int
	Latest int64 // unix millis of the newest save, 0 if none
}

// SaveApp is the application layer between the CLI and the save Manager.
// It constructs all dependencies from config and exposes high-level
// operations that accept raw arguments. The caller must call Close when done.
type SaveApp struct {
	cfg     *config.Config
	codec   *savefile.Codec
	backend saves.Backend
	manager *saves.Manager
	logger  saves.Logger
	clock   savefile.Clock
	op      *Operation
	logFile *os.File
}

// NewSaveApp creates a fully wired SaveApp from the given config.
// operation names the CLI command being run (e.g. "saves add", "export").
func NewSaveApp(ctx context.Context, cfg *config.Config, operation string) (*SaveApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	clock := savefile.RealClock{}
	op := NewOperation(operation, clock)

	l, logFile, err := newLogger(cfg.LogDir, op.ID, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: l}

	cat, err := newCatalog(cfg.Catalog)
	if err != nil {
		logFile.Close()
		return nil, err
	}
	codec := savefile.NewCodec(cat, savefile.WithClock(clock))

	b, err := backend.NewBackendFromConfig(ctx, cfg.Storage, backend.Options{
		Codec:        codec,
		Logger:       logger,
		Clock:        clock,
		MaxAutoSaves: cfg.MaxAutoSaves,
	})
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("opening %s storage: %w", cfg.Storage.Type, err)
	}

	mgr, err := saves.NewManager(ctx, b, logger, cfg.MaxAutoSaves)
	if err != nil {
		b.Close()
		logFile.Close()
		return nil, err
	}

	logger.Debug("operation started", "operation", operation, "storage", cfg.Storage.Type)
	return &SaveApp{
		cfg:     cfg,
		codec:   codec,
		backend: b,
		manager: mgr,
		logger:  logger,
		clock:   clock,
		op:      op,
		logFile: logFile,
	}, nil
}

// newCatalog selects the reference validator described by cfg.
func newCatalog(cfg config.CatalogConfig) (savefile.Catalog, error) {
	if cfg.Path == "" {
		return catalog.Permissive{}, nil
	}
	c, err := catalog.Load(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}
	if cfg.AllowUnknown {
		return catalog.Lenient{Catalog: c}, nil
	}
	return c, nil
}

// ListCommanders summarises every commander with saves.
func (a *SaveApp) ListCommanders() []CmdrSummary {
	ids := a.manager.GetCmdrUUIDs()
	out := make([]CmdrSummary, 0, len(ids))
	for _, id := range ids {
		cs := a.manager.GetSavesForCmdr(id)
		if cs == nil {
			continue
		}
		row := CmdrSummary{ID: id, Manual: len(cs.Manual), Auto: len(cs.Auto)}
		for _, category := range savefile.Categories {
			for _, s := range cs.List(category) {
				if s.Timestamp > row.Latest {
					row.Latest = s.Timestamp
				}
			}
		}
		out = append(out, row)
	}
	return out
}

// ListSaves returns the commander's saves, or an empty view if there are none.
func (a *SaveApp) ListSaves(cmdr string) *savefile.CmdrSaves {
	if cs := a.manager.GetSavesForCmdr(cmdr); cs != nil {
		return cs
	}
	return savefile.NewCmdrSaves()
}

// AddSaveFromFile decodes the save at path and stores it for cmdr.
// It reports false without error when a save with the same uuid already exists.
func (a *SaveApp) AddSaveFromFile(ctx context.Context, cmdr, path string, auto bool) (savefile.Save, bool, error) {
	if err := saves.CheckID("commander", cmdr); err != nil {
		a.op.Fail()
		return savefile.Save{}, false, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		a.op.Fail()
		return savefile.Save{}, false, fmt.Errorf("reading save file: %w", err)
	}
	s, err := a.codec.Decode(raw)
	if err != nil {
		a.op.Fail()
		return savefile.Save{}, false, fmt.Errorf("decoding %s: %w", path, err)
	}

	if cs := a.manager.GetSavesForCmdr(cmdr); cs != nil {
		if _, _, exists := cs.Find(s.UUID); exists {
			return s, false, nil
		}
	}

	var ok bool
	if auto {
		ok = a.manager.AddAutoSave(ctx, cmdr, s)
	} else {
		ok = a.manager.AddManualSave(ctx, cmdr, s)
	}
	if !ok {
		a.op.Fail()
		return s, false, fmt.Errorf("storing save %s failed, see %s for details", s.UUID, a.cfg.LogDir)
	}
	return s, true, nil
}

// DeleteSave removes one save. It reports false if the commander has no such save.
func (a *SaveApp) DeleteSave(ctx context.Context, cmdr, uuid string) bool {
	ok := a.manager.DeleteSaveForCmdr(ctx, cmdr, uuid)
	if !ok {
		a.op.Fail()
	}
	return ok
}

// DeleteCmdr removes a commander and all of its saves.
func (a *SaveApp) DeleteCmdr(ctx context.Context, cmdr string) bool {
	ok := a.manager.DeleteCmdr(ctx, cmdr)
	if !ok {
		a.op.Fail()
	}
	return ok
}

// Export writes every stored save to w as an ExportDocument and returns the
// number of saves written.
func (a *SaveApp) Export(ctx context.Context, w io.Writer) (int, error) {
	data, err := saves.ExportSaves(ctx, a.backend)
	if err != nil {
		a.op.Fail()
		return 0, err
	}

	doc := make(ExportDocument, len(data))
	n := 0
	for cmdr, cs := range data {
		doc[cmdr] = make(map[savefile.Category][]json.RawMessage, len(savefile.Categories))
		for _, category := range savefile.Categories {
			list := make([]json.RawMessage, 0, len(cs.List(category)))
			for _, s := range cs.List(category) {
				raw, err := a.codec.Encode(s)
				if err != nil {
					a.op.Fail()
					return 0, fmt.Errorf("encoding save %s: %w", s.UUID, err)
				}
				list = append(list, raw)
			}
			doc[cmdr][category] = list
			n += len(list)
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		a.op.Fail()
		return 0, fmt.Errorf("writing export: %w", err)
	}
	a.logger.Info("exported saves", "commanders", len(doc), "saves", n)
	return n, nil
}

// ImportResult reports what an import did.
type ImportResult struct {
	Decoded  int
	Rejected int
	AllAdded bool
}

// Import reads an ExportDocument from r and adds every save to storage.
// Entries that fail to decode are logged and counted as rejected; they do not
// stop the import.
func (a *SaveApp) Import(ctx context.Context, r io.Reader) (ImportResult, error) {
	var doc ExportDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		a.op.Fail()
		return ImportResult{}, fmt.Errorf("reading import document: %w", err)
	}

	cmdrs := make([]string, 0, len(doc))
	for cmdr := range doc {
		cmdrs = append(cmdrs, cmdr)
	}
	sort.Strings(cmdrs)

	var res ImportResult
	data := make(map[string]*savefile.CmdrSaves, len(doc))
	for _, cmdr := range cmdrs {
		if err := saves.CheckID("commander", cmdr); err != nil {
			a.logger.Warn("skipping commander with invalid id", "cmdr", cmdr)
			for _, list := range doc[cmdr] {
				res.Rejected += len(list)
			}
			continue
		}
		cs := savefile.NewCmdrSaves()
		for category, list := range doc[cmdr] {
			if category != savefile.CategoryManual && category != savefile.CategoryAuto {
				a.logger.Warn("skipping unknown save category", "cmdr", cmdr, "category", category)
				res.Rejected += len(list)
				continue
			}
			decoded := make([]savefile.Save, 0, len(list))
			for i, raw := range list {
				s, err := a.codec.Decode(raw)
				if err != nil {
					a.logger.Warn("rejected save in import", "cmdr", cmdr, "category", category, "index", i, "kind", saves.KindOf(err), "error", err)
					res.Rejected++
					continue
				}
				decoded = append(decoded, s)
			}
			res.Decoded += len(decoded)
			cs.Set(category, decoded)
		}
		data[cmdr] = cs
	}

	added, err := saves.ImportSaves(ctx, a.backend, data)
	res.AllAdded = added && res.Rejected == 0
	if err != nil || !res.AllAdded {
		a.op.Fail()
	}
	if err != nil {
		return res, err
	}
	a.logger.Info("imported saves", "decoded", res.Decoded, "rejected", res.Rejected)
	return res, nil
}

// Check returns the saves quarantined while loading storage.
func (a *SaveApp) Check() []saves.CorruptedSave {
	return a.manager.CorruptedSaves()
}

// Stats returns the persistence counters recorded by this process.
func (a *SaveApp) Stats() ([]metrics.Sample, error) {
	return metrics.Snapshot(prometheus.DefaultGatherer)
}

// Close finishes the operation and releases storage and the log file.
func (a *SaveApp) Close() error {
	var firstErr error
	if err := a.backend.Close(); err != nil {
		firstErr = fmt.Errorf("closing storage: %w", err)
	}

	a.logger.Debug("operation finished", "operation", a.op.Name, "status", a.op.Status, "elapsed", a.op.Elapsed(a.clock))
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
