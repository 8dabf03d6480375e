package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"savekeeper/internal/backend/migrations"
	"savekeeper/internal/metrics"
	"savekeeper/internal/savefile"
	"savekeeper/internal/saves"
)

const sqliteName = "sqlite"

// SQLite stores one row per save. Quarantined rows move to corrupted_saves.
// A write and its retention pass share one transaction.
type SQLite struct {
	db        *sql.DB
	opts      Options
	locks     *saves.KeyedMutex
	corrupted saves.CorruptionLog
}

// OpenConnection opens a SQLite database with foreign keys enforced.
// path can be a file path or ":memory:".
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: ":memory:" databases are per connection and SQLite
	// serialises writers anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return db, nil
}

// NewSQLite opens the database at path and migrates it to the latest schema.
func NewSQLite(path string, opts Options) (*SQLite, error) {
	opts, err := opts.validate()
	if err != nil {
		return nil, err
	}
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	switch err := migrations.CheckStatus(db); {
	case err == nil:
	case errors.Is(err, migrations.ErrNoVersion), errors.Is(err, migrations.ErrBehind):
		if err := migrations.MigrateUp(db); err != nil {
			db.Close()
			return nil, err
		}
	default:
		db.Close()
		return nil, fmt.Errorf("checking schema of %s: %w", path, err)
	}
	return &SQLite{
		db:    db,
		opts:  opts,
		locks: saves.NewKeyedMutex(),
	}, nil
}

// withTx runs fn in a transaction, committing if it returns nil.
func (b *SQLite) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

type saveRow struct {
	uuid string
	data []byte
}

func (b *SQLite) readCategory(ctx context.Context, tx *sql.Tx, cmdr string, category savefile.Category) ([]savefile.Save, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT uuid, data FROM saves WHERE cmdr_id = ? AND category = ? ORDER BY timestamp DESC, uuid`,
		cmdr, string(category))
	if err != nil {
		return nil, err
	}
	var stored []saveRow
	for rows.Next() {
		var r saveRow
		if err := rows.Scan(&r.uuid, &r.data); err != nil {
			rows.Close()
			return nil, err
		}
		stored = append(stored, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	list := make([]savefile.Save, 0, len(stored))
	for _, r := range stored {
		s, err := decodeStored(b.opts.Codec, r.data, r.uuid)
		if err != nil {
			if qerr := b.quarantine(ctx, tx, cmdr, category, r, err); qerr != nil {
				return nil, qerr
			}
			continue
		}
		list = append(list, s)
	}
	savefile.SortNewestFirst(list)
	return list, nil
}

func (b *SQLite) quarantine(ctx context.Context, tx *sql.Tx, cmdr string, category savefile.Category, r saveRow, decodeErr error) error {
	kind := saves.KindOf(decodeErr)
	_, err := tx.ExecContext(ctx,
		`INSERT INTO corrupted_saves (cmdr_id, category, uuid, kind, error, data, quarantined_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cmdr, string(category), r.uuid, string(kind), decodeErr.Error(), r.data, b.opts.Clock.Now().UnixMilli())
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM saves WHERE cmdr_id = ? AND category = ? AND uuid = ?`,
		cmdr, string(category), r.uuid); err != nil {
		return err
	}

	p := fmt.Sprintf("saves/%s/%s/%s", cmdr, category, r.uuid)
	b.corrupted.Record(saves.CorruptedSave{Path: p, Content: r.data, Err: decodeErr})
	metrics.SaveQuarantined(sqliteName, string(kind))
	b.opts.Logger.Warn("quarantined corrupted save", "path", p, "kind", kind, "error", decodeErr)
	return nil
}

func cmdrExists(ctx context.Context, tx *sql.Tx, cmdr string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM commanders WHERE id = ?`, cmdr).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (b *SQLite) GetSavesForCmdr(ctx context.Context, cmdr string) (*savefile.CmdrSaves, error) {
	if !savefile.ValidUUID(cmdr) {
		return nil, nil
	}
	defer metrics.Time(sqliteName, "get_saves")()

	unlock := b.locks.Lock(cmdr)
	defer unlock()

	var cs *savefile.CmdrSaves
	err := b.withTx(ctx, func(tx *sql.Tx) error {
		exists, err := cmdrExists(ctx, tx, cmdr)
		if err != nil || !exists {
			return err
		}
		cs = savefile.NewCmdrSaves()
		for _, category := range savefile.Categories {
			list, err := b.readCategory(ctx, tx, cmdr, category)
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

func (b *SQLite) AddManualSave(ctx context.Context, cmdr string, save savefile.Save) (bool, error) {
	return b.add(ctx, cmdr, save, savefile.CategoryManual)
}

func (b *SQLite) AddAutoSave(ctx context.Context, cmdr string, save savefile.Save) (bool, error) {
	return b.add(ctx, cmdr, save, savefile.CategoryAuto)
}

func (b *SQLite) add(ctx context.Context, cmdr string, save savefile.Save, category savefile.Category) (bool, error) {
	if err := saves.CheckID("commander", cmdr); err != nil {
		return false, err
	}
	data, err := encodeForWrite(b.opts.Codec, save)
	if err != nil {
		return false, err
	}
	defer metrics.Time(sqliteName, "add_"+string(category)+"_save")()

	unlock := b.locks.Lock(cmdr)
	defer unlock()

	added := false
	evicted := 0
	err = b.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO commanders (id) VALUES (?)`, cmdr); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO saves (cmdr_id, category, uuid, timestamp, data) VALUES (?, ?, ?, ?, ?)`,
			cmdr, string(category), save.UUID, save.Timestamp, data)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		added = true

		if category != savefile.CategoryAuto {
			return nil
		}
		// Quarantine undecodable rows first so they do not count towards the bound.
		if _, err := b.readCategory(ctx, tx, cmdr, category); err != nil {
			return err
		}
		res, err = tx.ExecContext(ctx, `
			DELETE FROM saves
			WHERE cmdr_id = ?1 AND category = ?2 AND uuid NOT IN (
				SELECT uuid FROM saves
				WHERE cmdr_id = ?1 AND category = ?2
				ORDER BY timestamp DESC, uuid
				LIMIT ?3
			)`, cmdr, string(category), b.opts.MaxAutoSaves)
		if err != nil {
			return err
		}
		removed, err := res.RowsAffected()
		if err != nil {
			return err
		}
		evicted = int(removed)
		return nil
	})
	if err != nil {
		metrics.WriteFailed(sqliteName, "add_save")
		return false, saves.FilesystemError("writing save "+save.UUID, err)
	}
	if !added {
		return false, nil
	}

	metrics.SaveWritten(sqliteName, string(category))
	if evicted > 0 {
		metrics.AutoSavesEvicted(sqliteName, evicted)
		b.opts.Logger.Info("evicted auto saves", "cmdr", cmdr, "count", evicted)
	}
	return true, nil
}

func (b *SQLite) DeleteSaveForCmdr(ctx context.Context, cmdr, uuid string) (bool, error) {
	if !savefile.ValidUUID(cmdr) || !savefile.ValidUUID(uuid) {
		return false, nil
	}
	unlock := b.locks.Lock(cmdr)
	defer unlock()

	var n int64
	err := b.withTx(ctx, func(tx *sql.Tx) error {
		for _, category := range savefile.Categories {
			res, err := tx.ExecContext(ctx,
				`DELETE FROM saves WHERE cmdr_id = ? AND category = ? AND uuid = ?`,
				cmdr, string(category), uuid)
			if err != nil {
				return err
			}
			if n, err = res.RowsAffected(); err != nil || n > 0 {
				return err
			}
		}
		return nil
	})
	if err != nil {
		metrics.WriteFailed(sqliteName, "delete_save")
		return false, saves.FilesystemError("deleting save "+uuid, err)
	}
	return n > 0, nil
}

// DeleteCmdr removes the commander; its saves go with it through the
// foreign key. Quarantined rows are kept.
func (b *SQLite) DeleteCmdr(ctx context.Context, cmdr string) (bool, error) {
	if !savefile.ValidUUID(cmdr) {
		return false, nil
	}
	unlock := b.locks.Lock(cmdr)
	defer unlock()

	res, err := b.db.ExecContext(ctx, `DELETE FROM commanders WHERE id = ?`, cmdr)
	if err != nil {
		metrics.WriteFailed(sqliteName, "delete_cmdr")
		return false, saves.FilesystemError("deleting commander "+cmdr, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, saves.FilesystemError("deleting commander "+cmdr, err)
	}
	return n > 0, nil
}

func (b *SQLite) GetCmdrUUIDs(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT id FROM commanders ORDER BY id`)
	if err != nil {
		return nil, saves.FilesystemError("listing commanders", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, saves.FilesystemError("listing commanders", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, saves.FilesystemError("listing commanders", err)
	}
	return ids, nil
}

// QuarantinedCount returns the number of rows in corrupted_saves.
func (b *SQLite) QuarantinedCount(ctx context.Context) (int, error) {
	var n int
	err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM corrupted_saves`).Scan(&n)
	return n, err
}

func (b *SQLite) CorruptedSaves() []saves.CorruptedSave {
	return b.corrupted.Entries()
}

func (b *SQLite) Close() error {
	return b.db.Close()
}

var _ saves.Backend = (*SQLite)(nil)
