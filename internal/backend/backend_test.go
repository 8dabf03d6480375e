package backend

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"savekeeper/internal/fs"
	"savekeeper/internal/savefile"
	"savekeeper/internal/saves"
	"savekeeper/internal/testutil"
)

const (
	cmdrA = "11111111-1111-4111-8111-111111111111"
	cmdrB = "22222222-2222-4222-8222-222222222222"
)

func testOptions() Options {
	return Options{
		Codec:        testutil.NewTestCodec(),
		Clock:        testutil.FixedClock(),
		MaxAutoSaves: 5,
	}
}

// closeOnce lets tests close a backend explicitly without the cleanup
// closing it a second time.
type closeOnce struct {
	saves.Backend
	once sync.Once
	err  error
}

func (c *closeOnce) Close() error {
	c.once.Do(func() { c.err = c.Backend.Close() })
	return c.err
}

type strategy struct {
	name string
	// storage allocates fresh storage and returns a function that opens a
	// backend over it. Every call opens the same underlying storage.
	storage func(t *testing.T) func() saves.Backend
}

func opened(t *testing.T, b saves.Backend, err error) saves.Backend {
	t.Helper()
	if err != nil {
		t.Fatalf("opening backend: %v", err)
	}
	c := &closeOnce{Backend: b}
	t.Cleanup(func() { c.Close() })
	return c
}

func strategies() []strategy {
	return []strategy{
		{
			name: "multifile",
			storage: func(t *testing.T) func() saves.Backend {
				fsys := fs.NewMemoryFileSystem()
				return func() saves.Backend {
					b, err := NewMultiFile(context.Background(), fsys, testOptions())
					return opened(t, b, err)
				}
			},
		},
		{
			name: "singlefile",
			storage: func(t *testing.T) func() saves.Backend {
				fsys := fs.NewMemoryFileSystem()
				return func() saves.Backend {
					b, err := NewSingleFile(context.Background(), fsys, testOptions())
					return opened(t, b, err)
				}
			},
		},
		{
			name: "badger",
			storage: func(t *testing.T) func() saves.Backend {
				dir := t.TempDir()
				return func() saves.Backend {
					b, err := NewBadger(dir, testOptions())
					return opened(t, b, err)
				}
			},
		},
		{
			name: "sqlite",
			storage: func(t *testing.T) func() saves.Backend {
				path := filepath.Join(t.TempDir(), "saves.db")
				return func() saves.Backend {
					b, err := NewSQLite(path, testOptions())
					return opened(t, b, err)
				}
			},
		},
	}
}

// forEachStrategy runs fn once per strategy on fresh storage.
func forEachStrategy(t *testing.T, fn func(t *testing.T, b saves.Backend)) {
	for _, s := range strategies() {
		t.Run(s.name, func(t *testing.T) {
			fn(t, s.storage(t)())
		})
	}
}

func mustAdd(t *testing.T, b saves.Backend, cmdr string, category savefile.Category, list ...savefile.Save) {
	t.Helper()
	ctx := context.Background()
	for _, s := range list {
		var added bool
		var err error
		if category == savefile.CategoryAuto {
			added, err = b.AddAutoSave(ctx, cmdr, s)
		} else {
			added, err = b.AddManualSave(ctx, cmdr, s)
		}
		if err != nil || !added {
			t.Fatalf("adding %s save %s: added=%v err=%v", category, s.UUID, added, err)
		}
	}
}

func mustGet(t *testing.T, b saves.Backend, cmdr string) *savefile.CmdrSaves {
	t.Helper()
	cs, err := b.GetSavesForCmdr(context.Background(), cmdr)
	if err != nil {
		t.Fatalf("GetSavesForCmdr() error = %v", err)
	}
	if cs == nil {
		t.Fatalf("GetSavesForCmdr(%s) = nil, want saves", cmdr)
	}
	return cs
}

func assertTimestamps(t *testing.T, got []savefile.Save, want ...int64) {
	t.Helper()
	if want == nil {
		want = []int64{}
	}
	if ts := testutil.Timestamps(got); !reflect.DeepEqual(ts, want) {
		t.Errorf("timestamps = %v, want %v", ts, want)
	}
}

func TestBackend_Empty(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, b saves.Backend) {
		ctx := context.Background()

		ids, err := b.GetCmdrUUIDs(ctx)
		if err != nil {
			t.Fatalf("GetCmdrUUIDs() error = %v", err)
		}
		if len(ids) != 0 {
			t.Errorf("GetCmdrUUIDs() = %v, want empty", ids)
		}

		cs, err := b.GetSavesForCmdr(ctx, cmdrA)
		if err != nil {
			t.Fatalf("GetSavesForCmdr() error = %v", err)
		}
		if cs != nil {
			t.Errorf("GetSavesForCmdr() = %+v, want nil", cs)
		}
	})
}

func TestBackend_AddAndGet(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, b saves.Backend) {
		ctx := context.Background()
		mustAdd(t, b, cmdrA, savefile.CategoryManual, testutil.NewTestSaves(10, 30, 20)...)
		mustAdd(t, b, cmdrB, savefile.CategoryAuto, testutil.NewTestSaves(5)...)

		cs := mustGet(t, b, cmdrA)
		assertTimestamps(t, cs.Manual, 30, 20, 10)
		assertTimestamps(t, cs.Auto)
		if cs.Auto == nil {
			t.Error("Auto = nil, want empty slice")
		}

		want := testutil.NewTestSave(testutil.UUID(30), 30)
		if !reflect.DeepEqual(cs.Manual[0], want) {
			t.Errorf("Manual[0] = %+v, want %+v", cs.Manual[0], want)
		}

		ids, err := b.GetCmdrUUIDs(ctx)
		if err != nil {
			t.Fatalf("GetCmdrUUIDs() error = %v", err)
		}
		if !reflect.DeepEqual(ids, []string{cmdrA, cmdrB}) {
			t.Errorf("GetCmdrUUIDs() = %v, want [%s %s]", ids, cmdrA, cmdrB)
		}
	})
}

func TestBackend_Uniqueness(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, b saves.Backend) {
		ctx := context.Background()
		original := testutil.NewTestSave(testutil.UUID(1), 100)
		mustAdd(t, b, cmdrA, savefile.CategoryManual, original)

		duplicate := testutil.NewTestSave(testutil.UUID(1), 200)
		added, err := b.AddManualSave(ctx, cmdrA, duplicate)
		if err != nil {
			t.Fatalf("AddManualSave() error = %v", err)
		}
		if added {
			t.Error("AddManualSave() with existing uuid = true, want false")
		}
		assertTimestamps(t, mustGet(t, b, cmdrA).Manual, 100)

		// The same uuid may exist once per category.
		added, err = b.AddAutoSave(ctx, cmdrA, duplicate)
		if err != nil || !added {
			t.Fatalf("AddAutoSave() with uuid from other category = %v, %v; want true", added, err)
		}
		cs := mustGet(t, b, cmdrA)
		assertTimestamps(t, cs.Manual, 100)
		assertTimestamps(t, cs.Auto, 200)
	})
}

func TestBackend_RetentionBound(t *testing.T) {
	t.Run("evicts the oldest", func(t *testing.T) {
		forEachStrategy(t, func(t *testing.T, b saves.Backend) {
			mustAdd(t, b, cmdrA, savefile.CategoryAuto, testutil.NewTestSaves(5, 4, 3, 2, 1)...)
			assertTimestamps(t, mustGet(t, b, cmdrA).Auto, 5, 4, 3, 2, 1)

			mustAdd(t, b, cmdrA, savefile.CategoryAuto, testutil.NewTestSaves(6)...)
			assertTimestamps(t, mustGet(t, b, cmdrA).Auto, 6, 5, 4, 3, 2)
		})
	})

	t.Run("sequential adds", func(t *testing.T) {
		forEachStrategy(t, func(t *testing.T, b saves.Backend) {
			mustAdd(t, b, cmdrA, savefile.CategoryAuto, testutil.NewTestSaves(1, 2, 3, 4, 5, 6, 7)...)
			assertTimestamps(t, mustGet(t, b, cmdrA).Auto, 7, 6, 5, 4, 3)
		})
	})

	t.Run("manual saves are unbounded", func(t *testing.T) {
		forEachStrategy(t, func(t *testing.T, b saves.Backend) {
			mustAdd(t, b, cmdrA, savefile.CategoryManual, testutil.NewTestSaves(1, 2, 3, 4, 5, 6, 7, 8)...)
			mustAdd(t, b, cmdrA, savefile.CategoryAuto, testutil.NewTestSaves(9)...)
			assertTimestamps(t, mustGet(t, b, cmdrA).Manual, 8, 7, 6, 5, 4, 3, 2, 1)
		})
	})

	t.Run("concurrent auto saves", func(t *testing.T) {
		forEachStrategy(t, func(t *testing.T, b saves.Backend) {
			var wg sync.WaitGroup
			for ts := int64(1); ts <= 20; ts++ {
				wg.Add(1)
				go func(ts int64) {
					defer wg.Done()
					s := testutil.NewTestSave(testutil.UUID(int(ts)), ts)
					if _, err := b.AddAutoSave(context.Background(), cmdrA, s); err != nil {
						t.Errorf("AddAutoSave(%d) error = %v", ts, err)
					}
				}(ts)
			}
			wg.Wait()
			assertTimestamps(t, mustGet(t, b, cmdrA).Auto, 20, 19, 18, 17, 16)
		})
	})
}

func TestBackend_DeleteSave(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, b saves.Backend) {
		ctx := context.Background()
		mustAdd(t, b, cmdrA, savefile.CategoryManual, testutil.NewTestSaves(1, 2)...)
		mustAdd(t, b, cmdrA, savefile.CategoryAuto, testutil.NewTestSaves(3)...)

		tests := []struct {
			name string
			cmdr string
			uuid string
			want bool
		}{
			{name: "manual save", cmdr: cmdrA, uuid: testutil.UUID(1), want: true},
			{name: "auto save", cmdr: cmdrA, uuid: testutil.UUID(3), want: true},
			{name: "already deleted", cmdr: cmdrA, uuid: testutil.UUID(1), want: false},
			{name: "unknown save", cmdr: cmdrA, uuid: testutil.UUID(99), want: false},
			{name: "unknown commander", cmdr: cmdrB, uuid: testutil.UUID(2), want: false},
			{name: "invalid uuid", cmdr: cmdrA, uuid: "../manual", want: false},
			{name: "invalid commander", cmdr: "..", uuid: testutil.UUID(2), want: false},
		}
		for _, tt := range tests {
			got, err := b.DeleteSaveForCmdr(ctx, tt.cmdr, tt.uuid)
			if err != nil {
				t.Errorf("%s: DeleteSaveForCmdr() error = %v", tt.name, err)
			}
			if got != tt.want {
				t.Errorf("%s: DeleteSaveForCmdr() = %v, want %v", tt.name, got, tt.want)
			}
		}

		cs := mustGet(t, b, cmdrA)
		assertTimestamps(t, cs.Manual, 2)
		assertTimestamps(t, cs.Auto)
	})
}

func TestBackend_IndependentCategories(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, b saves.Backend) {
		ctx := context.Background()
		mustAdd(t, b, cmdrA, savefile.CategoryManual, testutil.NewTestSaves(1, 2)...)
		mustAdd(t, b, cmdrA, savefile.CategoryAuto, testutil.NewTestSaves(3, 4)...)

		for _, ts := range []int{3, 4} {
			if ok, err := b.DeleteSaveForCmdr(ctx, cmdrA, testutil.UUID(ts)); err != nil || !ok {
				t.Fatalf("DeleteSaveForCmdr(%d) = %v, %v", ts, ok, err)
			}
		}
		cs := mustGet(t, b, cmdrA)
		assertTimestamps(t, cs.Manual, 2, 1)
		if cs.Auto == nil || len(cs.Auto) != 0 {
			t.Errorf("Auto = %#v, want empty slice", cs.Auto)
		}

		for _, ts := range []int{1, 2} {
			if ok, err := b.DeleteSaveForCmdr(ctx, cmdrA, testutil.UUID(ts)); err != nil || !ok {
				t.Fatalf("DeleteSaveForCmdr(%d) = %v, %v", ts, ok, err)
			}
		}
		mustAdd(t, b, cmdrA, savefile.CategoryAuto, testutil.NewTestSaves(5)...)
		cs = mustGet(t, b, cmdrA)
		if cs.Manual == nil || len(cs.Manual) != 0 {
			t.Errorf("Manual = %#v, want empty slice", cs.Manual)
		}
		assertTimestamps(t, cs.Auto, 5)
	})
}

func TestBackend_DeleteCmdr(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, b saves.Backend) {
		ctx := context.Background()
		mustAdd(t, b, cmdrA, savefile.CategoryManual, testutil.NewTestSaves(1)...)
		mustAdd(t, b, cmdrA, savefile.CategoryAuto, testutil.NewTestSaves(2)...)
		mustAdd(t, b, cmdrB, savefile.CategoryManual, testutil.NewTestSaves(3)...)

		deleted, err := b.DeleteCmdr(ctx, cmdrA)
		if err != nil || !deleted {
			t.Fatalf("DeleteCmdr() = %v, %v; want true", deleted, err)
		}

		cs, err := b.GetSavesForCmdr(ctx, cmdrA)
		if err != nil {
			t.Fatalf("GetSavesForCmdr() error = %v", err)
		}
		if cs != nil {
			t.Errorf("GetSavesForCmdr() after delete = %+v, want nil", cs)
		}
		ids, err := b.GetCmdrUUIDs(ctx)
		if err != nil {
			t.Fatalf("GetCmdrUUIDs() error = %v", err)
		}
		if !reflect.DeepEqual(ids, []string{cmdrB}) {
			t.Errorf("GetCmdrUUIDs() = %v, want [%s]", ids, cmdrB)
		}

		deleted, err = b.DeleteCmdr(ctx, cmdrA)
		if err != nil || deleted {
			t.Errorf("second DeleteCmdr() = %v, %v; want false", deleted, err)
		}
		assertTimestamps(t, mustGet(t, b, cmdrB).Manual, 3)
	})
}

func TestBackend_RejectsInvalidInput(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, b saves.Backend) {
		ctx := context.Background()

		_, err := b.AddManualSave(ctx, "../escape", testutil.NewTestSave(testutil.UUID(1), 1))
		if !errors.Is(err, saves.ErrInvalidID) {
			t.Errorf("AddManualSave() with bad commander error = %v, want ErrInvalidID", err)
		}

		bad := testutil.NewTestSave("not-a-uuid", 1)
		added, err := b.AddAutoSave(ctx, cmdrA, bad)
		if added || saves.KindOf(err) != saves.KindSchemaValidation {
			t.Errorf("AddAutoSave() with bad save = %v, %v; want schema validation failure", added, err)
		}

		lost := testutil.NewTestSave(testutil.UUID(2), 2)
		lost.PlayerLocation = savefile.AtStation(testutil.UnknownID)
		added, err = b.AddAutoSave(ctx, cmdrA, lost)
		if added || !errors.Is(err, savefile.ErrUnresolvedReference) {
			t.Errorf("AddAutoSave() with unknown station = %v, %v; want unresolved reference", added, err)
		}
		if n := len(b.CorruptedSaves()); n != 0 {
			t.Errorf("CorruptedSaves() has %d entries, want none", n)
		}

		ids, err := b.GetCmdrUUIDs(ctx)
		if err != nil || len(ids) != 0 {
			t.Errorf("GetCmdrUUIDs() = %v, %v; want empty", ids, err)
		}
	})
}

func TestBackend_Reopen(t *testing.T) {
	for _, s := range strategies() {
		t.Run(s.name, func(t *testing.T) {
			open := s.storage(t)
			b := open()
			mustAdd(t, b, cmdrA, savefile.CategoryManual, testutil.NewTestSaves(1, 2)...)
			mustAdd(t, b, cmdrA, savefile.CategoryAuto, testutil.NewTestSaves(3, 4, 5, 6, 7, 8)...)
			if err := b.Close(); err != nil {
				t.Fatalf("Close() error = %v", err)
			}

			b = open()
			cs := mustGet(t, b, cmdrA)
			assertTimestamps(t, cs.Manual, 2, 1)
			assertTimestamps(t, cs.Auto, 8, 7, 6, 5, 4)
		})
	}
}

func TestBackend_ExportImport(t *testing.T) {
	for _, s := range strategies() {
		t.Run(s.name, func(t *testing.T) {
			ctx := context.Background()
			src := s.storage(t)()
			mustAdd(t, src, cmdrA, savefile.CategoryManual, testutil.NewTestSaves(1, 2)...)
			mustAdd(t, src, cmdrA, savefile.CategoryAuto, testutil.NewTestSaves(3, 4, 5, 6, 7, 8)...)
			mustAdd(t, src, cmdrB, savefile.CategoryAuto, testutil.NewTestSaves(9)...)

			exported, err := saves.ExportSaves(ctx, src)
			if err != nil {
				t.Fatalf("ExportSaves() error = %v", err)
			}

			dst := s.storage(t)()
			ok, err := saves.ImportSaves(ctx, dst, exported)
			if err != nil || !ok {
				t.Fatalf("ImportSaves() = %v, %v; want true", ok, err)
			}
			reexported, err := saves.ExportSaves(ctx, dst)
			if err != nil {
				t.Fatalf("ExportSaves() error = %v", err)
			}
			if !reflect.DeepEqual(reexported, exported) {
				t.Errorf("round trip mismatch:\n got %+v\nwant %+v", reexported, exported)
			}

			ok, err = saves.ImportSaves(ctx, dst, exported)
			if err != nil || ok {
				t.Errorf("second ImportSaves() = %v, %v; want false, nil", ok, err)
			}
		})
	}
}
