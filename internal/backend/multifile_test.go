package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path"
	"reflect"
	"testing"

	"savekeeper/internal/fs"
	"savekeeper/internal/savefile"
	"savekeeper/internal/saves"
	"savekeeper/internal/testutil"
)

func newTestMultiFile(t *testing.T, fsys saves.FileSystem) *MultiFile {
	t.Helper()
	b, err := NewMultiFile(context.Background(), fsys, testOptions())
	if err != nil {
		t.Fatalf("NewMultiFile() error = %v", err)
	}
	return b
}

func writeRaw(t *testing.T, fsys saves.FileSystem, p string, data []byte) {
	t.Helper()
	ctx := context.Background()
	if err := fsys.CreateDirectory(ctx, path.Dir(p)); err != nil {
		t.Fatalf("CreateDirectory(%s) error = %v", path.Dir(p), err)
	}
	if err := fsys.WriteFile(ctx, p, data); err != nil {
		t.Fatalf("WriteFile(%s) error = %v", p, err)
	}
}

func fileExists(t *testing.T, fsys saves.FileSystem, p string) bool {
	t.Helper()
	ok, err := fsys.FileExists(context.Background(), p)
	if err != nil {
		t.Fatalf("FileExists(%s) error = %v", p, err)
	}
	return ok
}

func TestMultiFile_Layout(t *testing.T) {
	ctx := context.Background()
	fsys := fs.NewMemoryFileSystem()
	b := newTestMultiFile(t, fsys)

	s := testutil.NewTestSave(testutil.UUID(1), 1)
	mustAdd(t, b, cmdrA, savefile.CategoryManual, s)

	p := "/saves/" + cmdrA + "/manual/" + testutil.UUID(1) + ".json"
	data, err := fsys.ReadFile(ctx, p)
	if err != nil {
		t.Fatalf("ReadFile(%s) error = %v", p, err)
	}
	if !bytes.Equal(data, testutil.MustEncode(s)) {
		t.Errorf("file content = %s, want %s", data, testutil.MustEncode(s))
	}
	for _, dir := range []string{"/corrupted", "/saves/" + cmdrA + "/manual"} {
		if ok, _ := fsys.DirectoryExists(ctx, dir); !ok {
			t.Errorf("directory %s missing", dir)
		}
	}
}

func TestMultiFile_CorruptionIsolation(t *testing.T) {
	ctx := context.Background()
	fsys := fs.NewMemoryFileSystem()
	b := newTestMultiFile(t, fsys)

	dir := "/saves/" + cmdrA + "/manual/"
	for _, s := range testutil.NewTestSaves(1, 2) {
		writeRaw(t, fsys, dir+s.UUID+".json", testutil.MustEncode(s))
	}
	bad := []byte(`{"uuid": "broken`)
	badPath := dir + testutil.UUID(3) + ".json"
	writeRaw(t, fsys, badPath, bad)

	cs := mustGet(t, b, cmdrA)
	assertTimestamps(t, cs.Manual, 2, 1)

	if fileExists(t, fsys, badPath) {
		t.Error("corrupted file still at its original path")
	}
	quarantined, err := fsys.ReadFile(ctx, "/corrupted/"+cmdrA+"/manual/"+testutil.UUID(3)+".json")
	if err != nil {
		t.Fatalf("reading quarantined file: %v", err)
	}
	if !bytes.Equal(quarantined, bad) {
		t.Errorf("quarantined bytes = %q, want %q", quarantined, bad)
	}

	corrupted := b.CorruptedSaves()
	if len(corrupted) != 1 {
		t.Fatalf("CorruptedSaves() = %d entries, want 1", len(corrupted))
	}
	if corrupted[0].Path != badPath || corrupted[0].Kind() != saves.KindInvalidJSON || !bytes.Equal(corrupted[0].Content, bad) {
		t.Errorf("CorruptedSaves()[0] = %+v", corrupted[0])
	}

	// A second read finds nothing left to quarantine.
	assertTimestamps(t, mustGet(t, b, cmdrA).Manual, 2, 1)
	if n := len(b.CorruptedSaves()); n != 1 {
		t.Errorf("CorruptedSaves() after second read = %d entries, want 1", n)
	}
}

func TestMultiFile_QuarantineKinds(t *testing.T) {
	withoutUUID := func(s savefile.Save) []byte {
		var doc map[string]any
		if err := json.Unmarshal(testutil.MustEncode(s), &doc); err != nil {
			t.Fatal(err)
		}
		delete(doc, "uuid")
		data, err := json.Marshal(doc)
		if err != nil {
			t.Fatal(err)
		}
		return data
	}
	unknownObject := testutil.NewTestSave(testutil.UUID(1), 1)
	unknownObject.PlayerLocation = savefile.AtStation(testutil.UnknownID)

	tests := []struct {
		name     string
		data     []byte
		wantKind saves.ErrorKind
	}{
		{name: "invalid json", data: []byte("not json"), wantKind: saves.KindInvalidJSON},
		{name: "wrong shape", data: []byte(`{"uuid":"` + testutil.UUID(1) + `","timestamp":"yesterday"}`), wantKind: saves.KindSchemaValidation},
		{name: "uuid differs from file name", data: testutil.MustEncode(testutil.NewTestSave(testutil.UUID(2), 1)), wantKind: saves.KindSchemaValidation},
		{name: "unknown universe object", data: testutil.MustEncode(unknownObject), wantKind: saves.KindUnresolvedReference},
		{name: "legacy save without uuid", data: withoutUUID(testutil.NewTestSave(testutil.UUID(1), 1)), wantKind: saves.KindNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys := fs.NewMemoryFileSystem()
			b := newTestMultiFile(t, fsys)
			writeRaw(t, fsys, "/saves/"+cmdrA+"/auto/"+testutil.UUID(1)+".json", tt.data)

			cs := mustGet(t, b, cmdrA)
			corrupted := b.CorruptedSaves()

			if tt.wantKind == saves.KindNone {
				if len(corrupted) != 0 {
					t.Fatalf("CorruptedSaves() = %+v, want none", corrupted)
				}
				if len(cs.Auto) != 1 || cs.Auto[0].UUID != testutil.UUID(1) {
					t.Errorf("Auto = %+v, want the save named by its file", cs.Auto)
				}
				return
			}
			if len(cs.Auto) != 0 {
				t.Errorf("Auto = %+v, want empty", cs.Auto)
			}
			if len(corrupted) != 1 || corrupted[0].Kind() != tt.wantKind {
				t.Errorf("CorruptedSaves() = %+v, want one %s entry", corrupted, tt.wantKind)
			}
		})
	}
}

func TestMultiFile_QuarantineDoesNotClobber(t *testing.T) {
	ctx := context.Background()
	fsys := fs.NewMemoryFileSystem()
	b := newTestMultiFile(t, fsys)

	p := "/saves/" + cmdrA + "/manual/" + testutil.UUID(1) + ".json"
	q := "/corrupted/" + cmdrA + "/manual/" + testutil.UUID(1) + ".json"

	writeRaw(t, fsys, p, []byte("first"))
	mustGet(t, b, cmdrA)
	writeRaw(t, fsys, p, []byte("second"))
	mustGet(t, b, cmdrA)

	for file, want := range map[string]string{q: "first", q + ".1": "second"} {
		got, err := fsys.ReadFile(ctx, file)
		if err != nil {
			t.Fatalf("ReadFile(%s) error = %v", file, err)
		}
		if string(got) != want {
			t.Errorf("%s = %q, want %q", file, got, want)
		}
	}
}

func TestMultiFile_QuarantineWriteFailureKeepsOriginal(t *testing.T) {
	fsys := testutil.NewFailingFileSystem()
	b := newTestMultiFile(t, fsys)

	p := "/saves/" + cmdrA + "/manual/" + testutil.UUID(1) + ".json"
	writeRaw(t, fsys, p, []byte("broken"))
	writeRaw(t, fsys, "/saves/"+cmdrA+"/manual/"+testutil.UUID(2)+".json", testutil.MustEncode(testutil.NewTestSave(testutil.UUID(2), 2)))
	fsys.Fail(testutil.OpWriteFile, "/corrupted/")

	cs := mustGet(t, b, cmdrA)
	assertTimestamps(t, cs.Manual, 2)
	if !fileExists(t, fsys, p) {
		t.Error("original removed although the quarantine copy failed")
	}
	if n := len(b.CorruptedSaves()); n != 1 {
		t.Errorf("CorruptedSaves() = %d entries, want 1", n)
	}

	fsys.Heal()
	mustGet(t, b, cmdrA)
	if fileExists(t, fsys, p) {
		t.Error("original still present after quarantine succeeded")
	}
}

func TestMultiFile_ReadFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("unreadable file is skipped", func(t *testing.T) {
		fsys := testutil.NewFailingFileSystem()
		b := newTestMultiFile(t, fsys)
		mustAdd(t, b, cmdrA, savefile.CategoryManual, testutil.NewTestSaves(1, 2, 3)...)
		fsys.Fail(testutil.OpReadFile, testutil.UUID(2))

		assertTimestamps(t, mustGet(t, b, cmdrA).Manual, 3, 1)
		if n := len(b.CorruptedSaves()); n != 0 {
			t.Errorf("CorruptedSaves() = %d entries, want 0", n)
		}
		fsys.Heal()
		assertTimestamps(t, mustGet(t, b, cmdrA).Manual, 3, 2, 1)
	})

	t.Run("listing failure is an error", func(t *testing.T) {
		fsys := testutil.NewFailingFileSystem()
		b := newTestMultiFile(t, fsys)
		mustAdd(t, b, cmdrA, savefile.CategoryManual, testutil.NewTestSaves(1)...)
		fsys.Fail(testutil.OpListDirectory, "/manual")

		_, err := b.GetSavesForCmdr(ctx, cmdrA)
		if saves.KindOf(err) != saves.KindFilesystem {
			t.Errorf("GetSavesForCmdr() error = %v, want filesystem failure", err)
		}
	})

	t.Run("foreign files are quarantined", func(t *testing.T) {
		fsys := fs.NewMemoryFileSystem()
		b := newTestMultiFile(t, fsys)
		mustAdd(t, b, cmdrA, savefile.CategoryManual, testutil.NewTestSaves(1)...)
		notes := "/saves/" + cmdrA + "/manual/notes.txt"
		writeRaw(t, fsys, notes, []byte("hello"))
		if err := fsys.CreateDirectory(ctx, "/saves/lost+found"); err != nil {
			t.Fatal(err)
		}

		assertTimestamps(t, mustGet(t, b, cmdrA).Manual, 1)
		if fileExists(t, fsys, notes) {
			t.Error("non-save file left in the live tree")
		}
		if !fileExists(t, fsys, "/corrupted/"+cmdrA+"/manual/notes.txt") {
			t.Error("non-save file not moved to quarantine")
		}
		corrupted := b.CorruptedSaves()
		if len(corrupted) != 1 || corrupted[0].Path != notes || corrupted[0].Kind() != saves.KindSchemaValidation {
			t.Errorf("CorruptedSaves() = %+v, want one schema entry for %s", corrupted, notes)
		}

		// Seen once, gone for good.
		assertTimestamps(t, mustGet(t, b, cmdrA).Manual, 1)
		if n := len(b.CorruptedSaves()); n != 1 {
			t.Errorf("CorruptedSaves() after second read = %d entries, want 1", n)
		}

		ids, err := b.GetCmdrUUIDs(ctx)
		if err != nil {
			t.Fatalf("GetCmdrUUIDs() error = %v", err)
		}
		if !reflect.DeepEqual(ids, []string{cmdrA}) {
			t.Errorf("GetCmdrUUIDs() = %v, want [%s]", ids, cmdrA)
		}
	})
}

func TestMultiFile_WriteFailure(t *testing.T) {
	fsys := testutil.NewFailingFileSystem()
	b := newTestMultiFile(t, fsys)
	fsys.Fail(testutil.OpWriteFile, "/saves/")

	added, err := b.AddManualSave(context.Background(), cmdrA, testutil.NewTestSave(testutil.UUID(1), 1))
	if added {
		t.Error("AddManualSave() = true, want false")
	}
	if !errors.Is(err, saves.ErrFilesystem) || !errors.Is(err, testutil.ErrInjected) {
		t.Errorf("AddManualSave() error = %v, want filesystem failure wrapping the cause", err)
	}
}

func TestMultiFile_RetentionRetriesFailedEvictions(t *testing.T) {
	ctx := context.Background()
	fsys := testutil.NewFailingFileSystem()
	b := newTestMultiFile(t, fsys)
	autoDir := "/saves/" + cmdrA + "/auto"

	fsys.Fail(testutil.OpDeleteFile, "/auto/")
	mustAdd(t, b, cmdrA, savefile.CategoryAuto, testutil.NewTestSaves(1, 2, 3, 4, 5, 6)...)

	names, err := fsys.ListDirectory(ctx, autoDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 6 {
		t.Errorf("auto saves on disk = %d, want 6 while eviction fails", len(names))
	}

	fsys.Heal()
	mustAdd(t, b, cmdrA, savefile.CategoryAuto, testutil.NewTestSaves(7)...)
	assertTimestamps(t, mustGet(t, b, cmdrA).Auto, 7, 6, 5, 4, 3)
	names, err = fsys.ListDirectory(ctx, autoDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 5 {
		t.Errorf("auto saves on disk = %d, want 5", len(names))
	}
}
