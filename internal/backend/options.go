package backend

import (
	"fmt"
	"path"
	"strings"

	"savekeeper/internal/savefile"
	"savekeeper/internal/saves"
)

// Options are shared by every storage strategy.
type Options struct {
	Codec        *savefile.Codec
	Logger       saves.Logger
	Clock        savefile.Clock
	MaxAutoSaves int
}

func (o Options) validate() (Options, error) {
	if o.Codec == nil {
		return o, fmt.Errorf("codec is required")
	}
	if o.MaxAutoSaves < 1 {
		return o, fmt.Errorf("max auto saves must be at least 1, got %d", o.MaxAutoSaves)
	}
	if o.Logger == nil {
		o.Logger = saves.NewNopLogger()
	}
	if o.Clock == nil {
		o.Clock = savefile.RealClock{}
	}
	return o, nil
}

// Logical layout shared by the file based strategies.
const (
	savesRoot     = "/saves"
	corruptedRoot = "/corrupted"
	saveExt       = ".json"
)

func cmdrDir(cmdr string) string {
	return path.Join(savesRoot, cmdr)
}

func categoryDir(cmdr string, category savefile.Category) string {
	return path.Join(savesRoot, cmdr, string(category))
}

func savePath(cmdr string, category savefile.Category, uuid string) string {
	return path.Join(savesRoot, cmdr, string(category), uuid+saveExt)
}

// quarantinePath mirrors a live path under the quarantine root.
func quarantinePath(p string) string {
	return strings.Replace(p, savesRoot+"/", corruptedRoot+"/", 1)
}

// decodeStored decodes bytes read from storage whose key names the save.
// A save whose uuid disagrees with its key is treated as corrupted.
func decodeStored(codec *savefile.Codec, raw []byte, uuid string) (savefile.Save, error) {
	s, err := codec.Decode(raw, savefile.WithDefaultUUID(uuid))
	if err != nil {
		return savefile.Save{}, err
	}
	if s.UUID != uuid {
		return savefile.Save{}, &savefile.DecodeError{
			Kind:  savefile.ErrSchemaValidation,
			Field: "uuid",
			Err:   fmt.Errorf("save uuid %s does not match its key %s", s.UUID, uuid),
		}
	}
	return s, nil
}

// encodeForWrite rejects anything a later read would quarantine, including
// references the catalog does not resolve, and encodes the rest.
func encodeForWrite(codec *savefile.Codec, save savefile.Save) ([]byte, error) {
	if err := codec.Check(save); err != nil {
		return nil, err
	}
	return codec.Encode(save)
}

// evictOldest sorts list newest first and splits it at limit.
func evictOldest(list []savefile.Save, limit int) (kept, evicted []savefile.Save) {
	savefile.SortNewestFirst(list)
	if len(list) <= limit {
		return list, nil
	}
	return list[:limit], list[limit:]
}
