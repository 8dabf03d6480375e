package saves

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"savekeeper/internal/savefile"
)

// ExportSaves reads every commander's saves from backend.
// Corrupted entries are quarantined by the backend and are not part of the result.
func ExportSaves(ctx context.Context, backend Backend) (map[string]*savefile.CmdrSaves, error) {
	cmdrs, err := backend.GetCmdrUUIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing commanders: %w", err)
	}

	out := make(map[string]*savefile.CmdrSaves, len(cmdrs))
	for _, cmdr := range cmdrs {
		cs, err := backend.GetSavesForCmdr(ctx, cmdr)
		if err != nil {
			return nil, fmt.Errorf("reading saves of commander %s: %w", cmdr, err)
		}
		if cs != nil {
			out[cmdr] = cs
		}
	}
	return out, nil
}

// ImportSaves adds every save in data to backend. Auto saves are added oldest
// first so retention keeps the newest ones. It reports true only if every save
// was added; saves that already exist count as not added.
func ImportSaves(ctx context.Context, backend Backend, data map[string]*savefile.CmdrSaves) (bool, error) {
	cmdrs := make([]string, 0, len(data))
	for cmdr := range data {
		cmdrs = append(cmdrs, cmdr)
	}
	sort.Strings(cmdrs)

	allAdded := true
	var errs []error
	for _, cmdr := range cmdrs {
		cs := data[cmdr]
		if cs == nil {
			continue
		}
		for _, category := range savefile.Categories {
			list := append([]savefile.Save(nil), cs.List(category)...)
			savefile.SortNewestFirst(list)
			for i := len(list) - 1; i >= 0; i-- {
				var added bool
				var err error
				if category == savefile.CategoryAuto {
					added, err = backend.AddAutoSave(ctx, cmdr, list[i])
				} else {
					added, err = backend.AddManualSave(ctx, cmdr, list[i])
				}
				if err != nil {
					errs = append(errs, fmt.Errorf("importing %s save %s of commander %s: %w", category, list[i].UUID, cmdr, err))
				}
				allAdded = allAdded && added
			}
		}
	}
	return allAdded, errors.Join(errs...)
}
