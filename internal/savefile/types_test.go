package savefile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSortNewestFirst(t *testing.T) {
	list := []Save{
		{UUID: "b", Timestamp: 1},
		{UUID: "c", Timestamp: 3},
		{UUID: "b", Timestamp: 2},
		{UUID: "a", Timestamp: 2},
	}
	SortNewestFirst(list)

	var got []string
	for _, s := range list {
		got = append(got, s.UUID)
	}
	assert.Equal(t, []string{"c", "a", "b", "b"}, got)
	assert.Equal(t, int64(1), list[3].Timestamp)
}

func TestCmdrSaves(t *testing.T) {
	cs := NewCmdrSaves()
	cs.Set(CategoryAuto, []Save{{UUID: "x"}})
	cs.Set(CategoryManual, []Save{{UUID: "y"}, {UUID: "z"}})

	category, i, ok := cs.Find("z")
	assert.True(t, ok)
	assert.Equal(t, CategoryManual, category)
	assert.Equal(t, 1, i)

	_, _, ok = cs.Find("missing")
	assert.False(t, ok)
	assert.Equal(t, 3, cs.Len())

	clone := cs.Clone()
	clone.Set(CategoryAuto, nil)
	assert.Len(t, cs.Auto, 1, "clone shares slices with the original")

	var none *CmdrSaves
	assert.Nil(t, none.Clone())
}

func TestValidUUID(t *testing.T) {
	assert.True(t, ValidUUID("8f0c54a5-3c44-4f37-9d7e-1f2b3c4d5e6f"))
	assert.False(t, ValidUUID("8f0c54a53c444f379d7e1f2b3c4d5e6f"), "compact form is not accepted")
	assert.False(t, ValidUUID("{8f0c54a5-3c44-4f37-9d7e-1f2b3c4d5e6f}"))
	assert.False(t, ValidUUID("../8f0c54a5-3c44-4f37-9d7e-1f2b3c4d"))
	assert.False(t, ValidUUID(""))
}

func TestLocation_Normalized(t *testing.T) {
	id := UniverseObjectID{IDInSystem: "1"}
	messy := Location{Type: LocationInSpaceship, ShipID: "s", UniverseObjectID: &id, Position: &Vector3{}}
	assert.Equal(t, InSpaceship("s"), messy.normalized())

	_, ok := messy.normalized().reference()
	assert.False(t, ok)

	ref, ok := AtStation(id).reference()
	assert.True(t, ok)
	assert.Equal(t, id, ref)
}
