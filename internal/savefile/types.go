package savefile

import (
	"encoding/json"
	"sort"
)

// Category partitions a commander's saves.
type Category string

const (
	CategoryManual Category = "manual"
	CategoryAuto   Category = "auto"
)

// Categories lists every category in storage order.
var Categories = []Category{CategoryManual, CategoryAuto}

// StarSystemCoordinates locate a star system in the procedurally generated universe.
type StarSystemCoordinates struct {
	StarSectorX int64   `json:"starSectorX"`
	StarSectorY int64   `json:"starSectorY"`
	StarSectorZ int64   `json:"starSectorZ"`
	LocalX      float64 `json:"localX"`
	LocalY      float64 `json:"localY"`
	LocalZ      float64 `json:"localZ"`
}

// UniverseObjectID points at one object inside a star system.
type UniverseObjectID struct {
	SystemCoordinates StarSystemCoordinates `json:"systemCoordinates"`
	IDInSystem        string                `json:"idInSystem"`
}

type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type Quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// Save is an immutable snapshot of a commander's progress.
//
// Player is opaque to the persistence layer. Values produced by Decode hold it
// in canonical form (compact, keys sorted), which is what makes
// Decode(Encode(s)) == s hold for decoded saves.
type Save struct {
	UUID           string              `json:"uuid"`
	Timestamp      int64               `json:"timestamp"`
	Player         json.RawMessage     `json:"player"`
	PlayerLocation Location            `json:"playerLocation"`
	ShipLocations  map[string]Location `json:"shipLocations"`
	Thumbnail      string              `json:"thumbnail,omitempty"`
}

// CmdrSaves is the read view of one commander's saves, newest first.
type CmdrSaves struct {
	Manual []Save `json:"manual"`
	Auto   []Save `json:"auto"`
}

// NewCmdrSaves returns an empty view with non-nil slices.
func NewCmdrSaves() *CmdrSaves {
	return &CmdrSaves{Manual: []Save{}, Auto: []Save{}}
}

// List returns the saves of the given category.
func (c *CmdrSaves) List(category Category) []Save {
	switch category {
	case CategoryManual:
		return c.Manual
	case CategoryAuto:
		return c.Auto
	default:
		return nil
	}
}

// Set replaces the saves of the given category.
func (c *CmdrSaves) Set(category Category, list []Save) {
	switch category {
	case CategoryManual:
		c.Manual = list
	case CategoryAuto:
		c.Auto = list
	}
}

// Find returns the category holding the save with the given uuid.
func (c *CmdrSaves) Find(uuid string) (Category, int, bool) {
	for _, category := range Categories {
		for i, s := range c.List(category) {
			if s.UUID == uuid {
				return category, i, true
			}
		}
	}
	return "", -1, false
}

// Len returns the total number of saves across categories.
func (c *CmdrSaves) Len() int {
	return len(c.Manual) + len(c.Auto)
}

// Clone returns a copy whose slices can be mutated independently.
// Saves themselves are immutable and shared.
func (c *CmdrSaves) Clone() *CmdrSaves {
	if c == nil {
		return nil
	}
	return &CmdrSaves{
		Manual: append([]Save{}, c.Manual...),
		Auto:   append([]Save{}, c.Auto...),
	}
}

// SortNewestFirst orders saves by timestamp descending, then by uuid.
func SortNewestFirst(list []Save) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Timestamp != list[j].Timestamp {
			return list[i].Timestamp > list[j].Timestamp
		}
		return list[i].UUID < list[j].UUID
	})
}
