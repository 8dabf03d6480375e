// Package catalog provides the universe catalog used to check that the
// object references embedded in saves point at objects that exist.
package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"savekeeper/internal/savefile"
)

// Object kinds, in the order the first save format indexed them.
const (
	KindStellar  = "stellar"
	KindPlanet   = "planet"
	KindAnomaly  = "anomaly"
	KindFacility = "facility"
)

var legacyKinds = []string{KindStellar, KindPlanet, KindAnomaly, KindFacility}

// File is the YAML representation of a catalog.
//
//	systems:
//	  - name: Lone Star
//	    coordinates: {starSectorX: 0, starSectorY: 0, starSectorZ: 0, localX: 0, localY: 0, localZ: 0}
//	    objects:
//	      - {id: "0", kind: stellar}
//	      - {id: "1", kind: planet}
type File struct {
	Systems []System `yaml:"systems"`
}

type System struct {
	Name        string      `yaml:"name,omitempty"`
	Coordinates Coordinates `yaml:"coordinates"`
	Objects     []Object    `yaml:"objects"`
}

type Coordinates struct {
	StarSectorX int64   `yaml:"starSectorX"`
	StarSectorY int64   `yaml:"starSectorY"`
	StarSectorZ int64   `yaml:"starSectorZ"`
	LocalX      float64 `yaml:"localX"`
	LocalY      float64 `yaml:"localY"`
	LocalZ      float64 `yaml:"localZ"`
}

func (c Coordinates) toSave() savefile.StarSystemCoordinates {
	return savefile.StarSystemCoordinates{
		StarSectorX: c.StarSectorX,
		StarSectorY: c.StarSectorY,
		StarSectorZ: c.StarSectorZ,
		LocalX:      c.LocalX,
		LocalY:      c.LocalY,
		LocalZ:      c.LocalZ,
	}
}

type Object struct {
	ID   string `yaml:"id"`
	Kind string `yaml:"kind"`
}

type legacyKey struct {
	system savefile.StarSystemCoordinates
	kind   int
	index  int
}

// Catalog is an immutable index of universe objects. Safe for concurrent use.
type Catalog struct {
	objects map[savefile.UniverseObjectID]string
	legacy  map[legacyKey]savefile.UniverseObjectID
	systems int
}

// New indexes the given systems. Object ids must be unique within a system.
func New(systems []System) (*Catalog, error) {
	c := &Catalog{
		objects: make(map[savefile.UniverseObjectID]string),
		legacy:  make(map[legacyKey]savefile.UniverseObjectID),
	}
	seen := make(map[savefile.StarSystemCoordinates]bool)
	for _, sys := range systems {
		coords := sys.Coordinates.toSave()
		if seen[coords] {
			return nil, fmt.Errorf("system %q listed twice", sys.Name)
		}
		seen[coords] = true
		c.systems++

		counts := make(map[int]int)
		for _, obj := range sys.Objects {
			kind := kindIndex(obj.Kind)
			if kind < 0 {
				return nil, fmt.Errorf("system %q: object %q has unknown kind %q", sys.Name, obj.ID, obj.Kind)
			}
			id := savefile.UniverseObjectID{SystemCoordinates: coords, IDInSystem: obj.ID}
			if _, dup := c.objects[id]; dup {
				return nil, fmt.Errorf("system %q: duplicate object id %q", sys.Name, obj.ID)
			}
			c.objects[id] = obj.Kind
			c.legacy[legacyKey{system: coords, kind: kind, index: counts[kind]}] = id
			counts[kind]++
		}
	}
	return c, nil
}

func kindIndex(kind string) int {
	for i, k := range legacyKinds {
		if k == kind {
			return i
		}
	}
	return -1
}

// Parse decodes a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return New(f.Systems)
}

// Load reads a YAML catalog from path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("loading catalog from %s: %w", path, err)
	}
	return c, nil
}

// Resolves reports whether the object exists.
func (c *Catalog) Resolves(id savefile.UniverseObjectID) bool {
	_, ok := c.objects[id]
	return ok
}

// LegacyObjectID translates a (kind, index) pair from the first save format.
// An index past the end of the kind's objects falls back to the first stellar
// object of the system.
func (c *Catalog) LegacyObjectID(system savefile.StarSystemCoordinates, objectType, objectIndex int) (savefile.UniverseObjectID, bool) {
	if id, ok := c.legacy[legacyKey{system: system, kind: objectType, index: objectIndex}]; ok {
		return id, true
	}
	id, ok := c.legacy[legacyKey{system: system, kind: savefile.LegacyStellarObject, index: 0}]
	return id, ok
}

// Len returns the number of objects in the catalog.
func (c *Catalog) Len() int { return len(c.objects) }

// Systems returns the number of star systems in the catalog.
func (c *Catalog) Systems() int { return c.systems }

// Lenient accepts every reference but still translates legacy ids through
// the wrapped catalog.
type Lenient struct {
	*Catalog
}

func (Lenient) Resolves(savefile.UniverseObjectID) bool { return true }

// Permissive accepts every reference. It cannot translate legacy ids, so
// first-format saves do not decode against it.
type Permissive struct{}

func (Permissive) Resolves(savefile.UniverseObjectID) bool { return true }

var (
	_ savefile.LegacyCatalog = (*Catalog)(nil)
	_ savefile.LegacyCatalog = Lenient{}
	_ savefile.Catalog       = Permissive{}
)
