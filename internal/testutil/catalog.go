package testutil

import (
	"savekeeper/internal/catalog"
	"savekeeper/internal/savefile"
)

// LoneStar is the star system every test fixture lives in.
var LoneStar = savefile.StarSystemCoordinates{}

// Object ids known to the test catalog.
var (
	StarID    = savefile.UniverseObjectID{SystemCoordinates: LoneStar, IDInSystem: "0"}
	PlanetID  = savefile.UniverseObjectID{SystemCoordinates: LoneStar, IDInSystem: "1"}
	StationID = savefile.UniverseObjectID{SystemCoordinates: LoneStar, IDInSystem: "2"}
	UnknownID = savefile.UniverseObjectID{SystemCoordinates: LoneStar, IDInSystem: "404"}
)

// NewTestCatalog returns a catalog with a single system holding a star,
// a planet and a station.
func NewTestCatalog() *catalog.Catalog {
	c, err := catalog.New([]catalog.System{{
		Name: "Lone Star",
		Objects: []catalog.Object{
			{ID: StarID.IDInSystem, Kind: catalog.KindStellar},
			{ID: PlanetID.IDInSystem, Kind: catalog.KindPlanet},
			{ID: StationID.IDInSystem, Kind: catalog.KindFacility},
		},
	}})
	if err != nil {
		panic(err)
	}
	return c
}

// NewTestCodec returns a codec over the test catalog with deterministic defaults.
func NewTestCodec() *savefile.Codec {
	return savefile.NewCodec(NewTestCatalog(),
		savefile.WithClock(FixedClock()),
		savefile.WithIDGenerator(NewStubIDGenerator()))
}
