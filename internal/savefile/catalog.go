package savefile

// Catalog is the read-only universe database used to check that object
// references embedded in a save still exist.
type Catalog interface {
	Resolves(id UniverseObjectID) bool
}

// LegacyCatalog can also translate the index-based object ids written by the
// first save format into current ids.
type LegacyCatalog interface {
	Catalog
	LegacyObjectID(system StarSystemCoordinates, objectType, objectIndex int) (UniverseObjectID, bool)
}
