package savefile

// LocationType discriminates the Location tagged union.
type LocationType string

const (
	LocationRelative    LocationType = "relative"
	LocationAtStation   LocationType = "atStation"
	LocationInSpaceship LocationType = "inSpaceship"
)

// Location describes where the player or a ship is.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type Location struct {
	Type LocationType `json:"type"`

	// relative and atStation
	UniverseObjectID *UniverseObjectID `json:"universeObjectId,omitempty"`

	// relative only
	Position *Vector3    `json:"position,omitempty"`
	Rotation *Quaternion `json:"rotation,omitempty"`

	// inSpaceship only
	ShipID string `json:"shipId,omitempty"`
}

// RelativeTo builds a location in the frame of reference of an object.
func RelativeTo(id UniverseObjectID, position Vector3, rotation Quaternion) Location {
	return Location{Type: LocationRelative, UniverseObjectID: &id, Position: &position, Rotation: &rotation}
}

// AtStation builds a location docked at an orbital facility.
func AtStation(id UniverseObjectID) Location {
	return Location{Type: LocationAtStation, UniverseObjectID: &id}
}

// InSpaceship builds a location aboard a ship listed in Save.ShipLocations.
func InSpaceship(shipID string) Location {
	return Location{Type: LocationInSpaceship, ShipID: shipID}
}

func (l Location) validate(field string) error {
	switch l.Type {
	case LocationRelative:
		if l.UniverseObjectID == nil {
			return schemaError(field+".universeObjectId", "required")
		}
		if l.Position == nil {
			return schemaError(field+".position", "required")
		}
		if l.Rotation == nil {
			return schemaError(field+".rotation", "required")
		}
	case LocationAtStation:
		if l.UniverseObjectID == nil {
			return schemaError(field+".universeObjectId", "required")
		}
	case LocationInSpaceship:
		if !ValidUUID(l.ShipID) {
			return schemaError(field+".shipId", "not a uuid: %q", l.ShipID)
		}
	default:
		return schemaError(field+".type", "unknown location type %q", l.Type)
	}
	return nil
}

// normalized drops fields that do not belong to the variant.
func (l Location) normalized() Location {
	switch l.Type {
	case LocationRelative:
		return Location{Type: l.Type, UniverseObjectID: l.UniverseObjectID, Position: l.Position, Rotation: l.Rotation}
	case LocationAtStation:
		return Location{Type: l.Type, UniverseObjectID: l.UniverseObjectID}
	case LocationInSpaceship:
		return Location{Type: l.Type, ShipID: l.ShipID}
	default:
		return l
	}
}

// reference returns the universe object the location depends on, if any.
func (l Location) reference() (UniverseObjectID, bool) {
	switch l.Type {
	case LocationRelative, LocationAtStation:
		return *l.UniverseObjectID, true
	case LocationInSpaceship:
		return UniverseObjectID{}, false
	default:
		return UniverseObjectID{}, false
	}
}
