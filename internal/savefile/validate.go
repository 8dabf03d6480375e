package savefile

import (
	"bytes"
	"fmt"
	"sort"
)

type reference struct {
	field string
	id    UniverseObjectID
}

// Validate checks the structure of a save against the current schema.
// It does not consult a catalog; see Codec.Decode for reference checks.
func (s Save) Validate() error {
	_, err := s.validate()
	return err
}

// validate returns the parsed missions so reference checks can reuse them.
func (s Save) validate() (*playerMissions, error) {
	if !ValidUUID(s.UUID) {
		return nil, schemaError("uuid", "not a uuid: %q", s.UUID)
	}
	if s.Timestamp < 0 {
		return nil, schemaError("timestamp", "negative: %d", s.Timestamp)
	}
	player := bytes.TrimSpace(s.Player)
	if len(player) == 0 || player[0] != '{' {
		return nil, schemaError("player", "must be an object")
	}
	if err := s.PlayerLocation.validate("playerLocation"); err != nil {
		return nil, err
	}
	if s.PlayerLocation.Type == LocationInSpaceship {
		if _, ok := s.ShipLocations[s.PlayerLocation.ShipID]; !ok {
			return nil, schemaError("playerLocation.shipId", "ship %s has no location", s.PlayerLocation.ShipID)
		}
	}
	for _, shipID := range sortedShipIDs(s.ShipLocations) {
		field := "shipLocations." + shipID
		if !ValidUUID(shipID) {
			return nil, schemaError(field, "ship id is not a uuid")
		}
		loc := s.ShipLocations[shipID]
		if loc.Type == LocationInSpaceship {
			return nil, schemaError(field+".type", "a ship cannot be inside a ship")
		}
		if err := loc.validate(field); err != nil {
			return nil, err
		}
	}

	missions, err := parsePlayerMissions(s.Player)
	if err != nil {
		return nil, err
	}
	for i, m := range missions.CurrentMissions {
		if err := m.validate(fmt.Sprintf("player.currentMissions[%d]", i)); err != nil {
			return nil, err
		}
	}
	for i, m := range missions.CompletedMissions {
		if err := m.validate(fmt.Sprintf("player.completedMissions[%d]", i)); err != nil {
			return nil, err
		}
	}
	return missions, nil
}

// references lists every embedded universe object pointer in a validated save.
func (s Save) references(missions *playerMissions) []reference {
	var refs []reference
	if id, ok := s.PlayerLocation.reference(); ok {
		refs = append(refs, reference{field: "playerLocation.universeObjectId", id: id})
	}
	for _, shipID := range sortedShipIDs(s.ShipLocations) {
		if id, ok := s.ShipLocations[shipID].reference(); ok {
			refs = append(refs, reference{field: "shipLocations." + shipID + ".universeObjectId", id: id})
		}
	}
	add := func(prefix string, list []Mission) {
		for i, m := range list {
			field := fmt.Sprintf("%s[%d]", prefix, i)
			refs = append(refs, reference{field: field + ".missionGiver", id: m.MissionGiver})
			refs = m.Tree.references(field+".tree", refs)
		}
	}
	add("player.currentMissions", missions.CurrentMissions)
	add("player.completedMissions", missions.CompletedMissions)
	return refs
}

func sortedShipIDs(locations map[string]Location) []string {
	ids := make([]string, 0, len(locations))
	for id := range locations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
