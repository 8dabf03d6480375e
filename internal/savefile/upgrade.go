package savefile

import (
	"encoding/json"
	"fmt"
	"math"
)

// upgrade rewrites one legacy shape of a save document into the current one.
// applies must recognise the legacy shape only, so that running the pipeline
// on a current document is a no-op.
type upgrade struct {
	name    string
	applies func(doc map[string]any) bool
	apply   func(doc map[string]any, catalog Catalog) error
}

// upgrades run in order; later entries may rely on the output of earlier ones.
var upgrades = []upgrade{
	{name: "v1-universe-coordinates", applies: isV1Document, apply: upgradeV1Location},
	{name: "mission-enum-tags", applies: hasNumericMissionTags, apply: upgradeMissionTags},
}

func applyUpgrades(doc map[string]any, catalog Catalog) error {
	for _, u := range upgrades {
		if !u.applies(doc) {
			continue
		}
		if err := u.apply(doc, catalog); err != nil {
			return err
		}
	}
	return nil
}

// Object kinds used by the first save format to address universe objects.
const (
	LegacyStellarObject = iota
	LegacyPlanetaryMassObject
	LegacyAnomaly
	LegacyOrbitalFacility
)

func isV1Document(doc map[string]any) bool {
	_, hasCoords := doc["universeCoordinates"]
	_, hasLocation := doc["playerLocation"]
	return hasCoords && !hasLocation
}

func upgradeV1Location(doc map[string]any, catalog Catalog) error {
	coords, ok := doc["universeCoordinates"].(map[string]any)
	if !ok {
		return schemaError("universeCoordinates", "must be an object")
	}
	oid, ok := coords["universeObjectId"].(map[string]any)
	if !ok {
		return schemaError("universeCoordinates.universeObjectId", "must be an object")
	}

	objectType, err := requiredIndex(oid, "objectType", "universeCoordinates.universeObjectId")
	if err != nil {
		return err
	}
	if objectType < LegacyStellarObject || objectType > LegacyOrbitalFacility {
		return schemaError("universeCoordinates.universeObjectId.objectType", "unknown object type %d", objectType)
	}
	objectIndex, err := requiredIndex(oid, "objectIndex", "universeCoordinates.universeObjectId")
	if err != nil {
		return err
	}

	var system StarSystemCoordinates
	raw, err := json.Marshal(oid["starSystemCoordinates"])
	if err != nil {
		return schemaError("universeCoordinates.universeObjectId.starSystemCoordinates", "%v", err)
	}
	if err := json.Unmarshal(raw, &system); err != nil {
		return schemaError("universeCoordinates.universeObjectId.starSystemCoordinates", "%v", err)
	}

	legacy, ok := catalog.(LegacyCatalog)
	if !ok {
		return &DecodeError{
			Kind:  ErrUnresolvedReference,
			Field: "universeCoordinates.universeObjectId",
			Err:   fmt.Errorf("catalog cannot translate legacy object ids"),
		}
	}
	id, ok := legacy.LegacyObjectID(system, objectType, objectIndex)
	if !ok {
		return &DecodeError{
			Kind:  ErrUnresolvedReference,
			Field: "universeCoordinates.universeObjectId",
			Err:   fmt.Errorf("no object of type %d at index %d in system %+v", objectType, objectIndex, system),
		}
	}

	var f [7]float64
	for i, field := range []string{
		"positionX", "positionY", "positionZ",
		"rotationQuaternionX", "rotationQuaternionY", "rotationQuaternionZ", "rotationQuaternionW",
	} {
		def := 0.0
		if field == "rotationQuaternionW" {
			def = 1
		}
		if f[i], err = optionalFloat(coords, field, def); err != nil {
			return err
		}
	}

	if _, docked := doc["padNumber"]; docked {
		doc["playerLocation"] = AtStation(id)
	} else {
		doc["playerLocation"] = RelativeTo(id,
			Vector3{X: f[0], Y: f[1], Z: f[2]},
			Quaternion{X: f[3], Y: f[4], Z: f[5], W: f[6]})
	}
	doc["shipLocations"] = map[string]any{}
	delete(doc, "universeCoordinates")
	delete(doc, "padNumber")
	delete(doc, "version")
	return nil
}

func hasNumericMissionTags(doc map[string]any) bool {
	found := false
	walkMissions(doc, func(m map[string]any) {
		if isNumber(m["type"]) {
			found = true
		}
		walkNodes(m["tree"], func(n map[string]any) {
			if isNumber(n["type"]) || isNumber(n["state"]) {
				found = true
			}
		})
	})
	return found
}

func upgradeMissionTags(doc map[string]any, _ Catalog) error {
	var err error
	walkMissions(doc, func(m map[string]any) {
		if err != nil {
			return
		}
		if isNumber(m["type"]) {
			i, ierr := legacyIndex(m["type"])
			if ierr != nil || i < 0 || i >= len(legacyMissionTypes) {
				err = schemaError("player.missions.type", "unknown legacy mission type %v", m["type"])
				return
			}
			m["type"] = string(legacyMissionTypes[i])
		}
		walkNodes(m["tree"], func(n map[string]any) {
			if err == nil {
				err = upgradeNodeTags(n)
			}
		})
	})
	return err
}

func upgradeNodeTags(n map[string]any) error {
	if isNumber(n["type"]) {
		i, err := legacyIndex(n["type"])
		if err != nil || i < 0 || i >= len(legacyNodeTypes) {
			return schemaError("player.missions.tree.type", "unknown legacy node type %v", n["type"])
		}
		n["type"] = string(legacyNodeTypes[i])
	}
	if isNumber(n["state"]) {
		nodeType, _ := n["type"].(string)
		states := nodeStates[MissionNodeType(nodeType)]
		i, err := legacyIndex(n["state"])
		if err != nil || i < 0 || i >= len(states) {
			return schemaError("player.missions.tree.state", "unknown legacy state %v for %s node", n["state"], nodeType)
		}
		n["state"] = states[i]
	}
	return nil
}

func walkMissions(doc map[string]any, fn func(map[string]any)) {
	player, ok := doc["player"].(map[string]any)
	if !ok {
		return
	}
	for _, key := range []string{"currentMissions", "completedMissions"} {
		list, _ := player[key].([]any)
		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				fn(m)
			}
		}
	}
}

// walkNodes visits a task tree depth-first, parents before children.
func walkNodes(v any, fn func(map[string]any)) {
	n, ok := v.(map[string]any)
	if !ok {
		return
	}
	fn(n)
	children, _ := n["children"].([]any)
	for _, child := range children {
		walkNodes(child, fn)
	}
}

func isNumber(v any) bool {
	switch v.(type) {
	case json.Number, float64:
		return true
	default:
		return false
	}
}

// legacyIndex converts a numeric enum tag to an int.
func legacyIndex(v any) (int, error) {
	var f float64
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), nil
		}
		parsed, err := n.Float64()
		if err != nil {
			return 0, err
		}
		f = parsed
	case float64:
		f = n
	default:
		return 0, fmt.Errorf("not a number: %v", v)
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("not an integer: %v", f)
	}
	return int(f), nil
}

func requiredIndex(obj map[string]any, key, prefix string) (int, error) {
	v, ok := obj[key]
	if !ok {
		return 0, schemaError(prefix+"."+key, "required")
	}
	i, err := legacyIndex(v)
	if err != nil {
		return 0, schemaError(prefix+"."+key, "%v", err)
	}
	return i, nil
}

func optionalFloat(obj map[string]any, key string, def float64) (float64, error) {
	switch v := obj[key].(type) {
	case nil:
		return def, nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, schemaError("universeCoordinates."+key, "%v", err)
		}
		return f, nil
	case float64:
		return v, nil
	default:
		return 0, schemaError("universeCoordinates."+key, "expected number, got %T", v)
	}
}
