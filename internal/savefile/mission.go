package savefile

import (
	"encoding/json"
	"fmt"
)

// MissionType tags the archetype of a mission.
type MissionType string

const (
	MissionSightSeeingFlyBy             MissionType = "sight_seeing_fly_by"
	MissionSightSeeingTerminatorLanding MissionType = "sight_seeing_terminator_landing"
	MissionSightSeeingAsteroidField     MissionType = "sight_seeing_asteroid_field"
)

// MissionNodeType tags a node of a mission task tree.
type MissionNodeType string

const (
	NodeFlyBy             MissionNodeType = "fly_by"
	NodeTerminatorLanding MissionNodeType = "terminator_landing"
	NodeAsteroidField     MissionNodeType = "asteroid_field"
	NodeAnd               MissionNodeType = "and"
	NodeOr                MissionNodeType = "or"
	NodeXor               MissionNodeType = "xor"
	NodeSequence          MissionNodeType = "sequence"
)

// Action node states.
const (
	StateNotInSystem    = "notInSystem"
	StateTooFarInSystem = "tooFarInSystem"
	StateCloseEnough    = "closeEnough"
	StateLanded         = "landed"
)

// Older save formats wrote these enums as their index in the tables below.
var (
	legacyMissionTypes = []MissionType{
		MissionSightSeeingFlyBy,
		MissionSightSeeingTerminatorLanding,
		MissionSightSeeingAsteroidField,
	}
	legacyNodeTypes = []MissionNodeType{
		NodeFlyBy,
		NodeTerminatorLanding,
		NodeAsteroidField,
		NodeAnd,
		NodeOr,
		NodeXor,
		NodeSequence,
	}
	nodeStates = map[MissionNodeType][]string{
		NodeFlyBy:             {StateNotInSystem, StateTooFarInSystem, StateCloseEnough},
		NodeAsteroidField:     {StateNotInSystem, StateTooFarInSystem, StateCloseEnough},
		NodeTerminatorLanding: {StateNotInSystem, StateTooFarInSystem, StateLanded},
	}
)

// Mission is the persisted form of a mission accepted by the player.
type Mission struct {
	MissionGiver UniverseObjectID `json:"missionGiver"`
	Type         MissionType      `json:"type"`
	Tree         MissionNode      `json:"tree"`
	Reward       float64          `json:"reward"`
}

// MissionNode is one node of a mission task tree.
// Logic nodes (and, or, xor, sequence) carry Children; action nodes carry
// ObjectID and State.
type MissionNode struct {
	Type             MissionNodeType   `json:"type"`
	Children         []MissionNode     `json:"children,omitempty"`
	ActiveChildIndex *int              `json:"activeChildIndex,omitempty"`
	ObjectID         *UniverseObjectID `json:"objectId,omitempty"`
	State            string            `json:"state,omitempty"`
}

// playerMissions is the slice of the opaque player payload this layer owns.
type playerMissions struct {
	CurrentMissions   []Mission `json:"currentMissions"`
	CompletedMissions []Mission `json:"completedMissions"`
}

func parsePlayerMissions(player json.RawMessage) (*playerMissions, error) {
	var pm playerMissions
	if err := json.Unmarshal(player, &pm); err != nil {
		return nil, schemaError("player", "%v", err)
	}
	return &pm, nil
}

func (m Mission) validate(field string) error {
	switch m.Type {
	case MissionSightSeeingFlyBy, MissionSightSeeingTerminatorLanding, MissionSightSeeingAsteroidField:
	default:
		return schemaError(field+".type", "unknown mission type %q", m.Type)
	}
	return m.Tree.validate(field + ".tree")
}

func (n MissionNode) validate(field string) error {
	switch n.Type {
	case NodeAnd, NodeOr, NodeXor:
		return validateChildren(n.Children, field)
	case NodeSequence:
		if n.ActiveChildIndex != nil && (*n.ActiveChildIndex < 0 || *n.ActiveChildIndex > len(n.Children)) {
			return schemaError(field+".activeChildIndex", "out of range: %d", *n.ActiveChildIndex)
		}
		return validateChildren(n.Children, field)
	case NodeFlyBy, NodeAsteroidField, NodeTerminatorLanding:
		if n.ObjectID == nil {
			return schemaError(field+".objectId", "required")
		}
		for _, s := range nodeStates[n.Type] {
			if s == n.State {
				return nil
			}
		}
		return schemaError(field+".state", "invalid state %q for %s node", n.State, n.Type)
	default:
		return schemaError(field+".type", "unknown mission node type %q", n.Type)
	}
}

func validateChildren(children []MissionNode, field string) error {
	for i, child := range children {
		if err := child.validate(fmt.Sprintf("%s.children[%d]", field, i)); err != nil {
			return err
		}
	}
	return nil
}

// references appends every universe object the node tree points at.
func (n MissionNode) references(field string, refs []reference) []reference {
	if n.ObjectID != nil {
		refs = append(refs, reference{field: field + ".objectId", id: *n.ObjectID})
	}
	for i, child := range n.Children {
		refs = child.references(fmt.Sprintf("%s.children[%d]", field, i), refs)
	}
	return refs
}
