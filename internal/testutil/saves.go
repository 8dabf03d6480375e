package testutil

import (
	"encoding/json"

	"savekeeper/internal/savefile"
)

// TestPlayer is a canonical (compact, sorted keys) player payload.
const TestPlayer = `{"balance":10000,"completedMissions":[],"currentMissions":[],"name":"Python"}`

// NewTestSave returns a valid save near the test star.
func NewTestSave(uuid string, timestamp int64) savefile.Save {
	return savefile.Save{
		UUID:      uuid,
		Timestamp: timestamp,
		Player:    json.RawMessage(TestPlayer),
		PlayerLocation: savefile.RelativeTo(StarID,
			savefile.Vector3{X: 0, Y: 0, Z: 0},
			savefile.Quaternion{X: 0, Y: 0, Z: 0, W: 1}),
		ShipLocations: map[string]savefile.Location{},
	}
}

// NewTestSaves returns one save per timestamp with uuids UUID(ts).
func NewTestSaves(timestamps ...int64) []savefile.Save {
	out := make([]savefile.Save, 0, len(timestamps))
	for _, ts := range timestamps {
		out = append(out, NewTestSave(UUID(int(ts)), ts))
	}
	return out
}

// Timestamps extracts the timestamps of saves, in order.
func Timestamps(list []savefile.Save) []int64 {
	out := make([]int64, 0, len(list))
	for _, s := range list {
		out = append(out, s.Timestamp)
	}
	return out
}

// MustEncode encodes s with the test codec and panics on failure.
func MustEncode(s savefile.Save) []byte {
	data, err := NewTestCodec().Encode(s)
	if err != nil {
		panic(err)
	}
	return data
}
