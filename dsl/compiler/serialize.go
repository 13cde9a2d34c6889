package compiler

import "encoding/json"

// Serialize encodes an IR to its canonical JSON wire form (spec.md §8
// "round-trip: compile -> serialize IR -> deserialize IR -> execute").
func Serialize(ir *IR) ([]byte, error) {
	return json.MarshalIndent(ir, "", "  ")
}

// Deserialize decodes an IR previously produced by Serialize.
func Deserialize(data []byte) (*IR, error) {
	var ir IR
	if err := json.Unmarshal(data, &ir); err != nil {
		return nil, err
	}
	return &ir, nil
}
