package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/attest/internal/ir"
	"github.com/roach88/attest/internal/ledger"
)

// marshalFields converts IRObject to JSON TEXT for storage. Keys are sorted;
// strings are stored exactly as submitted so reads return the same payload.
func marshalFields(fields ir.IRObject) (string, error) {
	if fields == nil {
		return "{}", nil
	}
	data, err := fields.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("marshal fields: %w", err)
	}
	return string(data), nil
}

// marshalParties converts the role map to JSON TEXT with sorted keys.
func marshalParties(parties map[string]ledger.Identity) (string, error) {
	if len(parties) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(parties)
	if err != nil {
		return "", fmt.Errorf("marshal parties: %w", err)
	}
	return string(data), nil
}

// unmarshalFields parses JSON TEXT to IRObject.
// Uses ir.IRObject.UnmarshalJSON, which rejects floats and null.
func unmarshalFields(data string) (ir.IRObject, error) {
	if data == "" || data == "{}" {
		return ir.IRObject{}, nil
	}
	var obj ir.IRObject
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return nil, fmt.Errorf("unmarshal fields: %w", err)
	}
	return obj, nil
}

// unmarshalParties parses JSON TEXT to the role map.
func unmarshalParties(data string) (map[string]ledger.Identity, error) {
	parties := make(map[string]ledger.Identity)
	if data == "" || data == "{}" {
		return parties, nil
	}
	if err := json.Unmarshal([]byte(data), &parties); err != nil {
		return nil, fmt.Errorf("unmarshal parties: %w", err)
	}
	return parties, nil
}
