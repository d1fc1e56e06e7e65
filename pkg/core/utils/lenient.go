// Package utils holds decoding helpers for hand-edited and partially written files.
package utils

import (
	"encoding/json"
	"fmt"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
	hjson "github.com/hjson/hjson-go/v4"
)

// RepairJSON closes truncated arrays and objects, quotes bare keys and drops
// trailing commas. A cache file cut short by a crash mid-write is the usual input.
func RepairJSON(damaged string) (string, error) {
	repaired, err := jsonrepair.RepairJSON(damaged)
	if err != nil {
		return "", fmt.Errorf("json repair failed: %w", err)
	}
	return repaired, nil
}

// ParseHJSON decodes Hjson (comments, unquoted keys, optional commas) into target.
func ParseHJSON(data []byte, target any) error {
	if err := hjson.Unmarshal(data, target); err != nil {
		return fmt.Errorf("hjson decode failed: %w", err)
	}
	return nil
}

// DecodeLenient decodes JSON into target, falling back to repair and then to Hjson.
// repaired reports whether a fallback was needed.
func DecodeLenient(input []byte, target any) (repaired bool, err error) {
	if err := json.Unmarshal(input, target); err == nil {
		return false, nil
	}

	if fixed, err := RepairJSON(string(input)); err == nil {
		if err := json.Unmarshal([]byte(fixed), target); err == nil {
			return true, nil
		}
	}

	if err := ParseHJSON(input, target); err == nil {
		return true, nil
	}
	return false, fmt.Errorf("undecodable input (%d bytes)", len(input))
}
