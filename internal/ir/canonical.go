package ir

import (
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces RFC 8785 canonical JSON.
// This is the ONLY serialization used for digests.
//
// Differences from json.Marshal:
//  1. Object keys sorted by UTF-16 code units (jcs)
//  2. No HTML escaping
//  3. Strings and keys are NFC normalized
//  4. Floats, null, and integers beyond MaxSafeInt are rejected
func MarshalCanonical(v any) ([]byte, error) {
	tree, err := canonicalTree(v)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("canonical marshal: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical transform: %w", err)
	}
	return out, nil
}

// CanonicalizeJSON re-encodes arbitrary JSON text canonically. Used for
// request bodies that are signed before they are decoded.
func CanonicalizeJSON(data []byte) ([]byte, error) {
	out, err := jcs.Transform(data)
	if err != nil {
		return nil, fmt.Errorf("canonicalize json: %w", err)
	}
	return out, nil
}

// canonicalTree converts v to plain Go values with NFC-normalized strings,
// validating the constraints listed on MarshalCanonical.
func canonicalTree(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("null is forbidden in canonical JSON")
	case IRString:
		return norm.NFC.String(string(val)), nil
	case string:
		return norm.NFC.String(val), nil
	case IRInt:
		return checkedInt(int64(val))
	case int64:
		return checkedInt(val)
	case int:
		return checkedInt(int64(val))
	case uint64:
		if val > MaxSafeInt {
			return nil, fmt.Errorf("integer %d exceeds canonical range", val)
		}
		return val, nil
	case IRBool:
		return bool(val), nil
	case bool:
		return val, nil
	case float32, float64:
		return nil, fmt.Errorf("floats are forbidden in canonical JSON: %v", val)
	case IRArray:
		out := make([]any, len(val))
		for i, elem := range val {
			c, err := canonicalTree(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			out[i] = c
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			c, err := canonicalTree(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			out[i] = c
		}
		return out, nil
	case []string:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = norm.NFC.String(elem)
		}
		return out, nil
	case IRObject:
		return canonicalObject(len(val), func(yield func(string, any) error) error {
			for k, elem := range val {
				if err := yield(k, elem); err != nil {
					return err
				}
			}
			return nil
		})
	case map[string]any:
		return canonicalObject(len(val), func(yield func(string, any) error) error {
			for k, elem := range val {
				if err := yield(k, elem); err != nil {
					return err
				}
			}
			return nil
		})
	case map[string]string:
		return canonicalObject(len(val), func(yield func(string, any) error) error {
			for k, elem := range val {
				if err := yield(k, elem); err != nil {
					return err
				}
			}
			return nil
		})
	default:
		return nil, fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
}

func canonicalObject(size int, each func(yield func(string, any) error) error) (map[string]any, error) {
	out := make(map[string]any, size)
	err := each(func(k string, elem any) error {
		c, err := canonicalTree(elem)
		if err != nil {
			return fmt.Errorf("value for key %q: %w", k, err)
		}
		key := norm.NFC.String(k)
		if _, dup := out[key]; dup {
			return fmt.Errorf("keys collide after NFC normalization: %q", k)
		}
		out[key] = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func checkedInt(n int64) (any, error) {
	if n > MaxSafeInt || n < -MaxSafeInt {
		return nil, fmt.Errorf("integer %d exceeds canonical range", n)
	}
	return n, nil
}
