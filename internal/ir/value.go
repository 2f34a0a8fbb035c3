package ir

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"unicode/utf16"
)

// Value is the sealed interface over the constrained value types allowed in
// entity bodies and effect arguments. Only Str, Int, Bool, Arr, Obj and Null
// implement it. There is deliberately no float variant: floats break
// cross-platform determinism and are rejected everywhere.
type Value interface {
	value() // sealed
}

// Null is an explicit JSON null. It round-trips through decoding but is
// forbidden in canonical serialization.
type Null struct{}

func (Null) value() {}

// MarshalJSON implements json.Marshaler for Null.
func (Null) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

// Str is a string value.
type Str string

func (Str) value() {}

// Int is an integer value. Always int64, never float64.
type Int int64

func (Int) value() {}

// Bool is a boolean value.
type Bool bool

func (Bool) value() {}

// Arr is an ordered list of values.
type Arr []Value

func (Arr) value() {}

// Obj is a string-keyed map of values. Use SortedKeys for deterministic
// iteration.
type Obj map[string]Value

func (Obj) value() {}

// GetStr returns the string field k, or "" if absent or not a string.
func (o Obj) GetStr(k string) string {
	if s, ok := o[k].(Str); ok {
		return string(s)
	}
	return ""
}

// GetInt returns the integer field k, or 0 if absent or not an integer.
func (o Obj) GetInt(k string) int64 {
	if n, ok := o[k].(Int); ok {
		return int64(n)
	}
	return 0
}

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
// Go's default string sort compares UTF-8 bytes, which produces a different
// order for strings outside the BMP.
func (o Obj) SortedKeys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

// compareKeysRFC8785 compares strings by UTF-16 code units as required by
// RFC 8785. utf16.Encode handles surrogate pairs correctly.
func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	default:
		return 0
	}
}

// UnmarshalJSON implements json.Unmarshaler for Obj.
func (o *Obj) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*o = make(Obj, len(raw))
	for k, v := range raw {
		val, err := UnmarshalValue(v)
		if err != nil {
			return fmt.Errorf("object key %q: %w", k, err)
		}
		(*o)[k] = val
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler for Arr.
func (a *Arr) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*a = make(Arr, len(raw))
	for i, v := range raw {
		val, err := UnmarshalValue(v)
		if err != nil {
			return fmt.Errorf("array index %d: %w", i, err)
		}
		(*a)[i] = val
	}
	return nil
}

// UnmarshalValue decodes a JSON value into the matching Value type.
// Floats are rejected; null decodes to Null.
func UnmarshalValue(data []byte) (Value, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, fmt.Errorf("empty JSON value")
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return Str(s), nil
	case '{':
		var o Obj
		if err := json.Unmarshal(data, &o); err != nil {
			return nil, err
		}
		return o, nil
	case '[':
		var a Arr
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, err
		}
		return a, nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return Bool(b), nil
	case 'n':
		if trimmed == "null" {
			return Null{}, nil
		}
		return nil, fmt.Errorf("invalid JSON value %q", trimmed)
	default:
		if strings.ContainsAny(trimmed, ".eE") {
			return nil, fmt.Errorf("floats are forbidden in the IR: %s", trimmed)
		}
		var n int64
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, fmt.Errorf("invalid integer %q: %w", trimmed, err)
		}
		return Int(n), nil
	}
}

// EqualValues reports deep equality of two values.
func EqualValues(a, b Value) bool {
	switch av := a.(type) {
	case Null:
		_, ok := b.(Null)
		return ok
	case Str:
		bv, ok := b.(Str)
		return ok && av == bv
	case Int:
		bv, ok := b.(Int)
		return ok && av == bv
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	case Arr:
		bv, ok := b.(Arr)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !EqualValues(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Obj:
		bv, ok := b.(Obj)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bvv, ok := bv[k]
			if !ok || !EqualValues(v, bvv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
