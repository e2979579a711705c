package reqres

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// decodeJSON unmarshals raw preserving the lexical distinction between
// integer and non-integer JSON numbers (json.Number), so BindValue can
// apply the INTEGER-vs-REAL rule correctly instead of collapsing "5"
// and "5.0" into the same float64.
func decodeJSON(raw json.RawMessage, dest interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(dest)
}

// ParseValues decodes a "values" JSON blob into either a named parameter map
// (JSON object) or a positional parameter slice (JSON array). At most one of
// the two return values is non-nil; both nil means raw was empty/absent or
// held a JSON scalar or null.
func ParseValues(raw json.RawMessage) (named map[string]interface{}, positional []interface{}, err error) {
	if len(raw) == 0 {
		return nil, nil, nil
	}

	trimmed := trimLeadingSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil, nil
	}

	switch trimmed[0] {
	case '{':
		named = map[string]interface{}{}
		if err := decodeJSON(raw, &named); err != nil {
			return nil, nil, fmt.Errorf("failed to parse named values: %w", err)
		}
		return named, nil, nil
	case '[':
		if err := decodeJSON(raw, &positional); err != nil {
			return nil, nil, fmt.Errorf("failed to parse positional values: %w", err)
		}
		return nil, positional, nil
	default:
		// A JSON scalar (string/number/bool) or "null": neither named
		// nor positional. The caller (the transaction processor)
		// surfaces this as a "values are neither positional nor named"
		// error.
		return nil, nil, nil
	}
}

func trimLeadingSpace(b []byte) []byte {
	i := 0
	for i < len(b) {
		switch b[i] {
		case ' ', '\t', '\n', '\r':
			i++
			continue
		}
		break
	}
	return b[i:]
}

// BindValue converts one decoded JSON value (as produced by decodeJSON,
// so numbers arrive as json.Number) into a driver.Value: JSON strings bind
// as TEXT (never as their JSON-encoded form), a json.Number binds as INTEGER
// when its literal parses as an int64 and as REAL otherwise (so "5.0" is
// REAL), a float64 binds as INTEGER when it has no fractional part, null
// maps to nil, and arrays/objects are re-serialized to JSON text.
func BindValue(v interface{}) (driver.Value, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		return val, nil
	case bool:
		if val {
			return int64(1), nil
		}
		return int64(0), nil
	case float64:
		if val == float64(int64(val)) {
			return int64(val), nil
		}
		return val, nil
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid numeric value %q: %w", val.String(), err)
		}
		return f, nil
	case []interface{}, map[string]interface{}:
		encoded, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize nested value: %w", err)
		}
		return string(encoded), nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// NamedDriverValues converts a decoded named-values map into a
// map[string]interface{} of driver-ready values, suitable for sqlx's
// NamedExec/NamedQuery (binding against ":key" placeholders).
func NamedDriverValues(named map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(named))
	for k, v := range named {
		bound, err := BindValue(v)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", k, err)
		}
		out[k] = bound
	}
	return out, nil
}

// PositionalDriverValues converts a decoded positional-values slice into
// driver-ready values, suitable for binding against "?" placeholders in
// order.
func PositionalDriverValues(positional []interface{}) ([]interface{}, error) {
	out := make([]interface{}, len(positional))
	for i, v := range positional {
		bound, err := BindValue(v)
		if err != nil {
			return nil, fmt.Errorf("parameter at index %d: %w", i, err)
		}
		out[i] = bound
	}
	return out, nil
}

// RowToJSON converts one row (as produced by sqlx's MapScan, column name to
// driver-native Go value) into a JSON-ready map: byte slices
// (SQLite BLOB) become an array of integers, everything else passes
// through unchanged (database/sql already yields int64/float64/string/nil
// for INTEGER/REAL/TEXT/NULL).
func RowToJSON(row map[string]interface{}) JSONRow {
	out := make(JSONRow, len(row))
	for k, v := range row {
		switch val := v.(type) {
		case []byte:
			ints := make([]int, len(val))
			for i, b := range val {
				ints[i] = int(b)
			}
			out[k] = ints
		default:
			out[k] = val
		}
	}
	return out
}
