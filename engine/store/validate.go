package store

import (
	"gonum.org/v1/gonum/floats"

	"github.com/spaghettifunk/posebridge/engine/core"
)

// Validate reports whether data is usable motion data. An empty array is
// invalid, so is a floating array containing NaN. Object arrays skip the NaN
// check. For bundles every expected key must be present and every numeric
// member passes the array rules; text and object members are skipped.
func (s *Store) Validate(data interface{}, expectedKeys ...string) bool {
	switch v := data.(type) {
	case *Array:
		if v == nil {
			core.LogWarn("validate: nil array")
			return false
		}
		return validateArray("", v)
	case Bundle:
		return validateBundle(v, expectedKeys)
	case map[string]*Array:
		return validateBundle(Bundle(v), expectedKeys)
	default:
		core.LogWarn("validate: unexpected data type %T", data)
		return false
	}
}

func validateArray(key string, a *Array) bool {
	if a.Size() == 0 {
		core.LogWarn("validate: empty array %s", key)
		return false
	}
	if a.IsFloat() && floats.HasNaN(a.Data) {
		core.LogWarn("validate: array %s contains NaN values", key)
		return false
	}
	return true
}

func validateBundle(b Bundle, expectedKeys []string) bool {
	var missing []string
	for _, k := range expectedKeys {
		if !b.Has(k) {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		core.LogWarn("validate: missing keys %v", missing)
		return false
	}
	for _, key := range b.Keys() {
		a := b[key]
		if a == nil || !a.IsNumeric() {
			continue
		}
		if !validateArray(key, a) {
			return false
		}
	}
	return true
}
