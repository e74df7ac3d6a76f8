package queue

import (
	"encoding/json"
	"reflect"
)

// ComplexPlaceholder replaces nested objects too large to persist.
const ComplexPlaceholder = "[Complex Object]"

// maxNestedKeys is the largest key count a nested object may keep.
const maxNestedKeys = 4

// Sanitize bounds a payload for storage. The top-level keys are walked;
// primitives and nils pass through, nested objects with fewer than five keys
// are kept and sanitized in turn, and larger nested objects become
// ComplexPlaceholder. Slices are walked element by element. Typed maps,
// slices and structs are first reduced to their JSON shape.
func Sanitize(payload map[string]interface{}) map[string]interface{} {
	if payload == nil {
		return nil
	}
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		if len(t) > maxNestedKeys {
			return ComplexPlaceholder
		}
		return Sanitize(t)
	case []interface{}:
		s := make([]interface{}, len(t))
		for i, e := range t {
			s[i] = sanitizeValue(e)
		}
		return s
	}

	if v == nil {
		return nil
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Ptr, reflect.Interface:
		generic, ok := normalize(v)
		if !ok {
			return ComplexPlaceholder
		}
		switch generic.(type) {
		case map[string]interface{}, []interface{}:
			return sanitizeValue(generic)
		}
		return generic
	default:
		return v
	}
}

// normalize converts v to the map/slice/primitive tree encoding/json decodes.
func normalize(v interface{}) (interface{}, bool) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, false
	}
	return out, true
}
