package talisman

import (
	"reflect"
	"strings"
)

// field looks key up in a map with string keys or in a struct, where a
// field matches by its json tag name or its Go name.
func field(container any, key string) (any, bool) {
	switch m := container.(type) {
	case nil:
		return nil, false
	case map[string]any:
		v, ok := m[key]
		return v, ok
	case map[string]string:
		v, ok := m[key]
		return v, ok
	}

	val := reflect.ValueOf(container)
	for val.Kind() == reflect.Pointer || val.Kind() == reflect.Interface {
		if val.IsNil() {
			return nil, false
		}
		val = val.Elem()
	}

	switch val.Kind() {
	case reflect.Map:
		if val.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		v := val.MapIndex(reflect.ValueOf(key).Convert(val.Type().Key()))
		if !v.IsValid() {
			return nil, false
		}
		return v.Interface(), true
	case reflect.Struct:
		typ := val.Type()
		for i := 0; i < val.NumField(); i++ {
			f := typ.Field(i)
			if !f.IsExported() {
				continue
			}
			if f.Name == key || jsonName(f) == key {
				return val.Field(i).Interface(), true
			}
		}
	}
	return nil, false
}

// fieldsOf flattens a map with string keys or a struct into name/value
// pairs, the way BindAll binds them. ok is false for any other shape.
func fieldsOf(container any) (map[string]any, bool) {
	if m, ok := container.(map[string]any); ok {
		return m, true
	}

	val := reflect.ValueOf(container)
	for val.Kind() == reflect.Pointer {
		if val.IsNil() {
			return nil, false
		}
		val = val.Elem()
	}

	switch val.Kind() {
	case reflect.Map:
		if val.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		fields := make(map[string]any, val.Len())
		iter := val.MapRange()
		for iter.Next() {
			fields[iter.Key().String()] = iter.Value().Interface()
		}
		return fields, true
	case reflect.Struct:
		typ := val.Type()
		fields := make(map[string]any, val.NumField())
		for i := 0; i < val.NumField(); i++ {
			f := typ.Field(i)
			if !f.IsExported() {
				continue
			}
			name := jsonName(f)
			if name == "-" {
				continue
			}
			if name == "" {
				name = f.Name
			}
			fields[name] = val.Field(i).Interface()
		}
		return fields, true
	}
	return nil, false
}

// jsonName extracts the field name from a json tag, ignoring options like omitempty
func jsonName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	if commaIdx := strings.Index(tag, ","); commaIdx >= 0 {
		return tag[:commaIdx]
	}
	return tag
}

// walkPath follows the remaining segments of a dotted tag name.
func walkPath(v any, path []string) (any, bool) {
	for _, key := range path {
		next, ok := field(v, key)
		if !ok {
			return nil, false
		}
		v = next
	}
	return v, true
}

// isList reports whether v repeats a block once per element.
func isList(v any) bool {
	if v == nil {
		return false
	}
	switch v.(type) {
	case []byte, string:
		return false
	}
	kind := reflect.TypeOf(v).Kind()
	return kind == reflect.Slice || kind == reflect.Array
}

// listItems returns the elements of a slice or array.
func listItems(v any) []any {
	val := reflect.ValueOf(v)
	items := make([]any, val.Len())
	for i := range items {
		items[i] = val.Index(i).Interface()
	}
	return items
}

// isObject reports whether v is a map or struct whose fields can scope a block.
func isObject(v any) bool {
	if v == nil {
		return false
	}
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind() == reflect.Map || t.Kind() == reflect.Struct
}
