package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ToMap renders doc as a generic JSON object.
func ToMap(doc Document) (map[string]any, error) {
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", doc.Kind(), err)
	}
	var out map[string]any
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("decode %s map: %w", doc.Kind(), err)
	}
	return out, nil
}

// FilterFields keeps the entries of m whose path satisfies visible. A grouping
// that is not visible is dropped together with its descendants.
func FilterFields(m map[string]any, visible func(path string) bool) map[string]any {
	return filterObject(m, "", visible)
}

func filterObject(m map[string]any, prefix string, visible func(string) bool) map[string]any {
	out := make(map[string]any, len(m))
	for key, value := range m {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if !visible(path) {
			continue
		}
		switch v := value.(type) {
		case map[string]any:
			out[key] = filterObject(v, path, visible)
		case []any:
			items := make([]any, 0, len(v))
			for _, item := range v {
				if obj, ok := item.(map[string]any); ok {
					items = append(items, filterObject(obj, path, visible))
					continue
				}
				items = append(items, item)
			}
			out[key] = items
		default:
			out[key] = value
		}
	}
	return out
}

// ApplyPatch writes patch into a copy of doc. Keys are field paths; a
// grouping key replaces the whole grouping.
func ApplyPatch(doc Document, patch map[string]any) (Document, error) {
	m, err := ToMap(doc)
	if err != nil {
		return nil, err
	}
	for path, value := range patch {
		if err := setPath(m, strings.Split(path, "."), value); err != nil {
			return nil, UnknownSubject("apply patch", fmt.Sprintf("cannot set %q: %v", path, err))
		}
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode patch: %w", err)
	}
	out, err := DecodeDocument(doc.Kind(), payload)
	if err != nil {
		return nil, ValidationFailed("apply patch", FieldErrors{"non_field_errors": {err.Error()}})
	}
	return out, nil
}

func setPath(m map[string]any, parts []string, value any) error {
	if len(parts) == 1 {
		m[parts[0]] = value
		return nil
	}
	next, ok := m[parts[0]]
	if !ok || next == nil {
		child := map[string]any{}
		m[parts[0]] = child
		return setPath(child, parts[1:], value)
	}
	child, ok := next.(map[string]any)
	if !ok {
		return fmt.Errorf("%s is not an object", parts[0])
	}
	return setPath(child, parts[1:], value)
}
