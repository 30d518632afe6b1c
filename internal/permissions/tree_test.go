package permissions

import (
	"sort"

	"partnercore/pkg/domain"
)

// treeFromSpec builds a field tree for matrices over made-up kinds. A nil
// value or an empty map marks a leaf; a non-empty map is a grouping whose
// keys are its children.
//
//	treeFromSpec(map[string]any{"itinerary": map[string]any{"origin": nil}, "purpose": nil})
func treeFromSpec(spec map[string]any) []domain.FieldPath {
	var out []domain.FieldPath
	walkSpec(spec, "", &out)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func walkSpec(spec map[string]any, prefix string, out *[]domain.FieldPath) {
	for name, child := range spec {
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}
		nested, ok := child.(map[string]any)
		if !ok || len(nested) == 0 {
			*out = append(*out, domain.FieldPath{Path: path})
			continue
		}
		*out = append(*out, domain.FieldPath{Path: path, Group: true})
		walkSpec(nested, path, out)
	}
}
