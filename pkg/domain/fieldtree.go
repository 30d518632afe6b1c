package domain

import (
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// FieldPath is one node of a document's field tree. Grouping nodes have
// descendants addressed as "group.leaf".
type FieldPath struct {
	Path  string
	Group bool
}

var (
	fieldTreeMu    sync.Mutex
	fieldTreeCache = map[Kind][]FieldPath{}

	timeType    = reflect.TypeOf(time.Time{})
	decimalType = reflect.TypeOf(decimal.Decimal{})
)

// FieldTree derives the field tree of kind from the aggregate's JSON shape.
// Nested structs and slices of structs become groupings.
func FieldTree(kind Kind) ([]FieldPath, error) {
	fieldTreeMu.Lock()
	defer fieldTreeMu.Unlock()
	if cached, ok := fieldTreeCache[kind]; ok {
		return append([]FieldPath(nil), cached...), nil
	}
	doc, err := NewDocument(kind)
	if err != nil {
		return nil, err
	}
	var out []FieldPath
	walkFields(reflect.TypeOf(doc).Elem(), "", &out)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	fieldTreeCache[kind] = out
	return append([]FieldPath(nil), out...), nil
}

// HasField reports whether path is a node of kind's field tree.
func HasField(kind Kind, path string) bool {
	tree, err := FieldTree(kind)
	if err != nil {
		return false
	}
	i := sort.Search(len(tree), func(i int) bool { return tree[i].Path >= path })
	return i < len(tree) && tree[i].Path == path
}

func walkFields(t reflect.Type, prefix string, out *[]FieldPath) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, skip := jsonName(f)
		if skip {
			continue
		}
		if f.Anonymous && name == "" {
			walkFields(indirect(f.Type), prefix, out)
			continue
		}
		if name == "" {
			name = f.Name
		}
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}
		if nested, ok := grouping(f.Type); ok {
			*out = append(*out, FieldPath{Path: path, Group: true})
			walkFields(nested, path, out)
			continue
		}
		*out = append(*out, FieldPath{Path: path})
	}
}

func jsonName(f reflect.StructField) (string, bool) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", true
	}
	name, _, _ := strings.Cut(tag, ",")
	return name, false
}

func indirect(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

func grouping(t reflect.Type) (reflect.Type, bool) {
	t = indirect(t)
	if t.Kind() == reflect.Slice || t.Kind() == reflect.Array {
		t = indirect(t.Elem())
	}
	if t.Kind() != reflect.Struct || t == timeType || t == decimalType {
		return nil, false
	}
	return t, true
}
