// Package permissions materializes the role/kind/status/field rights matrix
// and answers field-level view and edit queries against it.
package permissions

import (
	"fmt"
	"sort"
	"strings"

	"partnercore/pkg/domain"
)

// Rights are the view and edit flags of one field.
type Rights struct {
	View bool `json:"view"`
	Edit bool `json:"edit"`
}

func (r Rights) get(right Right) bool {
	if right == RightEdit {
		return r.Edit
	}
	return r.View
}

func (r *Rights) set(right Right, value bool) {
	if right == RightEdit {
		r.Edit = value
		return
	}
	r.View = value
}

// KindSpec declares the status set and field tree of one kind.
type KindSpec struct {
	Kind     domain.Kind
	Statuses []domain.Status
	Fields   []domain.FieldPath
}

// Definition is everything a matrix is built from.
type Definition struct {
	Roles []domain.Role
	Kinds []KindSpec
	Rules []RoleRule
}

// DefaultDefinition pairs rules with the declared roles, statuses and field
// trees of every document kind.
func DefaultDefinition(rules []RoleRule) (Definition, error) {
	def := Definition{Roles: domain.Roles(), Rules: rules}
	for _, kind := range domain.Kinds() {
		tree, err := domain.FieldTree(kind)
		if err != nil {
			return Definition{}, err
		}
		def.Kinds = append(def.Kinds, KindSpec{Kind: kind, Statuses: domain.Statuses(kind), Fields: tree})
	}
	return def, nil
}

type cellKey struct {
	role   domain.Role
	kind   domain.Kind
	status domain.Status
}

type kindIndex struct {
	statuses map[domain.Status]struct{}
	order    []domain.Status
	fields   []string
	groups   map[string]bool
}

// Matrix is the immutable, fully materialized rights relation.
type Matrix struct {
	roles map[domain.Role]struct{}
	kinds map[domain.Kind]*kindIndex
	cells map[cellKey]map[string]Rights
}

// Build materializes def: every cell starts all-true, then each rule
// overrides the slice it selects in order.
func Build(def Definition) (*Matrix, error) {
	m := &Matrix{
		roles: make(map[domain.Role]struct{}, len(def.Roles)),
		kinds: make(map[domain.Kind]*kindIndex, len(def.Kinds)),
		cells: make(map[cellKey]map[string]Rights),
	}
	for _, role := range def.Roles {
		m.roles[role] = struct{}{}
	}
	for _, spec := range def.Kinds {
		idx := &kindIndex{statuses: make(map[domain.Status]struct{}, len(spec.Statuses)), groups: make(map[string]bool, len(spec.Fields))}
		for _, s := range spec.Statuses {
			idx.statuses[s] = struct{}{}
			idx.order = append(idx.order, s)
		}
		for _, f := range spec.Fields {
			idx.fields = append(idx.fields, f.Path)
			idx.groups[f.Path] = f.Group
		}
		sort.Strings(idx.fields)
		m.kinds[spec.Kind] = idx
		for _, role := range def.Roles {
			for _, status := range spec.Statuses {
				cell := make(map[string]Rights, len(idx.fields))
				for _, f := range idx.fields {
					cell[f] = Rights{View: true, Edit: true}
				}
				m.cells[cellKey{role, spec.Kind, status}] = cell
			}
		}
	}
	for i, rule := range def.Rules {
		if err := m.apply(rule); err != nil {
			return nil, fmt.Errorf("apply rule %d (%s): %w", i, rule.Name, err)
		}
	}
	return m, nil
}

func (m *Matrix) apply(rule RoleRule) error {
	if rule.Value == nil {
		return domain.UnknownSubject("apply rule", "value is required")
	}
	value := *rule.Value
	for _, kind := range rule.kinds() {
		idx, ok := m.kinds[kind]
		if !ok {
			continue
		}
		var fields []string
		for _, f := range idx.fields {
			if rule.selectsField(f) {
				fields = append(fields, f)
			}
		}
		for _, role := range rule.Roles {
			if _, ok := m.roles[role]; !ok {
				return domain.UnknownSubject("apply rule", fmt.Sprintf("unknown role %q", role))
			}
			for _, status := range idx.order {
				if !rule.selectsStatus(status) {
					continue
				}
				cell := m.cells[cellKey{role, kind, status}]
				for _, f := range fields {
					r := cell[f]
					for _, right := range rule.rights() {
						r.set(right, value)
					}
					cell[f] = r
				}
			}
		}
	}
	return nil
}

func (m *Matrix) cell(op string, role domain.Role, kind domain.Kind, status domain.Status) (map[string]Rights, *kindIndex, error) {
	if _, ok := m.roles[role]; !ok {
		return nil, nil, domain.UnknownSubject(op, fmt.Sprintf("unknown role %q", role))
	}
	idx, ok := m.kinds[kind]
	if !ok {
		return nil, nil, domain.UnknownSubject(op, fmt.Sprintf("unknown document kind %q", kind))
	}
	if _, ok := idx.statuses[status]; !ok {
		return nil, nil, domain.UnknownSubject(op, fmt.Sprintf("unknown %s status %q", kind, status))
	}
	return m.cells[cellKey{role, kind, status}], idx, nil
}

// Can reports whether role holds right on path. Unknown paths are denied;
// unknown roles, kinds and statuses are errors.
func (m *Matrix) Can(role domain.Role, kind domain.Kind, status domain.Status, path string, right Right) (bool, error) {
	if _, err := ParseRight(string(right)); err != nil {
		return false, err
	}
	cell, _, err := m.cell("can", role, kind, status)
	if err != nil {
		return false, err
	}
	r, ok := cell[path]
	if !ok {
		return false, nil
	}
	return r.get(right), nil
}

// Fields returns a copy of the (role, kind, status) cell.
func (m *Matrix) Fields(role domain.Role, kind domain.Kind, status domain.Status) (map[string]Rights, error) {
	cell, _, err := m.cell("fields", role, kind, status)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Rights, len(cell))
	for k, v := range cell {
		out[k] = v
	}
	return out, nil
}

// Effective merges the cells of several roles; a right held by any role is held.
func (m *Matrix) Effective(kind domain.Kind, status domain.Status, roles ...domain.Role) (Grants, error) {
	g := Grants{Kind: kind, Status: status, fields: map[string]Rights{}}
	for _, role := range roles {
		cell, idx, err := m.cell("effective", role, kind, status)
		if err != nil {
			return Grants{}, err
		}
		g.groups = idx.groups
		for path, r := range cell {
			cur := g.fields[path]
			cur.View = cur.View || r.View
			cur.Edit = cur.Edit || r.Edit
			g.fields[path] = cur
		}
	}
	if g.groups == nil {
		if idx, ok := m.kinds[kind]; ok {
			g.groups = idx.groups
		}
	}
	g.Roles = append([]domain.Role(nil), roles...)
	return g, nil
}

// Roles lists the roles the matrix was built for.
func (m *Matrix) Roles() []domain.Role {
	out := make([]domain.Role, 0, len(m.roles))
	for r := range m.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Statuses lists the statuses of kind in declaration order.
func (m *Matrix) Statuses(kind domain.Kind) []domain.Status {
	idx, ok := m.kinds[kind]
	if !ok {
		return nil
	}
	return append([]domain.Status(nil), idx.order...)
}

// FieldPaths lists the field tree of kind in path order.
func (m *Matrix) FieldPaths(kind domain.Kind) []string {
	idx, ok := m.kinds[kind]
	if !ok {
		return nil
	}
	return append([]string(nil), idx.fields...)
}

// Size is the number of (role, kind, status, field) entries.
func (m *Matrix) Size() int {
	n := 0
	for _, cell := range m.cells {
		n += len(cell)
	}
	return n
}

// Grants is the merged view of one caller on one document state.
type Grants struct {
	Kind   domain.Kind
	Status domain.Status
	Roles  []domain.Role
	fields map[string]Rights
	groups map[string]bool
}

// lookup resolves path, falling back to the nearest ancestor when that
// ancestor is a leaf with free-form contents (maps, lists of scalars).
func (g Grants) lookup(path string) Rights {
	if r, ok := g.fields[path]; ok {
		return r
	}
	for p := path; ; {
		i := strings.LastIndex(p, ".")
		if i < 0 {
			return Rights{}
		}
		p = p[:i]
		if r, ok := g.fields[p]; ok {
			if g.groups[p] {
				return Rights{}
			}
			return r
		}
	}
}

// CanView reports whether path is visible.
func (g Grants) CanView(path string) bool { return g.lookup(path).View }

// CanEdit reports whether path is editable.
func (g Grants) CanEdit(path string) bool { return g.lookup(path).Edit }

// Map returns the merged rights keyed by field path.
func (g Grants) Map() map[string]Rights {
	out := make(map[string]Rights, len(g.fields))
	for k, v := range g.fields {
		out[k] = v
	}
	return out
}

// Editable lists the editable paths in order.
func (g Grants) Editable() []string {
	var out []string
	for path, r := range g.fields {
		if r.Edit {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out
}
