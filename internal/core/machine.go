package core

import (
	"fmt"
	"sort"

	"partnercore/pkg/domain"
)

// Transition is a named, guarded move between statuses of one kind.
// Roles lists who may fire it; god may always fire it. Checks run through
// the validation pipeline before any state is touched, then Effects run in
// order inside the commit.
type Transition struct {
	Name    string
	Sources []domain.Status
	Target  domain.Status
	Roles   []domain.Role
	Checks  []Check
	Effects []Effect
}

// From reports whether status is a source of t.
func (t Transition) From(status domain.Status) bool {
	for _, s := range t.Sources {
		if s == status {
			return true
		}
	}
	return false
}

// Permits reports whether any of roles may fire t.
func (t Transition) Permits(roles domain.RoleSet) bool {
	if roles.Has(domain.RoleGod) {
		return true
	}
	return roles.Any(t.Roles...)
}

// Machine is the status graph of one kind.
type Machine struct {
	kind        domain.Kind
	transitions map[string]Transition
	order       []string
}

// NewMachine validates and indexes the transitions of kind.
func NewMachine(kind domain.Kind, transitions ...Transition) (*Machine, error) {
	if _, err := domain.ParseKind(string(kind)); err != nil {
		return nil, err
	}
	m := &Machine{kind: kind, transitions: make(map[string]Transition, len(transitions))}
	for _, t := range transitions {
		if t.Name == "" {
			return nil, fmt.Errorf("%s: transition name required", kind)
		}
		if _, dup := m.transitions[t.Name]; dup {
			return nil, fmt.Errorf("%s: duplicate transition %q", kind, t.Name)
		}
		if !domain.ValidStatus(kind, t.Target) {
			return nil, fmt.Errorf("%s %s: unknown target status %q", kind, t.Name, t.Target)
		}
		if len(t.Sources) == 0 {
			return nil, fmt.Errorf("%s %s: at least one source status required", kind, t.Name)
		}
		for _, s := range t.Sources {
			if !domain.ValidStatus(kind, s) {
				return nil, fmt.Errorf("%s %s: unknown source status %q", kind, t.Name, s)
			}
			if domain.IsTerminal(kind, s) {
				return nil, fmt.Errorf("%s %s: terminal status %q cannot be a source", kind, t.Name, s)
			}
		}
		m.transitions[t.Name] = t
		m.order = append(m.order, t.Name)
	}
	return m, nil
}

// MustMachine is NewMachine for the built-in tables.
func MustMachine(kind domain.Kind, transitions ...Transition) *Machine {
	m, err := NewMachine(kind, transitions...)
	if err != nil {
		panic(err)
	}
	return m
}

// Kind returns the kind the machine governs.
func (m *Machine) Kind() domain.Kind { return m.kind }

// Lookup returns the named transition.
func (m *Machine) Lookup(name string) (Transition, error) {
	t, ok := m.transitions[name]
	if !ok {
		return Transition{}, domain.UnknownSubject("lookup transition", fmt.Sprintf("%s has no transition %q", m.kind, name))
	}
	return t, nil
}

// Names lists transitions in declaration order.
func (m *Machine) Names() []string {
	return append([]string(nil), m.order...)
}

// Allowed lists the transitions roles may fire from status, in declaration order.
func (m *Machine) Allowed(status domain.Status, roles domain.RoleSet) []string {
	var out []string
	for _, name := range m.order {
		t := m.transitions[name]
		if t.From(status) && t.Permits(roles) {
			out = append(out, name)
		}
	}
	return out
}

// Engine binds the per-kind machines to the validation pipeline.
type Engine struct {
	machines map[domain.Kind]*Machine
	pipeline *Pipeline
}

// NewEngine registers machines and feeds their checks into a pipeline.
func NewEngine(machines ...*Machine) (*Engine, error) {
	e := &Engine{machines: make(map[domain.Kind]*Machine, len(machines)), pipeline: NewPipeline()}
	for _, m := range machines {
		if _, dup := e.machines[m.kind]; dup {
			return nil, fmt.Errorf("duplicate machine for %s", m.kind)
		}
		e.machines[m.kind] = m
		for _, name := range m.order {
			t := m.transitions[name]
			e.pipeline.Register(m.kind, name, t.Checks...)
		}
	}
	return e, nil
}

// DefaultEngine wires the built-in workflows of every kind.
func DefaultEngine() *Engine {
	e, err := NewEngine(
		AgreementMachine(),
		InterventionMachine(),
		EngagementMachine(),
		TPMVisitMachine(),
		EFaceMachine(),
		TravelMachine(),
	)
	if err != nil {
		panic(err)
	}
	return e
}

// Machine returns the machine of kind.
func (e *Engine) Machine(kind domain.Kind) (*Machine, error) {
	m, ok := e.machines[kind]
	if !ok {
		return nil, domain.UnknownSubject("machine", fmt.Sprintf("no workflow for %q", kind))
	}
	return m, nil
}

// Pipeline exposes the validation pipeline.
func (e *Engine) Pipeline() *Pipeline { return e.pipeline }

// Kinds lists the governed kinds.
func (e *Engine) Kinds() []domain.Kind {
	out := make([]domain.Kind, 0, len(e.machines))
	for k := range e.machines {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
