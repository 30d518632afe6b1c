// Package refdata serves the read-only reference entities documents point at:
// tenants, partners, country programmes, offices, sections and directory
// groups. The workflow core never mutates them.
package refdata

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"partnercore/pkg/domain"
)

// Tenant is a country workspace.
type Tenant struct {
	Code      string `yaml:"code" json:"code"`
	ShortCode string `yaml:"short_code" json:"short_code"`
	Name      string `yaml:"name" json:"name"`
}

// Partner is an implementing partner organization.
type Partner struct {
	ID           string `yaml:"id" json:"id"`
	Name         string `yaml:"name" json:"name"`
	VendorNumber string `yaml:"vendor_number" json:"vendor_number"`
}

// CountryProgramme bounds the period interventions may cover.
type CountryProgramme struct {
	ID    string    `yaml:"id" json:"id"`
	Name  string    `yaml:"name" json:"name"`
	Start time.Time `yaml:"start" json:"start"`
	End   time.Time `yaml:"end" json:"end"`
}

// Covers reports whether [start, end] lies within the programme.
func (cp CountryProgramme) Covers(start, end time.Time) bool {
	return !start.Before(cp.Start) && !end.After(cp.End)
}

// Provider is the lookup surface used by checks, reference numbering and
// recipient resolution. Missing entities surface as domain NotFound errors.
type Provider interface {
	Tenant(ctx context.Context, code string) (Tenant, error)
	Partner(ctx context.Context, tenant, id string) (Partner, error)
	CountryProgramme(ctx context.Context, tenant, id string) (CountryProgramme, error)
	HasOffice(ctx context.Context, tenant, id string) bool
	HasSection(ctx context.Context, tenant, id string) bool
	GroupEmails(ctx context.Context, tenant, group string) ([]string, error)
}

// TenantData is the reference data of one tenant.
type TenantData struct {
	Tenant            `yaml:",inline"`
	Partners          []Partner           `yaml:"partners"`
	CountryProgrammes []CountryProgramme  `yaml:"country_programmes"`
	Offices           []string            `yaml:"offices"`
	Sections          []string            `yaml:"sections"`
	Groups            map[string][]string `yaml:"groups"`
}

// Seed is the file format accepted by LoadFile.
type Seed struct {
	Tenants []TenantData `yaml:"tenants"`
}

type tenantState struct {
	tenant     Tenant
	partners   map[string]Partner
	programmes map[string]CountryProgramme
	offices    map[string]struct{}
	sections   map[string]struct{}
	groups     map[string][]string
}

// Memory is an in-process Provider.
type Memory struct {
	mu      sync.RWMutex
	tenants map[string]*tenantState
}

// NewMemory returns a provider preloaded with seed.
func NewMemory(seed Seed) *Memory {
	m := &Memory{tenants: make(map[string]*tenantState)}
	for _, td := range seed.Tenants {
		m.Put(td)
	}
	return m
}

// LoadFile reads a YAML seed from path.
func LoadFile(path string) (*Memory, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read reference data: %w", err)
	}
	var seed Seed
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("decode reference data %s: %w", path, err)
	}
	return NewMemory(seed), nil
}

// Put replaces the data of one tenant.
func (m *Memory) Put(td TenantData) {
	st := &tenantState{
		tenant:     td.Tenant,
		partners:   make(map[string]Partner, len(td.Partners)),
		programmes: make(map[string]CountryProgramme, len(td.CountryProgrammes)),
		offices:    make(map[string]struct{}, len(td.Offices)),
		sections:   make(map[string]struct{}, len(td.Sections)),
		groups:     make(map[string][]string, len(td.Groups)),
	}
	for _, p := range td.Partners {
		st.partners[p.ID] = p
	}
	for _, cp := range td.CountryProgrammes {
		st.programmes[cp.ID] = cp
	}
	for _, o := range td.Offices {
		st.offices[o] = struct{}{}
	}
	for _, s := range td.Sections {
		st.sections[s] = struct{}{}
	}
	for g, emails := range td.Groups {
		st.groups[g] = append([]string(nil), emails...)
	}
	m.mu.Lock()
	m.tenants[td.Code] = st
	m.mu.Unlock()
}

// Tenants lists the known tenant codes in order.
func (m *Memory) Tenants() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.tenants))
	for code := range m.tenants {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

func (m *Memory) state(tenant string) (*tenantState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.tenants[tenant]
	return st, ok
}

func missing(op, what, id string) error {
	return domain.ChildNotFound(op, what, id)
}

// Tenant implements Provider.
func (m *Memory) Tenant(_ context.Context, code string) (Tenant, error) {
	st, ok := m.state(code)
	if !ok {
		return Tenant{}, missing("tenant", "tenant", code)
	}
	return st.tenant, nil
}

// Partner implements Provider.
func (m *Memory) Partner(_ context.Context, tenant, id string) (Partner, error) {
	st, ok := m.state(tenant)
	if !ok {
		return Partner{}, missing("partner", "tenant", tenant)
	}
	p, ok := st.partners[id]
	if !ok {
		return Partner{}, missing("partner", "partner", id)
	}
	return p, nil
}

// CountryProgramme implements Provider.
func (m *Memory) CountryProgramme(_ context.Context, tenant, id string) (CountryProgramme, error) {
	st, ok := m.state(tenant)
	if !ok {
		return CountryProgramme{}, missing("country programme", "tenant", tenant)
	}
	cp, ok := st.programmes[id]
	if !ok {
		return CountryProgramme{}, missing("country programme", "country_programme", id)
	}
	return cp, nil
}

// HasOffice implements Provider.
func (m *Memory) HasOffice(_ context.Context, tenant, id string) bool {
	st, ok := m.state(tenant)
	if !ok {
		return false
	}
	_, ok = st.offices[id]
	return ok
}

// HasSection implements Provider.
func (m *Memory) HasSection(_ context.Context, tenant, id string) bool {
	st, ok := m.state(tenant)
	if !ok {
		return false
	}
	_, ok = st.sections[id]
	return ok
}

// GroupEmails implements Provider. Unknown groups resolve to no addresses.
func (m *Memory) GroupEmails(_ context.Context, tenant, group string) ([]string, error) {
	st, ok := m.state(tenant)
	if !ok {
		return nil, missing("group emails", "tenant", tenant)
	}
	return append([]string(nil), st.groups[group]...), nil
}
