package permissions

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"partnercore/pkg/domain"
)

//go:embed rules/default.yaml
var defaultRulesYAML []byte

// Right is one of the two field rights.
type Right string

// Field rights.
const (
	RightView Right = "view"
	RightEdit Right = "edit"
)

// ParseRight validates a right name.
func ParseRight(raw string) (Right, error) {
	switch Right(raw) {
	case RightView, RightEdit:
		return Right(raw), nil
	}
	return "", domain.UnknownSubject("parse right", fmt.Sprintf("unknown right %q", raw))
}

// RoleRule overrides a slice of the base matrix. Empty selectors select
// everything along their axis; Fields entries also cover descendants.
type RoleRule struct {
	Name           string          `yaml:"name"`
	Roles          []domain.Role   `yaml:"roles"`
	Kinds          []domain.Kind   `yaml:"kinds,omitempty"`
	Statuses       []domain.Status `yaml:"statuses,omitempty"`
	ExceptStatuses []domain.Status `yaml:"except_statuses,omitempty"`
	Fields         []string        `yaml:"fields,omitempty"`
	ExceptFields   []string        `yaml:"except_fields,omitempty"`
	Rights         []Right         `yaml:"rights,omitempty"`
	Value          *bool           `yaml:"value"`
}

// RuleSet is the on-disk rule document.
type RuleSet struct {
	Rules []RoleRule `yaml:"rules"`
}

// ParseRules decodes and validates a YAML rule document.
func ParseRules(data []byte) ([]RoleRule, error) {
	var set RuleSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("decode role rules: %w", err)
	}
	for i := range set.Rules {
		if err := set.Rules[i].validate(); err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, set.Rules[i].Name, err)
		}
	}
	return set.Rules, nil
}

// LoadRules reads a rule file. An empty path yields the built-in rules.
func LoadRules(path string) ([]RoleRule, error) {
	if path == "" {
		return DefaultRules()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read role rules: %w", err)
	}
	return ParseRules(data)
}

// DefaultRules returns the built-in rule list.
func DefaultRules() ([]RoleRule, error) {
	return ParseRules(defaultRulesYAML)
}

func (r RoleRule) validate() error {
	if r.Value == nil {
		return domain.UnknownSubject("validate rule", "value is required")
	}
	if len(r.Roles) == 0 {
		return domain.UnknownSubject("validate rule", "at least one role is required")
	}
	for _, role := range r.Roles {
		if _, err := domain.ParseRole(string(role)); err != nil {
			return err
		}
	}
	for _, kind := range r.Kinds {
		if _, err := domain.ParseKind(string(kind)); err != nil {
			return err
		}
	}
	for _, status := range append(append([]domain.Status(nil), r.Statuses...), r.ExceptStatuses...) {
		if !r.statusKnown(status) {
			return domain.UnknownSubject("validate rule", fmt.Sprintf("status %q is not declared by the selected kinds", status))
		}
	}
	for _, sel := range append(append([]string(nil), r.Fields...), r.ExceptFields...) {
		if !doublestar.ValidatePattern(toGlob(sel)) {
			return domain.UnknownSubject("validate rule", fmt.Sprintf("invalid field selector %q", sel))
		}
	}
	for _, right := range r.Rights {
		if _, err := ParseRight(string(right)); err != nil {
			return err
		}
	}
	return nil
}

func (r RoleRule) kinds() []domain.Kind {
	if len(r.Kinds) == 0 {
		return domain.Kinds()
	}
	return r.Kinds
}

func (r RoleRule) statusKnown(status domain.Status) bool {
	for _, kind := range r.kinds() {
		if domain.ValidStatus(kind, status) {
			return true
		}
	}
	return false
}

func (r RoleRule) rights() []Right {
	if len(r.Rights) == 0 {
		return []Right{RightView, RightEdit}
	}
	return r.Rights
}

func (r RoleRule) selectsStatus(status domain.Status) bool {
	for _, s := range r.ExceptStatuses {
		if s == status {
			return false
		}
	}
	if len(r.Statuses) == 0 {
		return true
	}
	for _, s := range r.Statuses {
		if s == status {
			return true
		}
	}
	return false
}

func (r RoleRule) selectsField(path string) bool {
	if matchAny(r.ExceptFields, path) {
		return false
	}
	return len(r.Fields) == 0 || matchAny(r.Fields, path)
}

func toGlob(selector string) string {
	return strings.ReplaceAll(selector, ".", "/")
}

// matchAny reports whether path, or one of its ancestors, matches a selector.
func matchAny(selectors []string, path string) bool {
	p := toGlob(path)
	for _, sel := range selectors {
		g := toGlob(sel)
		if g == p || strings.HasPrefix(p, g+"/") {
			return true
		}
		if ok, _ := doublestar.Match(g, p); ok {
			return true
		}
		if ok, _ := doublestar.Match(g+"/**", p); ok {
			return true
		}
	}
	return false
}
