package domain

import "strings"

// OrgKind identifies the organisation an actor belongs to.
type OrgKind string

// Organisation kinds.
const (
	OrgUnicef  OrgKind = "unicef"
	OrgPartner OrgKind = "partner"
	OrgAuditor OrgKind = "auditor"
	OrgTPM     OrgKind = "tpm"
)

// Actor is the authenticated caller of a domain operation.
type Actor struct {
	UserID  string   `json:"user_id"`
	Email   string   `json:"email"`
	Name    string   `json:"name,omitempty"`
	Tenant  string   `json:"tenant"`
	OrgKind OrgKind  `json:"org_kind,omitempty"`
	OrgID   string   `json:"org_id,omitempty"`
	Groups  []string `json:"groups,omitempty"`
}

// InGroup reports whether the actor belongs to group.
func (a Actor) InGroup(group string) bool {
	for _, g := range a.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// Label returns the identifier written to history records.
func (a Actor) Label() string {
	if a.Email != "" {
		return a.Email
	}
	return a.UserID
}

// Person references a user attached to a document.
type Person struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
}

// Is reports whether the person refers to actor.
func (p Person) Is(actor Actor) bool {
	if p.UserID != "" && p.UserID == actor.UserID {
		return true
	}
	return p.Email != "" && strings.EqualFold(p.Email, actor.Email)
}

// IsZero reports whether no identity is set.
func (p Person) IsZero() bool {
	return p.UserID == "" && p.Email == ""
}

// ContainsActor reports whether people includes actor.
func ContainsActor(people []Person, actor Actor) bool {
	for _, p := range people {
		if p.Is(actor) {
			return true
		}
	}
	return false
}

// Emails returns the non-empty addresses of people.
func Emails(people []Person) []string {
	out := make([]string, 0, len(people))
	for _, p := range people {
		if p.Email != "" {
			out = append(out, p.Email)
		}
	}
	return out
}
