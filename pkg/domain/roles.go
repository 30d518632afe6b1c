package domain

import "fmt"

// Role names a permission subject. Roles are derived per request from the
// actor's groups and their relation to the document.
type Role string

// Known roles.
const (
	RoleGod                 Role = "god"
	RoleAnyone              Role = "anyone"
	RoleTraveler            Role = "traveler"
	RoleTravelAdministrator Role = "travel_administrator"
	RoleSupervisor          Role = "supervisor"
	RoleTravelFocalPoint    Role = "travel_focal_point"
	RoleFinanceFocalPoint   Role = "finance_focal_point"
	RoleRepresentative      Role = "representative"
	RoleUnicefUser          Role = "unicef_user"
	RolePartnershipManager  Role = "partnership_manager"
	RoleUnicefFocalPoint    Role = "unicef_focal_point"
	RolePartnerFocalPoint   Role = "partner_focal_point"
	RolePME                 Role = "pme"
	RoleAuditor             Role = "auditor"
	RoleAuditFocalPoint     Role = "audit_focal_point"
	RoleTPMFocalPoint       Role = "tpm_focal_point"
)

var knownRoles = []Role{
	RoleGod, RoleAnyone, RoleTraveler, RoleTravelAdministrator, RoleSupervisor,
	RoleTravelFocalPoint, RoleFinanceFocalPoint, RoleRepresentative, RoleUnicefUser,
	RolePartnershipManager, RoleUnicefFocalPoint, RolePartnerFocalPoint, RolePME,
	RoleAuditor, RoleAuditFocalPoint, RoleTPMFocalPoint,
}

// Roles returns all known roles in declaration order.
func Roles() []Role {
	return append([]Role(nil), knownRoles...)
}

// ParseRole validates a role name.
func ParseRole(raw string) (Role, error) {
	for _, r := range knownRoles {
		if string(r) == raw {
			return r, nil
		}
	}
	return "", UnknownSubject("parse role", fmt.Sprintf("unknown role %q", raw))
}

// Group names carried on an Actor. Groups map onto global roles.
const (
	GroupSuperuser           = "Superuser"
	GroupUnicefUser          = "UNICEF User"
	GroupPartnershipManager  = "Partnership Manager"
	GroupPME                 = "PME"
	GroupAuditFocalPoint     = "UNICEF Audit Focal Point"
	GroupTravelAdministrator = "Travel Administrator"
	GroupTravelFocalPoint    = "Travel Focal Point"
	GroupFinanceFocalPoint   = "Finance Focal Point"
	GroupRepresentative      = "Representative Office"
)

var groupRoles = map[string]Role{
	GroupSuperuser:           RoleGod,
	GroupUnicefUser:          RoleUnicefUser,
	GroupPartnershipManager:  RolePartnershipManager,
	GroupPME:                 RolePME,
	GroupAuditFocalPoint:     RoleAuditFocalPoint,
	GroupTravelAdministrator: RoleTravelAdministrator,
	GroupTravelFocalPoint:    RoleTravelFocalPoint,
	GroupFinanceFocalPoint:   RoleFinanceFocalPoint,
	GroupRepresentative:      RoleRepresentative,
}

// RoleForGroup maps a group name to its global role.
func RoleForGroup(group string) (Role, bool) {
	r, ok := groupRoles[group]
	return r, ok
}

// RoleSet is an unordered set of roles held by an actor for one document.
type RoleSet map[Role]struct{}

// NewRoleSet builds a set from roles.
func NewRoleSet(roles ...Role) RoleSet {
	s := make(RoleSet, len(roles))
	for _, r := range roles {
		s[r] = struct{}{}
	}
	return s
}

// Add inserts a role.
func (s RoleSet) Add(r Role) { s[r] = struct{}{} }

// Has reports membership.
func (s RoleSet) Has(r Role) bool {
	_, ok := s[r]
	return ok
}

// Any reports whether the set intersects roles.
func (s RoleSet) Any(roles ...Role) bool {
	for _, r := range roles {
		if s.Has(r) {
			return true
		}
	}
	return false
}

// List returns roles in declaration order.
func (s RoleSet) List() []Role {
	out := make([]Role, 0, len(s))
	for _, r := range knownRoles {
		if s.Has(r) {
			out = append(out, r)
		}
	}
	return out
}
