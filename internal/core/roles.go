package core

import "partnercore/pkg/domain"

// ResolveRoles derives the roles actor holds on doc: anyone, the global roles
// of its groups, and the roles its membership in doc grants. A nil doc yields
// the document-independent roles only.
func ResolveRoles(actor domain.Actor, doc domain.Document) domain.RoleSet {
	roles := domain.NewRoleSet(domain.RoleAnyone)
	for _, g := range actor.Groups {
		if r, ok := domain.RoleForGroup(g); ok {
			roles.Add(r)
		}
	}
	if doc == nil {
		return roles
	}
	switch d := doc.(type) {
	case *domain.Agreement:
		if domain.ContainsActor(d.UnicefFocalPoints, actor) {
			roles.Add(domain.RoleUnicefFocalPoint)
		}
		if d.IsPartnerContact(actor) || partnerOrg(actor, d.PartnerID) {
			roles.Add(domain.RolePartnerFocalPoint)
		}
	case *domain.Intervention:
		if domain.ContainsActor(d.UnicefFocalPoints, actor) {
			roles.Add(domain.RoleUnicefFocalPoint)
		}
		if domain.ContainsActor(d.PartnerFocalPoints, actor) {
			roles.Add(domain.RolePartnerFocalPoint)
		}
	case *domain.Engagement:
		if domain.ContainsActor(d.StaffMembers, actor) || (actor.OrgKind == domain.OrgAuditor && actor.OrgID != "" && actor.OrgID == d.AuditorFirmID) {
			roles.Add(domain.RoleAuditor)
		}
		if domain.ContainsActor(d.UnicefFocalPoints, actor) {
			roles.Add(domain.RoleUnicefFocalPoint)
		}
		if domain.ContainsActor(d.PartnerContacts, actor) {
			roles.Add(domain.RolePartnerFocalPoint)
		}
	case *domain.TPMVisit:
		if domain.ContainsActor(d.TPMPartnerFocalPoints, actor) || (actor.OrgKind == domain.OrgTPM && actor.OrgID != "" && actor.OrgID == d.TPMPartnerID) {
			roles.Add(domain.RoleTPMFocalPoint)
		}
		if domain.ContainsActor(d.UnicefFocalPoints(), actor) || d.Author.Is(actor) {
			roles.Add(domain.RoleUnicefFocalPoint)
		}
	case *domain.EFaceForm:
		if domain.ContainsActor(d.UnicefFocalPoints, actor) {
			roles.Add(domain.RoleUnicefFocalPoint)
		}
		if domain.ContainsActor(d.PartnerFocalPoints, actor) {
			roles.Add(domain.RolePartnerFocalPoint)
		}
	case *domain.Travel:
		if d.Traveler.Is(actor) {
			roles.Add(domain.RoleTraveler)
		}
		if d.Supervisor.Is(actor) {
			roles.Add(domain.RoleSupervisor)
		}
	}
	return roles
}

func partnerOrg(actor domain.Actor, partnerID string) bool {
	return actor.OrgKind == domain.OrgPartner && actor.OrgID != "" && actor.OrgID == partnerID
}
