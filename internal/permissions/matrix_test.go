package permissions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partnercore/pkg/domain"
)

func defaultMatrix(t *testing.T) *Matrix {
	t.Helper()
	rules, err := DefaultRules()
	require.NoError(t, err)
	def, err := DefaultDefinition(rules)
	require.NoError(t, err)
	m, err := Build(def)
	require.NoError(t, err)
	return m
}

func can(t *testing.T, m *Matrix, role domain.Role, kind domain.Kind, status domain.Status, path string, right Right) bool {
	t.Helper()
	ok, err := m.Can(role, kind, status, path, right)
	require.NoError(t, err)
	return ok
}

func TestTravelRoleRules(t *testing.T) {
	m := defaultMatrix(t)
	travel := domain.KindTravel

	assert.True(t, can(t, m, domain.RoleTraveler, travel, domain.StatusPlanned, "itinerary", RightEdit))
	assert.False(t, can(t, m, domain.RoleTraveler, travel, domain.StatusPlanned, "traveler", RightEdit))
	assert.False(t, can(t, m, domain.RoleTraveler, travel, domain.StatusPlanned, "traveler.email", RightEdit))
	assert.False(t, can(t, m, domain.RoleTraveler, travel, domain.StatusPlanned, "expenses", RightView))
	assert.False(t, can(t, m, domain.RoleTraveler, travel, domain.StatusApproved, "deductions.date", RightView))
	assert.True(t, can(t, m, domain.RoleTraveler, travel, domain.StatusSentForPayment, "expenses", RightView))
	assert.False(t, can(t, m, domain.RoleTraveler, travel, domain.StatusSentForPayment, "purpose", RightEdit))
	assert.True(t, can(t, m, domain.RoleTraveler, travel, domain.StatusSentForPayment, "activities", RightEdit))
	assert.True(t, can(t, m, domain.RoleTraveler, travel, domain.StatusCertificationRejected, "activities.date", RightEdit))

	assert.False(t, can(t, m, domain.RoleAnyone, travel, domain.StatusPlanned, "purpose", RightEdit))
	assert.True(t, can(t, m, domain.RoleAnyone, travel, domain.StatusPlanned, "purpose", RightView))
	for _, f := range []string{"deductions", "expenses", "cost_assignments", "cost_summary", "estimated_travel_cost", "currency"} {
		assert.False(t, can(t, m, domain.RoleAnyone, travel, domain.StatusPlanned, f, RightView), f)
	}

	assert.False(t, can(t, m, domain.RoleTravelAdministrator, travel, domain.StatusApproved, "purpose", RightEdit))
	assert.True(t, can(t, m, domain.RoleTravelAdministrator, travel, domain.StatusApproved, "activities", RightEdit))
	assert.True(t, can(t, m, domain.RoleTravelAdministrator, travel, domain.StatusSubmitted, "purpose", RightEdit))

	assert.False(t, can(t, m, domain.RoleSupervisor, travel, domain.StatusSubmitted, "purpose", RightEdit))
	assert.True(t, can(t, m, domain.RoleSupervisor, travel, domain.StatusSubmitted, "purpose", RightView))

	assert.True(t, can(t, m, domain.RoleTravelFocalPoint, travel, domain.StatusPlanned, "itinerary.origin", RightEdit))
	assert.False(t, can(t, m, domain.RoleTravelFocalPoint, travel, domain.StatusSentForPayment, "itinerary", RightEdit))
	assert.True(t, can(t, m, domain.RoleTravelFocalPoint, travel, domain.StatusSentForPayment, "currency", RightEdit))
	assert.False(t, can(t, m, domain.RoleTravelFocalPoint, travel, domain.StatusCompleted, "currency", RightEdit))

	assert.True(t, can(t, m, domain.RoleFinanceFocalPoint, travel, domain.StatusSubmitted, "expenses", RightEdit))
	assert.True(t, can(t, m, domain.RoleFinanceFocalPoint, travel, domain.StatusCertificationSubmitted, "cost_assignments.share", RightEdit))
	assert.False(t, can(t, m, domain.RoleFinanceFocalPoint, travel, domain.StatusCertificationSubmitted, "currency", RightEdit))
	assert.False(t, can(t, m, domain.RoleFinanceFocalPoint, travel, domain.StatusPlanned, "expenses", RightEdit))
	assert.False(t, can(t, m, domain.RoleFinanceFocalPoint, travel, domain.StatusSubmitted, "purpose", RightEdit))

	assert.False(t, can(t, m, domain.RoleRepresentative, travel, domain.StatusPlanned, "purpose", RightEdit))
	assert.True(t, can(t, m, domain.RoleGod, travel, domain.StatusCompleted, "expenses", RightEdit))
}

func TestPartnershipRoleRules(t *testing.T) {
	m := defaultMatrix(t)
	pd := domain.KindIntervention

	assert.True(t, can(t, m, domain.RolePartnerFocalPoint, pd, domain.StatusDraft, "activities", RightEdit))
	assert.False(t, can(t, m, domain.RolePartnerFocalPoint, pd, domain.StatusDraft, "title", RightEdit))
	assert.False(t, can(t, m, domain.RolePartnerFocalPoint, pd, domain.StatusReview, "activities", RightEdit))
	assert.False(t, can(t, m, domain.RolePartnerFocalPoint, domain.KindTravel, domain.StatusPlanned, "expenses", RightView))

	assert.True(t, can(t, m, domain.RolePartnershipManager, pd, domain.StatusDraft, "title", RightEdit))
	assert.True(t, can(t, m, domain.RolePartnershipManager, pd, domain.StatusSigned, "amendments.types", RightEdit))
	assert.False(t, can(t, m, domain.RolePartnershipManager, pd, domain.StatusSigned, "title", RightEdit))
	assert.False(t, can(t, m, domain.RolePartnershipManager, pd, domain.StatusClosed, "funds_reservations", RightEdit))
	assert.True(t, can(t, m, domain.RolePartnershipManager, pd, domain.StatusReview, "reviews", RightView))
	assert.False(t, can(t, m, domain.RoleAnyone, pd, domain.StatusReview, "reviews", RightView))

	assert.True(t, can(t, m, domain.RoleAuditor, domain.KindEngagement, domain.StatusPartnerContacted, "audit_opinion", RightEdit))
	assert.False(t, can(t, m, domain.RoleAuditor, domain.KindEngagement, domain.StatusPartnerContacted, "engagement_type", RightEdit))
	assert.False(t, can(t, m, domain.RoleAuditor, domain.KindEngagement, domain.StatusReportSubmitted, "audit_opinion", RightEdit))
	assert.False(t, can(t, m, domain.RoleAuditor, pd, domain.StatusDraft, "title", RightView))
	assert.True(t, can(t, m, domain.RoleAuditFocalPoint, domain.KindEngagement, domain.StatusReportSubmitted, "send_back_comment", RightEdit))

	assert.True(t, can(t, m, domain.RolePME, domain.KindTPMVisit, domain.StatusDraft, "tpm_activities.offices", RightEdit))
	assert.True(t, can(t, m, domain.RoleTPMFocalPoint, domain.KindTPMVisit, domain.StatusAssigned, "reject_comment", RightEdit))
	assert.False(t, can(t, m, domain.RoleTPMFocalPoint, domain.KindTPMVisit, domain.StatusAssigned, "tpm_activities", RightEdit))

	assert.False(t, can(t, m, domain.RoleTraveler, pd, domain.StatusDevelopment, "title", RightEdit))
	assert.False(t, can(t, m, domain.RoleFinanceFocalPoint, pd, domain.StatusDevelopment, "title", RightEdit))
}

func TestCanUnknownSubjects(t *testing.T) {
	m := defaultMatrix(t)

	ok, err := m.Can(domain.RoleTraveler, domain.KindTravel, domain.StatusPlanned, "no_such_field", RightView)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = m.Can("nobody", domain.KindTravel, domain.StatusPlanned, "purpose", RightView)
	assert.True(t, domain.IsKind(err, domain.ErrKindUnknownSubject))

	_, err = m.Can(domain.RoleTraveler, domain.KindTravel, domain.StatusSigned, "purpose", RightView)
	assert.True(t, domain.IsKind(err, domain.ErrKindUnknownSubject))

	_, err = m.Can(domain.RoleTraveler, "grant", domain.StatusPlanned, "purpose", RightView)
	assert.True(t, domain.IsKind(err, domain.ErrKindUnknownSubject))

	_, err = m.Can(domain.RoleTraveler, domain.KindTravel, domain.StatusPlanned, "purpose", Right("delete"))
	assert.True(t, domain.IsKind(err, domain.ErrKindUnknownSubject))
}

func TestFieldsCoversWholeTree(t *testing.T) {
	m := defaultMatrix(t)
	cell, err := m.Fields(domain.RoleAnyone, domain.KindEngagement, domain.StatusFinal)
	require.NoError(t, err)
	assert.Len(t, cell, len(m.FieldPaths(domain.KindEngagement)))
	for path, r := range cell {
		assert.False(t, r.Edit, path)
	}

	cell["audit_opinion"] = Rights{Edit: true}
	again, err := m.Fields(domain.RoleAnyone, domain.KindEngagement, domain.StatusFinal)
	require.NoError(t, err)
	assert.False(t, again["audit_opinion"].Edit)
}

func TestEffectiveMergesRoles(t *testing.T) {
	m := defaultMatrix(t)
	g, err := m.Effective(domain.KindIntervention, domain.StatusDraft, domain.RoleAnyone, domain.RolePartnerFocalPoint)
	require.NoError(t, err)
	assert.True(t, g.CanEdit("activities"))
	assert.True(t, g.CanEdit("activities.items.unit_price"))
	assert.False(t, g.CanEdit("title"))
	assert.True(t, g.CanView("title"))
	assert.False(t, g.CanView("reviews"))
	assert.True(t, g.CanView("status_dates.development"))
	assert.False(t, g.CanView("activities.unknown"))
	assert.Contains(t, g.Editable(), "risks")
	assert.Equal(t, Rights{View: true, Edit: true}, g.Map()["risks"])

	_, err = m.Effective(domain.KindIntervention, domain.StatusDraft, "nobody")
	assert.True(t, domain.IsKind(err, domain.ErrKindUnknownSubject))
}

func TestRebuildIsDeterministic(t *testing.T) {
	rules, err := DefaultRules()
	require.NoError(t, err)
	def, err := DefaultDefinition(rules)
	require.NoError(t, err)
	a, err := Build(def)
	require.NoError(t, err)
	b, err := Build(def)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Positive(t, a.Size())
}

func TestLaterRuleWins(t *testing.T) {
	no, yes := false, true
	def := Definition{
		Roles: []domain.Role{domain.RoleTraveler},
		Kinds: []KindSpec{{
			Kind:     domain.KindTravel,
			Statuses: []domain.Status{domain.StatusPlanned},
			Fields:   treeFromSpec(map[string]any{"purpose": nil, "itinerary": map[string]any{"origin": nil}}),
		}},
		Rules: []RoleRule{
			{Name: "lock", Roles: []domain.Role{domain.RoleTraveler}, Rights: []Right{RightEdit}, Value: &no},
			{Name: "open", Roles: []domain.Role{domain.RoleTraveler}, Fields: []string{"itinerary"}, Rights: []Right{RightEdit}, Value: &yes},
		},
	}
	m, err := Build(def)
	require.NoError(t, err)
	assert.False(t, can(t, m, domain.RoleTraveler, domain.KindTravel, domain.StatusPlanned, "purpose", RightEdit))
	assert.True(t, can(t, m, domain.RoleTraveler, domain.KindTravel, domain.StatusPlanned, "itinerary.origin", RightEdit))

	def.Rules = append(def.Rules, RoleRule{Name: "stranger", Roles: []domain.Role{domain.RoleSupervisor}, Value: &no})
	_, err = Build(def)
	require.Error(t, err)
}
