package permissions

import (
	"bytes"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"partnercore/pkg/domain"
)

func TestRenderGolden(t *testing.T) {
	no := false
	def := Definition{
		Roles: []domain.Role{domain.RoleTraveler},
		Kinds: []KindSpec{{
			Kind:     domain.KindTravel,
			Statuses: []domain.Status{domain.StatusPlanned, domain.StatusSubmitted},
			Fields: treeFromSpec(map[string]any{
				"purpose":   nil,
				"expenses":  map[string]any{"amount": nil},
				"itinerary": map[string]any{"origin": nil, "destination": nil},
			}),
		}},
		Rules: []RoleRule{
			{Name: "hide-expenses", Roles: []domain.Role{domain.RoleTraveler}, Statuses: []domain.Status{domain.StatusPlanned}, Fields: []string{"expenses"}, Value: &no},
			{Name: "lock-submitted", Roles: []domain.Role{domain.RoleTraveler}, Statuses: []domain.Status{domain.StatusSubmitted}, Rights: []Right{RightEdit}, Value: &no},
		},
	}
	m, err := Build(def)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, m, domain.RoleTraveler, domain.KindTravel))
	goldie.New(t).Assert(t, "travel_traveler", buf.Bytes())
}

func TestRenderUnknownKind(t *testing.T) {
	m, err := Build(Definition{Roles: []domain.Role{domain.RoleTraveler}})
	require.NoError(t, err)
	var buf bytes.Buffer
	require.Error(t, Render(&buf, m, domain.RoleTraveler, domain.KindTravel))
}
