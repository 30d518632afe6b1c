package core

import (
	"context"
	"fmt"
	"strings"

	"partnercore/pkg/domain"
)

// Scope addresses the parent document of a child mutation.
type Scope struct {
	Actor           domain.Actor
	Ref             domain.Ref
	ExpectedVersion int64
}

// childGroupings are the collections whose members carry their own
// invariants. They change only through the child operations, never through a
// Create or Update patch.
var childGroupings = map[domain.Kind][]string{
	domain.KindAgreement: {"amendments"},
	domain.KindIntervention: {
		"activities", "amendments", "funds_reservations", "management_budget", "planned_visits",
		"reporting_requirements", "reviews", "risks", "supply_items",
	},
	domain.KindEngagement: {"key_internal_controls", "specific_procedures"},
	domain.KindTPMVisit:   {"tpm_activities"},
	domain.KindEFace:      {"activities"},
	domain.KindTravel:     {"activities", "cost_assignments", "deductions", "expenses", "itinerary"},
}

// inChildGrouping reports whether path is, or lies under, a child collection.
func inChildGrouping(kind domain.Kind, path string) bool {
	for _, g := range childGroupings[kind] {
		if path == g || strings.HasPrefix(path, g+".") {
			return true
		}
	}
	return false
}

type amendable interface {
	domain.Document
	AddAmendment(domain.Amendment) (domain.Amendment, error)
	UpdateAmendment(id string, fn func(*domain.Amendment) error) (domain.Amendment, error)
	DeleteAmendment(id string) error
}

// mutateChild runs fn on the parent of a child collection in one commit.
// guard sees the stored parent before the edit right on grouping is checked,
// so aggregate invariants win over permissions.
func mutateChild[D domain.Document, R any](ctx context.Context, s *Service, op, grouping string, scope Scope, guard func(D) error, fn func(D) (R, error)) (R, error) {
	var out R
	err := s.run(ctx, op, scope.Ref, scope.Actor, func(ctx context.Context) error {
		release, err := s.locker.Acquire(ctx, scope.Ref)
		if err != nil {
			return err
		}
		defer release()
		doc, err := s.load(op, scope.Actor, scope.Ref)
		if err != nil {
			return err
		}
		typed, ok := doc.(D)
		if !ok {
			return domain.UnknownSubject(op, fmt.Sprintf("%s has no %s", scope.Ref.Kind, grouping))
		}
		if err := checkVersion(op, doc, scope.ExpectedVersion); err != nil {
			return err
		}
		if guard != nil {
			if err := guard(typed); err != nil {
				return err
			}
		}
		g, _, err := s.grants(scope.Actor, doc)
		if err != nil {
			return err
		}
		if !g.CanEdit(grouping) {
			return domain.PermissionDenied(op, fmt.Sprintf("cannot edit %s in status %s", grouping, g.Status)).WithRef(scope.Ref)
		}
		_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			updated, err := tx.Update(scope.Ref, func(d domain.Document) error {
				var err error
				out, err = fn(d.(D))
				if err != nil {
					return err
				}
				if t, ok := d.(domain.Totaled); ok {
					t.Recalculate()
				}
				return nil
			})
			if err != nil {
				return err
			}
			status := updated.Head().Status
			_, err = tx.AppendHistory(domain.HistoryRecord{
				Ref:        scope.Ref,
				Actor:      scope.Actor.Label(),
				Transition: op,
				FromStatus: status,
				ToStatus:   status,
				Version:    updated.Head().Version,
			})
			return err
		})
		if err != nil {
			return mapCommitError(op, scope.Ref, err)
		}
		s.invalidate(ctx, scope.Ref)
		return nil
	})
	return out, err
}

// unit adapts a mutation without a result.
func unit[D any](fn func(D) error) func(D) (struct{}, error) {
	return func(d D) (struct{}, error) { return struct{}{}, fn(d) }
}

func signedAmendmentGuard(op, id string) func(amendable) error {
	return func(doc amendable) error {
		for _, a := range amendmentsOf(doc) {
			if a.ID == id && a.Signed() {
				return domain.Integrity(op, "Cannot "+op+" a signed amendment").WithRef(domain.RefOf(doc))
			}
		}
		return nil
	}
}

func unsignedGuard(op string) func(*domain.Intervention) error {
	return func(i *domain.Intervention) error { return i.RequireUnsigned(op) }
}

// AddAmendment appends an amendment to an agreement or intervention.
func (s *Service) AddAmendment(ctx context.Context, scope Scope, a domain.Amendment) (domain.Amendment, error) {
	return mutateChild(ctx, s, "add amendment", "amendments", scope, nil, func(doc amendable) (domain.Amendment, error) {
		return doc.AddAmendment(a)
	})
}

// UpdateAmendment replaces the editable fields of an unsigned amendment.
func (s *Service) UpdateAmendment(ctx context.Context, scope Scope, id string, a domain.Amendment) (domain.Amendment, error) {
	return mutateChild(ctx, s, "update amendment", "amendments", scope, signedAmendmentGuard("update", id), func(doc amendable) (domain.Amendment, error) {
		return doc.UpdateAmendment(id, func(cur *domain.Amendment) error {
			cur.Types = a.Types
			cur.SignedDate = a.SignedDate
			cur.SignedAmendment = a.SignedAmendment
			cur.OtherDescription = a.OtherDescription
			return nil
		})
	})
}

// DeleteAmendment removes an unsigned amendment. Signed amendments are
// rejected for every caller.
func (s *Service) DeleteAmendment(ctx context.Context, scope Scope, id string) error {
	_, err := mutateChild(ctx, s, "delete amendment", "amendments", scope, signedAmendmentGuard("delete", id), unit(func(doc amendable) error {
		return doc.DeleteAmendment(id)
	}))
	return err
}

// AddInterventionActivity appends a programmatic activity.
func (s *Service) AddInterventionActivity(ctx context.Context, scope Scope, a domain.Activity) (domain.Activity, error) {
	return mutateChild(ctx, s, "add activity", "activities", scope, nil, func(i *domain.Intervention) (domain.Activity, error) {
		return i.AddActivity(a)
	})
}

// RemoveInterventionActivity drops an activity with its items.
func (s *Service) RemoveInterventionActivity(ctx context.Context, scope Scope, id string) error {
	_, err := mutateChild(ctx, s, "remove activity", "activities", scope, nil, unit(func(i *domain.Intervention) error {
		return i.RemoveActivity(id)
	}))
	return err
}

// AddBudgetItem appends a line item to group: "activities.items" (with
// activityID), "management_budget" or "supply_items".
func (s *Service) AddBudgetItem(ctx context.Context, scope Scope, group, activityID string, item domain.LineItem) (domain.LineItem, error) {
	return mutateChild(ctx, s, "add budget item", group, scope, nil, func(i *domain.Intervention) (domain.LineItem, error) {
		return i.AddItem(group, activityID, item)
	})
}

// UpdateBudgetItem replaces a line item in group, keeping its identifier.
func (s *Service) UpdateBudgetItem(ctx context.Context, scope Scope, group, activityID, id string, item domain.LineItem) (domain.LineItem, error) {
	return mutateChild(ctx, s, "update budget item", group, scope, nil, func(i *domain.Intervention) (domain.LineItem, error) {
		return i.UpdateItem(group, activityID, id, func(cur *domain.LineItem) error {
			item.ID = cur.ID
			*cur = item
			return nil
		})
	})
}

// RemoveBudgetItem deletes a line item from group.
func (s *Service) RemoveBudgetItem(ctx context.Context, scope Scope, group, activityID, id string) error {
	_, err := mutateChild(ctx, s, "remove budget item", group, scope, nil, unit(func(i *domain.Intervention) error {
		return i.RemoveItem(group, activityID, id)
	}))
	return err
}

// AddPlannedVisit adds a yearly visit plan to an unsigned intervention.
func (s *Service) AddPlannedVisit(ctx context.Context, scope Scope, v domain.PlannedVisit) (domain.PlannedVisit, error) {
	return mutateChild(ctx, s, "add planned visit", "planned_visits", scope, unsignedGuard("add planned visit"), func(i *domain.Intervention) (domain.PlannedVisit, error) {
		return i.AddPlannedVisit(v)
	})
}

// DeletePlannedVisit removes a visit plan from an unsigned intervention.
func (s *Service) DeletePlannedVisit(ctx context.Context, scope Scope, id string) error {
	_, err := mutateChild(ctx, s, "delete planned visit", "planned_visits", scope, unsignedGuard("delete planned visit"), unit(func(i *domain.Intervention) error {
		return i.DeletePlannedVisit(id)
	}))
	return err
}

// AddReportingRequirement schedules a report on an unsigned intervention.
func (s *Service) AddReportingRequirement(ctx context.Context, scope Scope, r domain.ReportingRequirement) (domain.ReportingRequirement, error) {
	return mutateChild(ctx, s, "add reporting requirement", "reporting_requirements", scope, unsignedGuard("add reporting requirement"), func(i *domain.Intervention) (domain.ReportingRequirement, error) {
		return i.AddReportingRequirement(r)
	})
}

// DeleteReportingRequirement unschedules a report.
func (s *Service) DeleteReportingRequirement(ctx context.Context, scope Scope, id string) error {
	_, err := mutateChild(ctx, s, "delete reporting requirement", "reporting_requirements", scope, unsignedGuard("delete reporting requirement"), unit(func(i *domain.Intervention) error {
		return i.DeleteReportingRequirement(id)
	}))
	return err
}

// AddRisk records a risk on an unsigned intervention.
func (s *Service) AddRisk(ctx context.Context, scope Scope, r domain.Risk) (domain.Risk, error) {
	return mutateChild(ctx, s, "add risk", "risks", scope, unsignedGuard("add risk"), func(i *domain.Intervention) (domain.Risk, error) {
		return i.AddRisk(r)
	})
}

// UpdateRisk replaces a risk, keeping its identifier.
func (s *Service) UpdateRisk(ctx context.Context, scope Scope, id string, r domain.Risk) (domain.Risk, error) {
	return mutateChild(ctx, s, "update risk", "risks", scope, unsignedGuard("update risk"), func(i *domain.Intervention) (domain.Risk, error) {
		return i.UpdateRisk(id, func(cur *domain.Risk) error {
			*cur = r
			return nil
		})
	})
}

// DeleteRisk removes a risk.
func (s *Service) DeleteRisk(ctx context.Context, scope Scope, id string) error {
	_, err := mutateChild(ctx, s, "delete risk", "risks", scope, unsignedGuard("delete risk"), unit(func(i *domain.Intervention) error {
		return i.DeleteRisk(id)
	}))
	return err
}

// OpenReview starts a review of the intervention or of one amendment.
func (s *Service) OpenReview(ctx context.Context, scope Scope, amendmentID string, reviewType domain.ReviewType) (domain.Review, error) {
	return mutateChild(ctx, s, "open review", "reviews", scope, nil, func(i *domain.Intervention) (domain.Review, error) {
		return i.OpenReview(amendmentID, reviewType)
	})
}

// UpdateReview records reviewer answers. A review is frozen once its overall
// approval is set.
func (s *Service) UpdateReview(ctx context.Context, scope Scope, id string, r domain.Review) (domain.Review, error) {
	return mutateChild(ctx, s, "update review", "reviews", scope, nil, func(i *domain.Intervention) (domain.Review, error) {
		return i.UpdateReview(id, func(cur *domain.Review) error {
			*cur = r
			return nil
		})
	})
}

// AddFundsReservation links a funds reservation to an intervention.
func (s *Service) AddFundsReservation(ctx context.Context, scope Scope, fr domain.FundsReservation) (domain.FundsReservation, error) {
	return mutateChild(ctx, s, "add funds reservation", "funds_reservations", scope, nil, func(i *domain.Intervention) (domain.FundsReservation, error) {
		return i.AddFundsReservation(fr)
	})
}

// AddKeyInternalControl records an audit finding.
func (s *Service) AddKeyInternalControl(ctx context.Context, scope Scope, k domain.KeyInternalControl) (domain.KeyInternalControl, error) {
	return mutateChild(ctx, s, "add key internal control", "key_internal_controls", scope, nil, func(e *domain.Engagement) (domain.KeyInternalControl, error) {
		return e.AddKeyInternalControl(k)
	})
}

// AddSpecificProcedure records a special audit procedure.
func (s *Service) AddSpecificProcedure(ctx context.Context, scope Scope, p domain.SpecificProcedure) (domain.SpecificProcedure, error) {
	return mutateChild(ctx, s, "add specific procedure", "specific_procedures", scope, nil, func(e *domain.Engagement) (domain.SpecificProcedure, error) {
		return e.AddSpecificProcedure(p)
	})
}

// AddTPMActivity adds an activity to a monitoring visit.
func (s *Service) AddTPMActivity(ctx context.Context, scope Scope, a domain.TPMActivity) (domain.TPMActivity, error) {
	return mutateChild(ctx, s, "add tpm activity", "tpm_activities", scope, nil, func(v *domain.TPMVisit) (domain.TPMActivity, error) {
		return v.AddActivity(a)
	})
}

// RemoveTPMActivity drops an activity from a monitoring visit.
func (s *Service) RemoveTPMActivity(ctx context.Context, scope Scope, id string) error {
	_, err := mutateChild(ctx, s, "remove tpm activity", "tpm_activities", scope, nil, unit(func(v *domain.TPMVisit) error {
		return v.RemoveActivity(id)
	}))
	return err
}

// AddEFaceLine appends a funding request line.
func (s *Service) AddEFaceLine(ctx context.Context, scope Scope, l domain.EFaceLine) (domain.EFaceLine, error) {
	return mutateChild(ctx, s, "add eface line", "activities", scope, nil, func(f *domain.EFaceForm) (domain.EFaceLine, error) {
		return f.AddLine(l)
	})
}

// RemoveEFaceLine deletes a funding request line.
func (s *Service) RemoveEFaceLine(ctx context.Context, scope Scope, id string) error {
	_, err := mutateChild(ctx, s, "remove eface line", "activities", scope, nil, unit(func(f *domain.EFaceForm) error {
		return f.RemoveLine(id)
	}))
	return err
}

// AddItinerary appends a trip leg.
func (s *Service) AddItinerary(ctx context.Context, scope Scope, it domain.ItineraryItem) (domain.ItineraryItem, error) {
	return mutateChild(ctx, s, "add itinerary", "itinerary", scope, nil, func(t *domain.Travel) (domain.ItineraryItem, error) {
		return t.AddItinerary(it)
	})
}

// AddExpense appends a trip expense.
func (s *Service) AddExpense(ctx context.Context, scope Scope, e domain.Expense) (domain.Expense, error) {
	return mutateChild(ctx, s, "add expense", "expenses", scope, nil, func(t *domain.Travel) (domain.Expense, error) {
		return t.AddExpense(e)
	})
}

// AddDeduction appends a per diem deduction.
func (s *Service) AddDeduction(ctx context.Context, scope Scope, d domain.Deduction) (domain.Deduction, error) {
	return mutateChild(ctx, s, "add deduction", "deductions", scope, nil, func(t *domain.Travel) (domain.Deduction, error) {
		return t.AddDeduction(d)
	})
}

// AddCostAssignment splits the trip cost onto a WBS grant.
func (s *Service) AddCostAssignment(ctx context.Context, scope Scope, c domain.CostAssignment) (domain.CostAssignment, error) {
	return mutateChild(ctx, s, "add cost assignment", "cost_assignments", scope, nil, func(t *domain.Travel) (domain.CostAssignment, error) {
		return t.AddCostAssignment(c)
	})
}

// AddTravelActivity records what the trip is for.
func (s *Service) AddTravelActivity(ctx context.Context, scope Scope, a domain.TravelActivity) (domain.TravelActivity, error) {
	return mutateChild(ctx, s, "add travel activity", "activities", scope, nil, func(t *domain.Travel) (domain.TravelActivity, error) {
		return t.AddActivity(a)
	})
}
