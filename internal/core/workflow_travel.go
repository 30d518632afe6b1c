package core

import (
	"context"

	"partnercore/internal/notify"
	"partnercore/pkg/domain"
)

var travelSubmittable = Typed("trip_submittable", func(_ context.Context, _ CheckEnv, t *domain.Travel) (domain.FieldErrors, error) {
	errs := domain.FieldErrors{}
	if t.Supervisor.IsZero() {
		errs.Add("supervisor", msgRequired)
	}
	if t.StartDate == nil {
		errs.Add("start_date", msgRequired)
	}
	if t.EndDate == nil {
		errs.Add("end_date", msgRequired)
	}
	dateOrder(errs, "end_date", t.StartDate, t.EndDate, "End date must not precede start date.")
	for i, leg := range t.Itinerary {
		if leg.ArrivalDate.Before(leg.DepartureDate) {
			errs.Add("itinerary.arrival_date", "Arrival must not precede departure.")
		}
		if i > 0 && leg.DepartureDate.Before(t.Itinerary[i-1].ArrivalDate) {
			errs.Add("itinerary.departure_date", "Itinerary legs must be in chronological order.")
		}
	}
	return errs, nil
})

var travelFullyAssigned = Typed("cost_assignments", func(_ context.Context, _ CheckEnv, t *domain.Travel) (domain.FieldErrors, error) {
	total := 0
	for _, c := range t.CostAssignments {
		total += c.Share
	}
	if total != 100 {
		return domain.FieldErrors{"cost_assignments": {"Shares should add up to 100%."}}, nil
	}
	return nil, nil
})

var travelReported = Typed("trip_report", func(_ context.Context, _ CheckEnv, t *domain.Travel) (domain.FieldErrors, error) {
	if t.TARequired && t.Report == "" {
		return domain.FieldErrors{"report": {"Field report has to be filled."}}, nil
	}
	return nil, nil
})

func international(doc domain.Document) bool {
	t, ok := doc.(*domain.Travel)
	return ok && t.InternationalTravel
}

// TravelMachine is the trip authorization and certification workflow.
func TravelMachine() *Machine {
	traveler := []domain.Role{domain.RoleTraveler}
	supervisor := []domain.Role{domain.RoleSupervisor}
	owners := []domain.Role{domain.RoleTraveler, domain.RoleTravelAdministrator}
	return MustMachine(domain.KindTravel,
		Transition{
			Name:    "submit_for_approval",
			Sources: []domain.Status{domain.StatusPlanned, domain.StatusRejected},
			Target:  domain.StatusSubmitted,
			Roles:   traveler,
			Checks: []Check{
				RequiredFields("purpose"),
				MinCount("itinerary", 1, "Travel must have at least one itinerary item."),
				travelSubmittable,
			},
			Effects: []Effect{Notify(notify.TripSubmitted, domain.RecipientSupervisor)},
		},
		Transition{
			Name:    "approve",
			Sources: []domain.Status{domain.StatusSubmitted},
			Target:  domain.StatusApproved,
			Roles:   supervisor,
			Effects: []Effect{Notify(notify.TripApproved, domain.RecipientTraveler)},
		},
		Transition{
			Name:    "reject",
			Sources: []domain.Status{domain.StatusSubmitted},
			Target:  domain.StatusRejected,
			Roles:   supervisor,
			Checks:  []Check{CommentRequired()},
			Effects: []Effect{
				KeepComment("rejection_note"),
				Notify(notify.TripRejected, domain.RecipientTraveler),
			},
		},
		Transition{
			Name:    "cancel",
			Sources: []domain.Status{domain.StatusPlanned, domain.StatusSubmitted, domain.StatusApproved, domain.StatusRejected},
			Target:  domain.StatusCancelled,
			Roles:   owners,
			Effects: []Effect{KeepComment("cancellation_note")},
		},
		Transition{
			Name:    "send_for_payment",
			Sources: []domain.Status{domain.StatusApproved},
			Target:  domain.StatusSentForPayment,
			Roles:   owners,
			Checks:  []Check{travelFullyAssigned},
			Effects: []Effect{Notify(notify.TripSentForPayment, domain.RecipientFinanceFocalPoints)},
		},
		Transition{
			Name:    "submit_certificate",
			Sources: []domain.Status{domain.StatusSentForPayment, domain.StatusCertificationRejected},
			Target:  domain.StatusCertificationSubmitted,
			Roles:   traveler,
			Checks:  []Check{TotalsConsistent()},
			Effects: []Effect{Notify(notify.TripCertificateSubmitted, domain.RecipientSupervisor)},
		},
		Transition{
			Name:    "approve_certificate",
			Sources: []domain.Status{domain.StatusCertificationSubmitted},
			Target:  domain.StatusCertificationApproved,
			Roles:   supervisor,
			Effects: []Effect{Notify(notify.TripCertificateApproved, domain.RecipientTraveler)},
		},
		Transition{
			Name:    "reject_certificate",
			Sources: []domain.Status{domain.StatusCertificationSubmitted},
			Target:  domain.StatusCertificationRejected,
			Roles:   supervisor,
			Checks:  []Check{CommentRequired()},
			Effects: []Effect{
				KeepComment("certification_note"),
				Notify(notify.TripCertificateRejected, domain.RecipientTraveler),
			},
		},
		Transition{
			Name:    "mark_as_completed",
			Sources: []domain.Status{domain.StatusCertificationApproved},
			Target:  domain.StatusCompleted,
			Roles:   owners,
			Checks:  []Check{travelReported},
			Effects: []Effect{
				NotifyIf(international, notify.TripCompleted, domain.RecipientRepresentative, domain.RecipientTraveler),
			},
		},
	)
}
