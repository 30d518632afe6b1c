package core

import (
	"context"

	"partnercore/internal/notify"
	"partnercore/pkg/domain"
)

var efaceSubmittable = Typed("eface_submittable", func(_ context.Context, _ CheckEnv, f *domain.EFaceForm) (domain.FieldErrors, error) {
	errs := domain.FieldErrors{}
	if !domain.ValidRequestType(f.RequestType) {
		errs.Add("request_type", "Select a valid request type.")
	}
	if f.ReportingStart == nil {
		errs.Add("reporting_start_date", msgRequired)
	}
	if f.ReportingEnd == nil {
		errs.Add("reporting_end_date", msgRequired)
	}
	dateOrder(errs, "reporting_end_date", f.ReportingStart, f.ReportingEnd, "Reporting end must not precede reporting start.")
	dateOrder(errs, "due_date", f.ReportingEnd, f.DueDate, "Due date must not precede the reporting end.")
	return errs, nil
})

// EFaceMachine is the e-Face funding request workflow.
func EFaceMachine() *Machine {
	reviewer := []domain.Role{domain.RoleUnicefFocalPoint}
	return MustMachine(domain.KindEFace,
		Transition{
			Name:    "submit",
			Sources: []domain.Status{domain.StatusDraft, domain.StatusRejected},
			Target:  domain.StatusSubmitted,
			Roles:   []domain.Role{domain.RolePartnerFocalPoint, domain.RoleUnicefFocalPoint},
			Checks: []Check{
				MinCount("activities", 1, "At least one line is required."),
				efaceSubmittable,
				CurrencyCode("currency"),
				TotalsConsistent(),
			},
			Effects: []Effect{
				StampDate("submission_date"),
				Notify(notify.EFaceSubmitted, domain.RecipientUnicefFocalPoints),
			},
		},
		Transition{
			Name:    "reject",
			Sources: []domain.Status{domain.StatusSubmitted, domain.StatusPending},
			Target:  domain.StatusRejected,
			Roles:   reviewer,
			Checks:  []Check{CommentRequired()},
			Effects: []Effect{
				KeepComment("rejection_reason"),
				Notify(notify.EFaceRejected, domain.RecipientPartnerFocalPoints),
			},
		},
		Transition{
			Name:    "pend",
			Sources: []domain.Status{domain.StatusSubmitted},
			Target:  domain.StatusPending,
			Roles:   reviewer,
		},
		Transition{
			Name:    "approve",
			Sources: []domain.Status{domain.StatusPending},
			Target:  domain.StatusApproved,
			Roles:   reviewer,
			Effects: []Effect{Notify(notify.EFaceApproved, domain.RecipientPartnerFocalPoints)},
		},
		Transition{
			Name:    "close",
			Sources: []domain.Status{domain.StatusApproved},
			Target:  domain.StatusClosed,
			Roles:   reviewer,
		},
		Transition{
			Name:    "cancel",
			Sources: []domain.Status{domain.StatusDraft, domain.StatusRejected},
			Target:  domain.StatusCancelled,
			Roles:   []domain.Role{domain.RolePartnerFocalPoint, domain.RoleUnicefFocalPoint},
			Effects: []Effect{KeepComment("cancel_reason")},
		},
	)
}
