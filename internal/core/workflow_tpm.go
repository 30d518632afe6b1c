package core

import (
	"context"

	"partnercore/internal/notify"
	"partnercore/pkg/domain"
)

var tpmVisitAssignable = Typed("tpm_assignable", func(_ context.Context, _ CheckEnv, v *domain.TPMVisit) (domain.FieldErrors, error) {
	errs := domain.FieldErrors{}
	if v.TPMPartnerID == "" {
		errs.Add("tpm_partner", msgRequired)
	}
	if len(v.Activities) == 0 {
		errs.Add("tpm_activities", "At least one activity is required.")
	}
	for _, a := range v.Activities {
		if len(a.UnicefFocalPoints) == 0 {
			errs.Add("tpm_activities.unicef_focal_points", "Every activity needs a UNICEF focal point.")
		}
		if len(a.Offices) == 0 {
			errs.Add("tpm_activities.offices", "Every activity needs an office.")
		}
	}
	dateOrder(errs, "end_date", v.StartDate, v.EndDate, "End date must not precede start date.")
	return errs, nil
})

// TPMVisitMachine is the third-party monitoring visit workflow.
func TPMVisitMachine() *Machine {
	pme := []domain.Role{domain.RolePME}
	planners := []domain.Role{domain.RolePME, domain.RoleUnicefFocalPoint}
	monitor := []domain.Role{domain.RoleTPMFocalPoint}
	return MustMachine(domain.KindTPMVisit,
		Transition{
			Name:    "assign",
			Sources: []domain.Status{domain.StatusDraft, domain.StatusTPMRejected},
			Target:  domain.StatusAssigned,
			Roles:   planners,
			Checks:  []Check{tpmVisitAssignable},
			Effects: []Effect{Notify(notify.TPMVisitAssign, domain.RecipientTPMStaff)},
		},
		Transition{
			Name:    "accept",
			Sources: []domain.Status{domain.StatusAssigned},
			Target:  domain.StatusTPMAccepted,
			Roles:   monitor,
			Effects: []Effect{Notify(notify.TPMVisitAccepted, domain.RecipientUnicefFocalPoints)},
		},
		Transition{
			Name:    "reject",
			Sources: []domain.Status{domain.StatusAssigned},
			Target:  domain.StatusTPMRejected,
			Roles:   monitor,
			Checks:  []Check{CommentRequired()},
			Effects: []Effect{
				KeepComment("reject_comment"),
				Notify(notify.TPMVisitRejected, domain.RecipientUnicefFocalPoints),
			},
		},
		Transition{
			Name:    "send_report",
			Sources: []domain.Status{domain.StatusTPMAccepted, domain.StatusTPMReportRejected},
			Target:  domain.StatusTPMReported,
			Roles:   monitor,
			Checks: []Check{
				AttachmentPresent(domain.AttachmentTPMVisitReport, "", "report_attachments", "You should attach report."),
			},
			Effects: []Effect{Notify(notify.TPMVisitReported, domain.RecipientUnicefFocalPoints)},
		},
		Transition{
			Name:    "reject_report",
			Sources: []domain.Status{domain.StatusTPMReported},
			Target:  domain.StatusTPMReportRejected,
			Roles:   pme,
			Checks:  []Check{CommentRequired()},
			Effects: []Effect{
				KeepComment("report_reject_comment"),
				Notify(notify.TPMVisitReportRejected, domain.RecipientTPMStaff),
			},
		},
		Transition{
			Name:    "approve",
			Sources: []domain.Status{domain.StatusTPMReported},
			Target:  domain.StatusUnicefApproved,
			Roles:   planners,
			Effects: []Effect{
				KeepComment("approval_comment"),
				Notify(notify.TPMVisitApproved, domain.RecipientTPMStaff, domain.RecipientUnicefFocalPoints),
			},
		},
		Transition{
			Name: "cancel",
			Sources: []domain.Status{
				domain.StatusDraft, domain.StatusAssigned, domain.StatusTPMAccepted, domain.StatusTPMRejected,
				domain.StatusTPMReported, domain.StatusTPMReportRejected,
			},
			Target: domain.StatusCancelled,
			Roles:  pme,
			Checks: []Check{CommentRequired()},
			Effects: []Effect{
				KeepComment("cancel_comment"),
				Notify(notify.TPMVisitCancelled, domain.RecipientTPMStaff),
			},
		},
	)
}
