package core

import (
	"context"

	"partnercore/internal/notify"
	"partnercore/pkg/domain"
)

var interventionAgreementExists = Typed("agreement_exists", func(_ context.Context, env CheckEnv, i *domain.Intervention) (domain.FieldErrors, error) {
	if i.AgreementID == "" {
		return domain.FieldErrors{"agreement": {msgRequired}}, nil
	}
	if env.Lookup == nil {
		return nil, nil
	}
	doc, ok := env.lookup(domain.Ref{Tenant: i.Tenant, Kind: domain.KindAgreement, ID: i.AgreementID})
	if !ok {
		return domain.FieldErrors{"agreement": {"Agreement does not exist."}}, nil
	}
	if domain.IsTerminal(domain.KindAgreement, doc.Head().Status) {
		return domain.FieldErrors{"agreement": {"Agreement is no longer in force."}}, nil
	}
	return nil, nil
})

var interventionAgreementSigned = Typed("agreement_signed", func(_ context.Context, env CheckEnv, i *domain.Intervention) (domain.FieldErrors, error) {
	if env.Lookup == nil {
		return nil, nil
	}
	doc, ok := env.lookup(domain.Ref{Tenant: i.Tenant, Kind: domain.KindAgreement, ID: i.AgreementID})
	if !ok {
		return domain.FieldErrors{"agreement": {"Agreement does not exist."}}, nil
	}
	if doc.Head().Status != domain.StatusSigned {
		return domain.FieldErrors{"agreement": {"Agreement must be signed."}}, nil
	}
	return nil, nil
})

var interventionCoherent = Typed("intervention_dates", func(ctx context.Context, env CheckEnv, i *domain.Intervention) (domain.FieldErrors, error) {
	errs := domain.FieldErrors{}
	dateOrder(errs, "end", i.Start, i.End, "End date must not precede start date.")
	for _, rr := range i.ReportingRequirements {
		if rr.EndDate.Before(rr.StartDate) {
			errs.Add("reporting_requirements.end_date", "End date must not precede start date.")
		}
		if rr.DueDate.Before(rr.EndDate) {
			errs.Add("reporting_requirements.due_date", "Due date must not precede end date.")
		}
	}
	if env.RefData != nil {
		for _, s := range i.Sections {
			if !env.RefData.HasSection(ctx, i.Tenant, s) {
				errs.Add("sections", "Unknown section "+s+".")
			}
		}
		for _, o := range i.Offices {
			if !env.RefData.HasOffice(ctx, i.Tenant, o) {
				errs.Add("offices", "Unknown office "+o+".")
			}
		}
	}
	if !errs.Empty() {
		return errs, nil
	}
	return countryProgrammeCovers(ctx, env, i.Tenant, i.CountryProgrammeID, i.Start, i.End)
})

var interventionSignable = Typed("intervention_signable", func(ctx context.Context, env CheckEnv, i *domain.Intervention) (domain.FieldErrors, error) {
	errs := domain.FieldErrors{}
	review, ok := i.ActiveReview()
	switch {
	case !ok:
		errs.Add("reviews", "A review is required before signature.")
	case !review.Approved():
		errs.Add("reviews", "The review must be approved before signature.")
	case review.AuthorizedOfficer == "" || review.OverallApprover == "":
		errs.Add("reviews.overall_approver", "Authorized officer and overall approver are required.")
	default:
		errs.Merge(review.Validate())
	}
	if i.SignedByUnicefDate == nil {
		errs.Add("signed_by_unicef_date", msgRequired)
	}
	if i.SignedByPartnerDate == nil {
		errs.Add("signed_by_partner_date", msgRequired)
	}
	notFuture(errs, "signed_by_unicef_date", i.SignedByUnicefDate, env.Now, "Signed date cannot be in the future.")
	notFuture(errs, "signed_by_partner_date", i.SignedByPartnerDate, env.Now, "Signed date cannot be in the future.")
	if i.Start == nil {
		errs.Add("start", msgRequired)
	}
	if i.End == nil {
		errs.Add("end", msgRequired)
	}
	if i.CountryProgrammeID == "" {
		errs.Add("country_programme", msgRequired)
	}
	if !errs.Empty() {
		return errs, nil
	}
	return countryProgrammeCovers(ctx, env, i.Tenant, i.CountryProgrammeID, i.Start, i.End)
})

var interventionStarted = Typed("intervention_started", func(_ context.Context, env CheckEnv, i *domain.Intervention) (domain.FieldErrors, error) {
	if i.Start == nil || truncateDay(*i.Start).After(truncateDay(env.Now)) {
		return domain.FieldErrors{"start": {"Start date has not been reached."}}, nil
	}
	return nil, nil
})

var interventionFRCurrency = Typed("fr_currency", func(_ context.Context, _ CheckEnv, i *domain.Intervention) (domain.FieldErrors, error) {
	return frCurrencyErrors(i), nil
})

var interventionExpired = Typed("intervention_expired", func(_ context.Context, env CheckEnv, i *domain.Intervention) (domain.FieldErrors, error) {
	if i.End == nil || !truncateDay(*i.End).Before(truncateDay(env.Now)) {
		return domain.FieldErrors{"end": {"End date has not passed."}}, nil
	}
	return nil, nil
})

var interventionFRsCoverBudget = Typed("fr_totals", func(_ context.Context, _ CheckEnv, i *domain.Intervention) (domain.FieldErrors, error) {
	if frTotal(i).LessThan(i.PlannedBudget.UnicefCash) {
		return domain.FieldErrors{"funds_reservations": {"Funds reservations do not cover the UNICEF cash contribution."}}, nil
	}
	return nil, nil
})

// InterventionMachine is the programme document workflow.
func InterventionMachine() *Machine {
	pm := []domain.Role{domain.RolePartnershipManager}
	drafters := []domain.Role{domain.RolePartnershipManager, domain.RoleUnicefFocalPoint}
	return MustMachine(domain.KindIntervention,
		Transition{
			Name:    "send_to_partner",
			Sources: []domain.Status{domain.StatusDevelopment},
			Target:  domain.StatusDraft,
			Roles:   drafters,
			Checks: []Check{
				RequiredFields("title", "document_type"),
				interventionAgreementExists,
			},
			Effects: []Effect{
				StampDate("date_sent_to_partner"),
				OpenReview(),
				Notify(notify.InterventionSentToPartner, domain.RecipientPartnerFocalPoints),
			},
		},
		Transition{
			Name:    "submit",
			Sources: []domain.Status{domain.StatusDraft},
			Target:  domain.StatusReview,
			Roles:   drafters,
			Checks: []Check{
				MinCount("result_links", 1, "At least one result link is required."),
				MinCount("sections", 1, "At least one section is required."),
				MinCount("offices", 1, "At least one office is required."),
				AttachmentPresent(domain.AttachmentSignedPD, "", "signed_pd_attachment", "Signed programme document is required."),
				TotalsConsistent(),
				interventionCoherent,
			},
			Effects: []Effect{
				StampDate("submission_date"),
				Notify(notify.InterventionReviewNeeded, domain.RecipientUnicefFocalPoints),
			},
		},
		Transition{
			Name:    "send_back",
			Sources: []domain.Status{domain.StatusReview},
			Target:  domain.StatusDraft,
			Roles:   drafters,
			Checks:  []Check{CommentRequired()},
			Effects: []Effect{
				KeepComment("send_back_comment"),
				Notify(notify.InterventionSentBack, domain.RecipientUnicefFocalPoints, domain.RecipientPartnerFocalPoints),
			},
		},
		Transition{
			Name:    "signed",
			Sources: []domain.Status{domain.StatusReview},
			Target:  domain.StatusSigned,
			Roles:   pm,
			Checks: []Check{
				interventionAgreementSigned,
				interventionSignable,
				AttachmentPresent(domain.AttachmentSignedPD, "", "signed_pd_attachment", "Signed programme document is required."),
			},
			Effects: []Effect{
				Notify(notify.InterventionSigned, domain.RecipientUnicefFocalPoints, domain.RecipientPartnerFocalPoints),
			},
		},
		Transition{
			Name:    "activate",
			Sources: []domain.Status{domain.StatusSigned},
			Target:  domain.StatusActive,
			Roles:   drafters,
			Checks:  []Check{interventionStarted, interventionFRCurrency},
			Effects: []Effect{
				Notify(notify.InterventionSignedFRs, domain.RecipientUnicefFocalPoints),
			},
		},
		Transition{
			Name:    "suspend",
			Sources: []domain.Status{domain.StatusSigned, domain.StatusActive},
			Target:  domain.StatusSuspended,
			Roles:   pm,
		},
		Transition{
			Name:    "unsuspend",
			Sources: []domain.Status{domain.StatusSuspended},
			Target:  domain.StatusActive,
			Roles:   pm,
		},
		Transition{
			Name:    "terminate",
			Sources: []domain.Status{domain.StatusSigned, domain.StatusActive, domain.StatusSuspended},
			Target:  domain.StatusTerminated,
			Roles:   pm,
			Checks: []Check{
				AttachmentPresent(domain.AttachmentTermination, "", "termination_doc", "Termination document is required."),
			},
		},
		Transition{
			Name:    "end",
			Sources: []domain.Status{domain.StatusActive},
			Target:  domain.StatusEnded,
			Roles:   drafters,
			Checks:  []Check{interventionExpired},
			Effects: []Effect{
				Notify(notify.InterventionEnded, domain.RecipientUnicefFocalPoints),
			},
		},
		Transition{
			Name:    "close",
			Sources: []domain.Status{domain.StatusEnded},
			Target:  domain.StatusClosed,
			Roles:   pm,
			Checks: []Check{
				AttachmentPresent(domain.AttachmentFinalPartnershipReview, "", "final_partnership_review", "Final partnership review is required."),
				interventionFRsCoverBudget,
			},
		},
		Transition{
			Name:    "cancel",
			Sources: []domain.Status{domain.StatusDevelopment, domain.StatusDraft, domain.StatusReview},
			Target:  domain.StatusCancelled,
			Roles:   drafters,
			Checks:  []Check{CommentRequired()},
			Effects: []Effect{KeepComment("cancel_justification")},
		},
	)
}
