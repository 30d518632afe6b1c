package core

import (
	"context"

	"partnercore/internal/notify"
	"partnercore/pkg/domain"
)

var agreementSignable = Typed("agreement_signable", func(ctx context.Context, env CheckEnv, a *domain.Agreement) (domain.FieldErrors, error) {
	errs := domain.FieldErrors{}
	if a.SignedByUnicefDate == nil {
		errs.Add("signed_by_unicef_date", msgRequired)
	}
	if a.SignedByPartnerDate == nil {
		errs.Add("signed_by_partner_date", msgRequired)
	}
	notFuture(errs, "signed_by_unicef_date", a.SignedByUnicefDate, env.Now, "Signed date cannot be in the future.")
	notFuture(errs, "signed_by_partner_date", a.SignedByPartnerDate, env.Now, "Signed date cannot be in the future.")
	if a.Start == nil {
		errs.Add("start", msgRequired)
	}
	dateOrder(errs, "end", a.Start, a.End, "End date must not precede start date.")
	if (a.AgreementType == domain.AgreementPCA || a.AgreementType == domain.AgreementSSFA) && len(a.AuthorizedOfficers) == 0 {
		errs.Add("authorized_officers", "Partner authorized officers are required.")
	}
	if a.AgreementType == domain.AgreementPCA && a.CountryProgrammeID == "" {
		errs.Add("country_programme", msgRequired)
	}
	if !errs.Empty() {
		return errs, nil
	}
	if env.RefData != nil {
		if _, err := env.RefData.Partner(ctx, a.Tenant, a.PartnerID); err != nil {
			if !domain.IsKind(err, domain.ErrKindNotFound) {
				return nil, err
			}
			errs.Add("partner", "Partner does not exist.")
			return errs, nil
		}
	}
	return countryProgrammeCovers(ctx, env, a.Tenant, a.CountryProgrammeID, a.Start, a.End)
})

var agreementExpired = Typed("agreement_expired", func(_ context.Context, env CheckEnv, a *domain.Agreement) (domain.FieldErrors, error) {
	if a.End == nil || !truncateDay(*a.End).Before(truncateDay(env.Now)) {
		return domain.FieldErrors{"end": {"Agreement end date has not passed."}}, nil
	}
	return nil, nil
})

// AgreementMachine is the agreement workflow.
func AgreementMachine() *Machine {
	pm := []domain.Role{domain.RolePartnershipManager}
	return MustMachine(domain.KindAgreement,
		Transition{
			Name:    "sign",
			Sources: []domain.Status{domain.StatusDraft},
			Target:  domain.StatusSigned,
			Roles:   pm,
			Checks: []Check{
				RequiredFields("agreement_type", "partner"),
				agreementSignable,
				AttachmentPresent(domain.AttachmentPartnersAgreement, "", "attachment", "Signed agreement document is required."),
			},
			Effects: []Effect{
				Notify(notify.AgreementSigned, domain.RecipientUnicefFocalPoints, domain.RecipientPartnerFocalPoints),
			},
		},
		Transition{
			Name:    "suspend",
			Sources: []domain.Status{domain.StatusSigned},
			Target:  domain.StatusSuspended,
			Roles:   pm,
			Effects: []Effect{
				CascadeInterventions([]domain.Status{domain.StatusSigned, domain.StatusActive}, domain.StatusSuspended),
				Notify(notify.AgreementSuspended, domain.RecipientUnicefFocalPoints, domain.RecipientPartnerFocalPoints),
			},
		},
		Transition{
			Name:    "unsuspend",
			Sources: []domain.Status{domain.StatusSuspended},
			Target:  domain.StatusSigned,
			Roles:   pm,
		},
		Transition{
			Name:    "terminate",
			Sources: []domain.Status{domain.StatusSigned, domain.StatusSuspended},
			Target:  domain.StatusTerminated,
			Roles:   pm,
			Checks: []Check{
				AttachmentPresent(domain.AttachmentTermination, "", "termination_doc", "Termination document is required."),
			},
			Effects: []Effect{
				KeepComment("termination_reason"),
				CascadeInterventions([]domain.Status{domain.StatusSigned, domain.StatusActive, domain.StatusSuspended}, domain.StatusTerminated),
				Notify(notify.AgreementTerminated, domain.RecipientUnicefFocalPoints, domain.RecipientPartnerFocalPoints),
			},
		},
		Transition{
			Name:    "end",
			Sources: []domain.Status{domain.StatusSigned},
			Target:  domain.StatusEnded,
			Roles:   pm,
			Checks:  []Check{agreementExpired},
		},
	)
}
