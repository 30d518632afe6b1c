package core

import (
	"context"

	"partnercore/internal/notify"
	"partnercore/pkg/domain"
)

// engagementReportFields lists what an auditor must fill in per engagement type.
var engagementReportFields = map[domain.EngagementType][]string{
	domain.EngagementAudit:           {"audited_expenditure", "financial_findings", "audit_opinion", "currency_of_report", "exchange_rate"},
	domain.EngagementSpotCheck:       {"total_amount_tested", "total_amount_of_ineligible_expenditure", "internal_controls", "currency_of_report"},
	domain.EngagementMicroAssessment: {"overall_risk"},
	domain.EngagementSpecialAudit:    {},
}

var engagementReportComplete = Typed("engagement_report", func(ctx context.Context, env CheckEnv, e *domain.Engagement) (domain.FieldErrors, error) {
	fields, ok := engagementReportFields[e.EngagementType]
	if !ok {
		return domain.FieldErrors{"engagement_type": {"Unknown engagement type."}}, nil
	}
	errs, err := RequiredFields(fields...).Run(ctx, env, e)
	if err != nil {
		return nil, err
	}
	switch e.EngagementType {
	case domain.EngagementAudit:
		if len(e.KeyInternalControls) == 0 {
			errs.Add("key_internal_controls", "At least one key internal control is required.")
		}
	case domain.EngagementSpecialAudit:
		if len(e.SpecificProcedures) == 0 {
			errs.Add("specific_procedures", "At least one specific procedure is required.")
		}
	}
	if e.CurrencyOfReport != "" && !validCurrency(e.CurrencyOfReport) {
		errs.Add("currency_of_report", "Not a valid ISO 4217 currency.")
	}
	dateOrder(errs, "end_date", e.StartDate, e.EndDate, "End date must not precede start date.")
	return errs, nil
})

// EngagementMachine is the audit, spot check, micro assessment and special audit workflow.
func EngagementMachine() *Machine {
	focal := []domain.Role{domain.RoleAuditFocalPoint}
	return MustMachine(domain.KindEngagement,
		Transition{
			Name:    "submit",
			Sources: []domain.Status{domain.StatusPartnerContacted},
			Target:  domain.StatusReportSubmitted,
			Roles:   []domain.Role{domain.RoleAuditor},
			Checks: []Check{
				engagementReportComplete,
				AttachmentPresent(domain.AttachmentReport, domain.FileTypeReport, "report_attachments", "You should attach report."),
			},
			Effects: []Effect{
				StampDate("date_of_report_submit"),
				Notify(notify.AuditEngagementReported, domain.RecipientUnicefFocalPoints),
			},
		},
		Transition{
			Name:    "send_back",
			Sources: []domain.Status{domain.StatusReportSubmitted},
			Target:  domain.StatusPartnerContacted,
			Roles:   focal,
			Checks:  []Check{CommentRequired()},
			Effects: []Effect{
				KeepComment("send_back_comment"),
				Notify(notify.AuditEngagementSentBack, domain.RecipientAuditorStaff),
			},
		},
		Transition{
			Name:    "finalize",
			Sources: []domain.Status{domain.StatusReportSubmitted},
			Target:  domain.StatusFinal,
			Roles:   focal,
			Effects: []Effect{
				StampDate("date_of_final_report"),
				Notify(notify.AuditEngagementFinal, domain.RecipientPartnerFocalPoints, domain.RecipientUnicefFocalPoints),
			},
		},
		Transition{
			Name:    "cancel",
			Sources: []domain.Status{domain.StatusPartnerContacted, domain.StatusReportSubmitted},
			Target:  domain.StatusCancelled,
			Roles:   focal,
			Checks:  []Check{CommentRequired()},
			Effects: []Effect{
				StampDate("date_of_cancel"),
				KeepComment("cancel_comment"),
			},
		},
	)
}
