package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EngagementType is the assurance activity performed by an audit firm.
type EngagementType string

// Engagement types.
const (
	EngagementAudit           EngagementType = "audit"
	EngagementSpotCheck       EngagementType = "spot_check"
	EngagementMicroAssessment EngagementType = "micro_assessment"
	EngagementSpecialAudit    EngagementType = "special_audit"
)

var engagementPrefixes = map[EngagementType]string{
	EngagementAudit:           "AU",
	EngagementSpotCheck:       "SC",
	EngagementMicroAssessment: "MA",
	EngagementSpecialAudit:    "SA",
}

// KeyInternalControl is an audit finding on partner controls.
type KeyInternalControl struct {
	ID               string `json:"id"`
	Recommendation   string `json:"recommendation"`
	AuditObservation string `json:"audit_observation"`
	IPResponse       string `json:"ip_response,omitempty"`
}

// SpecificProcedure is an agreed-upon procedure of a special audit.
type SpecificProcedure struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Finding     string `json:"finding"`
}

// Engagement is an audit, spot check, micro assessment or special audit.
type Engagement struct {
	Header
	EngagementType                     EngagementType       `json:"engagement_type"`
	PartnerID                          string               `json:"partner"`
	AuditorFirmID                      string               `json:"auditor_firm"`
	PurchaseOrder                      string               `json:"po_item,omitempty"`
	StaffMembers                       []Person             `json:"staff_members"`
	UnicefFocalPoints                  []Person             `json:"unicef_focal_points"`
	PartnerContacts                    []Person             `json:"authorized_officers"`
	StartDate                          *time.Time           `json:"start_date,omitempty"`
	EndDate                            *time.Time           `json:"end_date,omitempty"`
	PartnerContactedAt                 *time.Time           `json:"partner_contacted_at,omitempty"`
	DateOfFieldVisit                   *time.Time           `json:"date_of_field_visit,omitempty"`
	DateOfDraftReportToIP              *time.Time           `json:"date_of_draft_report_to_ip,omitempty"`
	DateOfCommentsByIP                 *time.Time           `json:"date_of_comments_by_ip,omitempty"`
	DateOfDraftReportToUnicef          *time.Time           `json:"date_of_draft_report_to_unicef,omitempty"`
	DateOfCommentsByUnicef             *time.Time           `json:"date_of_comments_by_unicef,omitempty"`
	DateOfReportSubmit                 *time.Time           `json:"date_of_report_submit,omitempty"`
	DateOfFinalReport                  *time.Time           `json:"date_of_final_report,omitempty"`
	DateOfCancel                       *time.Time           `json:"date_of_cancel,omitempty"`
	TotalValue                         decimal.Decimal      `json:"total_value"`
	CurrencyOfReport                   string               `json:"currency_of_report,omitempty"`
	ExchangeRate                       *decimal.Decimal     `json:"exchange_rate,omitempty"`
	AuditedExpenditure                 *decimal.Decimal     `json:"audited_expenditure,omitempty"`
	FinancialFindings                  *decimal.Decimal     `json:"financial_findings,omitempty"`
	AuditOpinion                       string               `json:"audit_opinion,omitempty"`
	KeyInternalControls                []KeyInternalControl `json:"key_internal_controls"`
	TotalAmountTested                  *decimal.Decimal     `json:"total_amount_tested,omitempty"`
	TotalAmountOfIneligibleExpenditure *decimal.Decimal     `json:"total_amount_of_ineligible_expenditure,omitempty"`
	InternalControls                   string               `json:"internal_controls,omitempty"`
	OverallRisk                        string               `json:"overall_risk,omitempty"`
	SpecificProcedures                 []SpecificProcedure  `json:"specific_procedures"`
	SendBackComment                    string               `json:"send_back_comment,omitempty"`
	CancelComment                      string               `json:"cancel_comment,omitempty"`
}

// Kind implements Document.
func (*Engagement) Kind() Kind { return KindEngagement }

// Title implements Titled.
func (e *Engagement) Title() string { return string(e.EngagementType) + " " + e.PartnerID }

// ReferencePrefix implements Numbered.
func (e *Engagement) ReferencePrefix() string {
	if p, ok := engagementPrefixes[e.EngagementType]; ok {
		return p
	}
	return "AU"
}

// DisplayedStatus derives the presented status from report milestones while
// the engagement waits on the auditor. Later milestones take precedence.
func (e *Engagement) DisplayedStatus() Status {
	if e.Status != StatusPartnerContacted {
		return e.Status
	}
	switch {
	case e.DateOfCommentsByIP != nil:
		return StatusCommentsReceivedByPartner
	case e.DateOfDraftReportToIP != nil:
		return StatusDraftIssuedToPartner
	case e.DateOfCommentsByUnicef != nil:
		return StatusCommentsReceivedByUnicef
	case e.DateOfDraftReportToUnicef != nil:
		return StatusDraftIssuedToUnicef
	case e.DateOfFieldVisit != nil:
		return StatusFieldVisit
	}
	return e.Status
}

// StampDate implements DateStamper.
func (e *Engagement) StampDate(field string, at time.Time) error {
	switch field {
	case "date_of_report_submit":
		stamp(&e.DateOfReportSubmit, at)
	case "date_of_final_report":
		stamp(&e.DateOfFinalReport, at)
	case "date_of_cancel":
		stamp(&e.DateOfCancel, at)
	case "partner_contacted_at":
		stamp(&e.PartnerContactedAt, at)
	default:
		return unknownDateField(e.Kind(), field)
	}
	return nil
}

// SetTransitionComment implements Commented.
func (e *Engagement) SetTransitionComment(field, comment string) error {
	switch field {
	case "send_back_comment":
		e.SendBackComment = comment
	case "cancel_comment":
		e.CancelComment = comment
	default:
		return unknownCommentField(e.Kind(), field)
	}
	return nil
}

// Recipients implements Addressable.
func (e *Engagement) Recipients(role RecipientRole) []string {
	switch role {
	case RecipientUnicefFocalPoints:
		return Emails(e.UnicefFocalPoints)
	case RecipientPartnerFocalPoints:
		return Emails(e.PartnerContacts)
	case RecipientAuditorStaff:
		return Emails(e.StaffMembers)
	}
	return nil
}

// AddKeyInternalControl appends an audit finding.
func (e *Engagement) AddKeyInternalControl(k KeyInternalControl) (KeyInternalControl, error) {
	if k.AuditObservation == "" {
		return KeyInternalControl{}, ValidationFailed("add key internal control", FieldErrors{"key_internal_controls.audit_observation": {"This field is required."}})
	}
	ensureID(&k.ID)
	e.KeyInternalControls = append(e.KeyInternalControls, k)
	return k, nil
}

// AddSpecificProcedure appends a special audit procedure.
func (e *Engagement) AddSpecificProcedure(p SpecificProcedure) (SpecificProcedure, error) {
	if p.Description == "" {
		return SpecificProcedure{}, ValidationFailed("add specific procedure", FieldErrors{"specific_procedures.description": {"This field is required."}})
	}
	ensureID(&p.ID)
	e.SpecificProcedures = append(e.SpecificProcedures, p)
	return p, nil
}
