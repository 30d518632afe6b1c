package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RequestType is the kind of funding request an e-Face form makes.
type RequestType string

// e-Face request types.
const (
	RequestDirectCashTransfer RequestType = "dct"
	RequestReimbursement      RequestType = "rmb"
	RequestDirectPayment      RequestType = "dp"
)

// ValidRequestType reports whether t is a known request type.
func ValidRequestType(t RequestType) bool {
	switch t {
	case RequestDirectCashTransfer, RequestReimbursement, RequestDirectPayment:
		return true
	}
	return false
}

// EFaceLine is one activity line of the funding request.
type EFaceLine struct {
	ID                  string          `json:"id"`
	Description         string          `json:"description"`
	ReportingAuthorized decimal.Decimal `json:"reporting_authorized_amount"`
	ReportedExpenditure decimal.Decimal `json:"reported_expenditure"`
	RequestedAmount     decimal.Decimal `json:"requested_amount"`
	AcceptedAmount      decimal.Decimal `json:"accepted_amount"`
}

// EFaceTotals sums the line amounts.
type EFaceTotals struct {
	ReportingAuthorized decimal.Decimal `json:"reporting_authorized_amount"`
	ReportedExpenditure decimal.Decimal `json:"reported_expenditure"`
	RequestedAmount     decimal.Decimal `json:"requested_amount"`
	AcceptedAmount      decimal.Decimal `json:"accepted_amount"`
}

// EFaceForm is a partner's funding authorization and certificate of expenditure.
type EFaceForm struct {
	Header
	TitleText          string      `json:"title"`
	InterventionID     string      `json:"intervention"`
	RequestType        RequestType `json:"request_type"`
	Currency           string      `json:"currency"`
	ReportingStart     *time.Time  `json:"reporting_start_date,omitempty"`
	ReportingEnd       *time.Time  `json:"reporting_end_date,omitempty"`
	DueDate            *time.Time  `json:"due_date,omitempty"`
	SubmissionDate     *time.Time  `json:"submission_date,omitempty"`
	UnicefFocalPoints  []Person    `json:"unicef_focal_points"`
	PartnerFocalPoints []Person    `json:"partner_focal_points"`
	Lines              []EFaceLine `json:"activities"`
	Totals             EFaceTotals `json:"totals"`
	RejectionReason    string      `json:"rejection_reason,omitempty"`
	CancelReason       string      `json:"cancel_reason,omitempty"`
}

// Kind implements Document.
func (*EFaceForm) Kind() Kind { return KindEFace }

// Title implements Titled.
func (f *EFaceForm) Title() string { return f.TitleText }

// ReferencePrefix implements Numbered.
func (*EFaceForm) ReferencePrefix() string { return DefaultReferencePrefix(KindEFace) }

func (f *EFaceForm) computedTotals() EFaceTotals {
	var t EFaceTotals
	for _, l := range f.Lines {
		t.ReportingAuthorized = t.ReportingAuthorized.Add(l.ReportingAuthorized)
		t.ReportedExpenditure = t.ReportedExpenditure.Add(l.ReportedExpenditure)
		t.RequestedAmount = t.RequestedAmount.Add(l.RequestedAmount)
		t.AcceptedAmount = t.AcceptedAmount.Add(l.AcceptedAmount)
	}
	return t
}

// Recalculate implements Totaled.
func (f *EFaceForm) Recalculate() { f.Totals = f.computedTotals() }

// TotalsErrors implements Totaled.
func (f *EFaceForm) TotalsErrors() FieldErrors {
	errs := FieldErrors{}
	c := f.computedTotals()
	if !c.RequestedAmount.Equal(f.Totals.RequestedAmount) {
		errs.Add("totals.requested_amount", "Total does not match the sum of lines.")
	}
	if !c.ReportedExpenditure.Equal(f.Totals.ReportedExpenditure) {
		errs.Add("totals.reported_expenditure", "Total does not match the sum of lines.")
	}
	if !c.ReportingAuthorized.Equal(f.Totals.ReportingAuthorized) {
		errs.Add("totals.reporting_authorized_amount", "Total does not match the sum of lines.")
	}
	if !c.AcceptedAmount.Equal(f.Totals.AcceptedAmount) {
		errs.Add("totals.accepted_amount", "Total does not match the sum of lines.")
	}
	for _, l := range f.Lines {
		if l.RequestedAmount.IsNegative() {
			errs.Add("activities.requested_amount", "Amount must not be negative.")
		}
	}
	return errs
}

// StampDate implements DateStamper.
func (f *EFaceForm) StampDate(field string, at time.Time) error {
	if field != "submission_date" {
		return unknownDateField(f.Kind(), field)
	}
	stamp(&f.SubmissionDate, at)
	return nil
}

// SetTransitionComment implements Commented.
func (f *EFaceForm) SetTransitionComment(field, comment string) error {
	switch field {
	case "rejection_reason":
		f.RejectionReason = comment
	case "cancel_reason":
		f.CancelReason = comment
	default:
		return unknownCommentField(f.Kind(), field)
	}
	return nil
}

// Recipients implements Addressable.
func (f *EFaceForm) Recipients(role RecipientRole) []string {
	switch role {
	case RecipientUnicefFocalPoints:
		return Emails(f.UnicefFocalPoints)
	case RecipientPartnerFocalPoints:
		return Emails(f.PartnerFocalPoints)
	}
	return nil
}

// AddLine appends a line and recomputes totals.
func (f *EFaceForm) AddLine(l EFaceLine) (EFaceLine, error) {
	if l.Description == "" {
		return EFaceLine{}, ValidationFailed("add eface line", FieldErrors{"activities.description": {"This field is required."}})
	}
	ensureID(&l.ID)
	f.Lines = append(f.Lines, l)
	f.Recalculate()
	return l, nil
}

// RemoveLine deletes a line and recomputes totals.
func (f *EFaceForm) RemoveLine(id string) error {
	i := indexByID(f.Lines, id, func(l *EFaceLine) string { return l.ID })
	if i < 0 {
		return ChildNotFound("remove eface line", "line", id)
	}
	f.Lines = removeAt(f.Lines, i)
	f.Recalculate()
	return nil
}
