package domain

import (
	"fmt"
	"time"
)

// AgreementType is the legal instrument of an agreement.
type AgreementType string

// Agreement types.
const (
	AgreementPCA  AgreementType = "PCA"
	AgreementSSFA AgreementType = "SSFA"
	AgreementMOU  AgreementType = "MOU"
)

// Agreement is the legal framework between UNICEF and a partner.
type Agreement struct {
	Header
	AgreementType       AgreementType `json:"agreement_type"`
	PartnerID           string        `json:"partner"`
	CountryProgrammeID  string        `json:"country_programme,omitempty"`
	Start               *time.Time    `json:"start,omitempty"`
	End                 *time.Time    `json:"end,omitempty"`
	SignedByUnicefDate  *time.Time    `json:"signed_by_unicef_date,omitempty"`
	SignedByPartnerDate *time.Time    `json:"signed_by_partner_date,omitempty"`
	SignedBy            string        `json:"signed_by,omitempty"`
	PartnerManager      Person        `json:"partner_manager"`
	AuthorizedOfficers  []Person      `json:"authorized_officers"`
	UnicefFocalPoints   []Person      `json:"unicef_focal_points"`
	Amendments          []Amendment   `json:"amendments"`
	TerminationReason   string        `json:"termination_reason,omitempty"`
}

// Kind implements Document.
func (*Agreement) Kind() Kind { return KindAgreement }

// Title implements Titled.
func (a *Agreement) Title() string {
	return fmt.Sprintf("%s %s", a.AgreementType, a.PartnerID)
}

// ReferencePrefix implements Numbered.
func (a *Agreement) ReferencePrefix() string {
	if a.AgreementType == "" {
		return string(AgreementPCA)
	}
	return string(a.AgreementType)
}

// SignedDate is the later of both signatures, or nil until both exist.
func (a *Agreement) SignedDate() *time.Time {
	return laterOf(a.SignedByUnicefDate, a.SignedByPartnerDate)
}

// Recipients implements Addressable.
func (a *Agreement) Recipients(role RecipientRole) []string {
	switch role {
	case RecipientUnicefFocalPoints:
		return Emails(a.UnicefFocalPoints)
	case RecipientPartnerFocalPoints:
		people := append([]Person{a.PartnerManager}, a.AuthorizedOfficers...)
		return Emails(people)
	}
	return nil
}

// SetTransitionComment implements Commented.
func (a *Agreement) SetTransitionComment(field, comment string) error {
	if field != "termination_reason" {
		return unknownCommentField(a.Kind(), field)
	}
	a.TerminationReason = comment
	return nil
}

// IsPartnerContact reports whether actor signs or manages on the partner side.
func (a *Agreement) IsPartnerContact(actor Actor) bool {
	return a.PartnerManager.Is(actor) || ContainsActor(a.AuthorizedOfficers, actor)
}

func (a *Agreement) amendments() amendmentList {
	return amendmentList{kind: KindAgreement, items: &a.Amendments, signed: a.SignedDate()}
}

// AddAmendment appends an amendment.
func (a *Agreement) AddAmendment(am Amendment) (Amendment, error) { return a.amendments().add(am) }

// UpdateAmendment edits an unsigned amendment.
func (a *Agreement) UpdateAmendment(id string, fn func(*Amendment) error) (Amendment, error) {
	return a.amendments().update(id, fn)
}

// DeleteAmendment removes an unsigned amendment.
func (a *Agreement) DeleteAmendment(id string) error { return a.amendments().remove(id) }
