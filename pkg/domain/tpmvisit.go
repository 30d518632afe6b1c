package domain

import (
	"time"
)

// TPMActivity is one monitoring activity performed during a visit.
type TPMActivity struct {
	ID                string     `json:"id"`
	PartnerID         string     `json:"partner"`
	InterventionID    string     `json:"intervention,omitempty"`
	Section           string     `json:"section,omitempty"`
	Date              *time.Time `json:"date,omitempty"`
	UnicefFocalPoints []Person   `json:"unicef_focal_points"`
	Offices           []string   `json:"offices"`
	Locations         []string   `json:"locations,omitempty"`
	AdditionalInfo    string     `json:"additional_information,omitempty"`
}

// TPMVisit is a field monitoring visit carried out by a third-party monitor.
type TPMVisit struct {
	Header
	TPMPartnerID          string        `json:"tpm_partner"`
	TPMPartnerFocalPoints []Person      `json:"tpm_partner_focal_points"`
	Author                Person        `json:"author"`
	StartDate             *time.Time    `json:"start_date,omitempty"`
	EndDate               *time.Time    `json:"end_date,omitempty"`
	Activities            []TPMActivity `json:"tpm_activities"`
	RejectComment         string        `json:"reject_comment,omitempty"`
	ReportRejectComment   string        `json:"report_reject_comment,omitempty"`
	CancelComment         string        `json:"cancel_comment,omitempty"`
	ApprovalComment       string        `json:"approval_comment,omitempty"`
}

// Kind implements Document.
func (*TPMVisit) Kind() Kind { return KindTPMVisit }

// ReferencePrefix implements Numbered.
func (*TPMVisit) ReferencePrefix() string { return DefaultReferencePrefix(KindTPMVisit) }

// SetTransitionComment implements Commented.
func (v *TPMVisit) SetTransitionComment(field, comment string) error {
	switch field {
	case "reject_comment":
		v.RejectComment = comment
	case "report_reject_comment":
		v.ReportRejectComment = comment
	case "cancel_comment":
		v.CancelComment = comment
	case "approval_comment":
		v.ApprovalComment = comment
	default:
		return unknownCommentField(v.Kind(), field)
	}
	return nil
}

// UnicefFocalPoints collects focal points across activities.
func (v *TPMVisit) UnicefFocalPoints() []Person {
	var out []Person
	for _, a := range v.Activities {
		out = append(out, a.UnicefFocalPoints...)
	}
	return out
}

// Recipients implements Addressable.
func (v *TPMVisit) Recipients(role RecipientRole) []string {
	switch role {
	case RecipientTPMStaff:
		return Emails(v.TPMPartnerFocalPoints)
	case RecipientUnicefFocalPoints:
		return Emails(append(v.UnicefFocalPoints(), v.Author))
	}
	return nil
}

// AddActivity appends a monitoring activity.
func (v *TPMVisit) AddActivity(a TPMActivity) (TPMActivity, error) {
	if a.PartnerID == "" {
		return TPMActivity{}, ValidationFailed("add tpm activity", FieldErrors{"tpm_activities.partner": {"This field is required."}})
	}
	ensureID(&a.ID)
	v.Activities = append(v.Activities, a)
	return a, nil
}

// RemoveActivity deletes a monitoring activity.
func (v *TPMVisit) RemoveActivity(id string) error {
	i := indexByID(v.Activities, id, func(a *TPMActivity) string { return a.ID })
	if i < 0 {
		return ChildNotFound("remove tpm activity", "tpm activity", id)
	}
	v.Activities = removeAt(v.Activities, i)
	return nil
}
