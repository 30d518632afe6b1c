package domain

import (
	"fmt"
	"time"
)

// ReviewType selects the review procedure.
type ReviewType string

// Review procedures.
const (
	ReviewPRC    ReviewType = "prc"
	ReviewNonPRC ReviewType = "non-prc"
	ReviewNone   ReviewType = "no-review"
)

// Review records the internal assessment of an intervention or one of its amendments.
// It is frozen once an overall approval decision is recorded.
type Review struct {
	ID                          string     `json:"id"`
	AmendmentID                 string     `json:"amendment_id,omitempty"`
	ReviewType                  ReviewType `json:"review_type"`
	SubmittedBy                 string     `json:"submitted_by,omitempty"`
	AuthorizedOfficer           string     `json:"authorized_officer,omitempty"`
	OverallApprover             string     `json:"overall_approver,omitempty"`
	ReviewDate                  *time.Time `json:"review_date,omitempty"`
	PartnerComparativeAdvantage *bool      `json:"partner_comparative_advantage,omitempty"`
	RelevanceToCountryProgramme *bool      `json:"relevance_to_country_programme,omitempty"`
	Guidance                    *bool      `json:"guidance,omitempty"`
	GESConsidered               *bool      `json:"ges_considered,omitempty"`
	BudgetIsAligned             *bool      `json:"budget_is_aligned,omitempty"`
	SupplyIssuesConsidered      *bool      `json:"supply_issues_considered,omitempty"`
	OverallComment              string     `json:"overall_comment,omitempty"`
	OverallApproval             *bool      `json:"overall_approval,omitempty"`
}

// Frozen reports whether the overall approval has been recorded.
func (r Review) Frozen() bool { return r.OverallApproval != nil }

// Approved reports a positive overall approval.
func (r Review) Approved() bool { return r.OverallApproval != nil && *r.OverallApproval }

// Validate checks reviewer separation and the procedure type.
func (r Review) Validate() FieldErrors {
	errs := FieldErrors{}
	switch r.ReviewType {
	case ReviewPRC, ReviewNonPRC, ReviewNone:
	default:
		errs.Add("reviews.review_type", fmt.Sprintf("%q is not a valid review type.", r.ReviewType))
	}
	if r.AuthorizedOfficer != "" && r.AuthorizedOfficer == r.OverallApprover {
		errs.Add("reviews.overall_approver", "Overall approver must differ from the authorized officer.")
	}
	return errs
}

type reviewList struct {
	items *[]Review
}

func (l reviewList) active(amendmentID string) (Review, bool) {
	for i := len(*l.items) - 1; i >= 0; i-- {
		if (*l.items)[i].AmendmentID == amendmentID {
			return (*l.items)[i], true
		}
	}
	return Review{}, false
}

func (l reviewList) open(amendmentID string, reviewType ReviewType) (Review, error) {
	if current, ok := l.active(amendmentID); ok && !current.Frozen() {
		return Review{}, Integrity("open review", "An active review already exists")
	}
	r := Review{ID: NewID(), AmendmentID: amendmentID, ReviewType: reviewType}
	if errs := r.Validate(); !errs.Empty() {
		return Review{}, ValidationFailed("open review", errs)
	}
	*l.items = append(*l.items, r)
	return r, nil
}

func (l reviewList) update(id string, fn func(*Review) error) (Review, error) {
	i := indexByID(*l.items, id, func(r *Review) string { return r.ID })
	if i < 0 {
		return Review{}, ChildNotFound("update review", "review", id)
	}
	current := (*l.items)[i]
	if current.Frozen() {
		return Review{}, Integrity("update review", "Review is frozen after overall approval")
	}
	cp := current
	if err := fn(&cp); err != nil {
		return Review{}, err
	}
	cp.ID, cp.AmendmentID = current.ID, current.AmendmentID
	if errs := cp.Validate(); !errs.Empty() {
		return Review{}, ValidationFailed("update review", errs)
	}
	(*l.items)[i] = cp
	return cp, nil
}
