package domain

import (
	"fmt"
	"time"
)

// AmendmentType classifies what an amendment changes.
type AmendmentType string

// Agreement amendment types.
const (
	AmendmentChangeIPName       AmendmentType = "change_ip_name"
	AmendmentAuthorizedOfficers AmendmentType = "authorized_officers"
	AmendmentBankingInfo        AmendmentType = "banking_info"
	AmendmentClause             AmendmentType = "clause"
)

// Intervention amendment types.
const (
	AmendmentAdminError  AmendmentType = "admin_error"
	AmendmentBudgetLTE20 AmendmentType = "budget_lte_20"
	AmendmentBudgetGT20  AmendmentType = "budget_gt_20"
	AmendmentChange      AmendmentType = "change"
	AmendmentNoCost      AmendmentType = "no_cost"
	AmendmentOther       AmendmentType = "other"
)

var amendmentTypesByKind = map[Kind]map[AmendmentType]struct{}{
	KindAgreement: {
		AmendmentChangeIPName: {}, AmendmentAuthorizedOfficers: {}, AmendmentBankingInfo: {}, AmendmentClause: {},
	},
	KindIntervention: {
		AmendmentAdminError: {}, AmendmentBudgetLTE20: {}, AmendmentBudgetGT20: {},
		AmendmentChange: {}, AmendmentNoCost: {}, AmendmentOther: {},
	},
}

// Amendment is a change record attached to an agreement or intervention.
// Once signed it is read-only.
type Amendment struct {
	ID               string          `json:"id"`
	Number           int             `json:"amendment_number"`
	Types            []AmendmentType `json:"types"`
	SignedDate       *time.Time      `json:"signed_date,omitempty"`
	SignedAmendment  string          `json:"signed_amendment,omitempty"`
	OtherDescription string          `json:"other_description,omitempty"`
}

// Signed reports whether the amendment carries a signature date or signed document.
func (a Amendment) Signed() bool {
	return a.SignedDate != nil || a.SignedAmendment != ""
}

func validateAmendment(kind Kind, a Amendment, parentSigned *time.Time) error {
	errs := FieldErrors{}
	if len(a.Types) == 0 {
		errs.Add("amendments.types", "At least one amendment type is required.")
	}
	allowed := amendmentTypesByKind[kind]
	for _, t := range a.Types {
		if _, ok := allowed[t]; !ok {
			errs.Add("amendments.types", fmt.Sprintf("%q is not a valid amendment type.", t))
		}
	}
	if !errs.Empty() {
		return ValidationFailed("validate amendment", errs)
	}
	if a.SignedDate != nil && parentSigned != nil && a.SignedDate.Before(*parentSigned) {
		return Integrity("validate amendment", "Amendment cannot be signed before its parent document")
	}
	return nil
}

type amendmentList struct {
	kind   Kind
	items  *[]Amendment
	signed *time.Time
}

func (l amendmentList) add(a Amendment) (Amendment, error) {
	if err := validateAmendment(l.kind, a, l.signed); err != nil {
		return Amendment{}, err
	}
	ensureID(&a.ID)
	next := 1
	for _, existing := range *l.items {
		if existing.Number >= next {
			next = existing.Number + 1
		}
	}
	a.Number = next
	*l.items = append(*l.items, a)
	return a, nil
}

func (l amendmentList) update(id string, fn func(*Amendment) error) (Amendment, error) {
	i := indexByID(*l.items, id, func(a *Amendment) string { return a.ID })
	if i < 0 {
		return Amendment{}, ChildNotFound("update amendment", "amendment", id)
	}
	current := (*l.items)[i]
	if current.Signed() {
		return Amendment{}, Integrity("update amendment", "Cannot update a signed amendment")
	}
	cp := current
	cp.Types = append([]AmendmentType(nil), current.Types...)
	if err := fn(&cp); err != nil {
		return Amendment{}, err
	}
	cp.ID, cp.Number = current.ID, current.Number
	if err := validateAmendment(l.kind, cp, l.signed); err != nil {
		return Amendment{}, err
	}
	(*l.items)[i] = cp
	return cp, nil
}

func (l amendmentList) remove(id string) error {
	i := indexByID(*l.items, id, func(a *Amendment) string { return a.ID })
	if i < 0 {
		return ChildNotFound("delete amendment", "amendment", id)
	}
	if (*l.items)[i].Signed() {
		return Integrity("delete amendment", "Cannot delete a signed amendment")
	}
	*l.items = removeAt(*l.items, i)
	return nil
}

func findAmendment(items []Amendment, id string) (Amendment, bool) {
	i := indexByID(items, id, func(a *Amendment) string { return a.ID })
	if i < 0 {
		return Amendment{}, false
	}
	return items[i], true
}
