package core

import (
	"context"
	"fmt"

	"partnercore/pkg/domain"
)

// ReferenceNumberRule keeps an assigned reference number fixed for the
// lifetime of the document.
func ReferenceNumberRule() domain.Rule {
	return referenceNumberRule{}
}

type referenceNumberRule struct{}

func (referenceNumberRule) Name() string { return "reference_number_immutable" }

func (r referenceNumberRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Before == nil || change.After == nil {
			continue
		}
		before, after := change.Before.Head().ReferenceNumber, change.After.Head().ReferenceNumber
		if before != "" && before != after {
			res.Violations = append(res.Violations, blocking(r.Name(), change.Ref,
				fmt.Sprintf("reference number %s of %s cannot change", before, change.Ref)))
		}
	}
	return res, nil
}

func amendmentsOf(doc domain.Document) []domain.Amendment {
	switch d := doc.(type) {
	case *domain.Agreement:
		return d.Amendments
	case *domain.Intervention:
		return d.Amendments
	}
	return nil
}

// SignedAmendmentRule blocks edits to, and removal of, signed amendments.
func SignedAmendmentRule() domain.Rule {
	return signedAmendmentRule{}
}

type signedAmendmentRule struct{}

func (signedAmendmentRule) Name() string { return "signed_amendment_immutable" }

func (r signedAmendmentRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Before == nil {
			continue
		}
		var after map[string]domain.Amendment
		if change.After != nil {
			after = make(map[string]domain.Amendment)
			for _, a := range amendmentsOf(change.After) {
				after[a.ID] = a
			}
		}
		for _, prev := range amendmentsOf(change.Before) {
			if !prev.Signed() {
				continue
			}
			next, ok := after[prev.ID]
			switch {
			case change.After == nil:
				res.Violations = append(res.Violations, blocking(r.Name(), change.Ref,
					fmt.Sprintf("%s carries signed amendment %d and cannot be deleted", change.Ref, prev.Number)))
			case !ok:
				res.Violations = append(res.Violations, blocking(r.Name(), change.Ref,
					fmt.Sprintf("signed amendment %d of %s cannot be removed", prev.Number, change.Ref)))
			case !sameJSON(prev, next):
				res.Violations = append(res.Violations, blocking(r.Name(), change.Ref,
					fmt.Sprintf("signed amendment %d of %s is read-only", prev.Number, change.Ref)))
			}
		}
	}
	return res, nil
}

// FrozenReviewRule blocks changes to reviews that already carry an overall
// approval decision.
func FrozenReviewRule() domain.Rule {
	return frozenReviewRule{}
}

type frozenReviewRule struct{}

func (frozenReviewRule) Name() string { return "review_frozen" }

func (r frozenReviewRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		before, ok := change.Before.(*domain.Intervention)
		if !ok {
			continue
		}
		after, ok := change.After.(*domain.Intervention)
		if !ok {
			continue
		}
		next := make(map[string]domain.Review, len(after.Reviews))
		for _, rv := range after.Reviews {
			next[rv.ID] = rv
		}
		for _, prev := range before.Reviews {
			if !prev.Frozen() {
				continue
			}
			if cur, ok := next[prev.ID]; !ok || !sameJSON(prev, cur) {
				res.Violations = append(res.Violations, blocking(r.Name(), change.Ref,
					fmt.Sprintf("review %s of %s is frozen", prev.ID, change.Ref)))
			}
		}
	}
	return res, nil
}

// TotalsRule blocks commits whose stored totals drift from their line items.
func TotalsRule() domain.Rule {
	return totalsRule{}
}

type totalsRule struct{}

func (totalsRule) Name() string { return "totals_consistent" }

func (r totalsRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		t, ok := change.After.(domain.Totaled)
		if !ok {
			continue
		}
		if errs := t.TotalsErrors(); !errs.Empty() {
			res.Violations = append(res.Violations, blocking(r.Name(), change.Ref,
				fmt.Sprintf("%s totals out of date: %s", change.Ref, errs)))
		}
	}
	return res, nil
}
