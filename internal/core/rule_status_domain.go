package core

import (
	"context"
	"fmt"

	"partnercore/pkg/domain"
)

// StatusDomainRule blocks statuses outside the kind's status set and any
// move away from a terminal status.
func StatusDomainRule() domain.Rule {
	return statusDomainRule{}
}

type statusDomainRule struct{}

func (statusDomainRule) Name() string { return "status_domain" }

func (r statusDomainRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.After == nil {
			continue
		}
		kind := change.Ref.Kind
		after := change.After.Head().Status
		if !domain.ValidStatus(kind, after) {
			res.Violations = append(res.Violations, blocking(r.Name(), change.Ref,
				fmt.Sprintf("%s %s is set to invalid status %s", kind, change.Ref.ID, after)))
			continue
		}
		if change.Before == nil {
			if after != domain.InitialStatus(kind) {
				res.Violations = append(res.Violations, blocking(r.Name(), change.Ref,
					fmt.Sprintf("%s %s must be created in status %s", kind, change.Ref.ID, domain.InitialStatus(kind))))
			}
			continue
		}
		before := change.Before.Head().Status
		if before != after && domain.IsTerminal(kind, before) {
			res.Violations = append(res.Violations, blocking(r.Name(), change.Ref,
				fmt.Sprintf("cannot move %s %s from terminal status %s to %s", kind, change.Ref.ID, before, after)))
		}
	}
	return res, nil
}
