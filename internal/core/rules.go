package core

import (
	"encoding/json"

	"partnercore/pkg/domain"
)

// NewDefaultRulesEngine builds a rules engine with the built-in commit policy set.
func NewDefaultRulesEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(StatusDomainRule())
	engine.Register(ReferenceNumberRule())
	engine.Register(SignedAmendmentRule())
	engine.Register(FrozenReviewRule())
	engine.Register(TotalsRule())
	return engine
}

func blocking(rule string, ref domain.Ref, message string) domain.Violation {
	return domain.Violation{Rule: rule, Severity: domain.SeverityBlock, Message: message, Ref: ref}
}

// sameJSON compares two values by their wire form so clones with different
// time locations still match.
func sameJSON(a, b any) bool {
	left, err := json.Marshal(a)
	if err != nil {
		return false
	}
	right, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(left) == string(right)
}
