package core

import (
	"context"
	"fmt"
	"time"

	"partnercore/internal/notify"
	"partnercore/pkg/domain"
)

// EffectEnv is the mutable scope of one transition commit. Doc is the copy
// being written; effects that touch other documents defer work onto the
// transaction so the primary update stays a single write.
type EffectEnv struct {
	Ctx        context.Context
	Tx         domain.Transaction
	Doc        domain.Document
	Actor      domain.Actor
	Transition string
	From       domain.Status
	To         domain.Status
	Now        time.Time
	Comment    string
	Payload    map[string]any

	notices  []notice
	deferred []func(tx domain.Transaction) error
	touched  []domain.Ref
}

type notice struct {
	template notify.Template
	roles    []domain.RecipientRole
}

// Defer schedules fn to run in the same transaction after the primary update.
func (e *EffectEnv) Defer(fn func(tx domain.Transaction) error) {
	e.deferred = append(e.deferred, fn)
}

// Touch records another document changed by this commit.
func (e *EffectEnv) Touch(ref domain.Ref) {
	e.touched = append(e.touched, ref)
}

// Effect is a named side effect applied during a transition commit.
type Effect interface {
	Name() string
	Apply(env *EffectEnv) error
}

type effectFunc struct {
	name string
	fn   func(env *EffectEnv) error
}

func (e effectFunc) Name() string              { return e.name }
func (e effectFunc) Apply(env *EffectEnv) error { return e.fn(env) }

// NewEffect adapts fn into an Effect.
func NewEffect(name string, fn func(env *EffectEnv) error) Effect {
	return effectFunc{name: name, fn: fn}
}

// StampDate writes the commit time into a named date field.
func StampDate(field string) Effect {
	return NewEffect("stamp:"+field, func(env *EffectEnv) error {
		s, ok := env.Doc.(domain.DateStamper)
		if !ok {
			return domain.UnknownSubject("stamp date", fmt.Sprintf("%s has no date fields", env.Doc.Kind()))
		}
		return s.StampDate(field, env.Now)
	})
}

// KeepComment copies the transition comment into a named field.
func KeepComment(field string) Effect {
	return NewEffect("comment:"+field, func(env *EffectEnv) error {
		if env.Comment == "" {
			return nil
		}
		c, ok := env.Doc.(domain.Commented)
		if !ok {
			return domain.UnknownSubject("set comment", fmt.Sprintf("%s keeps no comments", env.Doc.Kind()))
		}
		return c.SetTransitionComment(field, env.Comment)
	})
}

// Notify queues template for the given audiences once the commit succeeds.
func Notify(template notify.Template, roles ...domain.RecipientRole) Effect {
	return NotifyIf(nil, template, roles...)
}

// NotifyIf is Notify gated on a predicate over the committed document.
func NotifyIf(cond func(domain.Document) bool, template notify.Template, roles ...domain.RecipientRole) Effect {
	return NewEffect("notify:"+string(template), func(env *EffectEnv) error {
		if cond != nil && !cond(env.Doc) {
			return nil
		}
		env.notices = append(env.notices, notice{template: template, roles: roles})
		return nil
	})
}

// OpenReview starts the intervention review. The review type comes from the
// "review_type" payload entry and defaults to prc.
func OpenReview() Effect {
	return NewEffect("open_review", func(env *EffectEnv) error {
		iv, ok := env.Doc.(*domain.Intervention)
		if !ok {
			return domain.UnknownSubject("open review", fmt.Sprintf("%s has no reviews", env.Doc.Kind()))
		}
		reviewType := domain.ReviewPRC
		if raw, ok := env.Payload["review_type"].(string); ok && raw != "" {
			reviewType = domain.ReviewType(raw)
		}
		if current, ok := iv.ActiveReview(); ok && !current.Frozen() {
			return nil
		}
		_, err := iv.OpenReview("", reviewType)
		return err
	})
}

// CascadeInterventions moves the agreement's interventions that sit in one of
// sources to target, recording history on each.
func CascadeInterventions(sources []domain.Status, target domain.Status) Effect {
	return NewEffect("cascade:interventions", func(env *EffectEnv) error {
		agreement := domain.RefOf(env.Doc)
		env.Defer(func(tx domain.Transaction) error {
			for _, doc := range tx.List(agreement.Tenant, domain.KindIntervention) {
				iv, ok := doc.(*domain.Intervention)
				if !ok || iv.AgreementID != agreement.ID {
					continue
				}
				from := iv.Status
				if !statusIn(from, sources) {
					continue
				}
				ref := domain.RefOf(iv)
				updated, err := tx.Update(ref, func(d domain.Document) error {
					h := d.Head()
					h.Status = target
					h.StampStatus(target, env.Now)
					return nil
				})
				if err != nil {
					return fmt.Errorf("cascade %s: %w", ref, err)
				}
				if _, err := tx.AppendHistory(domain.HistoryRecord{
					Ref:        ref,
					Actor:      env.Actor.Label(),
					Transition: env.Transition,
					FromStatus: from,
					ToStatus:   target,
					Comment:    fmt.Sprintf("Agreement %s moved to %s", agreement.ID, env.To),
					Version:    updated.Head().Version,
					Timestamp:  env.Now,
				}); err != nil {
					return err
				}
				env.Touch(ref)
			}
			return nil
		})
		return nil
	})
}

func statusIn(status domain.Status, set []domain.Status) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}
