package core

import (
	"context"

	"partnercore/internal/notify"
	"partnercore/pkg/domain"
)

// TransitionRequest names a transition to fire on one document.
type TransitionRequest struct {
	Actor           domain.Actor
	Ref             domain.Ref
	Transition      string
	Comment         string
	Payload         map[string]any
	ExpectedVersion int64
}

// TransitionResult reports a committed transition.
type TransitionResult struct {
	Document domain.Document
	From     domain.Status
	To       domain.Status
	Record   domain.HistoryRecord
	Notified []notify.Message
	Touched  []domain.Ref
}

// Transition fires req.Transition. Checks run before any write; the status
// change, its effects and the history record commit together or not at all.
// Notifications and invalidations go out only after the commit.
func (s *Service) Transition(ctx context.Context, req TransitionRequest) (TransitionResult, error) {
	var result TransitionResult
	err := s.run(ctx, "transition", req.Ref, req.Actor, func(ctx context.Context) error {
		var err error
		result, err = s.transition(ctx, req)
		outcome := domain.KindOf(err)
		if rec, ok := s.metrics.(TransitionRecorder); ok {
			rec.ObserveTransition(req.Ref.Kind, req.Transition, outcome)
		}
		if err != nil {
			s.log.Debug().Err(err).
				Str("ref", req.Ref.String()).
				Str("transition", req.Transition).
				Str("actor", req.Actor.Label()).
				Str("outcome", string(outcome)).
				Msg("transition rejected")
			return err
		}
		s.log.Info().
			Str("ref", req.Ref.String()).
			Str("transition", req.Transition).
			Str("from", string(result.From)).
			Str("to", string(result.To)).
			Str("actor", req.Actor.Label()).
			Int64("version", result.Document.Head().Version).
			Msg("transition committed")
		return nil
	})
	return result, err
}

func (s *Service) transition(ctx context.Context, req TransitionRequest) (TransitionResult, error) {
	const op = "transition"
	release, err := s.locker.Acquire(ctx, req.Ref)
	if err != nil {
		return TransitionResult{}, err
	}
	defer release()

	doc, err := s.load(op, req.Actor, req.Ref)
	if err != nil {
		return TransitionResult{}, err
	}
	if err := checkVersion(op, doc, req.ExpectedVersion); err != nil {
		return TransitionResult{}, err
	}
	machine, err := s.engine.Machine(req.Ref.Kind)
	if err != nil {
		return TransitionResult{}, err
	}
	t, err := machine.Lookup(req.Transition)
	if err != nil {
		return TransitionResult{}, err
	}
	roles := ResolveRoles(req.Actor, doc)
	if !t.Permits(roles) {
		return TransitionResult{}, domain.PermissionDenied(op, "caller may not fire "+t.Name).WithRef(req.Ref)
	}
	from := doc.Head().Status
	if !t.From(from) {
		return TransitionResult{}, domain.InvalidState(op, string(req.Ref.Kind)+" cannot "+t.Name+" from "+string(from)).WithRef(req.Ref)
	}

	now := s.clock.Now()
	env := CheckEnv{
		Now:         now,
		Actor:       req.Actor,
		Transition:  t.Name,
		Comment:     req.Comment,
		Payload:     req.Payload,
		Attachments: s.attachments,
		RefData:     s.refdata,
		Lookup:      s.lookupFor(req.Actor.Tenant),
	}
	if err := s.engine.Pipeline().Run(ctx, env, doc); err != nil {
		return TransitionResult{}, err
	}

	countryShort := ""
	if needsReference(doc, from, t.Target) {
		countryShort = CountryShortCode(ctx, s.refdata, req.Ref.Tenant)
	}

	eff := &EffectEnv{
		Ctx:        ctx,
		Actor:      req.Actor,
		Transition: t.Name,
		From:       from,
		To:         t.Target,
		Now:        now,
		Comment:    req.Comment,
		Payload:    req.Payload,
	}
	var committed domain.Document
	var record domain.HistoryRecord
	_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		eff.Tx = tx
		updated, err := tx.Update(req.Ref, func(d domain.Document) error {
			eff.Doc = d
			h := d.Head()
			h.Status = t.Target
			h.StampStatus(t.Target, now)
			if countryShort != "" {
				assignReference(tx, d, countryShort, now)
			}
			for _, e := range t.Effects {
				if err := e.Apply(eff); err != nil {
					return err
				}
			}
			if tot, ok := d.(domain.Totaled); ok {
				tot.Recalculate()
			}
			return nil
		})
		if err != nil {
			return err
		}
		committed = updated
		for _, fn := range eff.deferred {
			if err := fn(tx); err != nil {
				return err
			}
		}
		record, err = tx.AppendHistory(domain.HistoryRecord{
			Ref:        req.Ref,
			Actor:      req.Actor.Label(),
			Transition: t.Name,
			FromStatus: from,
			ToStatus:   t.Target,
			Comment:    req.Comment,
			Version:    updated.Head().Version,
			Timestamp:  now,
		})
		return err
	})
	if err != nil {
		return TransitionResult{}, mapCommitError(op, req.Ref, err)
	}

	result := TransitionResult{
		Document: committed,
		From:     from,
		To:       t.Target,
		Record:   record,
		Touched:  append([]domain.Ref(nil), eff.touched...),
	}
	result.Notified = s.dispatch(ctx, committed, eff.notices)
	s.invalidate(ctx, append([]domain.Ref{req.Ref}, eff.touched...)...)
	return result, nil
}

// lookupFor reads committed documents of tenant for cross-document checks.
func (s *Service) lookupFor(tenant string) func(domain.Ref) (domain.Document, bool) {
	return func(ref domain.Ref) (domain.Document, bool) {
		if ref.Tenant != tenant {
			return nil, false
		}
		return s.store.Get(ref)
	}
}

// dispatch renders queued notices and hands them to the outbox. Failures are
// logged; the commit stands.
func (s *Service) dispatch(ctx context.Context, doc domain.Document, notices []notice) []notify.Message {
	if len(notices) == 0 {
		return nil
	}
	out := make([]notify.Message, 0, len(notices))
	for _, n := range notices {
		recipients, err := notify.ResolveRecipients(ctx, doc, s.directory(), n.roles...)
		if err != nil {
			s.log.Warn().Err(err).Str("template", string(n.template)).Msg("resolve recipients")
			continue
		}
		if len(recipients) == 0 {
			s.log.Debug().Str("template", string(n.template)).Str("ref", domain.RefOf(doc).String()).Msg("no recipients")
			continue
		}
		msg := notify.Message{
			Template:   n.template,
			Recipients: recipients,
			Context:    notify.DocumentContext(doc),
			Ref:        domain.RefOf(doc),
			Version:    doc.Head().Version,
		}
		out = append(out, msg)
		if s.outbox == nil {
			continue
		}
		if err := s.outbox.Notify(ctx, msg); err != nil {
			s.log.Warn().Err(err).Str("template", string(n.template)).Str("ref", msg.Ref.String()).Msg("notification failed")
		}
	}
	return out
}

func (s *Service) directory() notify.Directory {
	if s.refdata == nil {
		return nil
	}
	return s.refdata
}
