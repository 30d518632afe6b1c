// Package core runs the document workflows: it resolves roles, consults the
// permission matrix, fires transitions through checks and effects, and commits
// each change with its history record.
package core

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"partnercore/internal/attachments"
	"partnercore/internal/infra/persistence/memory"
	"partnercore/internal/notify"
	"partnercore/internal/permissions"
	"partnercore/internal/refdata"
	"partnercore/pkg/domain"
)

// MatrixSource yields the current permission matrix. *permissions.Registry
// implements it.
type MatrixSource interface {
	Matrix() (*permissions.Matrix, error)
}

type staticMatrix struct{ m *permissions.Matrix }

func (s staticMatrix) Matrix() (*permissions.Matrix, error) { return s.m, nil }

// StaticMatrix serves a fixed matrix.
func StaticMatrix(m *permissions.Matrix) MatrixSource { return staticMatrix{m} }

// AttachmentStore is the attachment surface the service uses.
type AttachmentStore interface {
	attachments.Finder
	All(ctx context.Context, owner attachments.Owner) ([]attachments.Attachment, error)
	DetachAll(ctx context.Context, owner attachments.Owner) (int, error)
}

// Outbox receives post-commit notifications and cache invalidations. Its
// failures never fail the committed operation.
type Outbox interface {
	Notify(ctx context.Context, msg notify.Message) error
	Invalidate(ctx context.Context, ref domain.Ref) error
}

// Service runs reads, writes and workflow transitions against the store,
// mediated by the permission matrix.
type Service struct {
	store       domain.PersistentStore
	engine      *Engine
	matrix      MatrixSource
	attachments AttachmentStore
	refdata     refdata.Provider
	outbox      Outbox
	locker      *Locker
	log         zerolog.Logger
	metrics     MetricsRecorder
	tracer      Tracer
	audit       AuditRecorder
	clock       Clock
}

// Option customizes a Service.
type Option func(*Service)

// WithEngine replaces the default workflow engine.
func WithEngine(engine *Engine) Option { return func(s *Service) { s.engine = engine } }

// WithAttachments wires the attachment store used by checks and deletes.
func WithAttachments(store AttachmentStore) Option {
	return func(s *Service) { s.attachments = store }
}

// WithRefData wires the reference data provider.
func WithRefData(p refdata.Provider) Option { return func(s *Service) { s.refdata = p } }

// WithOutbox wires the notification and invalidation sink.
func WithOutbox(o Outbox) Option { return func(s *Service) { s.outbox = o } }

// WithLocker replaces the per-document locker.
func WithLocker(l *Locker) Option { return func(s *Service) { s.locker = l } }

// WithLogger sets the structured logger.
func WithLogger(log zerolog.Logger) Option { return func(s *Service) { s.log = log } }

// WithMetricsRecorder sets the metrics sink.
func WithMetricsRecorder(m MetricsRecorder) Option { return func(s *Service) { s.metrics = m } }

// WithTracer sets the span factory.
func WithTracer(t Tracer) Option { return func(s *Service) { s.tracer = t } }

// WithAuditRecorder sets the compliance trail sink.
func WithAuditRecorder(a AuditRecorder) Option { return func(s *Service) { s.audit = a } }

// WithClock overrides the time source.
func WithClock(c Clock) Option { return func(s *Service) { s.clock = c } }

// NewService constructs a service over store and matrix.
func NewService(store domain.PersistentStore, matrix MatrixSource, opts ...Option) *Service {
	s := &Service{
		store:   store,
		matrix:  matrix,
		log:     zerolog.Nop(),
		metrics: noopMetrics{},
		tracer:  noopTracer{},
		audit:   noopAudit{},
		clock:   ClockFunc(func() time.Time { return time.Now().UTC() }),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.engine == nil {
		s.engine = DefaultEngine()
	}
	if s.locker == nil {
		s.locker = NewLocker(DefaultLockTimeout)
	}
	return s
}

// NewInMemoryService builds a service over a fresh memory store evaluating the
// default commit rules. The store follows the service clock.
func NewInMemoryService(matrix MatrixSource, opts ...Option) *Service {
	store := memory.NewStore(NewDefaultRulesEngine())
	s := NewService(store, matrix, opts...)
	store.SetNowFunc(s.clock.Now)
	return s
}

// Store returns the underlying store.
func (s *Service) Store() domain.PersistentStore { return s.store }

// Engine returns the workflow engine.
func (s *Service) Engine() *Engine { return s.engine }

func (s *Service) run(ctx context.Context, op string, ref domain.Ref, actor domain.Actor, fn func(ctx context.Context) error) error {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, op)
	err := fn(ctx)
	span.End(err)
	elapsed := time.Since(started)
	s.metrics.Observe(ctx, op, err == nil, elapsed)
	entry := AuditEntry{
		Operation: op,
		Status:    AuditStatusSuccess,
		Ref:       ref,
		Actor:     actor.Label(),
		Duration:  elapsed,
		Timestamp: s.clock.Now(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.ErrorKind = domain.KindOf(err)
		entry.Error = err.Error()
	}
	s.audit.Record(ctx, entry)
	return err
}

// load fetches ref for actor. Documents of other tenants do not exist for it.
func (s *Service) load(op string, actor domain.Actor, ref domain.Ref) (domain.Document, error) {
	if actor.Tenant == "" || ref.Tenant != actor.Tenant {
		return nil, domain.NotFound(op, ref)
	}
	if _, err := domain.ParseKind(string(ref.Kind)); err != nil {
		return nil, err
	}
	doc, ok := s.store.Get(ref)
	if !ok {
		return nil, domain.NotFound(op, ref)
	}
	return doc, nil
}

func (s *Service) grants(actor domain.Actor, doc domain.Document) (permissions.Grants, domain.RoleSet, error) {
	roles := ResolveRoles(actor, doc)
	m, err := s.matrix.Matrix()
	if err != nil {
		return permissions.Grants{}, nil, fmt.Errorf("permission matrix: %w", err)
	}
	g, err := m.Effective(doc.Kind(), doc.Head().Status, roles.List()...)
	if err != nil {
		return permissions.Grants{}, nil, err
	}
	return g, roles, nil
}

// checkPatch rejects header paths, unknown paths, child collections and
// paths the caller may not edit, reporting every offending path.
func checkPatch(op string, kind domain.Kind, g permissions.Grants, patch map[string]any) error {
	paths := make([]string, 0, len(patch))
	for p := range patch {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	var denied []string
	for _, p := range paths {
		switch {
		case domain.IsSystemField(p):
			return domain.PermissionDenied(op, fmt.Sprintf("%s is system managed", p))
		case !domain.HasField(kind, p):
			return domain.UnknownSubject(op, fmt.Sprintf("%s has no field %q", kind, p))
		case inChildGrouping(kind, p):
			return domain.Integrity(op, fmt.Sprintf("%s is a %s child collection with its own operations", p, kind))
		case !g.CanEdit(p):
			denied = append(denied, p)
		}
	}
	if len(denied) > 0 {
		return domain.PermissionDenied(op, fmt.Sprintf("cannot edit %v in status %s", denied, g.Status))
	}
	return nil
}

// overwrite copies src into dst; both must be the same aggregate type.
func overwrite(dst, src domain.Document) error {
	dv, sv := reflect.ValueOf(dst), reflect.ValueOf(src)
	if dv.Type() != sv.Type() {
		return fmt.Errorf("overwrite %s with %s", dst.Kind(), src.Kind())
	}
	dv.Elem().Set(sv.Elem())
	return nil
}

// defaultOwner fills the owner fields a self-service creator stands for.
func defaultOwner(doc domain.Document, actor domain.Actor) {
	self := domain.Person{UserID: actor.UserID, Email: actor.Email, Name: actor.Name}
	switch d := doc.(type) {
	case *domain.Travel:
		if d.Traveler.IsZero() {
			d.Traveler = self
		}
	case *domain.TPMVisit:
		if d.Author.IsZero() {
			d.Author = self
		}
	}
}

// mapCommitError turns blocking rule violations into Integrity errors.
func mapCommitError(op string, ref domain.Ref, err error) error {
	var rv domain.RuleViolationError
	if errors.As(err, &rv) {
		msgs := make([]string, 0, len(rv.Result.Violations))
		for _, v := range rv.Result.Blocking() {
			msgs = append(msgs, fmt.Sprintf("%s: %s", v.Rule, v.Message))
		}
		return &domain.Error{Kind: domain.ErrKindIntegrity, Op: op, Ref: ref, Message: fmt.Sprint(msgs), Err: err}
	}
	return err
}

// CreateRequest describes a new document.
type CreateRequest struct {
	Actor domain.Actor
	Kind  domain.Kind
	Patch map[string]any
}

// Create stores a new document of req.Kind in its initial status within the
// actor's tenant. Every patched path must be editable by the actor in that status.
func (s *Service) Create(ctx context.Context, req CreateRequest) (domain.Document, error) {
	var created domain.Document
	ref := domain.Ref{Tenant: req.Actor.Tenant, Kind: req.Kind}
	err := s.run(ctx, "create", ref, req.Actor, func(ctx context.Context) error {
		if req.Actor.Tenant == "" {
			return domain.PermissionDenied("create", "actor has no tenant")
		}
		doc, err := domain.NewDocument(req.Kind)
		if err != nil {
			return err
		}
		h := doc.Head()
		h.ID = domain.NewID()
		h.Tenant = req.Actor.Tenant
		h.Status = domain.InitialStatus(req.Kind)
		defaultOwner(doc, req.Actor)
		if len(req.Patch) > 0 {
			patched, err := domain.ApplyPatch(doc, req.Patch)
			if err != nil {
				return err
			}
			g, _, err := s.grants(req.Actor, patched)
			if err != nil {
				return err
			}
			if err := checkPatch("create", req.Kind, g, req.Patch); err != nil {
				return err
			}
			doc = patched
		}
		if t, ok := doc.(domain.Totaled); ok {
			t.Recalculate()
		}
		_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			stored, err := tx.Create(doc)
			if err != nil {
				return err
			}
			_, err = tx.AppendHistory(domain.HistoryRecord{
				Ref:        domain.RefOf(stored),
				Actor:      req.Actor.Label(),
				Transition: "create",
				ToStatus:   stored.Head().Status,
				Version:    stored.Head().Version,
			})
			created = stored
			return err
		})
		if err != nil {
			return mapCommitError("create", domain.RefOf(doc), err)
		}
		ref = domain.RefOf(created)
		s.invalidate(ctx, ref)
		s.log.Info().Str("ref", ref.String()).Str("actor", req.Actor.Label()).Msg("document created")
		return nil
	})
	return created, err
}

// Get returns the stored document without field filtering.
func (s *Service) Get(ctx context.Context, actor domain.Actor, ref domain.Ref) (domain.Document, error) {
	var doc domain.Document
	err := s.run(ctx, "get", ref, actor, func(context.Context) error {
		var err error
		doc, err = s.load("get", actor, ref)
		return err
	})
	return doc, err
}

// Read renders the document with only the fields actor may view in its
// current status, plus the derived displayed_status.
func (s *Service) Read(ctx context.Context, actor domain.Actor, ref domain.Ref) (map[string]any, error) {
	var out map[string]any
	err := s.run(ctx, "read", ref, actor, func(context.Context) error {
		doc, err := s.load("read", actor, ref)
		if err != nil {
			return err
		}
		g, _, err := s.grants(actor, doc)
		if err != nil {
			return err
		}
		m, err := domain.ToMap(doc)
		if err != nil {
			return err
		}
		out = domain.FilterFields(m, func(path string) bool {
			return domain.IsSystemField(path) || g.CanView(path)
		})
		out["displayed_status"] = string(domain.DisplayedStatus(doc))
		return nil
	})
	return out, err
}

// UpdateRequest patches scalar or grouping fields of a document.
type UpdateRequest struct {
	Actor           domain.Actor
	Ref             domain.Ref
	Patch           map[string]any
	ExpectedVersion int64
}

// Update applies req.Patch after checking edit rights in the current status.
func (s *Service) Update(ctx context.Context, req UpdateRequest) (domain.Document, error) {
	var updated domain.Document
	err := s.run(ctx, "update", req.Ref, req.Actor, func(ctx context.Context) error {
		release, err := s.locker.Acquire(ctx, req.Ref)
		if err != nil {
			return err
		}
		defer release()
		doc, err := s.load("update", req.Actor, req.Ref)
		if err != nil {
			return err
		}
		if err := checkVersion("update", doc, req.ExpectedVersion); err != nil {
			return err
		}
		g, _, err := s.grants(req.Actor, doc)
		if err != nil {
			return err
		}
		if err := checkPatch("update", req.Ref.Kind, g, req.Patch); err != nil {
			return err
		}
		patched, err := domain.ApplyPatch(doc, req.Patch)
		if err != nil {
			return err
		}
		_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			next, err := tx.Update(req.Ref, func(d domain.Document) error {
				if err := overwrite(d, patched); err != nil {
					return err
				}
				if t, ok := d.(domain.Totaled); ok {
					t.Recalculate()
				}
				return nil
			})
			if err != nil {
				return err
			}
			updated = next
			_, err = tx.AppendHistory(domain.HistoryRecord{
				Ref:        req.Ref,
				Actor:      req.Actor.Label(),
				Transition: "update",
				FromStatus: next.Head().Status,
				ToStatus:   next.Head().Status,
				Version:    next.Head().Version,
			})
			return err
		})
		if err != nil {
			return mapCommitError("update", req.Ref, err)
		}
		s.invalidate(ctx, req.Ref)
		return nil
	})
	return updated, err
}

// Delete removes a document still in its initial status together with its
// attachments.
func (s *Service) Delete(ctx context.Context, actor domain.Actor, ref domain.Ref) error {
	return s.run(ctx, "delete", ref, actor, func(ctx context.Context) error {
		release, err := s.locker.Acquire(ctx, ref)
		if err != nil {
			return err
		}
		defer release()
		doc, err := s.load("delete", actor, ref)
		if err != nil {
			return err
		}
		if doc.Head().Status != domain.InitialStatus(ref.Kind) {
			return domain.InvalidState("delete", fmt.Sprintf("%s can only be deleted in status %s", ref.Kind, domain.InitialStatus(ref.Kind))).WithRef(ref)
		}
		g, _, err := s.grants(actor, doc)
		if err != nil {
			return err
		}
		if len(g.Editable()) == 0 {
			return domain.PermissionDenied("delete", "caller cannot edit this document").WithRef(ref)
		}
		if _, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			return tx.Delete(ref)
		}); err != nil {
			return mapCommitError("delete", ref, err)
		}
		if s.attachments != nil {
			if n, err := s.attachments.DetachAll(ctx, ref); err != nil {
				s.log.Warn().Err(err).Str("ref", ref.String()).Msg("detach attachments of deleted document")
			} else if n > 0 {
				s.log.Debug().Int("count", n).Str("ref", ref.String()).Msg("attachments detached")
			}
		}
		s.invalidate(ctx, ref)
		return nil
	})
}

// Permissions returns the effective {field: {view, edit}} map of actor on ref.
func (s *Service) Permissions(ctx context.Context, actor domain.Actor, ref domain.Ref) (map[string]permissions.Rights, error) {
	var out map[string]permissions.Rights
	err := s.run(ctx, "permissions", ref, actor, func(context.Context) error {
		doc, err := s.load("permissions", actor, ref)
		if err != nil {
			return err
		}
		g, _, err := s.grants(actor, doc)
		if err != nil {
			return err
		}
		out = g.Map()
		return nil
	})
	return out, err
}

// History lists the audit trail of ref, optionally limited to status changes
// and commented records.
func (s *Service) History(ctx context.Context, actor domain.Actor, ref domain.Ref, meaningfulOnly bool) ([]domain.HistoryRecord, error) {
	var out []domain.HistoryRecord
	err := s.run(ctx, "history", ref, actor, func(context.Context) error {
		if _, err := s.load("history", actor, ref); err != nil {
			return err
		}
		out = s.store.History(ref)
		if meaningfulOnly {
			out = domain.FilterMeaningful(out)
		}
		return nil
	})
	return out, err
}

// StatusView is the Status API payload of one document for one caller.
type StatusView struct {
	Ref                domain.Ref    `json:"ref"`
	CurrentStatus      domain.Status `json:"current_status"`
	DisplayedStatus    domain.Status `json:"displayed_status"`
	AllowedTransitions []string      `json:"allowed_transitions"`
	ReferenceNumber    string        `json:"reference_number,omitempty"`
	Version            int64         `json:"version"`
}

// Status reports the current and displayed status of ref and the transitions
// actor may fire from it.
func (s *Service) Status(ctx context.Context, actor domain.Actor, ref domain.Ref) (StatusView, error) {
	var view StatusView
	err := s.run(ctx, "status", ref, actor, func(context.Context) error {
		doc, err := s.load("status", actor, ref)
		if err != nil {
			return err
		}
		view, err = s.statusView(actor, doc)
		return err
	})
	return view, err
}

func (s *Service) statusView(actor domain.Actor, doc domain.Document) (StatusView, error) {
	machine, err := s.engine.Machine(doc.Kind())
	if err != nil {
		return StatusView{}, err
	}
	h := doc.Head()
	allowed := machine.Allowed(h.Status, ResolveRoles(actor, doc))
	if allowed == nil {
		allowed = []string{}
	}
	return StatusView{
		Ref:                domain.RefOf(doc),
		CurrentStatus:      h.Status,
		DisplayedStatus:    domain.DisplayedStatus(doc),
		AllowedTransitions: allowed,
		ReferenceNumber:    h.ReferenceNumber,
		Version:            h.Version,
	}, nil
}

// Attachments lists the files attached to ref.
func (s *Service) Attachments(ctx context.Context, actor domain.Actor, ref domain.Ref) ([]attachments.Attachment, error) {
	var out []attachments.Attachment
	err := s.run(ctx, "attachments", ref, actor, func(ctx context.Context) error {
		if _, err := s.load("attachments", actor, ref); err != nil {
			return err
		}
		if s.attachments == nil {
			return nil
		}
		var err error
		out, err = s.attachments.All(ctx, ref)
		return err
	})
	return out, err
}

func checkVersion(op string, doc domain.Document, expected int64) error {
	if expected == 0 {
		return nil
	}
	if actual := doc.Head().Version; actual != expected {
		return domain.Conflict(op, expected, actual).WithRef(domain.RefOf(doc))
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context, refs ...domain.Ref) {
	if s.outbox == nil {
		return
	}
	for _, ref := range refs {
		if err := s.outbox.Invalidate(ctx, ref); err != nil {
			s.log.Warn().Err(err).Str("ref", ref.String()).Msg("cache invalidation failed")
		}
	}
}
