package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"partnercore/internal/attachments"
	"partnercore/internal/refdata"
	"partnercore/pkg/domain"
)

// CheckEnv carries the request inputs a check may consult besides the document.
type CheckEnv struct {
	Now         time.Time
	Actor       domain.Actor
	Transition  string
	Comment     string
	Payload     map[string]any
	Attachments attachments.Finder
	RefData     refdata.Provider
	Lookup      func(ref domain.Ref) (domain.Document, bool)
}

func (e CheckEnv) lookup(ref domain.Ref) (domain.Document, bool) {
	if e.Lookup == nil {
		return nil, false
	}
	return e.Lookup(ref)
}

// Check is one validation step of a transition. A non-empty FieldErrors
// fails the transition; an error reports an infrastructure failure.
type Check interface {
	Name() string
	Run(ctx context.Context, env CheckEnv, doc domain.Document) (domain.FieldErrors, error)
}

type checkFunc struct {
	name string
	fn   func(ctx context.Context, env CheckEnv, doc domain.Document) (domain.FieldErrors, error)
}

func (c checkFunc) Name() string { return c.name }

func (c checkFunc) Run(ctx context.Context, env CheckEnv, doc domain.Document) (domain.FieldErrors, error) {
	return c.fn(ctx, env, doc)
}

// NewCheck adapts fn into a Check.
func NewCheck(name string, fn func(ctx context.Context, env CheckEnv, doc domain.Document) (domain.FieldErrors, error)) Check {
	return checkFunc{name: name, fn: fn}
}

// Typed builds a check for one aggregate type. Running it against another
// type fails with a non-field error.
func Typed[T domain.Document](name string, fn func(ctx context.Context, env CheckEnv, doc T) (domain.FieldErrors, error)) Check {
	return NewCheck(name, func(ctx context.Context, env CheckEnv, doc domain.Document) (domain.FieldErrors, error) {
		typed, ok := doc.(T)
		if !ok {
			return domain.FieldErrors{"non_field_errors": {fmt.Sprintf("check %s does not apply to %s", name, doc.Kind())}}, nil
		}
		return fn(ctx, env, typed)
	})
}

type pipelineKey struct {
	kind       domain.Kind
	transition string
}

// Pipeline holds the ordered checks registered per (kind, transition).
type Pipeline struct {
	mu     sync.RWMutex
	checks map[pipelineKey][]Check
}

// NewPipeline returns an empty pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{checks: make(map[pipelineKey][]Check)}
}

// Register appends checks for (kind, transition) in the given order.
func (p *Pipeline) Register(kind domain.Kind, transition string, checks ...Check) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := pipelineKey{kind, transition}
	p.checks[key] = append(p.checks[key], checks...)
}

// Checks lists the registered check names for (kind, transition).
func (p *Pipeline) Checks(kind domain.Kind, transition string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	registered := p.checks[pipelineKey{kind, transition}]
	out := make([]string, 0, len(registered))
	for _, c := range registered {
		out = append(out, c.Name())
	}
	return out
}

// Run executes the checks of (doc.Kind(), env.Transition) in order and stops
// at the first failure.
func (p *Pipeline) Run(ctx context.Context, env CheckEnv, doc domain.Document) error {
	p.mu.RLock()
	registered := append([]Check(nil), p.checks[pipelineKey{doc.Kind(), env.Transition}]...)
	p.mu.RUnlock()

	op := fmt.Sprintf("%s %s", doc.Kind(), env.Transition)
	for _, c := range registered {
		fields, err := c.Run(ctx, env, doc)
		if err != nil {
			return fmt.Errorf("check %s: %w", c.Name(), err)
		}
		if !fields.Empty() {
			return domain.ValidationFailed(op, fields).WithRef(domain.RefOf(doc))
		}
	}
	return nil
}
