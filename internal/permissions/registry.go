package permissions

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ErrNotInitialized is returned by Matrix before Init or after Close.
var ErrNotInitialized = errors.New("permissions: matrix not initialized")

// Source produces the definition a matrix is built from.
type Source func() (Definition, error)

// FileSource reads role rules from path on every call; an empty path uses
// the built-in rules.
func FileSource(path string) Source {
	return func() (Definition, error) {
		rules, err := LoadRules(path)
		if err != nil {
			return Definition{}, err
		}
		return DefaultDefinition(rules)
	}
}

// StaticSource always yields def.
func StaticSource(def Definition) Source {
	return func() (Definition, error) { return def, nil }
}

// Registry holds the process-wide matrix. Readers never block; rebuilds
// swap the pointer once the new matrix is complete.
type Registry struct {
	mu      sync.Mutex
	source  Source
	current atomic.Pointer[Matrix]
	builtAt atomic.Int64
	log     zerolog.Logger
}

// NewRegistry returns an empty registry; call Init before use.
func NewRegistry(source Source, log zerolog.Logger) *Registry {
	return &Registry{source: source, log: log}
}

// Init builds the first matrix.
func (r *Registry) Init() error {
	return r.Reload()
}

// Reload rebuilds from the source. On failure the previous matrix stays live.
func (r *Registry) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	start := time.Now()
	def, err := r.source()
	if err != nil {
		r.log.Error().Err(err).Msg("load permission rules")
		return err
	}
	m, err := Build(def)
	if err != nil {
		r.log.Error().Err(err).Msg("build permission matrix")
		return err
	}
	r.current.Store(m)
	r.builtAt.Store(time.Now().UnixNano())
	r.log.Info().Int("rules", len(def.Rules)).Int("entries", m.Size()).Dur("took", time.Since(start)).Msg("permission matrix built")
	return nil
}

// Matrix returns the live matrix.
func (r *Registry) Matrix() (*Matrix, error) {
	m := r.current.Load()
	if m == nil {
		return nil, ErrNotInitialized
	}
	return m, nil
}

// BuiltAt reports when the live matrix was built.
func (r *Registry) BuiltAt() time.Time {
	ns := r.builtAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Close drops the live matrix.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current.Store(nil)
	r.builtAt.Store(0)
}
