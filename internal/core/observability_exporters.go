package core

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"partnercore/pkg/domain"
)

var expvarSeq uint64

// ExpvarRecorder publishes operation timings and transition outcomes via
// expvar for deployments that do not scrape Prometheus.
type ExpvarRecorder struct {
	name        string
	mu          sync.Mutex
	durations   map[string]float64
	results     map[string]map[string]int64
	transitions map[string]int64
}

// ExpvarSnapshot is a read-only copy of the recorded values.
type ExpvarSnapshot struct {
	DurationsMS map[string]float64          `json:"durations_ms_total"`
	Results     map[string]map[string]int64 `json:"results_total"`
	Transitions map[string]int64            `json:"transitions_total"`
	RecordedAt  time.Time                   `json:"recorded_at"`
}

// NewExpvarRecorder publishes a recorder under name, or under a generated
// unique name when empty.
func NewExpvarRecorder(name string) *ExpvarRecorder {
	if name == "" {
		name = fmt.Sprintf("partnercore_service_%d", atomic.AddUint64(&expvarSeq, 1))
	}
	rec := &ExpvarRecorder{
		name:        name,
		durations:   make(map[string]float64),
		results:     make(map[string]map[string]int64),
		transitions: make(map[string]int64),
	}
	expvar.Publish(name, expvar.Func(func() any { return rec.Snapshot() }))
	return rec
}

// Name is the expvar key.
func (r *ExpvarRecorder) Name() string { return r.name }

// Snapshot copies the current values.
func (r *ExpvarRecorder) Snapshot() ExpvarSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := ExpvarSnapshot{
		DurationsMS: make(map[string]float64, len(r.durations)),
		Results:     make(map[string]map[string]int64, len(r.results)),
		Transitions: make(map[string]int64, len(r.transitions)),
		RecordedAt:  time.Now().UTC(),
	}
	for op, total := range r.durations {
		snap.DurationsMS[op] = total
	}
	for op, counts := range r.results {
		cp := make(map[string]int64, len(counts))
		for status, n := range counts {
			cp[status] = n
		}
		snap.Results[op] = cp
	}
	for key, n := range r.transitions {
		snap.Transitions[key] = n
	}
	return snap
}

// Observe implements MetricsRecorder.
func (r *ExpvarRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.durations[operation] += float64(duration) / float64(time.Millisecond)
	if r.results[operation] == nil {
		r.results[operation] = make(map[string]int64, 2)
	}
	r.results[operation][status]++
}

// ObserveTransition implements TransitionRecorder. Keys read kind/transition/outcome.
func (r *ExpvarRecorder) ObserveTransition(kind domain.Kind, transition string, outcome domain.ErrorKind) {
	label := string(outcome)
	if label == "" {
		label = "committed"
	}
	r.mu.Lock()
	r.transitions[fmt.Sprintf("%s/%s/%s", kind, transition, label)]++
	r.mu.Unlock()
}

// JSONSpan is one finished span written by JSONTracer.
type JSONSpan struct {
	Operation  string           `json:"operation"`
	Status     string           `json:"status"`
	ErrorKind  domain.ErrorKind `json:"error_kind,omitempty"`
	Error      string           `json:"error,omitempty"`
	DurationMS float64          `json:"duration_ms"`
	StartedAt  time.Time        `json:"started_at"`
	EndedAt    time.Time        `json:"ended_at"`
}

// JSONTracer writes spans as JSON lines and keeps them for inspection.
type JSONTracer struct {
	mu    sync.Mutex
	spans []JSONSpan
	enc   *json.Encoder
}

// NewJSONTracer writes to w; a nil writer only retains spans.
func NewJSONTracer(w io.Writer) *JSONTracer {
	t := &JSONTracer{}
	if w != nil {
		t.enc = json.NewEncoder(w)
	}
	return t
}

// Spans returns a copy of the finished spans.
func (t *JSONTracer) Spans() []JSONSpan {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]JSONSpan(nil), t.spans...)
}

// Start implements Tracer.
func (t *JSONTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	return ctx, &jsonSpan{tracer: t, operation: operation, started: time.Now().UTC()}
}

type jsonSpan struct {
	tracer    *JSONTracer
	operation string
	started   time.Time
}

func (s *jsonSpan) End(err error) {
	ended := time.Now().UTC()
	span := JSONSpan{
		Operation:  s.operation,
		Status:     "success",
		DurationMS: float64(ended.Sub(s.started)) / float64(time.Millisecond),
		StartedAt:  s.started,
		EndedAt:    ended,
	}
	if err != nil {
		span.Status = "error"
		span.ErrorKind = domain.KindOf(err)
		span.Error = err.Error()
	}
	s.tracer.mu.Lock()
	defer s.tracer.mu.Unlock()
	s.tracer.spans = append(s.tracer.spans, span)
	if s.tracer.enc != nil {
		_ = s.tracer.enc.Encode(span)
	}
}

// LogAuditRecorder writes every audit entry as one structured log line.
// Failed operations log at warn.
type LogAuditRecorder struct {
	log zerolog.Logger
}

// NewLogAuditRecorder logs through log under the audit component.
func NewLogAuditRecorder(log zerolog.Logger) *LogAuditRecorder {
	return &LogAuditRecorder{log: log.With().Str("component", "audit").Logger()}
}

// Record implements AuditRecorder.
func (r *LogAuditRecorder) Record(_ context.Context, e AuditEntry) {
	ev := r.log.Info()
	if e.Status == AuditStatusError {
		ev = r.log.Warn().Str("error_kind", string(e.ErrorKind)).Str("error", e.Error)
	}
	ev.Str("operation", e.Operation).
		Str("status", string(e.Status)).
		Str("ref", e.Ref.String()).
		Str("actor", e.Actor).
		Dur("duration", e.Duration).
		Time("at", e.Timestamp).
		Msg("audit")
}
