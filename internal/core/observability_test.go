package core

import (
	"bytes"
	"context"
	"encoding/json"
	"expvar"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"partnercore/pkg/domain"
)

type captureAuditRecorder struct {
	entries []AuditEntry
}

func (c *captureAuditRecorder) Record(_ context.Context, entry AuditEntry) {
	c.entries = append(c.entries, entry)
}

func (c *captureAuditRecorder) has(op string, status AuditStatus, predicate func(AuditEntry) bool) bool {
	for _, entry := range c.entries {
		if entry.Operation == op && entry.Status == status {
			if predicate == nil || predicate(entry) {
				return true
			}
		}
	}
	return false
}

type metricsCall struct {
	op      string
	success bool
}

type captureMetricsRecorder struct {
	calls []metricsCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	c.calls = append(c.calls, metricsCall{op: op, success: success})
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

type captureTracer struct {
	ended []spanRecord
}

type spanRecord struct {
	op  string
	err error
}

func (c *captureTracer) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	return ctx, &captureSpan{tracer: c, op: op}
}

func (c *captureTracer) has(op string, success bool) bool {
	for _, record := range c.ended {
		if record.op == op && (record.err == nil) == success {
			return true
		}
	}
	return false
}

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (s *captureSpan) End(err error) {
	s.tracer.ended = append(s.tracer.ended, spanRecord{op: s.op, err: err})
}

func seedAssignableVisit(t *testing.T, f *fixture, withActivity bool) domain.Ref {
	t.Helper()
	visit := &domain.TPMVisit{
		TPMPartnerID:          "tpm-1",
		TPMPartnerFocalPoints: []domain.Person{{Email: "monitor@tpm.example"}},
		Author:                domain.Person{UserID: "pme", Email: "pme@unicef.org"},
	}
	if withActivity {
		visit.Activities = []domain.TPMActivity{{
			ID:                domain.NewID(),
			PartnerID:         "partner-1",
			UnicefFocalPoints: []domain.Person{focalPerson},
			Offices:           []string{"nairobi"},
		}}
	}
	return f.seed(t, visit, domain.StatusDraft)
}

func TestServiceObservability(t *testing.T) {
	ctx := context.Background()
	audit := &captureAuditRecorder{}
	metrics := &captureMetricsRecorder{}
	tracer := &captureTracer{}
	f := newFixture(t, WithAuditRecorder(audit), WithMetricsRecorder(metrics), WithTracer(tracer))

	empty := seedAssignableVisit(t, f, false)
	if _, err := f.svc.Transition(ctx, TransitionRequest{Actor: pmeActor, Ref: empty, Transition: "assign"}); err == nil {
		t.Fatalf("expected assign to fail without activities")
	}
	if !audit.has("transition", AuditStatusError, func(e AuditEntry) bool {
		return e.Ref == empty && e.ErrorKind == domain.ErrKindValidationFailed && e.Actor == "pme@unicef.org"
	}) {
		t.Fatalf("expected audit error entry for rejected transition, got %+v", audit.entries)
	}
	if !metrics.has("transition", false) {
		t.Fatalf("expected metrics entry for rejected transition")
	}
	if !tracer.has("transition", false) {
		t.Fatalf("expected error span for rejected transition")
	}

	ready := seedAssignableVisit(t, f, true)
	if _, err := f.svc.Transition(ctx, TransitionRequest{Actor: pmeActor, Ref: ready, Transition: "assign"}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if !audit.has("transition", AuditStatusSuccess, func(e AuditEntry) bool {
		return e.Ref == ready && e.Timestamp.Equal(fixedNow)
	}) {
		t.Fatalf("expected audit success entry stamped by the service clock")
	}
	if !metrics.has("transition", true) || !tracer.has("transition", true) {
		t.Fatalf("expected success metrics and span for assign")
	}

	if _, err := f.svc.Get(ctx, pmeActor, domain.Ref{Tenant: "ug", Kind: domain.KindTPMVisit, ID: ready.ID}); !domain.IsKind(err, domain.ErrKindNotFound) {
		t.Fatalf("expected cross-tenant get to be not found, got %v", err)
	}
	if !audit.has("get", AuditStatusError, func(e AuditEntry) bool { return e.ErrorKind == domain.ErrKindNotFound }) {
		t.Fatalf("expected audit entry for failed get")
	}
}

func TestPrometheusRecorderCountsTransitions(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusRecorder(reg)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	if _, err := NewPrometheusRecorder(reg); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}

	f := newFixture(t, WithMetricsRecorder(rec))
	ctx := context.Background()
	empty := seedAssignableVisit(t, f, false)
	ready := seedAssignableVisit(t, f, true)
	_, _ = f.svc.Transition(ctx, TransitionRequest{Actor: pmeActor, Ref: empty, Transition: "assign"})
	if _, err := f.svc.Transition(ctx, TransitionRequest{Actor: pmeActor, Ref: ready, Transition: "assign"}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	_, _ = f.svc.Transition(ctx, TransitionRequest{Actor: nobodyActor, Ref: ready, Transition: "accept"})

	cases := map[string]float64{
		"committed":         1,
		"validation_failed": 1,
		"permission_denied": 0,
	}
	for outcome, want := range cases {
		got := testutil.ToFloat64(rec.Transitions().WithLabelValues("tpm_visit", "assign", outcome))
		if got != want {
			t.Fatalf("assign/%s: expected %v, got %v", outcome, want, got)
		}
	}
	if got := testutil.ToFloat64(rec.Transitions().WithLabelValues("tpm_visit", "accept", "permission_denied")); got != 1 {
		t.Fatalf("expected one denied accept, got %v", got)
	}
	n, err := testutil.GatherAndCount(reg, "partnercore_operation_duration_seconds")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n == 0 {
		t.Fatalf("expected operation latency series")
	}
}

func TestExpvarRecorderPublishesSnapshot(t *testing.T) {
	rec := NewExpvarRecorder("")
	if expvar.Get(rec.Name()) == nil {
		t.Fatalf("expected %s to be published", rec.Name())
	}
	f := newFixture(t, WithMetricsRecorder(rec))
	ready := seedAssignableVisit(t, f, true)
	if _, err := f.svc.Transition(context.Background(), TransitionRequest{Actor: pmeActor, Ref: ready, Transition: "assign"}); err != nil {
		t.Fatalf("assign: %v", err)
	}

	snap := rec.Snapshot()
	if snap.Transitions["tpm_visit/assign/committed"] != 1 {
		t.Fatalf("expected committed assign in snapshot, got %v", snap.Transitions)
	}
	if snap.Results["transition"]["success"] != 1 {
		t.Fatalf("expected one successful transition, got %v", snap.Results)
	}

	var published ExpvarSnapshot
	if err := json.Unmarshal([]byte(expvar.Get(rec.Name()).String()), &published); err != nil {
		t.Fatalf("decode published snapshot: %v", err)
	}
	if published.Transitions["tpm_visit/assign/committed"] != 1 {
		t.Fatalf("expected published snapshot to match, got %v", published.Transitions)
	}
}

func TestJSONTracerWritesSpans(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)
	f := newFixture(t, WithTracer(tracer))
	empty := seedAssignableVisit(t, f, false)
	_, _ = f.svc.Transition(context.Background(), TransitionRequest{Actor: pmeActor, Ref: empty, Transition: "assign"})

	spans := tracer.Spans()
	if len(spans) != 1 {
		t.Fatalf("expected one span, got %d", len(spans))
	}
	if spans[0].Operation != "transition" || spans[0].Status != "error" || spans[0].ErrorKind != domain.ErrKindValidationFailed {
		t.Fatalf("unexpected span %+v", spans[0])
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 || !strings.Contains(lines[0], `"error_kind":"validation_failed"`) {
		t.Fatalf("expected one JSON line with the error kind, got %q", buf.String())
	}
}

func TestLogAuditRecorderLevels(t *testing.T) {
	var buf bytes.Buffer
	rec := NewLogAuditRecorder(zerolog.New(&buf))
	f := newFixture(t, WithAuditRecorder(rec))
	empty := seedAssignableVisit(t, f, false)
	_, _ = f.svc.Transition(context.Background(), TransitionRequest{Actor: pmeActor, Ref: empty, Transition: "assign"})
	if _, err := f.svc.Status(context.Background(), pmeActor, empty); err != nil {
		t.Fatalf("status: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two audit lines, got %q", buf.String())
	}
	var rejected, read map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rejected); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &read); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rejected["level"] != "warn" || rejected["error_kind"] != "validation_failed" || rejected["operation"] != "transition" {
		t.Fatalf("unexpected rejected entry %v", rejected)
	}
	if read["level"] != "info" || read["status"] != "success" || read["component"] != "audit" {
		t.Fatalf("unexpected read entry %v", read)
	}
}
